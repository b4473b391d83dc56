package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"robots_timeline/internal/model"
	"robots_timeline/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// Run statuses stored in the runs table.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// SQLite stores daily records keyed by (date, publisher, bot). Re-running
// over the same window replaces rows rather than duplicating them.
type SQLite struct {
	db    *sql.DB
	runID string
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Name implements Sink.
func (s *SQLite) Name() string { return "sqlite" }

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// BeginRun registers a new run for the window and returns its ID.
// Records written afterwards are stamped with it.
func (s *SQLite) BeginRun(ctx context.Context, start, end time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, start_date, end_date, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, start.Format(model.DateLayout), end.Format(model.DateLayout), RunRunning,
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	s.runID = id
	return id, nil
}

// FinishRun records the final status of the current run.
func (s *SQLite) FinishRun(ctx context.Context, status string, publishers int) error {
	if s.runID == "" {
		return errors.New("no run in progress")
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, publishers = ?, finished_at = ? WHERE id = ?`,
		status, publishers, time.Now().UTC().Format(timeLayout), s.runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// WriteRecords implements Sink. All records are written in one transaction.
func (s *SQLite) WriteRecords(ctx context.Context, records []model.DailyRecord) error {
	if s.runID == "" {
		return errors.New("no run in progress")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO daily_records (date, publisher, bot_name, bot_category, is_blocked, run_id)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (date, publisher, bot_name) DO UPDATE SET
		   bot_category = excluded.bot_category,
		   is_blocked = excluded.is_blocked,
		   run_id = excluded.run_id`,
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.Date.Format(model.DateLayout), r.Publisher, r.BotName, r.BotCategory,
			boolToInt(r.IsBlocked), s.runID,
		); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}
	return tx.Commit()
}

// Run is one row of the runs table.
type Run struct {
	ID         string
	StartDate  string
	EndDate    string
	Status     string
	Publishers int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, start_date, end_date, status, publishers, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		var finished sql.NullString
		if err := rows.Scan(&r.ID, &r.StartDate, &r.EndDate, &r.Status, &r.Publishers, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(timeLayout, started)
		if finished.Valid {
			t, _ := time.Parse(timeLayout, finished.String)
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

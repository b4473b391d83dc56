package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"robots_timeline/internal/config"
	"robots_timeline/internal/eventstore"
	"robots_timeline/internal/filter"
	"robots_timeline/internal/interpret"
	"robots_timeline/internal/materialize"
	"robots_timeline/internal/metrics"
	"robots_timeline/internal/model"
	"robots_timeline/internal/pipeline"
	"robots_timeline/internal/registry"
	"robots_timeline/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, log); err != nil {
		log.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	started := time.Now()
	m := metrics.New()

	reg, err := registry.LoadBots(cfg.BotsFile)
	if err != nil {
		return err
	}
	publishers, err := registry.LoadPublishers(cfg.PublishersFile, cfg.PublisherLimit)
	if err != nil {
		return err
	}

	var yearOpts []eventstore.Option
	if len(cfg.Years) > 0 {
		yearOpts = append(yearOpts, eventstore.WithYears(cfg.Years))
	}
	reader := eventstore.New(cfg.PublishersDir, log,
		append(yearOpts, eventstore.WithDiagnostics(m))...)
	// Discovery passes read without diagnostics so inputs are counted once.
	scan := eventstore.New(cfg.PublishersDir, log.With("pass", "discovery"), yearOpts...)

	tracked := filter.Select(reg.Names(), cfg.Rules)
	if cfg.MentionedOnly {
		streams := make([][]model.Event, 0, len(publishers))
		for _, p := range publishers {
			streams = append(streams, scan.Load(p))
		}
		tracked = interpret.MentionedBots(streams, tracked)
	}
	reg = reg.Restrict(tracked)
	log.Info("tracking bots", "count", len(tracked), "publishers", len(publishers))

	window, err := resolveWindow(cfg, scan, publishers)
	if err != nil {
		return err
	}
	log.Info("date window",
		"start", window.Start.Format(model.DateLayout),
		"end", window.End.Format(model.DateLayout),
		"days", window.Days(),
	)

	csvSink, err := storage.NewCSVFile(cfg.OutputPath)
	if err != nil {
		return err
	}
	defer func() { _ = csvSink.Close() }()
	sinks := []storage.Sink{csvSink}

	var db *storage.SQLite
	if cfg.DatabasePath != "" {
		if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return err
			}
		}
		db, err = storage.NewSQLite(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		runID, err := db.BeginRun(context.Background(), window.Start, window.End)
		if err != nil {
			return err
		}
		log = log.With("run_id", runID)
		sinks = append(sinks, db)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := pipeline.New(reader, reg.Bots(), sinks, log,
		pipeline.WithWorkers(cfg.Workers),
		pipeline.WithObserver(m),
	)
	sum, runErr := runner.Run(ctx, publishers, window)

	if err := csvSink.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if db != nil {
		status := storage.RunCompleted
		if runErr != nil {
			status = storage.RunFailed
		}
		if err := db.FinishRun(context.Background(), status, sum.Completed); err != nil {
			log.Error("finish run", "error", err)
		}
	}

	m.RunFinished(started, time.Now())
	if cfg.MetricsPath != "" {
		if err := m.WriteTextfile(cfg.MetricsPath); err != nil {
			log.Error("write metrics", "path", cfg.MetricsPath, "error", err)
		}
	}

	log.Info("run finished",
		"completed", sum.Completed,
		"skipped", sum.Skipped,
		"records", sum.Records,
		"ambiguous", sum.Ambiguous,
		"output", cfg.OutputPath,
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return runErr
}

func resolveWindow(cfg *config.Config, l eventstore.Loader, publishers []string) (materialize.Window, error) {
	if cfg.HasWindow() {
		return materialize.NewWindow(cfg.Start, cfg.End)
	}
	start, end, err := eventstore.DateRange(l, publishers, time.Now)
	if errors.Is(err, eventstore.ErrNoTimestamps) {
		return materialize.Window{}, errors.New("no timestamped events for any publisher; set START_DATE and END_DATE or check PUBLISHERS_DIR")
	}
	if err != nil {
		return materialize.Window{}, err
	}
	return materialize.NewWindow(start, end)
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.TimeOnly,
	}))
}

package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"robots_timeline/internal/storage"
	"robots_timeline/migrations"
)

var commands = map[string]func(db *sql.DB) error{
	"up":      func(db *sql.DB) error { return goose.Up(db, ".") },
	"up-one":  func(db *sql.DB) error { return goose.UpByOne(db, ".") },
	"down":    func(db *sql.DB) error { return goose.Down(db, ".") },
	"status":  func(db *sql.DB) error { return goose.Status(db, ".") },
	"version": func(db *sql.DB) error { return goose.Version(db, ".") },
	"reset":   func(db *sql.DB) error { return goose.Reset(db, ".") },
}

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/timeline.db"), "path to sqlite database")
	limit := flag.Int("n", 20, "number of runs listed by the runs command")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}
	cmd := args[0]

	if cmd == "runs" {
		if err := listRuns(*dbPath, *limit); err != nil {
			log.Fatalf("runs: %v", err)
		}
		return
	}

	fn, ok := commands[cmd]
	if !ok {
		log.Fatalf("unknown command: %s", cmd)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		log.Fatalf("set dialect: %v", err)
	}

	if err := fn(db); err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func listRuns(path string, limit int) error {
	store, err := storage.NewSQLite(path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(context.Background(), limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tWINDOW\tSTATUS\tPUBLISHERS\tSTARTED")
	for _, r := range runs {
		_, _ = fmt.Fprintf(tw, "%s\t%s..%s\t%s\t%d\t%s\n",
			r.ID, r.StartDate, r.EndDate, r.Status, r.Publishers, r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-db path] [-n runs] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  up          Migrate to the latest version")
	fmt.Fprintln(os.Stderr, "  up-one      Migrate one version up")
	fmt.Fprintln(os.Stderr, "  down        Roll back one version")
	fmt.Fprintln(os.Stderr, "  status      Show migration status")
	fmt.Fprintln(os.Stderr, "  version     Show current version")
	fmt.Fprintln(os.Stderr, "  reset       Roll back all migrations")
	fmt.Fprintln(os.Stderr, "  runs        List recent reconstruction runs")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

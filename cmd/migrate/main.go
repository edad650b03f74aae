// Command migrate manages the feed filter database schema.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"feedfilter/internal/config"
	"feedfilter/migrations"
)

var commands = []struct {
	name, help string
}{
	{"up", "Migrate to the latest version"},
	{"up-one", "Migrate one version up"},
	{"down", "Roll back one version"},
	{"redo", "Roll back and re-apply the latest version"},
	{"status", "Show migration status"},
	{"version", "Show current version"},
	{"reset", "Roll back all migrations"},
}

func main() {
	if _, err := config.LoadEnvFiles(".env"); err != nil {
		slog.Error("load env file", "error", err)
		os.Exit(1)
	}

	dbPath := flag.String("db", dbDefault(), "path to sqlite database")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		slog.Error("open database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := run(context.Background(), db, args[0]); err != nil {
		slog.Error("migrate", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, db *sql.DB, cmd string) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	switch cmd {
	case "up":
		return goose.UpContext(ctx, db, ".")
	case "up-one":
		return goose.UpByOneContext(ctx, db, ".")
	case "down":
		return goose.DownContext(ctx, db, ".")
	case "redo":
		return goose.RedoContext(ctx, db, ".")
	case "status":
		return goose.StatusContext(ctx, db, ".")
	case "version":
		return goose.VersionContext(ctx, db, ".")
	case "reset":
		return goose.ResetContext(ctx, db, ".")
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func dbDefault() string {
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		return v
	}
	return "./data/feedfilter.db"
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-db path] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-11s %s\n", c.name, c.help)
	}
}

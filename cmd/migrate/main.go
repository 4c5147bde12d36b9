package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"release_bot/migrations"
)

const usage = `Usage: migrate [-db path] <command> [args]

Commands:
  up              Apply all pending migrations
  up-one          Apply the next migration
  down            Roll back the latest migration
  down-to <ver>   Roll back to the given version (0 drops everything)
  status          List migrations and whether they are applied
  version         Print the current schema version
`

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/bot.db"), "path to sqlite database")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *dbPath, args); err != nil {
		log.Error("migrate failed", "command", args[0], "db", *dbPath, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dbPath string, args []string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	p, err := migrations.NewProvider(db)
	if err != nil {
		return err
	}

	switch args[0] {
	case "up":
		results, err := p.Up(ctx)
		printResults(results...)
		return err
	case "up-one":
		res, err := p.UpByOne(ctx)
		printResults(res)
		return err
	case "down":
		res, err := p.Down(ctx)
		printResults(res)
		return err
	case "down-to":
		if len(args) < 2 {
			return fmt.Errorf("down-to needs a version")
		}
		version, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("parse version %q: %w", args[1], err)
		}
		results, err := p.DownTo(ctx, version)
		printResults(results...)
		return err
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			applied := "pending"
			if s.State == goose.StateApplied {
				applied = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-20s %s\n", applied, s.Source.Path)
		}
		return nil
	case "version":
		v, err := p.GetDBVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func printResults(results ...*goose.MigrationResult) {
	for _, r := range results {
		if r != nil {
			fmt.Println(r)
		}
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

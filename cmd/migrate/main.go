package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/saturnino-fabrica-de-software/facegate/internal/config"
	"github.com/saturnino-fabrica-de-software/facegate/internal/database"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	action := flag.String("action", "up", "Migration action: up, down, version, force")
	to := flag.Int("to", 0, "Target version for -action force")
	timeout := flag.Duration("timeout", 10*time.Second, "Database connect timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := config.NewLogger(os.Stderr, cfg.Environment, cfg.LogLevel)

	dbName, err := database.DatabaseName(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// golang-migrate needs a database/sql handle
	db, err := database.OpenSQL(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	migrator, err := database.NewMigrator(db, dbName)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer func() { _ = migrator.Close() }()

	logger = logger.With("database", dbName, "action", *action)

	switch *action {
	case "up":
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
		return report(logger, migrator, "migrations applied")

	case "down":
		if err := migrator.Down(); err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
		return report(logger, migrator, "last migration rolled back")

	case "version":
		return report(logger, migrator, "migration status")

	case "force":
		if *to <= 0 {
			return errors.New("-to is required for -action force")
		}
		if err := migrator.Force(*to); err != nil {
			return fmt.Errorf("force migration failed: %w", err)
		}
		return report(logger, migrator, "migration version forced")

	default:
		return fmt.Errorf("invalid action: %s (use: up, down, version, force)", *action)
	}
}

func report(logger *slog.Logger, migrator *database.Migrator, msg string) error {
	status, err := migrator.Status()
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}

	attrs := []any{"current", status.Current, "latest", status.Latest}
	switch {
	case status.Dirty:
		logger.Warn(msg+": dirty, fix the failed migration and run -action force", attrs...)
	case status.Pending():
		logger.Info(msg+": pending, run -action up", attrs...)
	default:
		logger.Info(msg+": up to date", attrs...)
	}
	return nil
}

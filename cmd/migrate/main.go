package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"cardcrm/internal/common/config"
	"cardcrm/internal/common/logging"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		fmt.Println("Usage: migrate <command>")
		fmt.Println("Commands:")
		fmt.Println("  up       Apply all pending migrations")
		fmt.Println("  down     Rollback the last migration")
		fmt.Println("  drop     Drop all tables (DANGEROUS)")
		fmt.Println("  version  Show current migration version")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	ctx := logging.WithLogger(context.Background(), logger)

	m, err := migrate.New(cfg.MigrationsPath, cfg.DatabaseURL)
	if err != nil {
		logging.ErrorContext(ctx, "Failed to create migrator", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	switch command := args[0]; command {
	case "up":
		logging.InfoContext(ctx, "Applying migrations", "source", cfg.MigrationsPath)
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logging.ErrorContext(ctx, "Migration failed", "error", err)
			os.Exit(1)
		}
		logging.InfoContext(ctx, "Migrations applied successfully")

	case "down":
		logging.InfoContext(ctx, "Rolling back last migration")
		if err := m.Steps(-1); err != nil {
			logging.ErrorContext(ctx, "Rollback failed", "error", err)
			os.Exit(1)
		}
		logging.InfoContext(ctx, "Rollback completed")

	case "drop":
		logging.WarnContext(ctx, "Dropping all tables")
		if err := m.Drop(); err != nil {
			logging.ErrorContext(ctx, "Drop failed", "error", err)
			os.Exit(1)
		}
		logging.InfoContext(ctx, "All tables dropped")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			logging.ErrorContext(ctx, "Failed to get version", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Version: %d, Dirty: %v\n", version, dirty)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		os.Exit(1)
	}
}

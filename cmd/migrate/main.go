package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/config"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/logging"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const usage = `Usage: migrate [-path dir] <command>

Commands:
  up             Apply all pending migrations
  down           Roll back the last migration
  drop           Drop all tables (DANGEROUS)
  force <v>      Mark version v as applied without running it
  version        Show current migration version
`

func main() {
	path := flag.String("path", "migrations", "directory holding the migration files")
	flag.Parse()

	if err := run(*path, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string, args []string) error {
	if len(args) < 1 {
		return errors.New(usage)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Setup(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	m, err := migrate.New("file://"+path, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open migrator: %w", err)
	}
	defer m.Close()

	switch args[0] {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", err)
		}
		logging.Info("migrations applied")
	case "down":
		if err := m.Steps(-1); err != nil {
			return fmt.Errorf("roll back: %w", err)
		}
		logging.Info("rolled back one migration")
	case "drop":
		if err := m.Drop(); err != nil {
			return fmt.Errorf("drop tables: %w", err)
		}
		logging.Warn("all tables dropped")
	case "force":
		if len(args) < 2 {
			return errors.New("force requires a version")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[1])
		}
		if err := m.Force(v); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
		logging.Info("version forced", "version", v)
	case "version":
		v, dirty, err := m.Version()
		if err != nil {
			return fmt.Errorf("read version: %w", err)
		}
		fmt.Printf("version %d (dirty=%v)\n", v, dirty)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
	return nil
}

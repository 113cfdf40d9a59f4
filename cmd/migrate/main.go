package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/hackgods/therapy-scheduling/internal/db"
	"github.com/hackgods/therapy-scheduling/internal/logging"
)

const usage = `usage: migrate [-dsn DSN] <command>

commands:
  up          apply every pending migration
  down        roll back every migration
  steps N     apply N migrations, negative N rolls back
  version     print the current schema version
  force V     mark the schema as version V without running anything
`

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV")).With().Str("service", "migrate").Logger()

	dsn := flag.String("dsn", os.Getenv("POSTGRES_DSN"), "postgres connection string")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if *dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := db.NewMigrator(*dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("create migrator")
	}
	defer func() { _, _ = m.Close() }()

	if err := run(m, flag.Args()); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info().Msg("no change")
			return
		}
		logger.Fatal().Err(err).Str("command", flag.Arg(0)).Msg("migration failed")
	}

	v, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Fatal().Err(err).Msg("read version")
	}
	logger.Info().Uint("version", v).Bool("dirty", dirty).Msg("done")
}

func run(m *migrate.Migrate, args []string) error {
	switch args[0] {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "version":
		return nil
	case "steps", "force":
		if len(args) < 2 {
			return fmt.Errorf("%s needs a numeric argument", args[0])
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", args[1], err)
		}
		if args[0] == "steps" {
			return m.Steps(n)
		}
		return m.Force(n)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

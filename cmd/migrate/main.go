package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"NeuroVault/internal/observability"
	"NeuroVault/internal/store/sqlstore"
)

func usage() {
	fmt.Println("Usage: migrate [-dialect postgres|sqlite] [-dsn DSN] <up|down|status>")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  status - list applied migrations")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  VAULT_STORE_DRIVER - default for -dialect (default: sqlite)")
	fmt.Println("  VAULT_STORE_DSN    - default for -dsn (default: neurovault.db)")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	dialectFlag := flag.String("dialect", envOr("VAULT_STORE_DRIVER", "sqlite"), "SQL dialect")
	dsn := flag.String("dsn", envOr("VAULT_STORE_DSN", "neurovault.db"), "database DSN or SQLite path")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	dialect, err := sqlstore.ParseDialect(*dialectFlag)
	if err != nil {
		logger.Fatal().Err(err).Msg("dialect")
	}

	ctx := context.Background()
	s, err := sqlstore.Open(ctx, dialect, *dsn, sqlstore.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer s.Close()

	migrator := sqlstore.NewMigrator(s.DB(), dialect, logger)

	switch flag.Arg(0) {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	case "status":
		versions, err := migrator.Applied(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate status")
		}
		for _, v := range versions {
			fmt.Println(v)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'status')\n", flag.Arg(0))
		os.Exit(1)
	}
}

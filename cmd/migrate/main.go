package main

import (
	"context"
	"fmt"
	"os"

	"PoolIndexer/internal/config"
	"PoolIndexer/internal/observability"
	"PoolIndexer/internal/persistence"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|version>")
		fmt.Println("  up      - apply all pending migrations")
		fmt.Println("  down    - roll back the last migration")
		fmt.Println("  version - print the current schema version")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  POOLINDEXER_STORE   - postgres or sqlite (default: sqlite)")
		fmt.Println("  POOLINDEXER_DSN     - connection string")
		fmt.Println("  POOLINDEXER_CONFIG  - optional YAML config file")
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	dialect, err := dialectFor(cfg.Store)
	if err != nil {
		logger.Fatal().Err(err).Msg("select dialect")
	}

	db, err := persistence.Open(context.Background(), dialect, cfg.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	migrator, err := persistence.NewMigrator(db, dialect, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("create migrator")
	}

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
	case "down":
		if err := migrator.Down(); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
	case "version":
		v, dirty, err := migrator.Version()
		if err != nil {
			logger.Fatal().Err(err).Msg("read version")
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'version')\n", os.Args[1])
		os.Exit(1)
	}
}

func dialectFor(store string) (persistence.Dialect, error) {
	switch store {
	case config.StorePostgres:
		return persistence.DialectPostgres, nil
	case config.StoreSQLite:
		return persistence.DialectSQLite, nil
	default:
		return "", fmt.Errorf("store %q has no schema", store)
	}
}

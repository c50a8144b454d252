// Command migrate applies or rolls back the embedded contract-state schema.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/xelma/round-engine/internal/config"
	"github.com/xelma/round-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "xelma.toml", "path to configuration file")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	dsn := cfg.Postgres.DSN
	if dsn == "" {
		slog.Error("postgres dsn is not set (postgres.dsn, XELMA_POSTGRES_DSN or DATABASE_URL)")
		os.Exit(1)
	}

	switch cmd := flag.Arg(0); cmd {
	case "up":
		slog.Info("running migrations")
		if err := store.Migrate(dsn); err != nil {
			slog.Error("migration failed", "err", err)
			os.Exit(1)
		}
		slog.Info("migrations completed")

	case "down":
		slog.Info("rolling back last migration")
		if err := store.Rollback(dsn); err != nil {
			slog.Error("rollback failed", "err", err)
			os.Exit(1)
		}
		slog.Info("rollback completed")

	case "version":
		version, dirty, err := store.MigrationVersion(dsn)
		if err != nil {
			slog.Error("failed to read version", "err", err)
			os.Exit(1)
		}
		if dirty {
			fmt.Printf("version %d (DIRTY, needs manual intervention)\n", version)
		} else {
			fmt.Printf("version %d\n", version)
		}

	default:
		slog.Error("unknown command", "command", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Contract state migration tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  migrate [-config xelma.toml] up        Apply all pending migrations")
	fmt.Println("  migrate [-config xelma.toml] down      Roll back the last migration")
	fmt.Println("  migrate [-config xelma.toml] version   Show the applied version")
}

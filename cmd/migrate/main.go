// Command migrate applies the audit store schema with goose.
//
// Usage:
//
//	migrate up                 apply pending migrations
//	migrate down               roll back the last migration
//	migrate status             list applied and pending migrations
//	migrate version            print the schema version
//	migrate redo               roll back and re-apply the last migration
//	migrate up-to|down-to N    migrate to version N
//
// DATABASE_URL comes from the same configuration sources as the other
// binaries (.env, SHIELD_CONFIG, environment).
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/mbd888/merchantshield/internal/config"
	"github.com/mbd888/merchantshield/internal/logging"
	"github.com/mbd888/merchantshield/migrations"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: migrate <up|down|status|version|redo|up-to N|down-to N>")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set; the audit store is in-memory and has nothing to migrate")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	command := args[0]
	logger.Info("running migration", "command", command)
	if err := migrations.Run(ctx, db, command, args[1:]...); err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}

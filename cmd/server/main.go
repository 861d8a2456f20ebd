// Command server runs the merchant shield companion API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mbd888/merchantshield/internal/config"
	"github.com/mbd888/merchantshield/internal/logging"
	"github.com/mbd888/merchantshield/internal/server"
)

// Set with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("merchantshield server",
		"version", Version,
		"commit", Commit,
		"built", BuildTime,
		"env", cfg.Env,
		"backend", cfg.APIURL,
		"session_store", cfg.SessionStore,
		"audit_db", cfg.DatabaseURL != "",
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	return srv.Run(context.Background())
}

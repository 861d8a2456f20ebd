// Merchant Shield MCP server: exposes transaction scoring and risk listings
// as MCP tools over stdio. It shares the session saved by shieldctl.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/mbd888/merchantshield/internal/config"
	"github.com/mbd888/merchantshield/internal/logging"
	"github.com/mbd888/merchantshield/internal/mcpserver"
	"github.com/mbd888/merchantshield/internal/shield"
)

// Version is set by ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the protocol; logs go to stderr.
	logger := logging.NewWithWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	client, err := shield.New(context.Background(), cfg, shield.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()

	s := mcpserver.NewMCPServer(client, Version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		_ = client.Close()
		os.Exit(1)
	}
}

// shieldctl is the merchant shield command line: sign up, log in, score
// transactions and review risk listings. The session it saves is shared
// with the MCP server and the companion API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mbd888/merchantshield/internal/config"
	"github.com/mbd888/merchantshield/internal/logging"
	"github.com/mbd888/merchantshield/internal/shield"
	"github.com/spf13/cobra"
)

var Version = "dev"

// app carries what every subcommand needs.
type app struct {
	cfg    *config.Config
	client *shield.Client
	out    io.Writer
	errOut io.Writer
	asJSON bool
	apiURL string
	opts   []shield.Option
}

func main() {
	a := &app{out: os.Stdout, errOut: os.Stderr}
	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "shieldctl",
		Short:         "Merchant Shield - fraud risk scoring for card transactions",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.client == nil {
				return nil
			}
			return a.client.Close()
		},
	}
	rootCmd.SetOut(a.out)
	rootCmd.SetErr(a.errOut)

	rootCmd.PersistentFlags().BoolVarP(&a.asJSON, "json", "j", false, "Output as JSON")
	rootCmd.PersistentFlags().StringVar(&a.apiURL, "api-url", "", "Backend base URL (overrides SHIELD_API_URL)")

	rootCmd.AddCommand(signupCmd(a))
	rootCmd.AddCommand(loginCmd(a))
	rootCmd.AddCommand(logoutCmd(a))
	rootCmd.AddCommand(whoamiCmd(a))
	rootCmd.AddCommand(analyzeCmd(a))
	rootCmd.AddCommand(transactionsCmd(a))
	rootCmd.AddCommand(historyCmd(a))

	return rootCmd
}

// open loads configuration and builds the client. Logs go to stderr so
// --json output stays parseable.
func (a *app) open(ctx context.Context) error {
	if a.cfg == nil {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.apiURL != "" {
		a.cfg.APIURL = a.apiURL
	}

	level := a.cfg.LogLevel
	if level == config.DefaultLogLevel {
		level = "warn"
	}
	opts := append([]shield.Option{
		shield.WithLogger(logging.NewWithWriter(a.errOut, level, a.cfg.LogFormat)),
	}, a.opts...)

	client, err := shield.New(ctx, a.cfg, opts...)
	if err != nil {
		return err
	}
	a.client = client
	return nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

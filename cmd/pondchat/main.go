// Package main provides the pondchat command line.
//
// # Basic Usage
//
// Run a development broker:
//
//	pondchat broker --jwt-secret dev-secret
//
// Issue a token and join a room:
//
//	TOKEN=$(pondchat token --subject alice --jwt-secret dev-secret)
//	pondchat chat --room lobby --token "$TOKEN"
//
// # Environment Variables
//
//   - PONDCHAT_CONFIG: path to the YAML configuration file
//   - PONDCHAT_TOKEN: bearer token for the chat command
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eleven-am/pondchat/config"
	"github.com/eleven-am/pondchat/logging"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "pondchat",
		Short: "pondchat - real-time chat over STOMP and WebSocket",
		Long: `pondchat joins chat rooms over a single reconnecting STOMP session and
runs a development broker that speaks the same protocol.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("PONDCHAT_CONFIG"),
		"Path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"Log level: debug, info, warn or error (overrides the config file)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "",
		"Log format: text or json (overrides the config file)")

	rootCmd.AddCommand(
		buildChatCmd(opts),
		buildBrokerCmd(opts),
		buildTokenCmd(opts),
	)
	return rootCmd
}

// load reads the configuration and builds the logger, applying the
// persistent flag overrides. The logger also becomes slog's default.
func (o *globalOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(o.logLevel) != "" {
		cfg.Log.Level = o.logLevel
	}
	if strings.TrimSpace(o.logFormat) != "" {
		cfg.Log.Format = o.logFormat
	}

	logCfg := cfg.Log
	logCfg.Output = cmd.ErrOrStderr()
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

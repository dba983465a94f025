package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shineum/mailer-lite/internal/config"
)

// rootOptions holds the persistent flags shared by all subcommands.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "mailer",
		Short: "Sends prepared email through Microsoft Graph, SMTP or AWS SES",
		Long: `mailer delivers raw RFC 5322 messages through one of several transports.

It can run as:
  - A one-shot sender (mailer send message.eml)
  - An SMTP relay that forwards every accepted message (mailer relay)

The transport is chosen by PROVIDER or auto-detected from the configured
credentials, in the order graph, ses, smtp, then stdout.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML configuration file (optional)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides LOG_LEVEL)")

	cmd.AddCommand(newSendCmd(opts))
	cmd.AddCommand(newRelayCmd(opts))

	return cmd
}

// load reads the configuration and applies the log level flag.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = strings.ToLower(o.logLevel)
	}
	return cfg, nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger installs a JSON logger writing to w at the given level as
// the slog default and returns it.
func setupLogger(w io.Writer, level string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

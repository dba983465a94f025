package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/shineum/mailer-lite/internal/config"
	"github.com/shineum/mailer-lite/internal/metrics"
	"github.com/shineum/mailer-lite/internal/provider"
	"github.com/shineum/mailer-lite/internal/provider/factory"
	"github.com/shineum/mailer-lite/internal/relay"
	mailtls "github.com/shineum/mailer-lite/internal/tls"
)

type relayOptions struct {
	root *rootOptions

	listen        string
	domain        string
	metricsListen string
}

func newRelayCmd(root *rootOptions) *cobra.Command {
	opts := &relayOptions{root: root}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run an SMTP relay that forwards mail through the selected transport",
		Long: `Relay listens for SMTP clients and hands each accepted message to the
selected transport before acknowledging it. Delivery failures are reported
to the client as temporary (451) errors; nothing is queued.

STARTTLS uses TLS_CERT_FILE and TLS_KEY_FILE, or a generated self-signed
certificate when neither is set. AUTH PLAIN is required when RELAY_USERNAME
and RELAY_PASSWORD are set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRelay(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.listen, "listen", "", "listen address (overrides RELAY_LISTEN)")
	cmd.Flags().StringVar(&opts.domain, "domain", "", "server name announced to clients (default: hostname)")
	cmd.Flags().StringVar(&opts.metricsListen, "metrics-listen", "", "Prometheus metrics address, empty to disable (overrides METRICS_LISTEN)")

	return cmd
}

func runRelay(cmd *cobra.Command, opts *relayOptions) error {
	cfg, err := opts.root.load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := setupLogger(os.Stdout, cfg.Logging.Level)

	if opts.listen != "" {
		cfg.Relay.Listen = opts.listen
	}
	if opts.metricsListen != "" {
		cfg.Metrics.Listen = opts.metricsListen
	}

	tlsConfig, err := mailtls.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to setup TLS: %w", err)
	}
	tlsMode := "self-signed"
	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		tlsMode = "file"
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sel, err := factory.FromConfig(cfg)
	if err != nil {
		return err
	}
	p, err := factory.New(ctx, sel, factory.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	p, err = startMetrics(ctx, cfg, p, logger)
	if err != nil {
		return err
	}

	server := relay.New(relay.Config{
		ListenAddr:      cfg.Relay.Listen,
		Domain:          serverDomain(opts.domain),
		Provider:        p,
		TLSConfig:       tlsConfig,
		ImplicitTLS:     cfg.Relay.ImplicitTLS,
		AuthUsername:    cfg.Relay.Username,
		AuthPassword:    cfg.Relay.Password,
		MaxMessageBytes: cfg.Relay.MaxMessageSize,
		Logger:          logger,
	})

	logger.Info("starting mailer relay",
		"version", version,
		"listen", cfg.Relay.Listen,
		"provider", p.Name(),
		"auth_enabled", cfg.RelayAuthEnabled(),
		"tls_mode", tlsMode,
	)

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	logger.Info("mailer relay stopped")
	return nil
}

// startMetrics instruments p and serves its collectors when a metrics
// address is configured. The server stops with ctx.
func startMetrics(ctx context.Context, cfg *config.Config, p provider.Provider, logger *slog.Logger) (provider.Provider, error) {
	if cfg.Metrics.Listen == "" {
		return p, nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	instrumented, err := metrics.Instrument(p, reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	srv := metrics.NewServer(reg, logger)
	go func() {
		if err := srv.ListenAndServe(ctx, cfg.Metrics.Listen); err != nil {
			logger.Error("metrics server failed", "addr", cfg.Metrics.Listen, "error", err)
		}
	}()

	return instrumented, nil
}

func serverDomain(flag string) string {
	if flag != "" {
		return flag
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "localhost"
}

// Package relay implements an SMTP listener that hands every accepted
// message to a delivery provider.
package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/mailer-lite/internal/provider"
	"github.com/shineum/mailer-lite/internal/secret"
)

// shutdownTimeout is the maximum time to wait for in-flight sessions
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

const (
	defaultMaxMessageBytes = 25 << 20
	defaultIdleTimeout     = 60 * time.Second
)

// Config holds the configuration for a relay Server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":2525").
	ListenAddr string

	// Domain is the server hostname used in the greeting and EHLO response.
	Domain string

	// Provider delivers accepted messages.
	Provider provider.Provider

	// TLSConfig enables STARTTLS, or TLS on connect when ImplicitTLS is
	// set. If nil, only plaintext is offered.
	TLSConfig   *tls.Config
	ImplicitTLS bool

	// AuthUsername and AuthPassword configure SMTP AUTH PLAIN.
	// If either is empty, authentication is not required.
	AuthUsername string
	AuthPassword secret.Secret

	// AllowInsecureAuth permits AUTH before TLS.
	AllowInsecureAuth bool

	// MaxMessageBytes defaults to 25 MB.
	MaxMessageBytes int64

	Logger *slog.Logger
}

// Server accepts SMTP connections and forwards messages synchronously.
// Nothing is queued: a message is acknowledged only after the provider
// accepted it.
type Server struct {
	config Config
	auth   *Authenticator
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New creates a relay Server with the given configuration.
func New(cfg Config) *Server {
	if cfg.Domain == "" {
		cfg.Domain = "localhost"
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		config: cfg,
		auth:   NewAuthenticator(cfg.AuthUsername, cfg.AuthPassword),
		logger: logger,
	}
}

// ListenAndServe listens on ListenAddr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. On cancellation
// it stops accepting and waits up to 30 seconds for in-flight sessions.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.config.ImplicitTLS && s.config.TLSConfig != nil {
		ln = tls.NewListener(ln, s.config.TLSConfig)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	// In-flight deliveries finish during graceful shutdown.
	srv := gosmtp.NewServer(&backend{
		ctx:      context.WithoutCancel(ctx),
		domain:   s.config.Domain,
		auth:     s.auth,
		provider: s.config.Provider,
		logger:   s.logger,
	})
	srv.Domain = s.config.Domain
	srv.MaxMessageBytes = s.config.MaxMessageBytes
	srv.ReadTimeout = defaultIdleTimeout
	srv.WriteTimeout = defaultIdleTimeout
	srv.AllowInsecureAuth = s.config.AllowInsecureAuth
	if !s.config.ImplicitTLS {
		srv.TLSConfig = s.config.TLSConfig
	}

	s.logger.Info("SMTP relay listening",
		"addr", ln.Addr().String(),
		"provider", s.config.Provider.Name(),
		"auth_enabled", s.auth.Enabled(),
		"tls_enabled", s.config.TLSConfig != nil,
		"implicit_tls", s.config.ImplicitTLS,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down SMTP relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("shutdown timeout reached, forcing close", "error", err)
		srv.Close()
	}

	if err := <-errCh; err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

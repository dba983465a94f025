// Package smtp implements a mailer that submits messages to an SMTP host
// over TLS, opening one authenticated connection per message.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/mailer-lite/internal/email"
	"github.com/shineum/mailer-lite/internal/secret"
	mailtls "github.com/shineum/mailer-lite/internal/tls"
)

// DefaultTimeout bounds connection setup and every SMTP command.
const DefaultTimeout = 30 * time.Second

// DefaultLocalName is the host name sent with EHLO.
const DefaultLocalName = "localhost"

// Config holds the SMTP host and credentials used to create a Mailer.
type Config struct {
	Host       string
	Port       int
	CertPolicy CertPolicy
	Security   Security

	// CAFile optionally points to PEM certificates to trust instead of the
	// system roots.
	CAFile string

	// Username may be empty to skip AUTH.
	Username string
	Password secret.Secret
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Mailer) { m.logger = l }
}

// WithLocalName replaces DefaultLocalName.
func WithLocalName(name string) Option {
	return func(m *Mailer) { m.localName = name }
}

// WithTimeout replaces DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Mailer) { m.timeout = d }
}

// Mailer sends mail over a fresh SMTP connection per message. Its
// configuration never changes after New, so it is safe for concurrent use.
type Mailer struct {
	host       string
	addr       string
	security   Security
	certPolicy CertPolicy
	caFile     string
	username   string
	password   secret.Secret
	localName  string
	timeout    time.Duration
	logger     *slog.Logger
}

// New stores cfg. It performs no network I/O and cannot fail; connection
// problems surface from SendMail as ErrConnectFailed.
func New(cfg Config, opts ...Option) *Mailer {
	m := &Mailer{
		host:       cfg.Host,
		addr:       net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		security:   cfg.Security.resolve(cfg.Port),
		certPolicy: cfg.CertPolicy,
		caFile:     cfg.CAFile,
		username:   cfg.Username,
		password:   cfg.Password,
		localName:  DefaultLocalName,
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SendMail connects, authenticates and submits msg with its envelope
// sender and recipients. The connection is closed before returning.
func (m *Mailer) SendMail(ctx context.Context, msg *email.Message) *Error {
	recipients := email.FormatRecipients(msg)
	m.logger.Info("sending mail via SMTP",
		"host", m.addr,
		"from", msg.From,
		"recipients", recipients,
	)

	c, err := m.connect(ctx)
	if err != nil {
		m.logger.Error("failed to connect to SMTP host",
			"host", m.addr,
			"recipients", recipients,
			"error", err,
		)
		return &Error{Kind: ErrConnectFailed, Err: err}
	}
	defer c.Close()

	if err := c.SendMail(msg.From, msg.To, bytes.NewReader(msg.Body)); err != nil {
		m.logger.Error("failed to send SMTP mail",
			"host", m.addr,
			"recipients", recipients,
			"error", err,
		)
		return &Error{Kind: ErrSendFailed, Err: err}
	}

	// The message is accepted at this point; a failed QUIT is not a
	// delivery failure.
	if err := c.Quit(); err != nil {
		m.logger.Warn("SMTP QUIT failed", "host", m.addr, "error", err)
	}

	m.logger.Info("sent mail via SMTP",
		"host", m.addr,
		"recipients", recipients,
	)
	return nil
}

// connect dials the host, negotiates TLS and authenticates.
func (m *Mailer) connect(ctx context.Context) (*gosmtp.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	tlsConfig, err := mailtls.ClientConfig(m.host, m.certPolicy == AllowInvalidCerts, m.caFile)
	if err != nil {
		return nil, err
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return nil, err
	}

	// Bound TLS and the greeting; commands get CommandTimeout afterwards.
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	var c *gosmtp.Client
	switch m.security {
	case SecurityImplicitTLS:
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake: %w", err)
		}
		c = gosmtp.NewClient(tlsConn)
	default:
		c, err = gosmtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("STARTTLS: %w", err)
		}
	}
	c.CommandTimeout = m.timeout
	c.SubmissionTimeout = m.timeout

	// The client reads the greeting lazily; EHLO here makes a rejected
	// greeting or EHLO a connect failure even when AUTH is skipped.
	if err := c.Hello(m.localName); err != nil {
		c.Close()
		return nil, fmt.Errorf("EHLO: %w", err)
	}

	if err := m.authenticate(c); err != nil {
		c.Close()
		return nil, err
	}

	conn.SetDeadline(time.Time{})
	return c, nil
}

func (m *Mailer) authenticate(c *gosmtp.Client) error {
	if m.username == "" {
		return nil
	}

	var auth sasl.Client
	switch {
	case c.SupportsAuth(sasl.Plain):
		auth = sasl.NewPlainClient("", m.username, m.password.Expose())
	case c.SupportsAuth(sasl.Login):
		auth = sasl.NewLoginClient(m.username, m.password.Expose())
	default:
		return ErrNoAuthMechanism
	}

	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("authenticate as %s: %w", m.username, err)
	}
	return nil
}

// Name returns the provider name.
func (m *Mailer) Name() string {
	return "smtp"
}

// String identifies the mailer without revealing the password.
func (m *Mailer) String() string {
	return fmt.Sprintf("smtp mailer (%s, security: %s, invalid certs: %s, user: %s, password: %s)",
		m.addr, m.security, m.certPolicy, m.username, m.password)
}

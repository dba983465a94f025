package relay

import (
	"context"
	"io"
	"log/slog"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/mailer-lite/internal/email"
	"github.com/shineum/mailer-lite/internal/parser"
	"github.com/shineum/mailer-lite/internal/provider"
)

// errDeliveryFailed is reported to the client when the provider fails. The
// client is expected to retry later.
var errDeliveryFailed = &gosmtp.SMTPError{
	Code:         451,
	EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
	Message:      "Temporary failure, please try again later",
}

// errAuthRequired is the RFC 4954 reply to MAIL before a required AUTH.
var errAuthRequired = &gosmtp.SMTPError{
	Code:         530,
	EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
	Message:      "Authentication required",
}

// backend creates one session per client connection.
type backend struct {
	ctx      context.Context
	domain   string
	auth     *Authenticator
	provider provider.Provider
	logger   *slog.Logger
}

func (b *backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	return &session{
		backend: b,
		remote:  c.Conn().RemoteAddr().String(),
	}, nil
}

// session holds the state of a single SMTP transaction.
type session struct {
	*backend
	remote        string
	authenticated bool

	from string
	to   []string
}

var _ gosmtp.AuthSession = (*session)(nil)

func (s *session) AuthMechanisms() []string {
	if !s.auth.Enabled() {
		return nil
	}
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, gosmtp.ErrAuthUnknownMechanism
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		if err := s.auth.Verify(username, password); err != nil {
			s.logger.Warn("SMTP authentication failed",
				"remote", s.remote,
				"username", username,
			)
			return gosmtp.ErrAuthFailed
		}
		s.authenticated = true
		return nil
	}), nil
}

func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	if s.auth.Enabled() && !s.authenticated {
		return errAuthRequired
	}
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	msg := &email.Message{
		From: s.from,
		To:   append([]string(nil), s.to...),
		Body: parser.EnsureMessageID(body, s.domain),
	}

	if err := s.provider.Send(s.ctx, msg); err != nil {
		s.logger.Error("provider send failed",
			"provider", s.provider.Name(),
			"remote", s.remote,
			"recipients", email.FormatRecipients(msg),
			"error", err,
		)
		return errDeliveryFailed
	}

	s.logger.Info("relayed message",
		"provider", s.provider.Name(),
		"remote", s.remote,
		"recipients", email.FormatRecipients(msg),
		"size", len(body),
	)
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

// Package graph implements a mailer that sends raw MIME messages through the
// Microsoft Graph API, authenticated with an OAuth2 client credentials token.
package graph

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/shineum/mailer-lite/internal/email"
	"github.com/shineum/mailer-lite/internal/secret"
)

const (
	// DefaultLoginURL is the Microsoft identity platform authority.
	DefaultLoginURL = "https://login.microsoftonline.com"

	// DefaultGraphURL is the Microsoft Graph v1.0 API root.
	DefaultGraphURL = "https://graph.microsoft.com/v1.0"
)

// maxBodyLog caps how much of a Graph response body is logged and kept on
// an Error.
const maxBodyLog = 64 << 10

// Config holds the app registration credentials used to create a Mailer.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret secret.Secret
}

// Option configures a Mailer.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
	loginURL   string
	graphURL   string
}

// WithHTTPClient sets the client used for the token request, and as the
// base transport for send requests. Defaults to a client without timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEndpoints overrides the identity platform authority and Graph API
// root, e.g. for national clouds. Empty values keep the defaults.
func WithEndpoints(loginURL, graphURL string) Option {
	return func(o *options) {
		if loginURL != "" {
			o.loginURL = strings.TrimRight(loginURL, "/")
		}
		if graphURL != "" {
			o.graphURL = strings.TrimRight(graphURL, "/")
		}
	}
}

// Mailer sends mail via the Microsoft Graph sendMail endpoint of the
// envelope sender's mailbox.
//
// The access token is acquired once by New and never refreshed. Tokens
// issued by the Microsoft identity platform typically live 60 to 90
// minutes; after that every SendMail fails with ErrSendRejected (HTTP 401)
// and a new Mailer must be created.
type Mailer struct {
	client   *http.Client
	token    secret.Secret
	graphURL string
	logger   *slog.Logger
}

// New acquires an access token for cfg and returns a Mailer that uses it.
// A failed token request is returned as an *Error and is not retried.
func New(ctx context.Context, cfg Config, opts ...Option) (*Mailer, error) {
	o := options{
		httpClient: &http.Client{},
		logger:     slog.Default(),
		loginURL:   DefaultLoginURL,
		graphURL:   DefaultGraphURL,
	}
	for _, opt := range opts {
		opt(&o)
	}

	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", o.loginURL, url.PathEscape(cfg.TenantID))

	o.logger.Debug("requesting Microsoft Graph access token",
		"tenant_id", cfg.TenantID,
		"client_id", cfg.ClientID,
	)

	token, err := fetchAccessToken(ctx, o.httpClient, tokenURL, cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		o.logger.Error("failed to acquire Microsoft Graph access token",
			"tenant_id", cfg.TenantID,
			"error", err,
		)
		return nil, err
	}

	return &Mailer{
		client:   bearerClient(o.httpClient, token),
		token:    token,
		graphURL: o.graphURL,
		logger:   o.logger,
	}, nil
}

// bearerClient wraps base so that every request carries the token. The
// token source is static, so the token is never refreshed.
func bearerClient(base *http.Client, token secret.Secret) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token.Expose(),
		TokenType:   "Bearer",
	})
	return &http.Client{
		Transport: &oauth2.Transport{Source: src, Base: base.Transport},
		Timeout:   base.Timeout,
		Jar:       base.Jar,
	}
}

// SendMail submits msg.Body, base64-encoded, to the sendMail endpoint of
// msg.From. Any 2xx response is success.
func (m *Mailer) SendMail(ctx context.Context, msg *email.Message) *Error {
	recipients := email.FormatRecipients(msg)
	m.logger.Info("sending mail via Microsoft Graph",
		"from", msg.From,
		"recipients", recipients,
	)

	sendURL := fmt.Sprintf("%s/users/%s/sendMail", m.graphURL, url.PathEscape(msg.From))
	payload := base64.StdEncoding.EncodeToString(msg.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, strings.NewReader(payload))
	if err != nil {
		return &Error{Kind: ErrSendRequestFailed, Err: err}
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Error("Microsoft Graph request failed",
			"recipients", recipients,
			"error", err,
		)
		return &Error{Kind: ErrSendRequestFailed, Err: err}
	}
	defer resp.Body.Close()

	success := resp.StatusCode >= 200 && resp.StatusCode < 300

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyLog))

	if !success {
		m.logger.Error("Microsoft Graph rejected mail",
			"recipients", recipients,
			"status", resp.StatusCode,
			"body", string(body),
		)
		return &Error{
			Kind:       ErrSendRejected,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        readErr,
		}
	}

	if readErr != nil {
		m.logger.Error("failed to read Microsoft Graph response body",
			"recipients", recipients,
			"status", resp.StatusCode,
			"error", readErr,
		)
		return &Error{Kind: ErrSendResponseBodyUnreadable, StatusCode: resp.StatusCode, Err: readErr}
	}

	m.logger.Info("sent mail via Microsoft Graph",
		"recipients", recipients,
		"status", resp.StatusCode,
	)
	m.logger.Debug("Microsoft Graph response", "body", string(body))

	return nil
}

// Name returns the provider name.
func (m *Mailer) Name() string {
	return "msgraph"
}

// String identifies the mailer without revealing the token.
func (m *Mailer) String() string {
	return fmt.Sprintf("msgraph mailer (api: %s, token: %s)", m.graphURL, m.token)
}

// Package factory builds a Provider from a transport selection.
package factory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shineum/mailer-lite/internal/config"
	"github.com/shineum/mailer-lite/internal/provider"
	"github.com/shineum/mailer-lite/internal/provider/graph"
	"github.com/shineum/mailer-lite/internal/provider/ses"
	"github.com/shineum/mailer-lite/internal/provider/smtp"
	"github.com/shineum/mailer-lite/internal/provider/stdout"
	"github.com/shineum/mailer-lite/internal/secret"
)

// ErrUnknownSelector is returned by New for a Selector it cannot build and
// by FromConfig for an unrecognized provider name.
var ErrUnknownSelector = errors.New("unknown provider selector")

// Selector chooses a transport and carries its settings. The set of
// implementations is closed: GraphSelector, SMTPSelector, SESSelector and
// StdoutSelector.
type Selector interface {
	selector()
}

// GraphSelector selects the Microsoft Graph transport.
type GraphSelector struct {
	TenantID     string
	ClientID     string
	ClientSecret secret.Secret

	// LoginURL and APIURL override the public cloud endpoints when set.
	LoginURL string
	APIURL   string
}

// SMTPSelector selects the SMTP transport.
type SMTPSelector struct {
	Host       string
	Port       int
	CertPolicy smtp.CertPolicy
	Security   smtp.Security
	CAFile     string
	Username   string
	Password   secret.Secret
}

// SESSelector selects the AWS SES transport.
type SESSelector struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey secret.Secret
}

// StdoutSelector selects the debug sink that prints messages to stdout.
type StdoutSelector struct{}

func (GraphSelector) selector()  {}
func (SMTPSelector) selector()   {}
func (SESSelector) selector()    {}
func (StdoutSelector) selector() {}

// Option configures New.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	httpClient *http.Client
}

// WithLogger sets the logger handed to the transport. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient sets the HTTP client used by the Graph transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// New builds the transport described by sel and returns it as a Provider.
//
// Graph and SES construction errors are returned unchanged, so errors.Is
// against graph and ses sentinels keeps working. The SMTP and stdout
// branches never fail.
func New(ctx context.Context, sel Selector, opts ...Option) (provider.Provider, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	switch s := sel.(type) {
	case GraphSelector:
		gopts := []graph.Option{
			graph.WithLogger(o.logger),
			graph.WithEndpoints(s.LoginURL, s.APIURL),
		}
		if o.httpClient != nil {
			gopts = append(gopts, graph.WithHTTPClient(o.httpClient))
		}
		m, err := graph.New(ctx, graph.Config{
			TenantID:     s.TenantID,
			ClientID:     s.ClientID,
			ClientSecret: s.ClientSecret,
		}, gopts...)
		if err != nil {
			return nil, err
		}
		o.logger.Info("mail provider initialised", "backend", m.Name())
		return provider.Erase[*graph.Error](m), nil

	case SMTPSelector:
		m := smtp.New(smtp.Config{
			Host:       s.Host,
			Port:       s.Port,
			CertPolicy: s.CertPolicy,
			Security:   s.Security,
			CAFile:     s.CAFile,
			Username:   s.Username,
			Password:   s.Password,
		}, smtp.WithLogger(o.logger))
		o.logger.Info("mail provider initialised",
			"backend", m.Name(),
			"host", s.Host,
			"port", s.Port,
			"invalid_certs", s.CertPolicy.String(),
		)
		return provider.Erase[*smtp.Error](m), nil

	case SESSelector:
		m, err := ses.New(ctx, ses.Config{
			Region:          s.Region,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
		}, o.logger)
		if err != nil {
			return nil, err
		}
		o.logger.Info("mail provider initialised", "backend", m.Name(), "region", s.Region)
		return provider.Erase[*ses.Error](m), nil

	case StdoutSelector:
		m := stdout.New()
		o.logger.Info("mail provider initialised", "backend", m.Name())
		return provider.Erase[error](m), nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownSelector, sel)
	}
}

// FromConfig picks a Selector from cfg. An explicit cfg.Provider must name
// a configured transport; otherwise the first configured transport wins in
// the order graph, ses, smtp, with stdout as the fallback.
func FromConfig(cfg *config.Config) (Selector, error) {
	switch cfg.Provider {
	case "graph", "msgraph":
		if !cfg.GraphConfigured() {
			return nil, errors.New("graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID and GRAPH_CLIENT_SECRET are required")
		}
		return graphSelector(cfg), nil

	case "ses":
		if !cfg.SESConfigured() {
			return nil, errors.New("ses provider selected but SES_REGION is required")
		}
		return sesSelector(cfg), nil

	case "smtp":
		if !cfg.SMTPConfigured() {
			return nil, errors.New("smtp provider selected but SMTP_HOST is required")
		}
		return smtpSelector(cfg), nil

	case "stdout":
		return StdoutSelector{}, nil

	case "":
		switch {
		case cfg.GraphConfigured():
			return graphSelector(cfg), nil
		case cfg.SESConfigured():
			return sesSelector(cfg), nil
		case cfg.SMTPConfigured():
			return smtpSelector(cfg), nil
		default:
			return StdoutSelector{}, nil
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSelector, cfg.Provider)
	}
}

func graphSelector(cfg *config.Config) GraphSelector {
	return GraphSelector{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		LoginURL:     cfg.Graph.LoginURL,
		APIURL:       cfg.Graph.APIURL,
	}
}

func sesSelector(cfg *config.Config) SESSelector {
	return SESSelector{
		Region:          cfg.SES.Region,
		AccessKeyID:     cfg.SES.AccessKeyID,
		SecretAccessKey: cfg.SES.SecretAccessKey,
	}
}

func smtpSelector(cfg *config.Config) SMTPSelector {
	return SMTPSelector{
		Host:       cfg.SMTP.Host,
		Port:       cfg.SMTP.Port,
		CertPolicy: cfg.SMTP.InvalidCerts,
		Security:   cfg.SMTP.Security,
		CAFile:     cfg.SMTP.CAFile,
		Username:   cfg.SMTP.Username,
		Password:   cfg.SMTP.Password,
	}
}

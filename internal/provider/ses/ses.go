// Package ses implements a mailer that submits raw MIME messages via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/mailer-lite/internal/email"
	"github.com/shineum/mailer-lite/internal/secret"
)

var (
	// ErrConfigLoad is returned by New when the AWS configuration cannot be
	// resolved.
	ErrConfigLoad = errors.New("failed to load AWS config")
	// ErrSendFailed is returned when SES does not accept the message.
	ErrSendFailed = errors.New("failed sending raw mail through AWS SES")
)

// Error describes a failed SES operation.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Config holds the configuration for creating a Mailer. Without static
// keys the default AWS credential chain is used.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey secret.Secret
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Mailer sends mail via the AWS SES v2 API.
type Mailer struct {
	region string
	client SendEmailAPI
	logger *slog.Logger
}

// New creates a Mailer with the given configuration.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Mailer, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && !cfg.SecretAccessKey.IsZero() {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey.Expose(), ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &Error{Kind: ErrConfigLoad, Err: err}
	}

	return NewWithClient(cfg.Region, sesv2.NewFromConfig(awsCfg), logger), nil
}

// NewWithClient creates a Mailer with a custom client, used for testing.
func NewWithClient(region string, client SendEmailAPI, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{
		region: region,
		client: client,
		logger: logger,
	}
}

// SendMail submits msg.Body unchanged as a raw message, with the envelope
// taken from msg. SES delivers to every listed recipient, Bcc included.
func (m *Mailer) SendMail(ctx context.Context, msg *email.Message) *Error {
	recipients := email.FormatRecipients(msg)
	m.logger.Info("sending mail via AWS SES",
		"region", m.region,
		"from", msg.From,
		"recipients", recipients,
	)

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: msg.To,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: msg.Body},
		},
	}

	out, err := m.client.SendEmail(ctx, input)
	if err != nil {
		m.logger.Error("AWS SES rejected mail",
			"recipients", recipients,
			"error", err,
		)
		return &Error{Kind: ErrSendFailed, Err: err}
	}

	m.logger.Info("sent mail via AWS SES",
		"recipients", recipients,
		"message_id", aws.ToString(out.MessageId),
	)
	return nil
}

// Name returns the provider name.
func (m *Mailer) Name() string {
	return "ses"
}

func (m *Mailer) String() string {
	return fmt.Sprintf("ses mailer (region: %s)", m.region)
}

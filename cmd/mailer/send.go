package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/mailer-lite/internal/email"
	"github.com/shineum/mailer-lite/internal/parser"
	"github.com/shineum/mailer-lite/internal/provider/factory"
	"github.com/shineum/mailer-lite/internal/provider/smtp"
)

type sendOptions struct {
	root *rootOptions

	from         string
	to           []string
	provider     string
	invalidCerts smtp.CertPolicy
	security     smtp.Security
}

func newSendCmd(root *rootOptions) *cobra.Command {
	opts := &sendOptions{root: root}

	cmd := &cobra.Command{
		Use:   "send [file|-]",
		Short: "Send one raw message",
		Long: `Send reads a raw RFC 5322 message from a file, or from stdin when the
argument is "-" or missing, and delivers it once through the selected
transport. The envelope is taken from the From, To, Cc and Bcc headers
unless --from or --to are given. The Bcc header is never transmitted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.from, "from", "", "envelope sender (default: From header)")
	cmd.Flags().StringArrayVar(&opts.to, "to", nil, "envelope recipient, repeatable (default: To, Cc and Bcc headers)")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "transport: graph, smtp, ses or stdout (overrides PROVIDER)")
	cmd.Flags().Var(&opts.invalidCerts, "smtp-invalid-certs", "accept invalid SMTP server certificates: allow or deny (overrides SMTP_INVALID_CERTS)")
	cmd.Flags().Var(&opts.security, "smtp-security", "SMTP TLS mode: auto, tls or starttls (overrides SMTP_SECURITY)")

	return cmd
}

func runSend(cmd *cobra.Command, opts *sendOptions, args []string) error {
	cfg, err := opts.root.load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := setupLogger(cmd.ErrOrStderr(), cfg.Logging.Level)

	if opts.provider != "" {
		cfg.Provider = strings.ToLower(opts.provider)
	}
	if cmd.Flags().Changed("smtp-invalid-certs") {
		cfg.SMTP.InvalidCerts = opts.invalidCerts
	}
	if cmd.Flags().Changed("smtp-security") {
		cfg.SMTP.Security = opts.security
	}

	raw, err := readMessage(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	msg, err := buildMessage(raw, opts.from, opts.to)
	if err != nil {
		return err
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

	if err := p.Send(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", p.Name(), err)
	}

	logger.Info("message sent",
		"provider", p.Name(),
		"from", msg.From,
		"recipients", email.FormatRecipients(msg),
	)
	return nil
}

func readMessage(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read message from stdin: %w", err)
		}
		return raw, nil
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	return raw, nil
}

// buildMessage derives the envelope from raw's headers, letting from and
// to replace the header values when given. A generated Message-ID is
// added when raw has none.
func buildMessage(raw []byte, from string, to []string) (*email.Message, error) {
	var msg *email.Message
	if from != "" && len(to) > 0 {
		msg = &email.Message{
			From: from,
			To:   to,
			Body: parser.StripHeader(raw, "Bcc"),
		}
	} else {
		parsed, err := parser.Envelope(raw)
		if err != nil {
			return nil, err
		}
		msg = parsed
		if from != "" {
			msg.From = from
		}
		if len(to) > 0 {
			msg.To = to
		}
	}

	msg.Body = parser.EnsureMessageID(msg.Body, senderDomain(msg.From))
	return msg, nil
}

func senderDomain(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

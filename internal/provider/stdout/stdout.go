// Package stdout implements a mailer that prints messages instead of
// delivering them. It is meant for local development.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shineum/mailer-lite/internal/email"
)

const separator = "========================================\n"

// Mailer prints the envelope and raw message to a writer.
type Mailer struct {
	mu     sync.Mutex
	writer io.Writer
}

// New creates a Mailer that writes to os.Stdout.
func New() *Mailer {
	return &Mailer{writer: os.Stdout}
}

// NewWithWriter creates a Mailer that writes to w.
func NewWithWriter(w io.Writer) *Mailer {
	return &Mailer{writer: w}
}

// SendMail writes msg in a readable format. Write errors are returned.
func (m *Mailer) SendMail(_ context.Context, msg *email.Message) error {
	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "Envelope-From: %s\n", msg.From)
	fmt.Fprintf(&b, "Envelope-To: %s\n", email.FormatRecipients(msg))
	fmt.Fprintf(&b, "Size: %s\n", formatSize(len(msg.Body)))
	b.WriteString(separator)
	b.Write(msg.Body)
	if len(msg.Body) > 0 && msg.Body[len(msg.Body)-1] != '\n' {
		b.WriteByte('\n')
	}
	b.WriteString(separator)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := io.WriteString(m.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (m *Mailer) Name() string {
	return "stdout"
}

func (m *Mailer) String() string {
	return "stdout mailer"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

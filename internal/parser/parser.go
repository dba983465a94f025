// Package parser derives an SMTP envelope from a raw RFC 5322 message and
// performs the header edits needed before submission.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/shineum/mailer-lite/internal/email"
)

var (
	// ErrNoSender is returned when the message has no usable From header.
	ErrNoSender = errors.New("message has no From address")
	// ErrNoRecipients is returned when To, Cc and Bcc are all empty.
	ErrNoRecipients = errors.New("message has no recipients")
)

// Envelope reads the headers of raw and returns a Message whose sender is
// the From address and whose recipients are the To, Cc and Bcc addresses,
// in that order and without duplicates. The Bcc header is removed from
// the returned body; everything else is passed through byte for byte.
func Envelope(raw []byte) (*email.Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	from, err := parseSender(msg.Header.Get("From"))
	if err != nil {
		return nil, err
	}

	var recipients []string
	seen := make(map[string]struct{})
	for _, field := range []string{"To", "Cc", "Bcc"} {
		for _, addr := range parseAddressList(msg.Header.Get(field)) {
			key := strings.ToLower(addr)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			recipients = append(recipients, addr)
		}
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	return &email.Message{
		From: from,
		To:   recipients,
		Body: StripHeader(raw, "Bcc"),
	}, nil
}

func parseSender(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrNoSender
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoSender, err)
	}
	return addr.Address, nil
}

// parseAddressList splits a comma-separated address list into individual addresses.
func parseAddressList(raw string) []string {
	if raw == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		// Fall back to simple comma split if RFC 5322 parsing fails
		parts := strings.Split(raw, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, addr.Address)
	}
	return result
}

// StripHeader returns a copy of raw without any header field called name,
// including its folded continuation lines. Matching is case-insensitive.
// The body is not inspected.
func StripHeader(raw []byte, name string) []byte {
	header, body := splitHeader(raw)

	out := make([]byte, 0, len(raw))
	skipping := false
	for len(header) > 0 {
		line := header
		if i := bytes.IndexByte(header, '\n'); i >= 0 {
			line = header[:i+1]
		}
		header = header[len(line):]

		if line[0] == ' ' || line[0] == '\t' {
			if !skipping {
				out = append(out, line...)
			}
			continue
		}

		skipping = fieldName(line) != "" && strings.EqualFold(fieldName(line), name)
		if !skipping {
			out = append(out, line...)
		}
	}
	return append(out, body...)
}

// EnsureMessageID returns raw unchanged if it carries a Message-ID header,
// and otherwise prepends one of the form <uuid@domain>.
func EnsureMessageID(raw []byte, domain string) []byte {
	header, _ := splitHeader(raw)
	for _, line := range bytes.SplitAfter(header, []byte("\n")) {
		if strings.EqualFold(fieldName(line), "Message-ID") {
			return raw
		}
	}

	if domain == "" {
		domain = "localhost"
	}
	id := fmt.Sprintf("Message-ID: <%s@%s>\r\n", uuid.NewString(), domain)

	out := make([]byte, 0, len(id)+len(raw))
	out = append(out, id...)
	return append(out, raw...)
}

// splitHeader splits raw after the last header line. body starts with the
// blank separator line, or is empty when raw has no body.
func splitHeader(raw []byte) (header, body []byte) {
	end := -1
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		end = i + 2
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 && (end < 0 || i+1 < end) {
		end = i + 1
	}
	if end < 0 {
		return raw, nil
	}
	return raw[:end], raw[end:]
}

func fieldName(line []byte) string {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return ""
	}
	return strings.TrimSpace(string(line[:colon]))
}

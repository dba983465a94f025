// Package email defines the message value handed to every delivery provider.
package email

import "strings"

// Message is a fully composed email ready for delivery.
//
// From and To form the SMTP envelope and may differ from the From/To/Cc
// headers inside Body. Body holds the raw RFC 5322 message, MIME parts
// included. Providers only read a Message; they never modify it.
type Message struct {
	From string
	To   []string
	Body []byte
}

// FormatRecipients joins the envelope recipients of msg with ", " in their
// original order. It is meant for log output only.
func FormatRecipients(msg *Message) string {
	if msg == nil {
		return ""
	}
	return strings.Join(msg.To, ", ")
}

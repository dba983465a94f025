// Package secret provides a string wrapper that keeps credentials out of
// logs, debug output and serialized data.
package secret

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Redacted is printed in place of a secret value.
const Redacted = "[REDACTED]"

// Secret holds a sensitive string such as a password or client secret.
// Every formatting path (fmt verbs, slog, JSON, text marshaling) prints
// Redacted. The raw value is only available through Expose.
//
// The value sits behind a pointer so that printing a struct holding a
// Secret in an unexported field, which fmt walks by reflection without
// calling Format, shows an address and not the credential. Copies of a
// Secret share the pointer and compare equal; two calls to New with the
// same string do not.
type Secret struct {
	value *string
}

// New wraps s.
func New(s string) Secret {
	return Secret{value: &s}
}

// Expose returns the raw secret value.
func (s Secret) Expose() string {
	if s.value == nil {
		return ""
	}
	return *s.value
}

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool {
	return s.Expose() == ""
}

// String implements fmt.Stringer.
func (s Secret) String() string {
	return Redacted
}

// GoString implements fmt.GoStringer.
func (s Secret) GoString() string {
	return "secret.Secret(" + Redacted + ")"
}

// Format implements fmt.Formatter so that no verb, %x included, can print
// the underlying bytes.
func (s Secret) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v':
		if f.Flag('#') {
			fmt.Fprint(f, s.GoString())
			return
		}
		fmt.Fprint(f, Redacted)
	case 'q':
		fmt.Fprintf(f, "%q", Redacted)
	default:
		fmt.Fprint(f, Redacted)
	}
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(Redacted)
}

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(Redacted)
}

// MarshalText implements encoding.TextMarshaler.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(Redacted), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It lets YAML config
// files and flag parsers populate a Secret directly.
func (s *Secret) UnmarshalText(text []byte) error {
	v := string(text)
	s.value = &v
	return nil
}

package smtp

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

var (
	_ pflag.Value = (*CertPolicy)(nil)
	_ pflag.Value = (*Security)(nil)
)

// CertPolicy controls validation of the server certificate.
//
// AllowInvalidCerts accepts self-signed, expired and mismatched
// certificates. It is meant for local test servers and must never be used
// against production hosts.
type CertPolicy int

const (
	// DenyInvalidCerts rejects certificates that fail verification. It is
	// the zero value.
	DenyInvalidCerts CertPolicy = iota
	// AllowInvalidCerts skips certificate verification.
	AllowInvalidCerts
)

// ParseCertPolicy accepts "deny" or "allow", case-insensitively.
func ParseCertPolicy(s string) (CertPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deny", "":
		return DenyInvalidCerts, nil
	case "allow":
		return AllowInvalidCerts, nil
	default:
		return DenyInvalidCerts, fmt.Errorf("invalid certificate policy %q (want allow or deny)", s)
	}
}

func (p CertPolicy) String() string {
	if p == AllowInvalidCerts {
		return "allow"
	}
	return "deny"
}

// Set implements pflag.Value.
func (p *CertPolicy) Set(s string) error {
	v, err := ParseCertPolicy(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Type implements pflag.Value.
func (p *CertPolicy) Type() string {
	return "allow|deny"
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *CertPolicy) UnmarshalText(text []byte) error {
	return p.Set(string(text))
}

// Security selects how the connection is secured. Plaintext SMTP is not
// supported.
type Security int

const (
	// SecurityAuto uses implicit TLS on port 465 and STARTTLS elsewhere.
	SecurityAuto Security = iota
	// SecurityImplicitTLS starts TLS before the SMTP greeting.
	SecurityImplicitTLS
	// SecurityStartTLS upgrades a plain connection with STARTTLS.
	SecurityStartTLS
)

// ParseSecurity accepts "auto", "tls" (or "implicit") and "starttls".
func ParseSecurity(s string) (Security, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "":
		return SecurityAuto, nil
	case "tls", "implicit":
		return SecurityImplicitTLS, nil
	case "starttls":
		return SecurityStartTLS, nil
	default:
		return SecurityAuto, fmt.Errorf("invalid SMTP security mode %q (want auto, tls or starttls)", s)
	}
}

func (s Security) String() string {
	switch s {
	case SecurityImplicitTLS:
		return "tls"
	case SecurityStartTLS:
		return "starttls"
	default:
		return "auto"
	}
}

// Set implements pflag.Value.
func (s *Security) Set(v string) error {
	parsed, err := ParseSecurity(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Type implements pflag.Value.
func (s *Security) Type() string {
	return "auto|tls|starttls"
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Security) UnmarshalText(text []byte) error {
	return s.Set(string(text))
}

// resolve picks the concrete mode for port.
func (s Security) resolve(port int) Security {
	if s != SecurityAuto {
		return s
	}
	if port == 465 {
		return SecurityImplicitTLS
	}
	return SecurityStartTLS
}

package relay

import (
	"crypto/subtle"
	"errors"

	"github.com/shineum/mailer-lite/internal/secret"
)

var errInvalidCredentials = errors.New("authentication failed")

// Authenticator checks SMTP AUTH credentials against the configured pair.
type Authenticator struct {
	username string
	password secret.Secret
}

// NewAuthenticator creates an Authenticator with the given credentials.
// If either is empty, authentication is disabled.
func NewAuthenticator(username string, password secret.Secret) *Authenticator {
	return &Authenticator{
		username: username,
		password: password,
	}
}

// Enabled returns true if authentication credentials are configured.
func (a *Authenticator) Enabled() bool {
	return a.username != "" && !a.password.IsZero()
}

// Verify compares username and password in constant time.
func (a *Authenticator) Verify(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username))
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password.Expose()))
	if userOK&passOK != 1 {
		return errInvalidCredentials
	}
	return nil
}

package smtp

import "errors"

var (
	// ErrConnectFailed covers dialing, TLS negotiation, the greeting and
	// authentication.
	ErrConnectFailed = errors.New("could not connect to SMTP host")
	// ErrSendFailed covers the MAIL, RCPT and DATA transaction.
	ErrSendFailed = errors.New("could not send SMTP mail")
	// ErrNoAuthMechanism is returned when credentials are configured but
	// the server offers neither PLAIN nor LOGIN.
	ErrNoAuthMechanism = errors.New("server offers no supported AUTH mechanism")
)

// Error describes a failed send. Kind is ErrConnectFailed or ErrSendFailed.
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

package graph

import (
	"errors"
	"fmt"
)

// Token acquisition failures, returned by New.
var (
	ErrTokenRequestFailed       = errors.New("failed sending OAuth2 client credentials token request to Microsoft identity platform")
	ErrTokenResponseUnreadable  = errors.New("failed receiving OAuth2 client credentials token response from Microsoft identity platform")
	ErrTokenResponseUnparseable = errors.New("failed parsing OAuth2 client credentials token response from Microsoft identity platform")
)

// Mail submission failures, returned by SendMail.
var (
	ErrSendRequestFailed          = errors.New("failed sending MIME mail request to Microsoft Graph API")
	ErrSendRejected               = errors.New("Microsoft Graph API rejected MIME mail")
	ErrSendResponseBodyUnreadable = errors.New("failed reading Microsoft Graph API response body")
)

// Error describes a failed token acquisition or send. Kind is one of the
// Err* sentinels above and matches with errors.Is; Err is the underlying
// cause, if any.
type Error struct {
	Kind error

	// StatusCode and Body are set when the failure came with an HTTP
	// response. Body may be truncated.
	StatusCode int
	Body       string

	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Package provider defines the interfaces for email delivery backends.
package provider

import (
	"context"
	"fmt"
	"reflect"

	"github.com/shineum/mailer-lite/internal/email"
)

// Mailer is the statically typed form of a delivery backend. E is the
// backend's concrete error type, so generic code bound by Mailer[E] can
// inspect failures without type assertions. E is usually a pointer type;
// any other type works as long as its zero value means success.
//
// Implementations must be safe for concurrent use, and String must not
// reveal credentials.
type Mailer[E error] interface {
	fmt.Stringer

	// SendMail delivers msg. A zero E means success.
	SendMail(ctx context.Context, msg *email.Message) E

	// Name returns a short identifier such as "msgraph" or "smtp".
	Name() string
}

// Provider is the dynamically typed form of a delivery backend. It lets
// different backends share one variable, slice or field.
// Each provider handles the actual sending of messages to the target
// service (e.g., Microsoft Graph, an SMTP relay, AWS SES).
type Provider interface {
	fmt.Stringer

	// Send delivers an email message through this provider.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, msg *email.Message) error

	// Name returns the human-readable name of this provider.
	Name() string
}

// Erase adapts a statically typed Mailer to Provider. Send delegates to
// SendMail; the concrete error is returned unchanged as an error, so its
// message and errors.Is/errors.As chain survive.
func Erase[E error](m Mailer[E]) Provider {
	return erased[E]{m: m}
}

type erased[E error] struct {
	m Mailer[E]
}

func (e erased[E]) Send(ctx context.Context, msg *email.Message) error {
	err := e.m.SendMail(ctx, msg)
	// A typed nil pointer must not become a non-nil error interface.
	// reflect handles E types that are not comparable with ==.
	if reflect.ValueOf(&err).Elem().IsZero() {
		return nil
	}
	return err
}

func (e erased[E]) Name() string {
	return e.m.Name()
}

func (e erased[E]) String() string {
	return e.m.String()
}

// Unwrap returns the underlying statically typed mailer.
func (e erased[E]) Unwrap() Mailer[E] {
	return e.m
}

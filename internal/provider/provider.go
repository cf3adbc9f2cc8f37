// Package provider defines the delivery interface and the error taxonomy
// callers use to decide what to tell the end user.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/email"
)

// Sender delivers a single message synchronously.
type Sender interface {
	// Send submits msg and returns the provider's identifiers on success.
	Send(ctx context.Context, msg *email.Message) (*Result, error)

	// Name returns the human-readable name of this provider.
	Name() string
}

// Result identifies an accepted submission.
type Result struct {
	MessageID  string
	EnvelopeID string
	RequestID  string
}

// Failure kinds. Every error returned by a Sender matches exactly one of
// these with errors.Is.
var (
	ErrConfiguration       = errors.New("delivery: configuration error")
	ErrSuppressedRecipient = errors.New("delivery: recipient suppressed")
	ErrRateLimited         = errors.New("delivery: rate limited")
	ErrRejected            = errors.New("delivery: rejected by provider")
	ErrUnreachable         = errors.New("delivery: provider unreachable")
)

// Error is the detailed failure returned by a Sender. Message is the
// localized text meant for the end user; the other fields are for logs.
type Error struct {
	Kind       error
	Message    string
	StatusCode int
	Body       string
	RequestID  string
	Recipients []string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " [opc-request-id %s]", e.RequestID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	for _, err := range []error{e.Kind, e.Err} {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// UserMessage returns the localized message carried by err, or fallback
// when err is not a *Error.
func UserMessage(err error, fallback string) string {
	var perr *Error
	if errors.As(err, &perr) && perr.Message != "" {
		return perr.Message
	}
	return fallback
}

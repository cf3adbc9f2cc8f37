// Package email defines the outbound message model handed to the delivery transport.
package email

import (
	"errors"
	"strings"
)

// ErrNoRecipients is returned when a message has no to, cc or bcc address.
var ErrNoRecipients = errors.New("email: message has no recipients")

// ErrEmptyBody is returned when a message carries no raw MIME content.
var ErrEmptyBody = errors.New("email: message has no raw content")

// Address is a mailbox with an optional display name.
type Address struct {
	Email string
	Name  string
}

// String renders the address the way a header would carry it.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return a.Name + " <" + a.Email + ">"
}

// Message is a fully formed outbound message. Raw holds the RFC 5322 bytes
// that are submitted verbatim; the remaining fields describe the envelope.
//
// A Message is not modified after construction; the transport only reads it.
type Message struct {
	From    Address
	To      []Address
	Cc      []Address
	Bcc     []Address
	Subject string
	Raw     []byte
}

// Recipients returns the envelope recipients in to, cc, bcc order.
// Empty lists contribute nothing.
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	for _, list := range [][]Address{m.To, m.Cc, m.Bcc} {
		for _, a := range list {
			if addr := strings.TrimSpace(a.Email); addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}

// ToAddresses returns the plain addresses of the To list.
func (m *Message) ToAddresses() []string {
	out := make([]string, 0, len(m.To))
	for _, a := range m.To {
		out = append(out, a.Email)
	}
	return out
}

// Validate checks the minimum a message needs before it can be submitted.
func (m *Message) Validate() error {
	if len(m.Raw) == 0 {
		return ErrEmptyBody
	}
	if len(m.Recipients()) == 0 {
		return ErrNoRecipients
	}
	return nil
}

// NormalizeAddress lower-cases and trims an address so that lookups keyed
// by recipient agree regardless of how the address was written.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

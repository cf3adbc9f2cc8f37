// Package parser turns RFC 5322 bytes received over SMTP into an outbound message.
package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/email"
)

// ErrMalformed is returned when the message header block cannot be read.
var ErrMalformed = errors.New("parser: malformed message")

// Summary describes the MIME structure of a parsed message.
type Summary struct {
	InlineParts int
	Attachments []string
}

// Result is the outcome of Parse.
type Result struct {
	Message *email.Message
	Summary Summary
}

// Parse reads the header fields relevant to delivery and walks the MIME tree.
// The returned message carries the raw bytes with any Bcc header removed.
func Parse(raw []byte) (*Result, error) {
	r, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !undecodable(err) {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var (
		h       mail.Header
		summary Summary
	)
	if r != nil {
		defer r.Close()
		h = r.Header
		if summary, err = walk(r); err != nil {
			return nil, err
		}
	} else {
		th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		h = mail.Header{Header: message.Header{Header: th}}
	}

	msg := &email.Message{}
	if subject, err := h.Subject(); err == nil {
		msg.Subject = subject
	}
	if from := addressList(h, "From"); len(from) > 0 {
		msg.From = from[0]
	}
	msg.To = addressList(h, "To")
	msg.Cc = addressList(h, "Cc")
	msg.Bcc = addressList(h, "Bcc")

	stripped, err := stripBcc(raw)
	if err != nil {
		return nil, err
	}
	msg.Raw = stripped

	return &Result{Message: msg, Summary: summary}, nil
}

// walk counts inline parts and attachment names. A part in a charset or
// transfer encoding go-message cannot decode is still counted when the
// reader hands it back; otherwise the walk stops there.
func walk(r *mail.Reader) (Summary, error) {
	var summary Summary
	for {
		part, err := r.NextPart()
		if err == io.EOF {
			return summary, nil
		}
		if err != nil && !undecodable(err) {
			return Summary{}, fmt.Errorf("read mime part: %w", err)
		}
		if part == nil {
			return summary, nil
		}
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			summary.InlineParts++
		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			if strings.TrimSpace(name) == "" {
				name = "attachment"
			}
			summary.Attachments = append(summary.Attachments, name)
		}
		if _, err := io.Copy(io.Discard, part.Body); err != nil {
			return Summary{}, fmt.Errorf("read mime part body: %w", err)
		}
	}
}

// undecodable reports a charset or transfer encoding go-message does not
// know. Raw is relayed unchanged, so these are not parse failures.
func undecodable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

// ApplyEnvelope makes the SMTP envelope authoritative for delivery.
// Each envelope recipient keeps its header role (to or cc) when it has one
// and otherwise becomes bcc. Header recipients missing from the envelope are
// dropped. The envelope sender is used when the header has no From.
func ApplyEnvelope(msg *email.Message, from string, rcpts []string) {
	roles := make(map[string]email.Address)
	kinds := make(map[string]string)
	for _, a := range msg.To {
		key := email.NormalizeAddress(a.Email)
		roles[key], kinds[key] = a, "to"
	}
	for _, a := range msg.Cc {
		key := email.NormalizeAddress(a.Email)
		if _, ok := kinds[key]; !ok {
			roles[key], kinds[key] = a, "cc"
		}
	}

	var to, cc, bcc []email.Address
	seen := make(map[string]bool, len(rcpts))
	for _, rcpt := range rcpts {
		key := email.NormalizeAddress(rcpt)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		switch kinds[key] {
		case "to":
			to = append(to, roles[key])
		case "cc":
			cc = append(cc, roles[key])
		default:
			bcc = append(bcc, email.Address{Email: strings.TrimSpace(rcpt)})
		}
	}
	msg.To, msg.Cc, msg.Bcc = to, cc, bcc

	if msg.From.Email == "" {
		msg.From = email.Address{Email: strings.TrimSpace(from)}
	}
}

func addressList(h mail.Header, key string) []email.Address {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		return nil
	}
	out := make([]email.Address, 0, len(list))
	for _, a := range list {
		out = append(out, email.Address{Email: a.Address, Name: a.Name})
	}
	return out
}

// stripBcc rewrites the header block without Bcc and keeps the body bytes as is.
func stripBcc(raw []byte) ([]byte, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !h.Has("Bcc") {
		return raw, nil
	}
	h.Del("Bcc")

	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, h); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if _, err := io.Copy(&buf, br); err != nil {
		return nil, fmt.Errorf("copy body: %w", err)
	}
	return buf.Bytes(), nil
}

package email

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// Draft is the input to Compose for callers that do not carry MIME bytes.
type Draft struct {
	From     Address
	To       []Address
	Cc       []Address
	Bcc      []Address
	Subject  string
	TextBody string
	HTMLBody string
	Date     time.Time
}

// Compose renders a draft into a Message with RFC 5322 raw content.
// Bcc recipients are kept on the envelope but never written to the headers.
func Compose(d Draft) (*Message, error) {
	if d.TextBody == "" && d.HTMLBody == "" {
		return nil, ErrEmptyBody
	}

	var h mail.Header
	date := d.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	h.SetAddressList("From", toMailAddresses([]Address{d.From}))
	if len(d.To) > 0 {
		h.SetAddressList("To", toMailAddresses(d.To))
	}
	if len(d.Cc) > 0 {
		h.SetAddressList("Cc", toMailAddresses(d.Cc))
	}
	h.SetSubject(d.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}
	if d.TextBody != "" {
		if err := writeInlinePart(tw, "text/plain", d.TextBody); err != nil {
			return nil, err
		}
	}
	if d.HTMLBody != "" {
		if err := writeInlinePart(tw, "text/html", d.HTMLBody); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}

	msg := &Message{
		From:    d.From,
		To:      d.To,
		Cc:      d.Cc,
		Bcc:     d.Bcc,
		Subject: d.Subject,
		Raw:     buf.Bytes(),
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func writeInlinePart(tw *mail.InlineWriter, mediaType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(mediaType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("create %s part: %w", mediaType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("write %s part: %w", mediaType, err)
	}
	return w.Close()
}

func toMailAddresses(list []Address) []*mail.Address {
	out := make([]*mail.Address, 0, len(list))
	for _, a := range list {
		out = append(out, &mail.Address{Name: a.Name, Address: a.Email})
	}
	return out
}

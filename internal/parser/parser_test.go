package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/email"
)

func TestParsePlainTextEmail(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: LittleSkin <noreply@littleskin.cn>",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Content-Type: text/plain",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n"))

	res, err := Parse(raw)
	require.NoError(t, err)

	msg := res.Message
	assert.Equal(t, email.Address{Email: "noreply@littleskin.cn", Name: "LittleSkin"}, msg.From)
	assert.Equal(t, []email.Address{{Email: "recipient@example.com"}}, msg.To)
	assert.Equal(t, "Test Subject", msg.Subject)
	assert.Equal(t, raw, msg.Raw)
	assert.Equal(t, 1, res.Summary.InlineParts)
	assert.Empty(t, res.Summary.Attachments)
}

func TestParseNestedMultipartWithAttachment(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: alice@example.com, bob@example.com",
		"Cc: carol@example.com",
		"Subject: Nested Multipart",
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: multipart/alternative; boundary=inner",
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"Plain text part",
		"--inner",
		"Content-Type: text/html",
		"",
		"<p>HTML part</p>",
		"--inner--",
		"--outer",
		"Content-Type: application/pdf; name=\"report.pdf\"",
		"Content-Disposition: attachment; filename=\"report.pdf\"",
		"Content-Transfer-Encoding: base64",
		"",
		"SGVsbG8gV29ybGQ=",
		"--outer--",
	}, "\r\n"))

	res, err := Parse(raw)
	require.NoError(t, err)

	assert.Len(t, res.Message.To, 2)
	assert.Equal(t, []email.Address{{Email: "carol@example.com"}}, res.Message.Cc)
	assert.Equal(t, 2, res.Summary.InlineParts)
	assert.Equal(t, []string{"report.pdf"}, res.Summary.Attachments)
}

func TestParseUnknownCharset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		raw         []string
		inlineParts int
		attachments []string
	}{
		{
			name: "single part with unknown charset",
			raw: []string{
				"From: sender@example.com",
				"To: alice@example.com",
				"Subject: Odd charset",
				"Content-Type: text/plain; charset=x-made-up",
				"",
				"Body bytes",
			},
			inlineParts: 1,
		},
		{
			name: "multipart with unknown charsets",
			raw: []string{
				"From: sender@example.com",
				"To: alice@example.com",
				"Subject: Odd parts",
				"Content-Type: multipart/mixed; boundary=b",
				"",
				"--b",
				"Content-Type: text/plain; charset=x-made-up",
				"",
				"Plain text part",
				"--b",
				"Content-Type: text/csv; charset=x-other",
				"Content-Disposition: attachment; filename=\"blob.csv\"",
				"",
				"opaque",
				"--b--",
			},
			inlineParts: 1,
			attachments: []string{"blob.csv"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			raw := []byte(strings.Join(tt.raw, "\r\n"))
			res, err := Parse(raw)
			require.NoError(t, err)
			assert.Equal(t, raw, res.Message.Raw)
			assert.Equal(t, []email.Address{{Email: "alice@example.com"}}, res.Message.To)
			assert.Equal(t, tt.inlineParts, res.Summary.InlineParts)
			assert.Equal(t, tt.attachments, res.Summary.Attachments)
		})
	}
}

func TestParseUnknownTransferEncoding(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: alice@example.com",
		"Bcc: hidden@example.com",
		"Subject: Odd encoding",
		"Content-Type: text/plain",
		"Content-Transfer-Encoding: x-made-up",
		"",
		"Body bytes",
	}, "\r\n"))

	res, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "Odd encoding", res.Message.Subject)
	assert.Equal(t, []email.Address{{Email: "alice@example.com"}}, res.Message.To)
	assert.Equal(t, []email.Address{{Email: "hidden@example.com"}}, res.Message.Bcc)
	assert.NotContains(t, string(res.Message.Raw), "Bcc:")
	assert.Contains(t, string(res.Message.Raw), "Body bytes")
}

func TestParseStripsBccHeader(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: alice@example.com",
		"Bcc: secret@example.com",
		"Subject: Hidden",
		"Content-Type: text/plain",
		"",
		"Hello everyone",
	}, "\r\n"))

	res, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, []email.Address{{Email: "secret@example.com"}}, res.Message.Bcc)
	assert.NotContains(t, string(res.Message.Raw), "secret@example.com")
	assert.Contains(t, string(res.Message.Raw), "Subject: Hidden")
	assert.True(t, strings.HasSuffix(string(res.Message.Raw), "Hello everyone"))
}

func TestParseEmptyAddressFields(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"Subject: No To",
		"",
		"Body",
	}, "\r\n"))

	res, err := Parse(raw)
	require.NoError(t, err)

	assert.Nil(t, res.Message.To)
	assert.Nil(t, res.Message.Cc)
	assert.Nil(t, res.Message.Bcc)
}

func TestApplyEnvelope(t *testing.T) {
	t.Parallel()

	msg := &email.Message{
		To: []email.Address{{Email: "Alice@Example.com", Name: "Alice"}, {Email: "list@example.com"}},
		Cc: []email.Address{{Email: "carol@example.com"}},
	}

	ApplyEnvelope(msg, "bounce@littleskin.cn", []string{
		"alice@example.com",
		"carol@example.com",
		"hidden@example.com",
		"HIDDEN@example.com",
	})

	assert.Equal(t, []email.Address{{Email: "Alice@Example.com", Name: "Alice"}}, msg.To)
	assert.Equal(t, []email.Address{{Email: "carol@example.com"}}, msg.Cc)
	assert.Equal(t, []email.Address{{Email: "hidden@example.com"}}, msg.Bcc)
	assert.Equal(t, "bounce@littleskin.cn", msg.From.Email)
}

func TestApplyEnvelopeKeepsHeaderFrom(t *testing.T) {
	t.Parallel()

	msg := &email.Message{From: email.Address{Email: "noreply@littleskin.cn"}}
	ApplyEnvelope(msg, "bounce@littleskin.cn", []string{"a@example.com"})

	assert.Equal(t, "noreply@littleskin.cn", msg.From.Email)
	assert.Equal(t, []string{"a@example.com"}, msg.Recipients())
}

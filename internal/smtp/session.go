package smtp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/gate"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/locale"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/parser"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/provider"
)

var errMalformedMessage = &smtp.SMTPError{
	Code:         554,
	EnhancedCode: smtp.EnhancedCode{5, 6, 0},
	Message:      "Malformed message",
}

type backend struct {
	auth        *Authenticator
	sender      provider.Sender
	checker     Checker
	tr          *locale.Translator
	logger      *slog.Logger
	sendTimeout time.Duration
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	logger := b.logger
	if c != nil && c.Conn() != nil {
		logger = logger.With("remote", c.Conn().RemoteAddr().String())
	}
	return &session{backend: b, logger: logger}, nil
}

// session holds one SMTP transaction. go-smtp calls its methods from a
// single goroutine per connection.
type session struct {
	backend       *backend
	logger        *slog.Logger
	from          string
	to            []string
	authenticated bool
}

var _ smtp.AuthSession = (*session)(nil)

func (s *session) AuthMechanisms() []string {
	return s.backend.auth.mechanisms()
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	return s.backend.auth.server(mech, func(string) {
		s.authenticated = true
	})
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.auth.Enabled() && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = from
	s.to = nil
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.auth.Enabled() && !s.authenticated {
		return smtp.ErrAuthRequired
	}

	if s.backend.checker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), gateTimeout)
		d := s.backend.checker.Check(ctx, to, gate.Allow())
		cancel()
		if !d.Allowed {
			return &smtp.SMTPError{
				Code:         550,
				EnhancedCode: smtp.EnhancedCode{5, 1, 1},
				Message:      d.Reason,
			}
		}
	}

	s.to = append(s.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	parsed, err := parser.Parse(raw)
	if err != nil {
		s.logger.Warn("failed to parse message", "from", s.from, "error", err)
		return errMalformedMessage
	}
	msg := parsed.Message
	parser.ApplyEnvelope(msg, s.from, s.to)

	ctx, cancel := context.WithTimeout(context.Background(), s.backend.sendTimeout)
	defer cancel()

	res, err := s.backend.sender.Send(ctx, msg)
	if err != nil {
		return s.reply(err)
	}

	s.logger.Debug("message relayed",
		"provider", s.backend.sender.Name(),
		"message_id", res.MessageID,
		"recipients", len(msg.Recipients()),
		"attachments", len(parsed.Summary.Attachments),
	)
	return nil
}

// reply maps a delivery failure onto an SMTP status. The transport has
// already logged the failure.
func (s *session) reply(err error) *smtp.SMTPError {
	tr := s.backend.tr
	switch {
	case errors.Is(err, provider.ErrSuppressedRecipient):
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      provider.UserMessage(err, tr.Text(locale.GateSuppressed)),
		}
	case errors.Is(err, provider.ErrRateLimited):
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 7, 0},
			Message:      provider.UserMessage(err, tr.Text(locale.RateLimited)),
		}
	case errors.Is(err, provider.ErrUnreachable):
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 4, 1},
			Message:      provider.UserMessage(err, tr.Text(locale.Unreachable)),
		}
	case errors.Is(err, provider.ErrRejected):
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 0, 0},
			Message:      provider.UserMessage(err, tr.Text(locale.Rejected, "", 0)),
		}
	default:
		s.logger.Error("provider send failed", "provider", s.backend.sender.Name(), "error", err)
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      provider.UserMessage(err, tr.Text(locale.Configuration)),
		}
	}
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

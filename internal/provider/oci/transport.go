// Package oci implements a provider.Sender for the OCI Email Delivery
// submitRawEmail API.
package oci

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/net/http/httpguts"

	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/email"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/httpclient"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/locale"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/provider"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/signer"
)

const (
	// SubmitPath is the request path of submitRawEmail, without the leading slash.
	SubmitPath = "20220926/actions/submitRawEmail"

	contentType     = "message/rfc822"
	maxResponseBody = 1 << 20
	maxDetailRunes  = 200
)

// RequestSigner produces the Authorization header value.
type RequestSigner interface {
	Sign(method, path string, headers map[string]string) (string, error)
}

// SuppressionStore is the shared suppression state.
type SuppressionStore interface {
	Put(ctx context.Context, recipient string) error
	Get(ctx context.Context, recipient string) (bool, error)
}

// Config describes the tenancy-level settings of the transport.
type Config struct {
	// Endpoint is the regional API host, e.g.
	// https://email.ap-tokyo-1.oci.oraclecloud.com. A bare host means https.
	Endpoint      string
	CompartmentID string
	// DefaultSender is used when a message has no From address.
	DefaultSender string
	// SiteName is shown to users in the suppressed-recipient message.
	SiteName string
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient sets the executor used for the API call.
func WithHTTPClient(c httpclient.HTTPDoer) Option {
	return func(t *Transport) { t.client = c }
}

// WithLogger sets the delivery logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// WithTranslator sets the language of user-facing error messages.
func WithTranslator(tr *locale.Translator) Option {
	return func(t *Transport) { t.tr = tr }
}

// WithClock replaces time.Now for the date header.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) { t.now = now }
}

// WithPreflight controls whether recipients already in the suppression
// store are refused before calling the API. Enabled by default.
func WithPreflight(enabled bool) Option {
	return func(t *Transport) { t.preflight = enabled }
}

// Transport submits raw messages to OCI Email Delivery. It is safe for
// concurrent use; each Send is one synchronous call.
type Transport struct {
	endpoint      *url.URL
	compartmentID string
	defaultSender string
	siteName      string

	signer    RequestSigner
	store     SuppressionStore
	client    httpclient.HTTPDoer
	tr        *locale.Translator
	logger    *slog.Logger
	now       func() time.Time
	preflight bool
}

// New returns a Transport. Missing endpoint or compartment is a
// configuration error.
func New(cfg Config, s RequestSigner, store SuppressionStore, opts ...Option) (*Transport, error) {
	if s == nil || store == nil {
		return nil, &provider.Error{Kind: provider.ErrConfiguration, Err: errors.New("signer and suppression store are required")}
	}
	if cfg.CompartmentID == "" {
		return nil, &provider.Error{Kind: provider.ErrConfiguration, Err: errors.New("compartment id is required")}
	}
	endpoint, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, &provider.Error{Kind: provider.ErrConfiguration, Err: err}
	}

	t := &Transport{
		endpoint:      endpoint,
		compartmentID: cfg.CompartmentID,
		defaultSender: cfg.DefaultSender,
		siteName:      cfg.SiteName,
		signer:        s,
		store:         store,
		now:           time.Now,
		preflight:     true,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.client == nil {
		t.client = httpclient.NewRetryClient(nil, httpclient.DefaultPolicy, t.logger)
	}
	if t.tr == nil {
		t.tr = locale.New("")
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.siteName == "" {
		t.siteName = "LittleSkin"
	}
	return t, nil
}

func parseEndpoint(raw string) (*url.URL, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return nil, errors.New("endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint %q has no host", raw)
	}
	return u, nil
}

// Name returns the provider name.
func (t *Transport) Name() string {
	return "oci-email-delivery"
}

// Send submits msg and maps the outcome onto the provider error kinds.
func (t *Transport) Send(ctx context.Context, msg *email.Message) (*provider.Result, error) {
	recipients := msg.Recipients()

	if err := msg.Validate(); err != nil {
		return nil, t.fail(ctx, &provider.Error{
			Kind:       provider.ErrConfiguration,
			Message:    t.tr.Text(locale.Configuration),
			Recipients: recipients,
			Err:        err,
		})
	}

	sender := msg.From.Email
	if sender == "" {
		sender = t.defaultSender
	}
	if sender == "" {
		return nil, t.fail(ctx, &provider.Error{
			Kind:       provider.ErrConfiguration,
			Message:    t.tr.Text(locale.Configuration),
			Recipients: recipients,
			Err:        errors.New("no sender address"),
		})
	}

	if t.preflight {
		if err := t.checkSuppressed(ctx, recipients); err != nil {
			return nil, err
		}
	}

	req, err := t.newRequest(ctx, msg.Raw, sender, recipients)
	if err != nil {
		return nil, t.fail(ctx, &provider.Error{
			Kind:       provider.ErrConfiguration,
			Message:    t.tr.Text(locale.Configuration),
			Recipients: recipients,
			Err:        err,
		})
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, t.fail(ctx, &provider.Error{
			Kind:       provider.ErrUnreachable,
			Message:    t.tr.Text(locale.Unreachable),
			Recipients: recipients,
			Err:        err,
		})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	requestID := resp.Header.Get("opc-request-id")
	if err != nil {
		return nil, t.fail(ctx, &provider.Error{
			Kind:       provider.ErrUnreachable,
			Message:    t.tr.Text(locale.Unreachable),
			StatusCode: resp.StatusCode,
			RequestID:  requestID,
			Recipients: recipients,
			Err:        fmt.Errorf("read response: %w", err),
		})
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out submitResponse
		if err := json.Unmarshal(body, &out); err == nil {
			return t.accepted(ctx, msg, recipients, requestID, out)
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, t.fail(ctx, &provider.Error{
			Kind:       provider.ErrRateLimited,
			Message:    t.tr.Text(locale.RateLimited),
			StatusCode: resp.StatusCode,
			Body:       string(body),
			RequestID:  requestID,
			Recipients: recipients,
		})
	}

	return nil, t.fail(ctx, &provider.Error{
		Kind:       provider.ErrRejected,
		Message:    t.tr.Text(locale.Rejected, detail(body), resp.StatusCode),
		StatusCode: resp.StatusCode,
		Body:       string(body),
		RequestID:  requestID,
		Recipients: recipients,
	})
}

func (t *Transport) checkSuppressed(ctx context.Context, recipients []string) error {
	for _, r := range recipients {
		suppressed, err := t.store.Get(ctx, r)
		if err != nil {
			t.logger.WarnContext(ctx, "suppression lookup failed, sending anyway",
				"recipient", r,
				"error", err,
			)
			continue
		}
		if suppressed {
			return t.fail(ctx, &provider.Error{
				Kind:       provider.ErrSuppressedRecipient,
				Message:    t.tr.Text(locale.ProviderSuppressed, t.siteName),
				Recipients: []string{r},
			})
		}
	}
	return nil
}

func (t *Transport) newRequest(ctx context.Context, raw []byte, sender string, recipients []string) (*http.Request, error) {
	headers := map[string]string{
		"content-length":   strconv.Itoa(len(raw)),
		"content-type":     contentType,
		"date":             t.now().UTC().Format(http.TimeFormat),
		"host":             t.endpoint.Host,
		"x-content-sha256": signer.BodyDigest(raw),
		"compartment-id":   t.compartmentID,
		"sender":           sender,
		"recipients":       strings.Join(recipients, ","),
	}
	for name, value := range headers {
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, fmt.Errorf("%s header contains invalid characters", name)
		}
	}

	auth, err := t.signer.Sign(http.MethodPost, SubmitPath, headers)
	if err != nil {
		return nil, err
	}

	u := *t.endpoint
	u.Path = strings.TrimRight(u.Path, "/") + "/" + SubmitPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Host = headers["host"]
	for name, value := range headers {
		if name == "host" || name == "content-length" {
			continue
		}
		req.Header.Set(name, value)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("opc-request-id", uuid.NewString())
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (t *Transport) accepted(ctx context.Context, msg *email.Message, recipients []string, requestID string, out submitResponse) (*provider.Result, error) {
	if len(out.SuppressedRecipients) > 0 {
		suppressed := make([]string, 0, len(out.SuppressedRecipients))
		for _, r := range out.SuppressedRecipients {
			if r.Email == "" {
				continue
			}
			suppressed = append(suppressed, r.Email)
			if err := t.store.Put(ctx, r.Email); err != nil {
				t.logger.ErrorContext(ctx, "failed to record suppressed recipient",
					"recipient", r.Email,
					"error", err,
				)
			}
		}
		return nil, t.fail(ctx, &provider.Error{
			Kind:       provider.ErrSuppressedRecipient,
			Message:    t.tr.Text(locale.ProviderSuppressed, t.siteName),
			StatusCode: http.StatusOK,
			RequestID:  requestID,
			Recipients: suppressed,
		})
	}

	for _, to := range msg.ToAddresses() {
		t.logger.InfoContext(ctx, "email sent",
			"recipient", to,
			"message_id", out.MessageID,
			"envelope_id", out.EnvelopeID,
			"opc_request_id", requestID,
		)
	}
	return &provider.Result{
		MessageID:  out.MessageID,
		EnvelopeID: out.EnvelopeID,
		RequestID:  requestID,
	}, nil
}

// fail logs a delivery failure once and returns it.
func (t *Transport) fail(ctx context.Context, e *provider.Error) error {
	attrs := []any{
		"kind", e.Kind.Error(),
		"recipients", e.Recipients,
		"status", e.StatusCode,
		"opc_request_id", e.RequestID,
	}
	if e.Body != "" {
		attrs = append(attrs, "body", e.Body)
		if oe := decodeErrorResponse([]byte(e.Body)); oe.Code != "" {
			attrs = append(attrs, "error_code", oe.Code, "error_message", oe.Message)
		}
	}
	if e.Err != nil {
		attrs = append(attrs, "error", e.Err)
	}

	switch {
	case errors.Is(e, provider.ErrSuppressedRecipient), errors.Is(e, provider.ErrRateLimited):
		t.logger.WarnContext(ctx, "email not sent", attrs...)
	default:
		t.logger.ErrorContext(ctx, "email not sent", attrs...)
	}
	return e
}

var _ provider.Sender = (*Transport)(nil)

// detail shortens a response body for the user-facing message. The full
// body stays on the error for logging.
func detail(body []byte) string {
	s := strings.Join(strings.Fields(string(body)), " ")
	if utf8.RuneCountInString(s) <= maxDetailRunes {
		return s
	}
	return string([]rune(s)[:maxDetailRunes]) + "..."
}

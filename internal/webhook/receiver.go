// Package webhook receives OCI Notifications deliveries for the email
// delivery topic: the subscription handshake and bounce events.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/httpclient"
)

const (
	// MessageTypeHeader carries the notification kind.
	MessageTypeHeader       = "X-OCI-NS-MessageType"
	subscriptionConfirmType = "SubscriptionConfirmation"
	actionBounce            = "bounce"
	maxBodyBytes            = 1 << 20
)

// Suppressor records a bounced recipient.
type Suppressor interface {
	Put(ctx context.Context, recipient string) error
}

type notification struct {
	ConfirmationURL string `json:"ConfirmationURL"`
	Data            struct {
		Action    string `json:"action"`
		Recipient string `json:"recipient"`
		MessageID string `json:"messageId"`
	} `json:"data"`
}

// Receiver handles one notification per request. Authentication is done
// by the router before the receiver runs.
type Receiver struct {
	store  Suppressor
	client httpclient.HTTPDoer
	logger *slog.Logger
}

// NewReceiver returns a Receiver. client performs the confirmation GET;
// nil means http.DefaultClient.
func NewReceiver(store Suppressor, client httpclient.HTTPDoer, logger *slog.Logger) *Receiver {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{store: store, client: client, logger: logger}
}

func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		rc.logger.WarnContext(ctx, "failed to read notification body", "error", err)
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	var n notification
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &n); err != nil {
			rc.logger.WarnContext(ctx, "malformed notification body", "error", err)
		}
	}

	if r.Header.Get(MessageTypeHeader) == subscriptionConfirmType {
		confirmURL := n.ConfirmationURL
		if confirmURL == "" {
			confirmURL = r.URL.Query().Get("ConfirmationURL")
		}
		rc.confirm(ctx, confirmURL)
		w.WriteHeader(http.StatusOK)
		return
	}

	if n.Data.Action != actionBounce {
		rc.logger.DebugContext(ctx, "notification ignored", "action", n.Data.Action)
		w.WriteHeader(http.StatusOK)
		return
	}

	rc.logger.InfoContext(ctx, "mail bounced",
		"recipient", n.Data.Recipient,
		"message_id", n.Data.MessageID,
	)
	if strings.TrimSpace(n.Data.Recipient) == "" {
		rc.logger.WarnContext(ctx, "bounce without recipient", "message_id", n.Data.MessageID)
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := rc.store.Put(ctx, n.Data.Recipient); err != nil {
		rc.logger.ErrorContext(ctx, "failed to record bounce",
			"recipient", n.Data.Recipient,
			"error", err,
		)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// confirm issues the single GET that activates the subscription. Failures
// are logged; the notification service repeats the handshake on its own.
func (rc *Receiver) confirm(ctx context.Context, confirmURL string) {
	if confirmURL == "" {
		rc.logger.WarnContext(ctx, "subscription confirmation without ConfirmationURL")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, confirmURL, nil)
	if err != nil {
		rc.logger.WarnContext(ctx, "invalid ConfirmationURL", "error", err)
		return
	}
	resp, err := rc.client.Do(req)
	if err != nil {
		rc.logger.ErrorContext(ctx, "subscription confirmation failed", "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	rc.logger.InfoContext(ctx, "subscription confirmed", "status", resp.StatusCode)
}

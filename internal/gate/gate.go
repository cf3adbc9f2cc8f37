// Package gate decides, before a message is built, whether a recipient may
// be mailed at all.
package gate

import (
	"context"
	"log/slog"

	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/locale"
)

// Decision is the outcome of a pre-send check. The zero value rejects
// without a reason; use Allow for the permissive default.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow returns a permissive decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Reject returns a refusal with a user-facing reason.
func Reject(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Lookup reports whether a recipient is suppressed.
type Lookup interface {
	Get(ctx context.Context, recipient string) (bool, error)
}

// Gate narrows an upstream decision using the suppression store. It never
// turns a rejection into an approval.
type Gate struct {
	store  Lookup
	tr     *locale.Translator
	logger *slog.Logger
}

// New returns a Gate.
func New(store Lookup, tr *locale.Translator, logger *slog.Logger) *Gate {
	if tr == nil {
		tr = locale.New("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: store, tr: tr, logger: logger}
}

// Check returns a rejection if recipient is suppressed, otherwise upstream
// untouched. A failing store lookup leaves upstream in place.
func (g *Gate) Check(ctx context.Context, recipient string, upstream Decision) Decision {
	if !upstream.Allowed {
		return upstream
	}

	suppressed, err := g.store.Get(ctx, recipient)
	if err != nil {
		g.logger.WarnContext(ctx, "suppression lookup failed",
			"recipient", recipient,
			"error", err,
		)
		return upstream
	}
	if !suppressed {
		return upstream
	}

	g.logger.InfoContext(ctx, "email suppressed", "recipient", recipient)
	return Reject(g.tr.Text(locale.GateSuppressed))
}

// Package logger builds the relay's slog handler chain: JSON to stdout,
// optional Sentry fan-out, and attributes pulled from the request context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
	"github.com/go-chi/chi/v5/middleware"
)

// DeliveryChannel names the logger used by the send path and the webhook.
const DeliveryChannel = "oci-email-delivery"

// ContextExtractor extracts a slog attribute from context.
type ContextExtractor func(ctx context.Context) (slog.Attr, bool)

// RequestID adds the chi request id when one is present.
func RequestID(ctx context.Context) (slog.Attr, bool) {
	if id := middleware.GetReqID(ctx); id != "" {
		return slog.String("request_id", id), true
	}
	return slog.Attr{}, false
}

// SentryConfig holds Sentry integration settings. An empty DSN disables it.
type SentryConfig struct {
	DSN         string
	Environment string
	// MinLevel selects which records become Sentry logs: Warn or Error.
	MinLevel slog.Level
}

// Options configures New.
type Options struct {
	Level  slog.Level
	Output io.Writer
	Sentry SentryConfig
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything
// else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a JSON logger. With a Sentry DSN, records also go to Sentry:
// errors become issues, and warnings or errors are stored as logs.
// A failed Sentry init falls back to stdout only.
func New(opts Options, extractors ...ContextExtractor) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	var handler slog.Handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: opts.Level})

	if opts.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         opts.Sentry.DSN,
			Environment: opts.Sentry.Environment,
			EnableLogs:  true,
		}); err != nil {
			slog.New(handler).Error("failed to initialize Sentry", slog.String("error", err.Error()))
		} else {
			logLevel := []slog.Level{slog.LevelWarn, slog.LevelError}
			if opts.Sentry.MinLevel >= slog.LevelError {
				logLevel = []slog.Level{slog.LevelError}
			}
			sentryHandler := sentryslog.Option{
				EventLevel: []slog.Level{slog.LevelError},
				LogLevel:   logLevel,
			}.NewSentryHandler(context.Background())
			handler = newMultiHandler(handler, sentryHandler)
		}
	}

	return slog.New(NewLogHandlerDecorator(handler, extractors...))
}

// Nope returns a logger that discards everything.
func Nope() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Channel returns a child logger tagged with name that drops records below
// min. The parent's own level still applies.
func Channel(parent *slog.Logger, name string, min slog.Level) *slog.Logger {
	return slog.New(&levelFilter{next: parent.Handler(), min: min}).With("channel", name)
}

// DeliveryLevel is the minimum level of the delivery channel: info when
// verbose logging is on, warn otherwise.
func DeliveryLevel(verbose bool) slog.Level {
	if verbose {
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

type levelFilter struct {
	next slog.Handler
	min  slog.Level
}

func (h *levelFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min && h.next.Enabled(ctx, level)
}

func (h *levelFilter) Handle(ctx context.Context, rec slog.Record) error {
	return h.next.Handle(ctx, rec)
}

func (h *levelFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelFilter{next: h.next.WithAttrs(attrs), min: h.min}
}

func (h *levelFilter) WithGroup(name string) slog.Handler {
	return &levelFilter{next: h.next.WithGroup(name), min: h.min}
}

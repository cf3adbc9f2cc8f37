package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Path is where the notification subscription delivers.
const Path = "/oci-email/notifications/webhook"

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig holds the HTTP Basic credentials expected from the
// notification service.
type RouterConfig struct {
	Username string
	Password string
	Realm    string
}

// NewRouter mounts the receiver behind Basic auth and a health endpoint.
func NewRouter(cfg RouterConfig, rc *Receiver, health Pinger, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	realm := cfg.Realm
	if realm == "" {
		realm = "oci-email"
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := health.Ping(ctx); err != nil {
			logger.ErrorContext(ctx, "health check failed", "error", err)
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	r.With(middleware.BasicAuth(realm, map[string]string{cfg.Username: cfg.Password})).
		Post(Path, rc.ServeHTTP)

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"remote_addr", r.RemoteAddr,
				"duration", time.Since(start),
			)
		})
	}
}

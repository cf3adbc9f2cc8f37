package smtp

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/gate"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/locale"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/provider"
)

// shutdownTimeout is the maximum time to wait for in-flight sessions
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// defaultSendTimeout bounds one provider submission including retries.
const defaultSendTimeout = 2 * time.Minute

// gateTimeout bounds one gate lookup made from RCPT.
const gateTimeout = 5 * time.Second

// Checker is the pre-send gate consulted for every RCPT.
type Checker interface {
	Check(ctx context.Context, recipient string, upstream gate.Decision) gate.Decision
}

// ServerConfig holds the configuration for an SMTP server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":2525").
	ListenAddr string

	// Domain is the server hostname used in the greeting and EHLO.
	Domain string

	// TLSConfig enables STARTTLS. If nil, STARTTLS is not advertised.
	TLSConfig *tls.Config

	// AuthUsername and AuthPassword configure SMTP AUTH PLAIN.
	// If both are empty, authentication is not required.
	AuthUsername string
	AuthPassword string

	MaxMessageBytes int64
	MaxRecipients   int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration

	// SendTimeout bounds each provider call made from DATA.
	SendTimeout time.Duration
}

// Server accepts SMTP connections and delivers each message through a
// provider.Sender.
type Server struct {
	smtp   *smtp.Server
	auth   *Authenticator
	logger *slog.Logger
}

// New creates a new SMTP Server. checker may be nil to accept every
// recipient; tr localizes replies for errors that carry no message.
func New(cfg ServerConfig, sender provider.Sender, checker Checker, tr *locale.Translator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if tr == nil {
		tr = locale.New("")
	}
	if cfg.Domain == "" {
		cfg.Domain = "localhost"
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	be := &backend{
		auth:        NewAuthenticator(cfg.AuthUsername, cfg.AuthPassword),
		sender:      sender,
		checker:     checker,
		tr:          tr,
		logger:      logger,
		sendTimeout: cfg.SendTimeout,
	}

	server := smtp.NewServer(be)
	server.Addr = cfg.ListenAddr
	server.Domain = cfg.Domain
	server.TLSConfig = cfg.TLSConfig
	server.AllowInsecureAuth = cfg.TLSConfig == nil
	server.ReadTimeout = cfg.ReadTimeout
	server.WriteTimeout = cfg.WriteTimeout
	server.MaxRecipients = cfg.MaxRecipients
	server.MaxMessageBytes = cfg.MaxMessageBytes
	server.ErrorLog = slog.NewLogLogger(logger.Handler(), slog.LevelWarn)

	return &Server{smtp: server, auth: be.auth, logger: logger}
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.smtp.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then stops
// accepting and waits up to 30 seconds for in-flight sessions.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("SMTP server listening",
		"addr", ln.Addr().String(),
		"auth_enabled", s.auth.Enabled(),
		"tls_enabled", s.smtp.TLSConfig != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.smtp.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down SMTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.smtp.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("shutdown timeout reached, forcing close", "error", err)
		_ = s.smtp.Close()
	}
	<-errCh
	return nil
}

// Close stops the server immediately.
func (s *Server) Close() error {
	return s.smtp.Close()
}

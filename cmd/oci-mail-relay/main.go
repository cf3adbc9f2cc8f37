// Package main is the entry point for the OCI Email Delivery relay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/cache"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/config"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/email"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/gate"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/httpclient"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/keysource"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/locale"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/logger"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/provider/oci"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/signer"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/smtp"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/suppression"
	smtptls "github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/tls"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/webhook"
)

const (
	redisConnectAttempts = 5
	redisConnectInterval = 500 * time.Millisecond
	httpShutdownTimeout  = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	envPath := flag.String("env", ".env", "path to a dotenv file loaded before configuration (optional)")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load env file", "path", *envPath, "error", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level: logger.ParseLevel(cfg.Logging.Level),
		Sentry: logger.SentryConfig{
			DSN:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			MinLevel:    slog.LevelWarn,
		},
	}, logger.RequestID)
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	err = run(ctx, cfg, log)
	cancel()
	if err != nil {
		log.Error("relay stopped with error", "error", err)
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
	log.Info("oci-mail-relay stopped")
	sentry.Flush(2 * time.Second)
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	delivery := logger.Channel(log, logger.DeliveryChannel, logger.DeliveryLevel(cfg.OCI.VerboseLog))

	sg, err := newSigner(ctx, cfg)
	if err != nil {
		return err
	}

	backend, err := openSuppressionCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	store := suppression.New(backend, suppression.WithTTL(cfg.Suppression.TTL))
	tr := locale.New(cfg.Locale)

	client := httpclient.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, httpclient.Policy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		MaxDelay:   cfg.Retry.MaxDelay,
	}, delivery)

	transport, err := oci.New(oci.Config{
		Endpoint:      cfg.OCI.Endpoint,
		CompartmentID: cfg.OCI.CompartmentID,
		DefaultSender: cfg.Mail.FromAddress,
		SiteName:      cfg.SiteName,
	}, sg, store,
		oci.WithHTTPClient(client),
		oci.WithLogger(delivery),
		oci.WithTranslator(tr),
	)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	tlsConfig, generated, err := smtptls.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.SMTP.Domain)
	if err != nil {
		return fmt.Errorf("setup TLS: %w", err)
	}
	tlsMode := "file"
	if generated {
		tlsMode = "self-signed"
	}

	smtpServer := smtp.New(smtp.ServerConfig{
		ListenAddr:      cfg.SMTP.Listen,
		Domain:          cfg.SMTP.Domain,
		TLSConfig:       tlsConfig,
		AuthUsername:    cfg.SMTP.Username,
		AuthPassword:    cfg.SMTP.Password,
		MaxMessageBytes: cfg.SMTP.MaxMessageSize,
		MaxRecipients:   cfg.SMTP.MaxRecipients,
		ReadTimeout:     cfg.SMTP.ReadTimeout,
		WriteTimeout:    cfg.SMTP.WriteTimeout,
	}, transport, gate.New(store, tr, delivery), tr, log)

	log.Info("starting oci-mail-relay",
		"smtp_listen", cfg.SMTP.Listen,
		"webhook_listen", cfg.Webhook.Listen,
		"endpoint", cfg.OCI.Endpoint,
		"mail_from", email.Address{Email: cfg.Mail.FromAddress, Name: cfg.Mail.FromName}.String(),
		"auth_enabled", cfg.AuthEnabled(),
		"tls_mode", tlsMode,
		"shared_suppressions", cfg.Redis.URL != "",
		"locale", tr.Tag().String(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return smtpServer.ListenAndServe(gctx)
	})

	if cfg.WebhookEnabled() {
		receiver := webhook.NewReceiver(store, &http.Client{Timeout: 10 * time.Second}, delivery)
		httpServer := &http.Server{
			Addr: cfg.Webhook.Listen,
			Handler: webhook.NewRouter(webhook.RouterConfig{
				Username: cfg.Webhook.Username,
				Password: cfg.Webhook.Password,
				Realm:    cfg.Webhook.Realm,
			}, receiver, store, log),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			log.Info("webhook server listening", "addr", httpServer.Addr, "path", webhook.Path)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("webhook server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func newSigner(ctx context.Context, cfg *config.Config) (*signer.Signer, error) {
	loader, err := keysource.New(ctx, keysource.S3Config{
		Endpoint:        cfg.KeyS3.Endpoint,
		Region:          cfg.KeyS3.Region,
		AccessKeyID:     cfg.KeyS3.AccessKeyID,
		SecretAccessKey: cfg.KeyS3.SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create key loader: %w", err)
	}

	pemBytes, err := loader.Load(ctx, cfg.OCI.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	key, err := signer.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, err
	}

	return signer.New(signer.Credentials{
		TenancyID:   cfg.OCI.TenancyID,
		UserID:      cfg.OCI.UserID,
		Fingerprint: cfg.OCI.KeyFingerprint,
		PrivateKey:  key,
	})
}

// openSuppressionCache uses Redis when REDIS_URL is set so several relay
// instances share suppressions; otherwise entries live in process memory.
func openSuppressionCache(ctx context.Context, cfg *config.Config) (cache.Cache[bool], error) {
	if cfg.Redis.URL == "" {
		return cache.NewMemory[bool](cache.WithDefaultTTL(cfg.Suppression.TTL)), nil
	}

	client, err := cache.OpenRedis(ctx, cfg.Redis.URL, redisConnectAttempts, redisConnectInterval)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return cache.NewRedis[bool](client, nil,
		cache.WithRedisDefaultTTL(cfg.Suppression.TTL),
		cache.WithOwnedClient(),
	), nil
}

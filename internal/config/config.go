// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the OCI mail relay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// DefaultPrivateKeyFile is used when OCI_EMAIL_PRIVATE_KEY_FILE is unset.
const DefaultPrivateKeyFile = "oci-email-private-key.pem"

// Config holds the complete application configuration.
type Config struct {
	OCI         OCIConfig         `yaml:"oci"`
	Mail        MailConfig        `yaml:"mail"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	SMTP        SMTPConfig        `yaml:"smtp"`
	TLS         TLSConfig         `yaml:"tls"`
	Redis       RedisConfig       `yaml:"redis"`
	Retry       RetryConfig       `yaml:"retry"`
	Suppression SuppressionConfig `yaml:"suppression"`
	KeyS3       KeyS3Config       `yaml:"key_s3"`
	Logging     LoggingConfig     `yaml:"logging"`
	Sentry      SentryConfig      `yaml:"sentry"`
	Locale      string            `yaml:"locale"`
	SiteName    string            `yaml:"site_name" validate:"required"`
}

// OCIConfig holds the Email Delivery endpoint and API key identity.
type OCIConfig struct {
	Endpoint       string `yaml:"endpoint" validate:"required"`
	TenancyID      string `yaml:"tenancy_id" validate:"required"`
	CompartmentID  string `yaml:"compartment_id" validate:"required"`
	UserID         string `yaml:"user_id" validate:"required"`
	KeyFingerprint string `yaml:"key_fingerprint" validate:"required"`
	PrivateKeyFile string `yaml:"private_key_file" validate:"required"`
	VerboseLog     bool   `yaml:"verbose_log"`
}

// MailConfig holds the default envelope sender.
type MailConfig struct {
	FromAddress string `yaml:"from_address" validate:"omitempty,email"`
	FromName    string `yaml:"from_name"`
}

// WebhookConfig holds the notification endpoint settings. An empty Listen
// disables the HTTP server.
type WebhookConfig struct {
	Listen   string `yaml:"listen"`
	Username string `yaml:"username" validate:"required_with=Listen"`
	Password string `yaml:"password" validate:"required_with=Listen"`
	Realm    string `yaml:"realm"`
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Listen         string        `yaml:"listen" validate:"required"`
	Domain         string        `yaml:"domain"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	MaxMessageSize int64         `yaml:"max_message_size" validate:"gt=0"`
	MaxRecipients  int           `yaml:"max_recipients" validate:"gte=0"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" validate:"required_with=KeyFile"`
	KeyFile  string `yaml:"key_file" validate:"required_with=CertFile"`
}

// RedisConfig selects the shared suppression backend. Empty URL keeps
// suppressions in process memory.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// RetryConfig bounds retries of transient provider failures.
type RetryConfig struct {
	MaxRetries uint64        `yaml:"max_retries" validate:"lte=10"`
	BaseDelay  time.Duration `yaml:"base_delay" validate:"gt=0"`
	MaxDelay   time.Duration `yaml:"max_delay" validate:"gtefield=BaseDelay"`
}

// SuppressionConfig holds the suppression marker lifetime.
type SuppressionConfig struct {
	TTL time.Duration `yaml:"ttl" validate:"gt=0"`
}

// KeyS3Config describes the S3-compatible endpoint used for s3:// key
// locations.
type KeyS3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
}

// SentryConfig holds error reporting settings. Empty DSN disables Sentry.
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// Validate checks required settings. The returned error wraps
// validator.ValidationErrors.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// WebhookEnabled reports whether the notification endpoint should be served.
func (c *Config) WebhookEnabled() bool {
	return c.Webhook.Listen != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.OCI.PrivateKeyFile = DefaultPrivateKeyFile
	c.Webhook.Listen = ":8080"
	c.Webhook.Realm = "oci-email"
	c.SMTP.Listen = ":2525"
	c.SMTP.Domain = "localhost"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.SMTP.MaxRecipients = 100
	c.SMTP.ReadTimeout = 60 * time.Second
	c.SMTP.WriteTimeout = 60 * time.Second
	c.Retry.MaxRetries = 3
	c.Retry.BaseDelay = time.Second
	c.Retry.MaxDelay = 30 * time.Second
	c.Suppression.TTL = 24 * time.Hour
	c.Locale = "zh-Hans"
	c.SiteName = "LittleSkin"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	envString(&c.OCI.Endpoint, "OCI_EMAIL_ENDPOINT")
	envString(&c.OCI.TenancyID, "OCI_EMAIL_TENANCY_ID")
	envString(&c.OCI.CompartmentID, "OCI_EMAIL_COMPARTMENT_ID")
	envString(&c.OCI.UserID, "OCI_EMAIL_USER_ID")
	envString(&c.OCI.KeyFingerprint, "OCI_EMAIL_KEY_FINGERPRINT")
	envString(&c.OCI.PrivateKeyFile, "OCI_EMAIL_PRIVATE_KEY_FILE")
	if v := os.Getenv("OCI_EMAIL_VERBOSE_LOG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.OCI.VerboseLog = b
		}
	}

	envString(&c.Mail.FromAddress, "MAIL_FROM_ADDRESS")
	envString(&c.Mail.FromName, "MAIL_FROM_NAME")

	envString(&c.Webhook.Listen, "HTTP_LISTEN")
	envString(&c.Webhook.Username, "OCI_EMAIL_NOTIFICATION_AUTH_USERNAME")
	envString(&c.Webhook.Password, "OCI_EMAIL_NOTIFICATION_AUTH_PASSWORD")
	envString(&c.Webhook.Realm, "OCI_EMAIL_NOTIFICATION_AUTH_REALM")

	envString(&c.SMTP.Listen, "SMTP_LISTEN")
	envString(&c.SMTP.Domain, "SMTP_DOMAIN")
	envString(&c.SMTP.Username, "SMTP_USERNAME")
	envString(&c.SMTP.Password, "SMTP_PASSWORD")
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.SMTP.MaxMessageSize = size
		}
	}
	if v := os.Getenv("SMTP_MAX_RECIPIENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SMTP.MaxRecipients = n
		}
	}
	envDuration(&c.SMTP.ReadTimeout, "SMTP_READ_TIMEOUT")
	envDuration(&c.SMTP.WriteTimeout, "SMTP_WRITE_TIMEOUT")

	envString(&c.TLS.CertFile, "TLS_CERT_FILE")
	envString(&c.TLS.KeyFile, "TLS_KEY_FILE")

	envString(&c.Redis.URL, "REDIS_URL")

	if v := os.Getenv("RETRY_MAX_RETRIES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Retry.MaxRetries = n
		}
	}
	envDuration(&c.Retry.BaseDelay, "RETRY_BASE_DELAY")
	envDuration(&c.Retry.MaxDelay, "RETRY_MAX_DELAY")

	envDuration(&c.Suppression.TTL, "SUPPRESSION_TTL")

	envString(&c.KeyS3.Endpoint, "KEY_S3_ENDPOINT")
	envString(&c.KeyS3.Region, "KEY_S3_REGION")
	envString(&c.KeyS3.AccessKeyID, "KEY_S3_ACCESS_KEY_ID")
	envString(&c.KeyS3.SecretAccessKey, "KEY_S3_SECRET_ACCESS_KEY")

	envString(&c.Locale, "LOCALE")
	envString(&c.SiteName, "SITE_NAME")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	envString(&c.Sentry.DSN, "SENTRY_DSN")
	envString(&c.Sentry.Environment, "SENTRY_ENVIRONMENT")
}

func envString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

// envDuration ignores values time.ParseDuration rejects.
func envDuration(dst *time.Duration, name string) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

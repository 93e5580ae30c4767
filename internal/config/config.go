// Package config defines the global configuration structure for the Vitrine
// payments backend. Configuration is loaded once at process startup and is
// immutable thereafter, following 12-Factor principles: values come from the
// OS environment, optionally seeded from a .env file in development.
//
// Missing required values or invalid formats cause startup to fail fast.
// Webhook signing secrets are deliberately NOT required at load time: an
// unset secret makes signature verification fail closed for that provider's
// endpoint without taking the process down.
package config

import (
	"time"

	"vitrine/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"vitrine-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	PagBank  PagBankConfig
	Stripe   StripeConfig
	Email    EmailConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// PagBankConfig holds the PagBank API credentials and webhook signing secret.
// An unset WebhookSecret makes signature verification fail closed.
type PagBankConfig struct {
	APIBaseURL    string       `envconfig:"PAGBANK_API_URL" default:"https://api.pagseguro.com" validate:"url"`
	Token         SecretString `envconfig:"PAGBANK_TOKEN"`
	WebhookSecret SecretString `envconfig:"PAGBANK_WEBHOOK_SECRET"`
}

// StripeConfig holds the Stripe API credentials and webhook signing secret.
type StripeConfig struct {
	SecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY"`
	WebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
}

// EmailConfig holds the transactional email provider credentials.
type EmailConfig struct {
	APIBaseURL  string       `envconfig:"EMAIL_API_URL" default:"https://api.resend.com" validate:"url"`
	APIKey      SecretString `envconfig:"RESEND_API_KEY"`
	FromAddress string       `envconfig:"EMAIL_FROM_ADDRESS" default:"pedidos@vitrine.app"`
	FromName    string       `envconfig:"EMAIL_FROM_NAME" default:"Vitrine"`
}

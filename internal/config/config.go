// Package config defines and loads the Flightdeck platform configuration.
//
// Configuration is populated once during process initialization and never
// modified. Sub-components receive only the specific config subsets they
// require.
package config

import (
	"time"

	"flightdeck/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the Flightdeck platform.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"flightdeck-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain configurations
	Server   ServerConfig
	Database DatabaseConfig
	Billing  BillingConfig
	Email    EmailConfig
	Security SecurityConfig
	Trial    TrialConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// DashboardURL is used to build server-controlled redirect URLs for
	// Stripe checkout and portal sessions (no trailing slash).
	DashboardURL    string        `envconfig:"DASHBOARD_URL" validate:"required,url"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// BillingConfig holds Stripe payment integration credentials and price IDs.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`

	// Stripe Price IDs for the paid tiers. These feed the plan catalog so
	// that webhook payloads can be resolved back to a tier.
	ProPriceID        string `envconfig:"STRIPE_PRICE_PRO" default:"price_pro_monthly"`
	EnterprisePriceID string `envconfig:"STRIPE_PRICE_ENTERPRISE" default:"price_enterprise_monthly"`

	// Timeout for calls to the Stripe API.
	APITimeout time.Duration `envconfig:"STRIPE_API_TIMEOUT" default:"20s"`
}

// EmailConfig holds email delivery configuration.
type EmailConfig struct {
	FromAddress string `envconfig:"EMAIL_FROM_ADDRESS" default:"billing@flightdeck.io"`
	FromName    string `envconfig:"EMAIL_FROM_NAME" default:"Flightdeck Billing"`
	// Enabled is an emergency kill switch for outbound email.
	Enabled   bool   `envconfig:"EMAIL_ENABLED" default:"true"`
	AWSRegion string `envconfig:"AWS_REGION" default:"us-east-1"`
}

// SecurityConfig holds admin access configuration.
type SecurityConfig struct {
	// AdminAPIKey gates the /v1/admin/* endpoints (metrics snapshot).
	AdminAPIKey SecretString `envconfig:"ADMIN_API_KEY" validate:"required"`
}

// TrialConfig holds trial lifecycle parameters.
type TrialConfig struct {
	DefaultDays int `envconfig:"TRIAL_DEFAULT_DAYS" default:"7" validate:"min=1,max=90"`
	// SweepSchedule is the cron expression for the trial-expiry sweep
	// binary. The sweep is idempotent, so overlapping runs are safe.
	SweepSchedule string `envconfig:"TRIAL_SWEEP_SCHEDULE" default:"0 * * * *"`
}

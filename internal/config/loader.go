// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs in billing-period math.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix is intentionally empty: variables are named explicitly in the
// envconfig struct tags.
const envPrefix = ""

// LoadConfig loads, populates, and validates the platform configuration.
// It returns a diagnostic error when a required variable is missing or a
// value fails validation; the process should exit in that case.
func LoadConfig() (*Config, error) {
	// Billing-period arithmetic (month boundaries, trial windows) assumes
	// UTC everywhere. Enforce it process-wide before anything reads a clock.
	time.Local = time.UTC

	// .env is a local development convenience; absence is not an error.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("processing environment config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateConfig runs struct-tag validation and a few cross-field checks
// that tags cannot express.
func validateConfig(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Billing.ProPriceID == cfg.Billing.EnterprisePriceID {
		return fmt.Errorf("invalid configuration: STRIPE_PRICE_PRO and STRIPE_PRICE_ENTERPRISE must differ")
	}

	return nil
}

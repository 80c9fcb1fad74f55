package billing

import (
	"errors"
	"strings"
	"time"
)

// DefaultTimeout bounds a Stripe call when StripeConfig.Timeout is unset.
const DefaultTimeout = 10 * time.Second

// StripeConfig contains configuration for the Stripe provider.
type StripeConfig struct {
	// APIKey is the Stripe secret key (sk_test_... or sk_live_...)
	APIKey string

	// WebhookSecret is the webhook signing secret (whsec_...)
	WebhookSecret string

	// Timeout is the HTTP timeout for a single Stripe API call.
	// Failed calls are not retried.
	Timeout time.Duration

	// BackendURL overrides the API host. Used by tests.
	BackendURL string
}

// Validate checks that required configuration is present.
func (c *StripeConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("stripe: API key is required")
	}
	if c.WebhookSecret == "" {
		return errors.New("stripe: webhook secret is required")
	}
	if c.Timeout < 0 {
		return errors.New("stripe: timeout must not be negative")
	}
	return nil
}

// IsTestMode returns true if using test mode API keys.
func (c *StripeConfig) IsTestMode() bool {
	return strings.HasPrefix(c.APIKey, "sk_test_")
}

func (c *StripeConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

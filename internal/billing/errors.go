package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAPIKey is returned when the Stripe API key is invalid or missing.
	ErrInvalidAPIKey = errors.New("billing: invalid or missing API key")

	// ErrInvalidWebhookSignature is returned when webhook signature verification fails.
	ErrInvalidWebhookSignature = errors.New("billing: invalid webhook signature")

	// ErrTimeout is returned when the provider does not answer in time.
	// Calls are not retried, so a timeout may still have created a session.
	ErrTimeout = errors.New("billing: provider timed out")

	// ErrNoLineItems is returned for a checkout without anything to pay for.
	ErrNoLineItems = errors.New("billing: checkout requires at least one line item")

	// ErrMalformedEvent is returned when a verified webhook cannot be decoded.
	ErrMalformedEvent = errors.New("billing: malformed webhook event")
)

// StripeError wraps a Stripe API error with additional context.
type StripeError struct {
	Message       string // Human-readable error message
	Code          string // Stripe error code (e.g., "card_declined")
	Type          string // Stripe error type (e.g., "invalid_request_error")
	StatusCode    int    // HTTP status code from Stripe
	RequestID     string // Stripe request ID for debugging
	OriginalError error
}

func (e *StripeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: %s (code: %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("stripe: %s", e.Message)
}

func (e *StripeError) Unwrap() error {
	return e.OriginalError
}

// IsTemporary returns true if the error is likely transient. The caller
// decides whether to try again; the provider itself never retries.
func (e *StripeError) IsTemporary() bool {
	return e.Code == "rate_limit" || e.Type == "api_connection_error" || e.StatusCode >= 500
}

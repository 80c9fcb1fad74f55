package billing

import (
	"context"
	"time"
)

// Provider is the payment processor behind hosted checkout.
// Implementations must be safe for concurrent use.
type Provider interface {
	// CreateCheckoutSession opens a hosted payment page for a cart.
	// The cart ID travels in the session metadata so the completion
	// webhook can find the cart again.
	CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error)

	// VerifyWebhookSignature checks the signature header of a webhook payload.
	VerifyWebhookSignature(payload []byte, signature string, secret string) error

	// ParseWebhookEvent verifies payload against the configured signing
	// secret and decodes it. Checkout session events carry the session.
	ParseWebhookEvent(payload []byte, signature string) (*WebhookEvent, error)
}

// Webhook event types the storefront reacts to.
const (
	EventCheckoutSessionCompleted             = "checkout.session.completed"
	EventCheckoutSessionAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutSessionExpired               = "checkout.session.expired"
)

// MetadataCartID is the metadata key linking a checkout session to its cart.
const MetadataCartID = "cart_id"

// CreateCheckoutSessionParams contains parameters for a hosted checkout.
type CreateCheckoutSessionParams struct {
	CartID        string
	Currency      string // ISO code, lower case
	CustomerEmail string // optional, prefills the payment page
	SuccessURL    string
	CancelURL     string
	LineItems     []LineItem

	// ExpiresAt ends the session early. Stripe accepts 30 minutes to 24
	// hours from creation; zero keeps its 24 hour default.
	ExpiresAt time.Time

	// IdempotencyKey makes repeated creates for the same cart state
	// return the same session.
	IdempotencyKey string
}

// LineItem is one priced row on the payment page.
type LineItem struct {
	Name            string
	Description     string
	UnitAmountCents int64
	Quantity        int64
}

// CheckoutSession is a hosted checkout as the provider reports it.
type CheckoutSession struct {
	ID            string
	URL           string
	CartID        string
	CustomerEmail string
	AmountTotal   int64
	Currency      string
	PaymentStatus string // "paid", "unpaid" or "no_payment_required"
	CreatedAt     time.Time
}

// Paid reports whether the customer has been charged, or owes nothing.
func (s *CheckoutSession) Paid() bool {
	return s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required"
}

// WebhookEvent is a verified webhook delivery.
type WebhookEvent struct {
	ID   string
	Type string

	// CheckoutSession is set for checkout.session.* events.
	CheckoutSession *CheckoutSession
}

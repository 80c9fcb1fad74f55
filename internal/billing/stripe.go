package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/brokkr/internal/telemetry"
)

// StripeProvider implements Provider using Stripe Checkout.
type StripeProvider struct {
	api    *client.API
	config StripeConfig
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider creates a Stripe billing provider. Every call is bounded
// by the configured timeout and network retries are disabled, so a
// checkout request fails fast instead of piling up behind Stripe.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.timeout()},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.BackendURL != "" {
		backendCfg.URL = stripe.String(cfg.BackendURL)
	}

	api := &client.API{}
	api.Init(cfg.APIKey, stripe.NewBackendsWithConfig(backendCfg))

	return &StripeProvider{api: api, config: cfg}, nil
}

// CreateCheckoutSession creates a payment-mode Checkout Session with inline
// prices. The cart ID is stored as both metadata and client reference.
func (s *StripeProvider) CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error) {
	if len(params.LineItems) == 0 {
		return nil, ErrNoLineItems
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.timeout())
	defer cancel()

	sp := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(params.SuccessURL),
		CancelURL:         stripe.String(params.CancelURL),
		ClientReferenceID: stripe.String(params.CartID),
	}
	sp.Context = ctx
	sp.AddMetadata(MetadataCartID, params.CartID)
	if params.CustomerEmail != "" {
		sp.CustomerEmail = stripe.String(params.CustomerEmail)
	}
	if !params.ExpiresAt.IsZero() {
		sp.ExpiresAt = stripe.Int64(params.ExpiresAt.Unix())
	}
	if params.IdempotencyKey != "" {
		sp.SetIdempotencyKey(params.IdempotencyKey)
	}

	for _, li := range params.LineItems {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(li.Name),
		}
		if li.Description != "" {
			product.Description = stripe.String(li.Description)
		}
		sp.LineItems = append(sp.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(params.Currency),
				UnitAmount:  stripe.Int64(li.UnitAmountCents),
				ProductData: product,
			},
			Quantity: stripe.Int64(li.Quantity),
		})
	}

	start := time.Now()
	cs, err := s.api.CheckoutSessions.New(sp)
	if telemetry.Business != nil {
		telemetry.Business.StripeAPILatency.WithLabelValues("checkout_session_create").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, convertStripeError(err)
	}
	return toCheckoutSession(cs), nil
}

// VerifyWebhookSignature verifies a Stripe-Signature header.
func (s *StripeProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	if err := webhook.ValidatePayload(payload, signature, secret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}
	return nil
}

// ParseWebhookEvent verifies and decodes a webhook delivery. Events sent
// with a different API version are still accepted; only the checkout
// session fields below are read.
func (s *StripeProvider) ParseWebhookEvent(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}

	switch out.Type {
	case EventCheckoutSessionCompleted, EventCheckoutSessionAsyncPaymentSucceeded, EventCheckoutSessionExpired:
		if event.Data == nil {
			return nil, ErrMalformedEvent
		}
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		out.CheckoutSession = toCheckoutSession(&cs)
	}
	return out, nil
}

func toCheckoutSession(cs *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:            cs.ID,
		URL:           cs.URL,
		CartID:        cs.Metadata[MetadataCartID],
		CustomerEmail: cs.CustomerEmail,
		AmountTotal:   cs.AmountTotal,
		Currency:      string(cs.Currency),
		PaymentStatus: string(cs.PaymentStatus),
	}
	if out.CartID == "" {
		out.CartID = cs.ClientReferenceID
	}
	if cs.CustomerDetails != nil && cs.CustomerDetails.Email != "" {
		out.CustomerEmail = cs.CustomerDetails.Email
	}
	if cs.Created > 0 {
		out.CreatedAt = time.Unix(cs.Created, 0).UTC()
	}
	return out
}

func convertStripeError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", ErrInvalidAPIKey, stripeErr.Msg)
		}
		return &StripeError{
			Message:       stripeErr.Msg,
			Code:          string(stripeErr.Code),
			Type:          string(stripeErr.Type),
			StatusCode:    stripeErr.HTTPStatusCode,
			RequestID:     stripeErr.RequestID,
			OriginalError: err,
		}
	}

	return &StripeError{Message: err.Error(), OriginalError: err}
}

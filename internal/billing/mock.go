package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockProvider is a billing provider for tests.
// Simulates hosted checkout without calling Stripe.
type MockProvider struct {
	// CreateCheckoutSessionFunc allows customizing checkout session creation
	CreateCheckoutSessionFunc func(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error)

	// VerifyWebhookSignatureFunc allows customizing webhook verification
	VerifyWebhookSignatureFunc func(payload []byte, signature string, secret string) error

	// ParseWebhookEventFunc allows customizing webhook decoding
	ParseWebhookEventFunc func(payload []byte, signature string) (*WebhookEvent, error)

	// Sessions stores created checkout sessions by ID
	Sessions map[string]*CheckoutSession

	// CallLog tracks method calls for test assertions
	CallLog []string

	mu sync.Mutex
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a new mock billing provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Sessions: make(map[string]*CheckoutSession),
		CallLog:  []string{},
	}
}

func (m *MockProvider) log(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, fmt.Sprintf(format, args...))
}

// Calls returns a copy of the call log.
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

// CreateCheckoutSession creates a mock unpaid checkout session.
func (m *MockProvider) CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error) {
	m.log("CreateCheckoutSession(%s, %d)", params.CartID, len(params.LineItems))

	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(ctx, params)
	}
	if len(params.LineItems) == 0 {
		return nil, ErrNoLineItems
	}

	var total int64
	for _, li := range params.LineItems {
		total += li.UnitAmountCents * li.Quantity
	}

	id := "cs_test_" + uuid.NewString()
	cs := &CheckoutSession{
		ID:            id,
		URL:           "https://checkout.stripe.test/c/pay/" + id,
		CartID:        params.CartID,
		CustomerEmail: params.CustomerEmail,
		AmountTotal:   total,
		Currency:      params.Currency,
		PaymentStatus: "unpaid",
		CreatedAt:     time.Now(),
	}

	m.mu.Lock()
	m.Sessions[id] = cs
	m.mu.Unlock()
	return cs, nil
}

// VerifyWebhookSignature accepts any non-empty signature by default.
func (m *MockProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	m.log("VerifyWebhookSignature(%d bytes)", len(payload))

	if m.VerifyWebhookSignatureFunc != nil {
		return m.VerifyWebhookSignatureFunc(payload, signature, secret)
	}
	if signature == "" {
		return ErrInvalidWebhookSignature
	}
	return nil
}

// mockEvent is the JSON shape ParseWebhookEvent decodes by default.
type mockEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Session *struct {
		ID            string `json:"id"`
		CartID        string `json:"cart_id"`
		CustomerEmail string `json:"customer_email"`
		AmountTotal   int64  `json:"amount_total"`
		Currency      string `json:"currency"`
		PaymentStatus string `json:"payment_status"`
	} `json:"session"`
}

// ParseWebhookEvent verifies the signature with VerifyWebhookSignature and
// decodes a simplified event body.
func (m *MockProvider) ParseWebhookEvent(payload []byte, signature string) (*WebhookEvent, error) {
	if m.ParseWebhookEventFunc != nil {
		m.log("ParseWebhookEvent(%d bytes)", len(payload))
		return m.ParseWebhookEventFunc(payload, signature)
	}
	if err := m.VerifyWebhookSignature(payload, signature, ""); err != nil {
		return nil, err
	}

	var ev mockEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	out := &WebhookEvent{ID: ev.ID, Type: ev.Type}
	if ev.Session != nil {
		out.CheckoutSession = &CheckoutSession{
			ID:            ev.Session.ID,
			CartID:        ev.Session.CartID,
			CustomerEmail: ev.Session.CustomerEmail,
			AmountTotal:   ev.Session.AmountTotal,
			Currency:      ev.Session.Currency,
			PaymentStatus: ev.Session.PaymentStatus,
		}
	}
	return out, nil
}

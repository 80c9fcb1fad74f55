package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/brokkr/internal/billing"
	"github.com/dukerupert/brokkr/internal/domain"
)

// mockOrderService implements domain.OrderService for testing
type mockOrderService struct {
	fulfillCheckoutFunc func(ctx context.Context, completion domain.CheckoutCompletion) (*domain.Order, error)
	releaseCheckoutFunc func(ctx context.Context, sessionID, cartID string) error
	calls               []domain.CheckoutCompletion
	released            []string
}

func (m *mockOrderService) FulfillCheckout(ctx context.Context, completion domain.CheckoutCompletion) (*domain.Order, error) {
	m.calls = append(m.calls, completion)
	if m.fulfillCheckoutFunc != nil {
		return m.fulfillCheckoutFunc(ctx, completion)
	}
	return &domain.Order{ID: "order-1", OrderNumber: "ORD-20260101-ABCDEF"}, nil
}

func (m *mockOrderService) ReleaseCheckout(ctx context.Context, sessionID, cartID string) error {
	m.released = append(m.released, sessionID+"/"+cartID)
	if m.releaseCheckoutFunc != nil {
		return m.releaseCheckoutFunc(ctx, sessionID, cartID)
	}
	return nil
}

func (m *mockOrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return nil, errors.New("not implemented")
}

func (m *mockOrderService) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	return nil, errors.New("not implemented")
}

// Helper functions

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// checkoutEvent builds the event body billing.MockProvider decodes.
func checkoutEvent(t *testing.T, eventType, sessionID, cartID, paymentStatus string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":   "evt_test_123",
		"type": eventType,
		"session": map[string]any{
			"id":             sessionID,
			"cart_id":        cartID,
			"customer_email": "buyer@example.com",
			"amount_total":   13500,
			"currency":       "usd",
			"payment_status": paymentStatus,
		},
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return body
}

func deliver(h *StripeHandler, method, signature string, payload []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rr := httptest.NewRecorder()
	h.HandleWebhook(rr, req)
	return rr
}

// Tests

func TestStripeHandler_HandleWebhook_Security(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		signature      string
		parseError     error
		expectedStatus int
		description    string
	}{
		{
			name:           "rejects_GET_request",
			method:         http.MethodGet,
			signature:      "t=1,v1=abc",
			expectedStatus: http.StatusBadRequest,
			description:    "Only POST requests should be accepted",
		},
		{
			name:           "rejects_missing_signature",
			method:         http.MethodPost,
			expectedStatus: http.StatusBadRequest,
			description:    "Missing Stripe-Signature header must be rejected",
		},
		{
			name:           "rejects_invalid_signature",
			method:         http.MethodPost,
			signature:      "t=1,v1=bad",
			parseError:     billing.ErrInvalidWebhookSignature,
			expectedStatus: http.StatusUnauthorized,
			description:    "Invalid signature must be rejected with 401",
		},
		{
			name:           "rejects_malformed_event",
			method:         http.MethodPost,
			signature:      "t=1,v1=abc",
			parseError:     billing.ErrMalformedEvent,
			expectedStatus: http.StatusBadRequest,
			description:    "A verified but undecodable event is a bad request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := billing.NewMockProvider()
			if tt.parseError != nil {
				provider.ParseWebhookEventFunc = func(payload []byte, signature string) (*billing.WebhookEvent, error) {
					return nil, tt.parseError
				}
			}
			orders := &mockOrderService{}
			h := NewStripeHandler(provider, orders, testLogger())

			payload := checkoutEvent(t, billing.EventCheckoutSessionCompleted, "cs_1", "cart_1", "paid")
			rr := deliver(h, tt.method, tt.signature, payload)

			if rr.Code != tt.expectedStatus {
				t.Errorf("%s: expected status %d, got %d", tt.description, tt.expectedStatus, rr.Code)
			}
			if len(orders.calls) != 0 {
				t.Errorf("%s: order service must not be called", tt.description)
			}
		})
	}
}

func TestStripeHandler_HandleWebhook_CheckoutCompleted(t *testing.T) {
	tests := []struct {
		name              string
		eventType         string
		paymentStatus     string
		fulfillError      error
		expectedStatus    int
		expectServiceCall bool
		description       string
	}{
		{
			name:              "fulfills_paid_session",
			eventType:         billing.EventCheckoutSessionCompleted,
			paymentStatus:     "paid",
			expectedStatus:    http.StatusOK,
			expectServiceCall: true,
			description:       "A paid session creates an order",
		},
		{
			name:              "fulfills_async_payment_success",
			eventType:         billing.EventCheckoutSessionAsyncPaymentSucceeded,
			paymentStatus:     "paid",
			expectedStatus:    http.StatusOK,
			expectServiceCall: true,
			description:       "Delayed payments are fulfilled when they succeed",
		},
		{
			name:              "waits_for_unpaid_session",
			eventType:         billing.EventCheckoutSessionCompleted,
			paymentStatus:     "unpaid",
			expectedStatus:    http.StatusOK,
			expectServiceCall: false,
			description:       "An unpaid completion waits for async_payment_succeeded",
		},
		{
			name:              "acknowledges_duplicate_delivery",
			eventType:         billing.EventCheckoutSessionCompleted,
			paymentStatus:     "paid",
			fulfillError:      domain.ErrCheckoutAlreadyProcessed,
			expectedStatus:    http.StatusOK,
			expectServiceCall: true,
			description:       "Redelivered events are acknowledged without a second order",
		},
		{
			name:              "acknowledges_unfixable_failure",
			eventType:         billing.EventCheckoutSessionCompleted,
			paymentStatus:     "paid",
			fulfillError:      domain.ErrCartAlreadyConverted,
			expectedStatus:    http.StatusOK,
			expectServiceCall: true,
			description:       "Errors a redelivery cannot fix are acknowledged",
		},
		{
			name:              "asks_for_redelivery_on_internal_error",
			eventType:         billing.EventCheckoutSessionCompleted,
			paymentStatus:     "paid",
			fulfillError:      domain.Internal(errors.New("connection refused"), "order.fulfill_checkout", "failed to look up order"),
			expectedStatus:    http.StatusInternalServerError,
			expectServiceCall: true,
			description:       "Transient failures return 500 so Stripe retries",
		},
		{
			name:              "does_not_fulfill_expired_session",
			eventType:         billing.EventCheckoutSessionExpired,
			paymentStatus:     "unpaid",
			expectedStatus:    http.StatusOK,
			expectServiceCall: false,
			description:       "Expired sessions never create an order",
		},
		{
			name:              "ignores_unrelated_event",
			eventType:         "customer.created",
			paymentStatus:     "",
			expectedStatus:    http.StatusOK,
			expectServiceCall: false,
			description:       "Unhandled event types are acknowledged",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &mockOrderService{}
			if tt.fulfillError != nil {
				orders.fulfillCheckoutFunc = func(ctx context.Context, completion domain.CheckoutCompletion) (*domain.Order, error) {
					return nil, tt.fulfillError
				}
			}
			h := NewStripeHandler(billing.NewMockProvider(), orders, testLogger())

			payload := checkoutEvent(t, tt.eventType, "cs_test_42", "cart-7", tt.paymentStatus)
			rr := deliver(h, http.MethodPost, "t=1,v1=abc", payload)

			if rr.Code != tt.expectedStatus {
				t.Errorf("%s: expected status %d, got %d", tt.description, tt.expectedStatus, rr.Code)
			}
			if called := len(orders.calls) > 0; called != tt.expectServiceCall {
				t.Errorf("%s: expected service call = %v, got %v", tt.description, tt.expectServiceCall, called)
			}
			if rr.Code == http.StatusOK && rr.Body.String() != "{\"received\":true}\n" {
				t.Errorf("%s: unexpected body %q", tt.description, rr.Body.String())
			}
		})
	}
}

func TestStripeHandler_HandleWebhook_PassesCompletion(t *testing.T) {
	orders := &mockOrderService{}
	h := NewStripeHandler(billing.NewMockProvider(), orders, testLogger())

	rr := deliver(h, http.MethodPost, "t=1,v1=abc",
		checkoutEvent(t, billing.EventCheckoutSessionCompleted, "cs_test_42", "cart-7", "paid"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(orders.calls) != 1 {
		t.Fatalf("expected one fulfillment, got %d", len(orders.calls))
	}

	got := orders.calls[0]
	want := domain.CheckoutCompletion{
		SessionID:     "cs_test_42",
		CartID:        "cart-7",
		CustomerEmail: "buyer@example.com",
		AmountTotal:   13500,
		Currency:      "usd",
		Paid:          true,
	}
	if got != want {
		t.Errorf("completion = %+v, want %+v", got, want)
	}
}

func TestStripeHandler_HandleWebhook_CheckoutExpired(t *testing.T) {
	tests := []struct {
		name           string
		releaseError   error
		expectedStatus int
	}{
		{name: "reopens_cart", expectedStatus: http.StatusOK},
		{
			name:           "acknowledges_unfixable_failure",
			releaseError:   domain.ErrCartNotOpen,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "asks_for_redelivery_on_internal_error",
			releaseError:   domain.Internal(errors.New("connection refused"), "order.release_checkout", "failed to load cart"),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &mockOrderService{}
			if tt.releaseError != nil {
				orders.releaseCheckoutFunc = func(ctx context.Context, sessionID, cartID string) error {
					return tt.releaseError
				}
			}
			h := NewStripeHandler(billing.NewMockProvider(), orders, testLogger())

			rr := deliver(h, http.MethodPost, "t=1,v1=abc",
				checkoutEvent(t, billing.EventCheckoutSessionExpired, "cs_test_42", "cart-7", "unpaid"))

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if len(orders.released) != 1 || orders.released[0] != "cs_test_42/cart-7" {
				t.Errorf("expected one release of cs_test_42/cart-7, got %v", orders.released)
			}
			if len(orders.calls) != 0 {
				t.Errorf("expired session must not be fulfilled")
			}
		})
	}
}

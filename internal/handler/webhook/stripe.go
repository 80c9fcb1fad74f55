// Package webhook receives payment provider callbacks.
package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/brokkr/internal/billing"
	"github.com/dukerupert/brokkr/internal/domain"
	"github.com/dukerupert/brokkr/internal/handler"
	"github.com/dukerupert/brokkr/internal/middleware"
	"github.com/dukerupert/brokkr/internal/telemetry"
)

const providerLabel = "stripe"

// StripeHandler turns verified Stripe events into orders.
type StripeHandler struct {
	provider billing.Provider
	orders   domain.OrderService
	logger   *slog.Logger
}

func NewStripeHandler(provider billing.Provider, orders domain.OrderService, logger *slog.Logger) *StripeHandler {
	return &StripeHandler{provider: provider, orders: orders, logger: logger}
}

// HandleWebhook handles POST /webhooks/stripe.
//
// Every verified event is acknowledged with 200 unless processing failed in
// a way a redelivery could fix, such as the store being down. Fulfillment
// is idempotent on the checkout session, so redeliveries are harmless.
//
// Local testing:
//
//	stripe listen --forward-to localhost:3000/webhooks/stripe
//	stripe trigger checkout.session.completed
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := middleware.GetLogger(r.Context(), h.logger)

	if r.Method != http.MethodPost {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "Method not allowed"))
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handler.ErrorResponse(w, r, domain.Errorf(domain.ETOOLARGE, "", "Payload too large"))
			return
		}
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "Error reading request body"))
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		h.recordFailure("unknown", "missing_signature")
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "Missing signature"))
		return
	}

	event, err := h.provider.ParseWebhookEvent(payload, signature)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidWebhookSignature) {
			logger.Warn("webhook signature verification failed", "error", err, "payload_bytes", len(payload))
			h.recordFailure("unknown", "invalid_signature")
			handler.ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "", "Invalid signature"))
			return
		}
		h.recordFailure("unknown", "malformed")
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "Invalid event payload"))
		return
	}

	logger = logger.With("event_id", event.ID, "event_type", event.Type)
	logger.Info("webhook received")
	if telemetry.Business != nil {
		telemetry.Business.WebhookReceived.WithLabelValues(providerLabel, event.Type).Inc()
		defer func() {
			telemetry.Business.WebhookLatency.WithLabelValues(providerLabel, event.Type).Observe(time.Since(start).Seconds())
		}()
	}

	switch event.Type {
	case billing.EventCheckoutSessionCompleted, billing.EventCheckoutSessionAsyncPaymentSucceeded:
		if err := h.handleCheckoutCompleted(r, logger, event); err != nil {
			handler.ErrorResponse(w, r, err)
			return
		}

	case billing.EventCheckoutSessionExpired:
		if err := h.handleCheckoutExpired(r, logger, event); err != nil {
			handler.ErrorResponse(w, r, err)
			return
		}

	default:
		logger.Debug("unhandled webhook event")
	}

	h.recordProcessed(event.Type)
	handler.JSON(w, http.StatusOK, map[string]bool{"received": true})
}

// handleCheckoutCompleted fulfills a paid session. It returns an error only
// when Stripe should redeliver the event.
func (h *StripeHandler) handleCheckoutCompleted(r *http.Request, logger *slog.Logger, event *billing.WebhookEvent) error {
	cs := event.CheckoutSession
	if cs == nil {
		logger.Warn("checkout event without session data")
		h.recordFailure(event.Type, "no_session")
		return nil
	}
	logger = logger.With("checkout_session_id", cs.ID, "cart_id", cs.CartID)

	// Delayed payment methods complete unpaid; async_payment_succeeded follows.
	if !cs.Paid() {
		logger.Info("checkout completed without payment yet", "payment_status", cs.PaymentStatus)
		return nil
	}

	order, err := h.orders.FulfillCheckout(r.Context(), domain.CheckoutCompletion{
		SessionID:     cs.ID,
		CartID:        cs.CartID,
		CustomerEmail: cs.CustomerEmail,
		AmountTotal:   cs.AmountTotal,
		Currency:      cs.Currency,
		Paid:          true,
	})
	switch {
	case err == nil:
		logger.Info("order created from checkout",
			"order_id", order.ID,
			"order_number", order.OrderNumber,
			"needs_review", order.NeedsReview,
		)
		return nil

	case errors.Is(err, domain.ErrCheckoutAlreadyProcessed):
		logger.Info("checkout session already fulfilled, ignoring redelivery")
		return nil

	case retryable(err):
		h.recordFailure(event.Type, "internal")
		return err

	default:
		// Missing cart, converted cart and similar cannot be fixed by a
		// redelivery. Acknowledge and leave it to an operator.
		logger.Error("checkout could not be fulfilled", "error", err, "code", domain.ErrorCode(err))
		telemetry.CaptureErrorFromContext(r.Context(), err, map[string]any{
			"checkout_session_id": cs.ID,
			"cart_id":             cs.CartID,
		})
		h.recordFailure(event.Type, domain.ErrorCode(err))
		return nil
	}
}

// handleCheckoutExpired unfreezes the cart an unpaid session was holding.
func (h *StripeHandler) handleCheckoutExpired(r *http.Request, logger *slog.Logger, event *billing.WebhookEvent) error {
	cs := event.CheckoutSession
	if cs == nil {
		return nil
	}
	logger.Info("checkout session expired", "checkout_session_id", cs.ID, "cart_id", cs.CartID)

	err := h.orders.ReleaseCheckout(r.Context(), cs.ID, cs.CartID)
	if err != nil && retryable(err) {
		h.recordFailure(event.Type, "internal")
		return err
	}
	if err != nil {
		logger.Warn("cart could not be reopened", "error", err, "cart_id", cs.CartID)
	}
	return nil
}

func retryable(err error) bool {
	code := domain.ErrorCode(err)
	return code == domain.EINTERNAL || code == domain.EUNAVAILABLE
}

func (h *StripeHandler) recordProcessed(eventType string) {
	if telemetry.Business != nil {
		telemetry.Business.WebhookProcessed.WithLabelValues(providerLabel, eventType).Inc()
	}
}

func (h *StripeHandler) recordFailure(eventType, reason string) {
	if telemetry.Business != nil {
		telemetry.Business.WebhookFailed.WithLabelValues(providerLabel, eventType, reason).Inc()
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/brokkr/internal/billing"
	"github.com/dukerupert/brokkr/internal/domain"
	"github.com/dukerupert/brokkr/internal/telemetry"
)

// CheckoutService validates the session cart and hands it to the payment
// provider. Stock is only reserved later, when the payment completes.
type CheckoutService struct {
	carts     domain.CartStore
	inventory domain.InventoryService
	billing   billing.Provider
	currency  string
	baseURL   string
	logger    *slog.Logger

	now func() time.Time
}

// checkoutHold is how long a payment session, and so the cart freeze,
// lasts. It is Stripe's shortest allowed session lifetime.
const checkoutHold = 30 * time.Minute

var _ domain.CheckoutService = (*CheckoutService)(nil)

func NewCheckoutService(
	carts domain.CartStore,
	inventory domain.InventoryService,
	provider billing.Provider,
	currency string,
	baseURL string,
	logger *slog.Logger,
) *CheckoutService {
	return &CheckoutService{
		carts:     carts,
		inventory: inventory,
		billing:   provider,
		currency:  currency,
		baseURL:   baseURL,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *CheckoutService) StartCheckout(ctx context.Context, sessionID string, params domain.CheckoutParams) (*domain.CheckoutSession, error) {
	const op = "checkout.start"

	if err := validateStruct(op, params); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, domain.ErrCartNotFound
	}

	c, err := s.carts.GetCartBySession(ctx, sessionID)
	if err != nil {
		return nil, domain.Passthrough(err, op, "failed to load cart")
	}
	if !c.Status.Active() {
		return nil, domain.ErrCartNotOpen
	}
	if len(c.Items) == 0 {
		return nil, domain.ErrEmptyCart
	}

	result, err := s.inventory.Validate(ctx, c.StockRequests())
	if err != nil {
		recordCheckout("failed")
		return nil, err
	}
	if !result.Available {
		recordCheckout("short")
		if telemetry.Business != nil {
			telemetry.Business.StockShortfalls.WithLabelValues("checkout").Add(float64(len(result.InsufficientItems)))
		}
		s.logger.InfoContext(ctx, "checkout blocked by stock", "cart_id", c.ID, "short_lines", len(result.InsufficientItems))
		return nil, &domain.StockShortfallError{Items: result.InsufficientItems}
	}

	// Rounded up to the minute so a retry within it repeats the exact
	// request under the same idempotency key.
	expiresAt := s.now().Add(checkoutHold).Truncate(time.Minute).Add(time.Minute)
	req := billing.CreateCheckoutSessionParams{
		CartID:         c.ID,
		Currency:       s.currency,
		CustomerEmail:  params.CustomerEmail,
		SuccessURL:     params.SuccessURL,
		CancelURL:      params.CancelURL,
		LineItems:      checkoutLineItems(c),
		ExpiresAt:      expiresAt,
		IdempotencyKey: fmt.Sprintf("checkout-%s-%d-%d", c.ID, c.UpdatedAt.UnixNano(), expiresAt.Unix()),
	}
	if req.SuccessURL == "" {
		req.SuccessURL = s.baseURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}"
	}
	if req.CancelURL == "" {
		req.CancelURL = s.baseURL + "/cart"
	}

	cs, err := s.billing.CreateCheckoutSession(ctx, req)
	if err != nil {
		recordCheckout("failed")
		telemetry.CaptureError(err, map[string]any{"cart_id": c.ID, "operation": op})
		if errors.Is(err, billing.ErrTimeout) {
			return nil, domain.WrapError(err, domain.EUNAVAILABLE, op, "Payment provider did not respond, please try again")
		}
		return nil, domain.WrapError(err, domain.EPAYMENT, op, "Could not start checkout")
	}

	// Freeze the items that were just priced. The guard on UpdatedAt fails
	// if the cart changed after it was read; the new session is then never
	// handed out and expires unpaid.
	err = s.carts.TransitionCart(ctx, domain.CartTransition{
		CartID:            c.ID,
		From:              c.Status,
		To:                domain.CartStatusCheckoutPending,
		CheckoutSessionID: cs.ID,
		UnchangedSince:    c.UpdatedAt,
	})
	if err != nil {
		recordCheckout("failed")
		s.logger.WarnContext(ctx, "cart changed while starting checkout",
			"cart_id", c.ID,
			"checkout_session_id", cs.ID,
			"error", err,
		)
		return nil, domain.Passthrough(err, op, "failed to lock cart for checkout")
	}

	recordCheckout("created")
	s.logger.InfoContext(ctx, "checkout session created",
		"cart_id", c.ID,
		"checkout_session_id", cs.ID,
		"amount_total", cs.AmountTotal,
		"expires_at", expiresAt,
	)
	return &domain.CheckoutSession{ID: cs.ID, URL: cs.URL}, nil
}

// checkoutLineItems prices each cart line in minor units. Installation is
// charged as its own row so the payment page shows it. chargedCents must
// agree with it.
func checkoutLineItems(c *domain.Cart) []billing.LineItem {
	items := make([]billing.LineItem, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, billing.LineItem{
			Name:            item.ProductName,
			Description:     item.VariantLabel,
			UnitAmountCents: domain.ToCents(item.UnitPrice),
			Quantity:        int64(item.Quantity),
		})
		if item.InstallationOption && item.InstallationPrice.IsPositive() {
			items = append(items, billing.LineItem{
				Name:            "Installation: " + item.ProductName,
				Description:     item.VariantLabel,
				UnitAmountCents: domain.ToCents(item.InstallationPrice),
				Quantity:        int64(item.Quantity),
			})
		}
	}
	return items
}

// chargedCents is the amount checkoutLineItems asks the customer to pay.
func chargedCents(items []domain.CartItem) int64 {
	var total int64
	for _, item := range items {
		unit := domain.ToCents(item.UnitPrice)
		if item.InstallationOption && item.InstallationPrice.IsPositive() {
			unit += domain.ToCents(item.InstallationPrice)
		}
		total += unit * int64(item.Quantity)
	}
	return total
}

func recordCheckout(result string) {
	if telemetry.Business != nil {
		telemetry.Business.CheckoutStarted.WithLabelValues(result).Inc()
	}
}

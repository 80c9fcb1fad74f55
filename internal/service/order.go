package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/dukerupert/brokkr/internal/domain"
	"github.com/dukerupert/brokkr/internal/telemetry"
)

// OrderService creates orders from completed checkouts and reserves their stock.
type OrderService struct {
	orders    domain.OrderStore
	carts     domain.CartStore
	inventory domain.InventoryService
	currency  string
	notifier  domain.OrderNotifier
	logger    *slog.Logger

	now func() time.Time
}

// notifyTimeout bounds order notifications sent from the webhook request.
const notifyTimeout = 10 * time.Second

var _ domain.OrderService = (*OrderService)(nil)

func NewOrderService(orders domain.OrderStore, carts domain.CartStore, inventory domain.InventoryService, currency string, logger *slog.Logger) *OrderService {
	return &OrderService{
		orders:    orders,
		carts:     carts,
		inventory: inventory,
		currency:  currency,
		logger:    logger,
		now:       time.Now,
	}
}

// WithNotifier sends every new order to n once its stock is reserved.
func (s *OrderService) WithNotifier(n domain.OrderNotifier) *OrderService {
	s.notifier = n
	return s
}

// FulfillCheckout is called once per delivery of a completion webhook.
//
// The order is built from the cart frozen when the session was created.
// It is written before any stock is touched, so a paid checkout always
// leaves an order behind. Each line is then reserved on its own; a line
// that cannot be reserved is recorded on the item and the order is
// flagged for review. Nothing is rolled back: the customer has paid.
func (s *OrderService) FulfillCheckout(ctx context.Context, completion domain.CheckoutCompletion) (*domain.Order, error) {
	const op = "order.fulfill_checkout"

	if completion.SessionID == "" {
		return nil, domain.NewValidationError(op, "sessionId", "is required")
	}
	if !completion.Paid {
		return nil, domain.ErrPaymentNotSucceeded
	}

	existing, err := s.orders.GetOrderByCheckoutSession(ctx, completion.SessionID)
	switch {
	case err == nil:
		return existing, domain.ErrCheckoutAlreadyProcessed
	case !domain.IsCode(err, domain.ENOTFOUND):
		return nil, domain.Passthrough(err, op, "failed to look up order")
	}

	if completion.CartID == "" {
		return nil, domain.ErrMissingCartID
	}
	c, err := s.carts.GetCart(ctx, completion.CartID)
	if err != nil {
		return nil, domain.Passthrough(err, op, "failed to load cart")
	}
	if c.Status == domain.CartStatusConverted {
		return nil, domain.ErrCartAlreadyConverted
	}
	if len(c.Items) == 0 {
		return nil, domain.ErrEmptyCart
	}

	number, err := GenerateOrderNumber(s.now())
	if err != nil {
		return nil, domain.Internal(err, op, "failed to generate order number")
	}

	o := &domain.Order{
		OrderNumber:       number,
		CheckoutSessionID: completion.SessionID,
		CartID:            c.ID,
		CustomerEmail:     completion.CustomerEmail,
		Status:            domain.OrderStatusPaid,
		Currency:          completion.Currency,
		TotalCents:        completion.AmountTotal,
		Items:             make([]domain.OrderItem, 0, len(c.Items)),
	}
	if o.Currency == "" {
		o.Currency = s.currency
	}
	for _, item := range c.Items {
		o.SubtotalCents += domain.ToCents(item.LineTotal())
		o.Items = append(o.Items, domain.OrderItem{
			ProductID:              item.ProductID,
			ProductName:            item.ProductName,
			SelectedVariantItemIDs: slices.Clone(item.SelectedVariantItemIDs),
			VariantKey:             item.VariantKey,
			Quantity:               item.Quantity,
			UnitPrice:              item.UnitPrice,
			InstallationOption:     item.InstallationOption,
			InstallationPrice:      item.InstallationPrice,
		})
	}
	if o.TotalCents == 0 {
		o.TotalCents = o.SubtotalCents
	}
	if charged := chargedCents(c.Items); completion.AmountTotal != 0 && completion.AmountTotal != charged {
		o.NeedsReview = true
		s.logger.WarnContext(ctx, "amount paid does not match cart, order flagged for review",
			"cart_id", c.ID,
			"cart_status", c.Status,
			"checkout_session_id", completion.SessionID,
			"amount_paid", completion.AmountTotal,
			"amount_expected", charged,
		)
	}

	if err := s.orders.CreateOrder(ctx, o); err != nil {
		if domain.IsCode(err, domain.ECONFLICT) {
			// A concurrent delivery of the same event won the insert.
			if existing, lookupErr := s.orders.GetOrderByCheckoutSession(ctx, completion.SessionID); lookupErr == nil {
				return existing, domain.ErrCheckoutAlreadyProcessed
			}
		}
		return nil, domain.Passthrough(err, op, "failed to create order")
	}

	s.reserve(ctx, o)

	if err := s.orders.SaveReservations(ctx, o); err != nil {
		s.logger.ErrorContext(ctx, "failed to save reservation outcomes",
			"order_id", o.ID,
			"error", err,
		)
		telemetry.CaptureError(err, map[string]any{"order_id": o.ID, "operation": op})
	}

	err = s.carts.TransitionCart(ctx, domain.CartTransition{
		CartID:            c.ID,
		From:              c.Status,
		To:                domain.CartStatusConverted,
		CheckoutSessionID: completion.SessionID,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to mark cart converted", "cart_id", c.ID, "error", err)
	}

	if telemetry.Business != nil {
		telemetry.Business.OrdersCreated.Inc()
		telemetry.Business.OrderValue.Observe(float64(o.TotalCents))
		if o.NeedsReview {
			telemetry.Business.OrdersFlagged.Inc()
		}
	}
	s.logger.InfoContext(ctx, "order created",
		"order_id", o.ID,
		"order_number", o.OrderNumber,
		"checkout_session_id", o.CheckoutSessionID,
		"needs_review", o.NeedsReview,
	)

	s.notify(ctx, o)
	return o, nil
}

func (s *OrderService) ReleaseCheckout(ctx context.Context, sessionID, cartID string) error {
	const op = "order.release_checkout"

	if sessionID == "" || cartID == "" {
		return nil
	}
	c, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			return nil
		}
		return domain.Passthrough(err, op, "failed to load cart")
	}
	if c.Status != domain.CartStatusCheckoutPending || c.CheckoutSessionID != sessionID {
		return nil
	}

	// A newer session or a completed payment moves UpdatedAt, and then the
	// cart stays as it is.
	err = s.carts.TransitionCart(ctx, domain.CartTransition{
		CartID:         c.ID,
		From:           domain.CartStatusCheckoutPending,
		To:             domain.CartStatusOpen,
		UnchangedSince: c.UpdatedAt,
	})
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "cart reopened after checkout expired", "cart_id", c.ID, "checkout_session_id", sessionID)
		return nil
	case errors.Is(err, domain.ErrCartChanged), domain.IsCode(err, domain.ENOTFOUND):
		return nil
	default:
		return domain.Passthrough(err, op, "failed to reopen cart")
	}
}

func (s *OrderService) notify(ctx context.Context, o *domain.Order) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := s.notifier.OrderPlaced(ctx, o); err != nil {
		s.logger.WarnContext(ctx, "order notification failed",
			"order_id", o.ID,
			"order_number", o.OrderNumber,
			"error", err,
		)
		telemetry.CaptureError(err, map[string]any{"order_id": o.ID, "operation": "order.notify"})
	}
}

// reserve takes stock for each item in order, recording the outcome on it.
func (s *OrderService) reserve(ctx context.Context, o *domain.Order) {
	for i := range o.Items {
		item := &o.Items[i]
		err := s.inventory.Reduce(ctx, item.ProductID, item.SelectedVariantItemIDs, item.Quantity)
		if err == nil {
			item.StockReserved = true
			continue
		}

		item.StockError = err.Error()
		o.NeedsReview = true
		s.logger.WarnContext(ctx, "stock reservation failed, order flagged for review",
			"order_id", o.ID,
			"product_id", item.ProductID,
			"variant_key", item.VariantKey,
			"quantity", item.Quantity,
			"error", err,
		)
		if !domain.IsCode(err, domain.ECONFLICT) {
			telemetry.CaptureError(err, map[string]any{
				"order_id":    o.ID,
				"product_id":  item.ProductID,
				"variant_key": item.VariantKey,
			})
		}
	}
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, domain.Passthrough(err, "order.get", "failed to load order")
	}
	return o, nil
}

func (s *OrderService) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	orders, err := s.orders.ListOrders(ctx, filter)
	if err != nil {
		return nil, domain.Passthrough(err, "order.list", "failed to list orders")
	}
	return orders, nil
}

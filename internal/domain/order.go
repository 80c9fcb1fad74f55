package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Order-related domain errors.
var (
	ErrOrderNotFound            = &Error{Code: ENOTFOUND, Message: "Order not found"}
	ErrCartAlreadyConverted     = &Error{Code: ECONFLICT, Message: "Cart already converted to order"}
	ErrMissingCartID            = &Error{Code: EINVALID, Message: "Cart ID missing from checkout metadata"}
	ErrCheckoutAlreadyProcessed = &Error{Code: ECONFLICT, Message: "Checkout session already processed"}
	ErrPaymentNotSucceeded      = &Error{Code: EPAYMENT, Message: "Checkout session is not paid"}
)

type OrderStatus string

const (
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFulfilled OrderStatus = "fulfilled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is created once per completed checkout session.
type Order struct {
	ID                string      `json:"id"`
	OrderNumber       string      `json:"orderNumber"`
	CheckoutSessionID string      `json:"checkoutSessionId"`
	CartID            string      `json:"cartId"`
	CustomerEmail     string      `json:"customerEmail,omitempty"`
	Status            OrderStatus `json:"status"`
	Currency          string      `json:"currency"`
	SubtotalCents     int64       `json:"subtotalCents"`
	TotalCents        int64       `json:"totalCents"`

	// NeedsReview is set when at least one item could not be reserved, or
	// when the amount paid does not match the items. Such orders stay in
	// place and are resolved by hand.
	NeedsReview bool        `json:"needsReview"`
	Items       []OrderItem `json:"items"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// OrderItem is a cart line frozen at checkout plus its reservation outcome.
type OrderItem struct {
	ID                     string          `json:"id"`
	ProductID              string          `json:"productId"`
	ProductName            string          `json:"productName"`
	SelectedVariantItemIDs []string        `json:"selectedVariantItemIds"`
	VariantKey             string          `json:"variantKey"`
	Quantity               int             `json:"quantity"`
	UnitPrice              decimal.Decimal `json:"unitPrice"`
	InstallationOption     bool            `json:"installationOption"`
	InstallationPrice      decimal.Decimal `json:"installationPrice"`
	StockReserved          bool            `json:"stockReserved"`
	StockError             string          `json:"stockError,omitempty"`
}

// CheckoutCompletion is what the payment provider reports when a checkout
// session completes.
type CheckoutCompletion struct {
	SessionID     string
	CartID        string
	CustomerEmail string
	AmountTotal   int64
	Currency      string
	Paid          bool
}

// OrderFilter narrows admin order listings.
type OrderFilter struct {
	NeedsReview *bool
	Limit       int
	Offset      int
}

// OrderStore persists orders.
type OrderStore interface {
	// CreateOrder assigns ID and timestamps on o. A second order for the same
	// checkout session fails with ErrCheckoutAlreadyProcessed.
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	GetOrderByCheckoutSession(ctx context.Context, sessionID string) (*Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)

	// SaveReservations writes per-item reservation outcomes and NeedsReview.
	SaveReservations(ctx context.Context, o *Order) error
}

// OrderService turns completed checkouts into orders.
type OrderService interface {
	// FulfillCheckout creates the order for a completed session and reserves
	// stock for each item. Reservation failures flag the order for review
	// and never undo it. A repeated session returns the existing order with
	// ErrCheckoutAlreadyProcessed.
	FulfillCheckout(ctx context.Context, completion CheckoutCompletion) (*Order, error)

	// ReleaseCheckout reopens a cart whose payment session expired unpaid.
	// Carts held by a newer session, or already converted, are left alone.
	ReleaseCheckout(ctx context.Context, sessionID, cartID string) error

	GetOrder(ctx context.Context, id string) (*Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
}

// OrderNotifier is told about each newly created order. Delivery is best
// effort: a failure never affects the order.
type OrderNotifier interface {
	OrderPlaced(ctx context.Context, o *Order) error
}

// CheckoutParams starts a hosted checkout for the session's cart.
type CheckoutParams struct {
	CustomerEmail string `json:"customerEmail" validate:"omitempty,email"`
	SuccessURL    string `json:"successUrl" validate:"omitempty,url"`
	CancelURL     string `json:"cancelUrl" validate:"omitempty,url"`
}

// CheckoutSession is the hosted checkout the customer is redirected to.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutService validates a cart and opens a payment session for it.
type CheckoutService interface {
	// StartCheckout fails with StockShortfallError when any line is short.
	StartCheckout(ctx context.Context, sessionID string, params CheckoutParams) (*CheckoutSession, error)
}

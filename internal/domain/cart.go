package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CART DOMAIN ERRORS
// =============================================================================

var (
	ErrCartNotFound      = &Error{Code: ENOTFOUND, Message: "Cart not found"}
	ErrCartItemNotFound  = &Error{Code: ENOTFOUND, Message: "Cart item not found"}
	ErrInvalidQuantity   = &Error{Code: EINVALID, Message: "Quantity must be greater than 0"}
	ErrEmptyCart         = &Error{Code: EINVALID, Message: "Cart is empty"}
	ErrCartNotOpen       = &Error{Code: ECONFLICT, Message: "Cart has already been checked out"}
	ErrCheckoutPending   = &Error{Code: ECONFLICT, Message: "Cart is locked while its checkout is in progress"}
	ErrCartChanged       = &Error{Code: ECONFLICT, Message: "Cart changed, please review it and try again"}
	ErrInstallationUnset = &Error{Code: EINVALID, Message: "Installation is not offered for this product"}
)

// CartStatus tracks a cart through checkout.
type CartStatus string

const (
	CartStatusOpen CartStatus = "open"

	// CartStatusCheckoutPending freezes the items while a payment session
	// priced from them can still be paid.
	CartStatusCheckoutPending CartStatus = "checkout_pending"

	CartStatusMerged    CartStatus = "merged"
	CartStatusConverted CartStatus = "converted"
)

// Active reports whether the cart is still the session's current cart.
func (s CartStatus) Active() bool {
	return s == CartStatusOpen || s == CartStatusCheckoutPending
}

// Cart is a shopping cart bound to a browser session and, after login, to a user.
type Cart struct {
	ID        string     `json:"id"`
	SessionID string     `json:"-"`
	UserID    string     `json:"userId,omitempty"`
	Status    CartStatus `json:"status"`
	Items     []CartItem `json:"items"`

	// CheckoutSessionID is the payment session holding a pending cart.
	CheckoutSessionID string `json:"checkoutSessionId,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// CartItem is one line. Lines are unique per product, combination and
// installation choice; adding the same line again raises its quantity.
type CartItem struct {
	ID                     string          `json:"id"`
	ProductID              string          `json:"productId"`
	ProductName            string          `json:"productName"`
	SelectedVariantItemIDs []string        `json:"selectedVariantItemIds"`
	VariantKey             string          `json:"variantKey"`
	VariantLabel           string          `json:"variantLabel,omitempty"`
	Quantity               int             `json:"quantity"`
	UnitPrice              decimal.Decimal `json:"unitPrice"`
	InstallationOption     bool            `json:"installationOption"`
	InstallationPrice      decimal.Decimal `json:"installationPrice"`
	ImageURL               string          `json:"imageUrl,omitempty"`
}

// Editable returns nil when the cart's items may be changed.
func (c *Cart) Editable() error {
	switch c.Status {
	case CartStatusOpen:
		return nil
	case CartStatusCheckoutPending:
		return ErrCheckoutPending
	default:
		return ErrCartNotOpen
	}
}

// LineTotal is (unit price + installation add-on) times quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	unit := i.UnitPrice
	if i.InstallationOption {
		unit = unit.Add(i.InstallationPrice)
	}
	return unit.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// SameLine reports whether two items describe the same purchasable line.
func (i CartItem) SameLine(other CartItem) bool {
	return i.ProductID == other.ProductID &&
		i.VariantKey == other.VariantKey &&
		i.InstallationOption == other.InstallationOption
}

// StockRequests projects the cart lines into availability requests.
func (c *Cart) StockRequests() []StockRequest {
	reqs := make([]StockRequest, 0, len(c.Items))
	for _, item := range c.Items {
		reqs = append(reqs, StockRequest{
			ProductID:              item.ProductID,
			SelectedVariantItemIDs: item.SelectedVariantItemIDs,
			Quantity:               item.Quantity,
		})
	}
	return reqs
}

// CartSummary aggregates a cart with calculated totals.
type CartSummary struct {
	Cart      *Cart           `json:"cart"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	ItemCount int             `json:"itemCount"`
}

// Summarize computes totals for c.
func Summarize(c *Cart) *CartSummary {
	s := &CartSummary{Cart: c, Subtotal: decimal.Zero}
	for _, item := range c.Items {
		s.Subtotal = s.Subtotal.Add(item.LineTotal())
		s.ItemCount += item.Quantity
	}
	s.Subtotal = s.Subtotal.Round(2)
	return s
}

// AddCartItemParams is the add-to-cart request.
type AddCartItemParams struct {
	ProductID              string   `json:"productId" validate:"required"`
	SelectedVariantItemIDs []string `json:"selectedVariantItemIds" validate:"dive,required"`
	Quantity               int      `json:"quantity" validate:"gt=0,lte=999"`
	InstallationOption     bool     `json:"installationOption"`
}

// CartStore persists carts together with their items.
type CartStore interface {
	GetCart(ctx context.Context, id string) (*Cart, error)

	// GetCartBySession returns the active (open or checkout pending) cart
	// for a session.
	GetCartBySession(ctx context.Context, sessionID string) (*Cart, error)

	// GetCartByUser returns the active cart owned by a user.
	GetCartByUser(ctx context.Context, userID string) (*Cart, error)

	// CreateCart assigns ID and timestamps on c.
	CreateCart(ctx context.Context, c *Cart) error

	// SaveCart writes status, owner and the full item list, and bumps
	// UpdatedAt. Only a cart that is still open in the store can be saved;
	// otherwise it fails with ErrCartNotOpen.
	SaveCart(ctx context.Context, c *Cart) error

	// TransitionCart applies t as one guarded write and bumps UpdatedAt.
	// It fails with ErrCartChanged when the stored cart no longer matches
	// the guard, and with ErrCartNotFound when it does not exist.
	TransitionCart(ctx context.Context, t CartTransition) error

	// DeleteAbandonedCarts removes open and merged carts not updated since
	// before. Pending carts wait for their payment session to settle and
	// converted carts are kept for order history.
	DeleteAbandonedCarts(ctx context.Context, before time.Time) (int64, error)
}

// CartTransition moves a cart from one status to another without touching
// its items.
type CartTransition struct {
	CartID string
	From   CartStatus
	To     CartStatus

	// CheckoutSessionID is stored with the new status. Empty clears it.
	CheckoutSessionID string

	// UnchangedSince, when non-zero, also requires the stored UpdatedAt to
	// equal it, so the items are known to be the ones the caller read.
	UnchangedSince time.Time
}

// CartService provides business logic for shopping cart operations.
type CartService interface {
	// GetOrCreateCart retrieves the session's cart or starts a new session.
	// Returns the cart and the session ID to keep using.
	GetOrCreateCart(ctx context.Context, sessionID string) (*Cart, string, error)

	GetCartSummary(ctx context.Context, sessionID string) (*CartSummary, error)

	// AddItem adds a combination to the cart or raises the quantity of the
	// matching line. Fails with InsufficientStockError when the tracked
	// combination cannot cover the resulting quantity.
	AddItem(ctx context.Context, sessionID string, params AddCartItemParams) (*CartSummary, error)

	// UpdateItemQuantity sets a line's quantity. Zero removes the line.
	UpdateItemQuantity(ctx context.Context, sessionID, itemID string, quantity int) (*CartSummary, error)

	RemoveItem(ctx context.Context, sessionID, itemID string) (*CartSummary, error)
	ClearCart(ctx context.Context, sessionID string) error

	// ValidateCart checks every line against current stock without reserving.
	ValidateCart(ctx context.Context, sessionID string) (*AvailabilityResult, error)

	// MergeCarts folds the session's guest cart into the user's cart.
	// Carts with a checkout in progress are never merged.
	MergeCarts(ctx context.Context, sessionID, userID string) (*CartSummary, error)
}

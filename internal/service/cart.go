package service

import (
	"context"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/dukerupert/brokkr/internal/domain"
	"github.com/dukerupert/brokkr/internal/telemetry"
)

// CartService manages session carts. Stock is checked on every change that
// raises a quantity, but nothing is held until the order is fulfilled.
// A cart with a checkout in progress is read-only until the payment
// session completes or expires.
type CartService struct {
	carts     domain.CartStore
	products  domain.ProductStore
	inventory domain.InventoryService
	logger    *slog.Logger
}

var _ domain.CartService = (*CartService)(nil)

func NewCartService(carts domain.CartStore, products domain.ProductStore, inventory domain.InventoryService, logger *slog.Logger) *CartService {
	return &CartService{
		carts:     carts,
		products:  products,
		inventory: inventory,
		logger:    logger,
	}
}

// GetOrCreateCart retrieves the session's cart or starts a new session and cart.
// Returns the cart, the session ID (new or existing), and any error.
func (s *CartService) GetOrCreateCart(ctx context.Context, sessionID string) (*domain.Cart, string, error) {
	const op = "cart.get_or_create"

	if sessionID != "" {
		c, err := s.carts.GetCartBySession(ctx, sessionID)
		if err == nil {
			return c, sessionID, nil
		}
		if !domain.IsCode(err, domain.ENOTFOUND) {
			return nil, "", domain.Passthrough(err, op, "failed to load cart")
		}
	} else {
		var err error
		sessionID, err = GenerateSessionID()
		if err != nil {
			return nil, "", domain.Internal(err, op, "failed to create session")
		}
	}

	c := &domain.Cart{
		SessionID: sessionID,
		Status:    domain.CartStatusOpen,
		Items:     []domain.CartItem{},
	}
	if err := s.carts.CreateCart(ctx, c); err != nil {
		return nil, "", domain.Passthrough(err, op, "failed to create cart")
	}
	return c, sessionID, nil
}

// getCart loads the active cart for a session without creating one.
func (s *CartService) getCart(ctx context.Context, op, sessionID string) (*domain.Cart, error) {
	if sessionID == "" {
		return nil, domain.ErrCartNotFound
	}
	c, err := s.carts.GetCartBySession(ctx, sessionID)
	if err != nil {
		return nil, domain.Passthrough(err, op, "failed to load cart")
	}
	return c, nil
}

// editableCart is getCart for operations that change the items.
func (s *CartService) editableCart(ctx context.Context, op, sessionID string) (*domain.Cart, error) {
	c, err := s.getCart(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	if err := c.Editable(); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CartService) GetCartSummary(ctx context.Context, sessionID string) (*domain.CartSummary, error) {
	c, err := s.getCart(ctx, "cart.summary", sessionID)
	if err != nil {
		return nil, err
	}
	return domain.Summarize(c), nil
}

func (s *CartService) AddItem(ctx context.Context, sessionID string, params domain.AddCartItemParams) (*domain.CartSummary, error) {
	const op = "cart.add_item"

	if err := validateStruct(op, params); err != nil {
		return nil, err
	}

	p, err := s.products.GetProduct(ctx, params.ProductID)
	if err != nil {
		return nil, domain.Passthrough(err, op, "failed to load product")
	}
	if err := p.ValidateSelection(op, params.SelectedVariantItemIDs); err != nil {
		return nil, err
	}
	if params.InstallationOption && (p.InstallationService == nil || !p.InstallationService.Available) {
		return nil, domain.ErrInstallationUnset
	}

	c, _, err := s.GetOrCreateCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := c.Editable(); err != nil {
		return nil, err
	}

	key := domain.VariantKey(params.SelectedVariantItemIDs)
	line := domain.CartItem{
		ID:                     uuid.NewString(),
		ProductID:              p.ID,
		ProductName:            p.Name,
		SelectedVariantItemIDs: slices.Clone(params.SelectedVariantItemIDs),
		VariantKey:             key,
		VariantLabel:           p.VariantLabel(key),
		Quantity:               params.Quantity,
		UnitPrice:              domain.UnitPrice(p, key),
		InstallationOption:     params.InstallationOption,
		InstallationPrice:      domain.InstallationPrice(p),
	}
	if images := p.ImagesFor(key); len(images) > 0 {
		line.ImageURL = images[0].URL
	}

	idx := slices.IndexFunc(c.Items, line.SameLine)
	if idx >= 0 {
		line.ID = c.Items[idx].ID
		line.Quantity += c.Items[idx].Quantity
	}

	// Installation and plain lines of one combination draw from the same stock.
	needed := line.Quantity
	for i, item := range c.Items {
		if i != idx && item.ProductID == line.ProductID && item.VariantKey == key {
			needed += item.Quantity
		}
	}
	if a := domain.Availability(p, params.SelectedVariantItemIDs); !a.Covers(needed) {
		if telemetry.Business != nil {
			telemetry.Business.StockShortfalls.WithLabelValues("cart_add").Inc()
		}
		return nil, &domain.InsufficientStockError{
			ProductID:  p.ID,
			VariantKey: key,
			Requested:  needed,
			Available:  a.Count,
		}
	}

	if idx >= 0 {
		c.Items[idx] = line
	} else {
		c.Items = append(c.Items, line)
	}
	if err := s.carts.SaveCart(ctx, c); err != nil {
		return nil, domain.Passthrough(err, op, "failed to save cart")
	}

	if telemetry.Business != nil {
		telemetry.Business.CartItemsAdded.WithLabelValues(p.ID).Inc()
	}
	s.logger.DebugContext(ctx, "cart item added",
		"cart_id", c.ID,
		"product_id", p.ID,
		"variant_key", key,
		"quantity", line.Quantity,
	)
	return domain.Summarize(c), nil
}

func (s *CartService) UpdateItemQuantity(ctx context.Context, sessionID, itemID string, quantity int) (*domain.CartSummary, error) {
	const op = "cart.update_item"

	if quantity < 0 {
		return nil, domain.ErrInvalidQuantity
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, sessionID, itemID)
	}

	c, err := s.editableCart(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(c.Items, func(item domain.CartItem) bool { return item.ID == itemID })
	if idx < 0 {
		return nil, domain.ErrCartItemNotFound
	}
	item := c.Items[idx]

	if quantity > item.Quantity {
		a, err := s.inventory.LookupVariantStock(ctx, item.ProductID, item.SelectedVariantItemIDs)
		if err != nil {
			return nil, err
		}
		needed := quantity
		for i, other := range c.Items {
			if i != idx && other.ProductID == item.ProductID && other.VariantKey == item.VariantKey {
				needed += other.Quantity
			}
		}
		if !a.Covers(needed) {
			return nil, &domain.InsufficientStockError{
				ProductID:  item.ProductID,
				VariantKey: item.VariantKey,
				Requested:  needed,
				Available:  a.Count,
			}
		}
	}

	c.Items[idx].Quantity = quantity
	if err := s.carts.SaveCart(ctx, c); err != nil {
		return nil, domain.Passthrough(err, op, "failed to save cart")
	}
	return domain.Summarize(c), nil
}

func (s *CartService) RemoveItem(ctx context.Context, sessionID, itemID string) (*domain.CartSummary, error) {
	const op = "cart.remove_item"

	c, err := s.editableCart(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	before := len(c.Items)
	c.Items = slices.DeleteFunc(c.Items, func(item domain.CartItem) bool { return item.ID == itemID })
	if len(c.Items) == before {
		return nil, domain.ErrCartItemNotFound
	}
	if err := s.carts.SaveCart(ctx, c); err != nil {
		return nil, domain.Passthrough(err, op, "failed to save cart")
	}
	return domain.Summarize(c), nil
}

func (s *CartService) ClearCart(ctx context.Context, sessionID string) error {
	const op = "cart.clear"

	c, err := s.editableCart(ctx, op, sessionID)
	if err != nil {
		return err
	}
	c.Items = []domain.CartItem{}
	if err := s.carts.SaveCart(ctx, c); err != nil {
		return domain.Passthrough(err, op, "failed to save cart")
	}
	return nil
}

// ValidateCart runs the advisory availability check over every line.
func (s *CartService) ValidateCart(ctx context.Context, sessionID string) (*domain.AvailabilityResult, error) {
	c, err := s.getCart(ctx, "cart.validate", sessionID)
	if err != nil {
		return nil, err
	}
	result, err := s.inventory.Validate(ctx, c.StockRequests())
	if err != nil {
		return nil, err
	}
	if telemetry.Business != nil && len(result.InsufficientItems) > 0 {
		telemetry.Business.StockShortfalls.WithLabelValues("cart_validate").Add(float64(len(result.InsufficientItems)))
	}
	return result, nil
}

// MergeCarts moves the guest cart of sessionID into the user's open cart.
// Matching lines add up their quantities; prices are kept from the user's
// cart. Without a user cart the guest cart simply becomes the user's.
// The returned summary's cart carries the session ID to keep using.
//
// A guest cart with a checkout in progress is refused, as is moving guest
// lines into a pending user cart. Fulfillment turns a pending cart's items
// into the order as they stand.
func (s *CartService) MergeCarts(ctx context.Context, sessionID, userID string) (*domain.CartSummary, error) {
	const op = "cart.merge"

	if userID == "" {
		return nil, domain.NewValidationError(op, "userId", "is required")
	}

	var guest *domain.Cart
	if sessionID != "" {
		var err error
		guest, err = s.carts.GetCartBySession(ctx, sessionID)
		if err != nil && !domain.IsCode(err, domain.ENOTFOUND) {
			return nil, domain.Passthrough(err, op, "failed to load guest cart")
		}
	}

	owned, err := s.carts.GetCartByUser(ctx, userID)
	if err != nil && !domain.IsCode(err, domain.ENOTFOUND) {
		return nil, domain.Passthrough(err, op, "failed to load user cart")
	}

	if guest != nil && guest.Status == domain.CartStatusCheckoutPending {
		return nil, domain.ErrCheckoutPending
	}

	switch {
	case guest == nil && owned == nil:
		c, _, err := s.GetOrCreateCart(ctx, "")
		if err != nil {
			return nil, err
		}
		c.UserID = userID
		if err := s.carts.SaveCart(ctx, c); err != nil {
			return nil, domain.Passthrough(err, op, "failed to save cart")
		}
		return domain.Summarize(c), nil

	case owned == nil:
		guest.UserID = userID
		if err := s.carts.SaveCart(ctx, guest); err != nil {
			return nil, domain.Passthrough(err, op, "failed to save cart")
		}
		return domain.Summarize(guest), nil

	case guest == nil || guest.ID == owned.ID:
		return domain.Summarize(owned), nil

	case owned.Status == domain.CartStatusCheckoutPending:
		if len(guest.Items) > 0 {
			return nil, domain.ErrCheckoutPending
		}
		return domain.Summarize(owned), nil
	}

	for _, item := range guest.Items {
		if idx := slices.IndexFunc(owned.Items, item.SameLine); idx >= 0 {
			owned.Items[idx].Quantity += item.Quantity
			continue
		}
		owned.Items = append(owned.Items, item)
	}
	if err := s.carts.SaveCart(ctx, owned); err != nil {
		return nil, domain.Passthrough(err, op, "failed to save user cart")
	}

	guest.Status = domain.CartStatusMerged
	guest.Items = []domain.CartItem{}
	if err := s.carts.SaveCart(ctx, guest); err != nil {
		s.logger.WarnContext(ctx, "failed to close merged guest cart", "cart_id", guest.ID, "error", err)
	}

	if telemetry.Business != nil {
		telemetry.Business.CartsMerged.Inc()
	}
	s.logger.InfoContext(ctx, "guest cart merged", "guest_cart_id", guest.ID, "user_cart_id", owned.ID)
	return domain.Summarize(owned), nil
}

// Package memory provides thread-safe in-memory stores for local runs and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/brokkr/internal/domain"
)

// Store keeps products, carts and orders in maps guarded by one RWMutex.
// Every value handed out is a copy, so callers never share state with the store.
type Store struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
	carts    map[string]*domain.Cart
	orders   map[string]*domain.Order
	now      func() time.Time
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		products: make(map[string]*domain.Product),
		carts:    make(map[string]*domain.Cart),
		orders:   make(map[string]*domain.Order),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ domain.ProductStore = (*Store)(nil)
	_ domain.CartStore    = (*Store)(nil)
	_ domain.OrderStore   = (*Store)(nil)
)

// =============================================================================
// Products
// =============================================================================

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if filter.SubCategoryID != "" && !slices.Contains(p.SubCategoryIDs, filter.SubCategoryID) {
			continue
		}
		out = append(out, *copyProduct(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, filter.Offset, filter.Limit), nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return copyProduct(p), nil
}

func (s *Store) CreateProduct(ctx context.Context, p *domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p.ID = uuid.NewString()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.products[p.ID] = copyProduct(p)
	return nil
}

func (s *Store) UpdateProduct(ctx context.Context, p *domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[p.ID]
	if !ok {
		return domain.ErrProductNotFound
	}
	updated := copyProduct(p)
	updated.Images = existing.Images
	updated.VariantStock = existing.VariantStock
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = s.now()
	s.products[p.ID] = updated

	p.UpdatedAt = updated.UpdatedAt
	p.CreatedAt = updated.CreatedAt
	return nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return domain.ErrProductNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) AddImage(ctx context.Context, productID string, img domain.ProductImage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	img.MappedVariants = slices.Clone(img.MappedVariants)
	p.Images = append(p.Images, img)
	p.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetImageMappings(ctx context.Context, productID string, mappings map[string][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	for imageID := range mappings {
		if !slices.ContainsFunc(p.Images, func(img domain.ProductImage) bool { return img.ID == imageID }) {
			return domain.ErrImageNotFound
		}
	}
	for i := range p.Images {
		if keys, ok := mappings[p.Images[i].ID]; ok {
			p.Images[i].MappedVariants = slices.Clone(keys)
		}
	}
	p.UpdatedAt = s.now()
	return nil
}

func (s *Store) ReplaceVariantStock(ctx context.Context, productID string, entries []domain.VariantStock) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.VariantStock = slices.Clone(entries)
	p.UpdatedAt = s.now()
	return nil
}

func (s *Store) RemoveVariantStock(ctx context.Context, productID string, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.VariantStock = slices.DeleteFunc(p.VariantStock, func(entry domain.VariantStock) bool {
		return slices.Contains(keys, entry.VariantCombinationKey)
	})
	p.UpdatedAt = s.now()
	return nil
}

// DecrementVariantStock checks and subtracts under the write lock, which
// makes the conditional update atomic with respect to other callers.
func (s *Store) DecrementVariantStock(ctx context.Context, productID, key string, quantity int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return false, nil
	}
	for i := range p.VariantStock {
		entry := &p.VariantStock[i]
		if entry.VariantCombinationKey != key {
			continue
		}
		if entry.StockCount < quantity {
			return false, nil
		}
		entry.StockCount -= quantity
		p.UpdatedAt = s.now()
		return true, nil
	}
	return false, nil
}

// =============================================================================
// Carts
// =============================================================================

func (s *Store) GetCart(ctx context.Context, id string) (*domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.carts[id]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	return copyCart(c), nil
}

func (s *Store) GetCartBySession(ctx context.Context, sessionID string) (*domain.Cart, error) {
	return s.findCart(ctx, func(c *domain.Cart) bool { return c.SessionID == sessionID })
}

func (s *Store) GetCartByUser(ctx context.Context, userID string) (*domain.Cart, error) {
	return s.findCart(ctx, func(c *domain.Cart) bool { return c.UserID == userID })
}

func (s *Store) findCart(ctx context.Context, match func(*domain.Cart) bool) (*domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.Cart
	for _, c := range s.carts {
		if !c.Status.Active() || !match(c) {
			continue
		}
		if found == nil || c.UpdatedAt.After(found.UpdatedAt) {
			found = c
		}
	}
	if found == nil {
		return nil, domain.ErrCartNotFound
	}
	return copyCart(found), nil
}

func (s *Store) CreateCart(ctx context.Context, c *domain.Cart) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c.ID = uuid.NewString()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = domain.CartStatusOpen
	}
	s.carts[c.ID] = copyCart(c)
	return nil
}

func (s *Store) SaveCart(ctx context.Context, c *domain.Cart) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.carts[c.ID]
	if !ok {
		return domain.ErrCartNotFound
	}
	if stored.Status != domain.CartStatusOpen {
		return domain.ErrCartNotOpen
	}
	c.UpdatedAt = s.now()
	c.CheckoutSessionID = stored.CheckoutSessionID
	s.carts[c.ID] = copyCart(c)
	return nil
}

func (s *Store) TransitionCart(ctx context.Context, t domain.CartTransition) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[t.CartID]
	if !ok {
		return domain.ErrCartNotFound
	}
	if c.Status != t.From || (!t.UnchangedSince.IsZero() && !c.UpdatedAt.Equal(t.UnchangedSince)) {
		return domain.ErrCartChanged
	}
	c.Status = t.To
	c.CheckoutSessionID = t.CheckoutSessionID
	c.UpdatedAt = s.now()
	return nil
}

func (s *Store) DeleteAbandonedCarts(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, c := range s.carts {
		if (c.Status != domain.CartStatusOpen && c.Status != domain.CartStatusMerged) || !c.UpdatedAt.Before(before) {
			continue
		}
		delete(s.carts, id)
		n++
	}
	return n, nil
}

// =============================================================================
// Orders
// =============================================================================

func (s *Store) CreateOrder(ctx context.Context, o *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.orders {
		if existing.CheckoutSessionID == o.CheckoutSessionID {
			return domain.ErrCheckoutAlreadyProcessed
		}
	}
	now := s.now()
	o.ID = uuid.NewString()
	o.CreatedAt = now
	o.UpdatedAt = now
	for i := range o.Items {
		if o.Items[i].ID == "" {
			o.Items[i].ID = uuid.NewString()
		}
	}
	s.orders[o.ID] = copyOrder(o)
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (s *Store) GetOrderByCheckoutSession(ctx context.Context, sessionID string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders {
		if o.CheckoutSessionID == sessionID {
			return copyOrder(o), nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if filter.NeedsReview != nil && o.NeedsReview != *filter.NeedsReview {
			continue
		}
		out = append(out, *copyOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter.Offset, filter.Limit), nil
}

func (s *Store) SaveReservations(ctx context.Context, o *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.orders[o.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	byID := make(map[string]domain.OrderItem, len(o.Items))
	for _, item := range o.Items {
		byID[item.ID] = item
	}
	for i := range existing.Items {
		if item, ok := byID[existing.Items[i].ID]; ok {
			existing.Items[i].StockReserved = item.StockReserved
			existing.Items[i].StockError = item.StockError
		}
	}
	existing.NeedsReview = o.NeedsReview
	existing.UpdatedAt = s.now()
	return nil
}

// =============================================================================
// Copies
// =============================================================================

func copyProduct(p *domain.Product) *domain.Product {
	c := *p
	c.Images = make([]domain.ProductImage, len(p.Images))
	for i, img := range p.Images {
		img.MappedVariants = slices.Clone(img.MappedVariants)
		c.Images[i] = img
	}
	c.Variants = make([]domain.ProductVariant, len(p.Variants))
	for i, v := range p.Variants {
		v.SelectedItems = slices.Clone(v.SelectedItems)
		c.Variants[i] = v
	}
	c.VariantStock = slices.Clone(p.VariantStock)
	c.SubCategoryIDs = slices.Clone(p.SubCategoryIDs)
	c.Specifications = slices.Clone(p.Specifications)
	if p.InstallationService != nil {
		svc := *p.InstallationService
		c.InstallationService = &svc
	}
	return &c
}

func copyCart(c *domain.Cart) *domain.Cart {
	out := *c
	out.Items = make([]domain.CartItem, len(c.Items))
	for i, item := range c.Items {
		item.SelectedVariantItemIDs = slices.Clone(item.SelectedVariantItemIDs)
		out.Items[i] = item
	}
	return &out
}

func copyOrder(o *domain.Order) *domain.Order {
	out := *o
	out.Items = make([]domain.OrderItem, len(o.Items))
	for i, item := range o.Items {
		item.SelectedVariantItemIDs = slices.Clone(item.SelectedVariantItemIDs)
		out.Items[i] = item
	}
	return &out
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

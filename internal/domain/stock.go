package domain

import (
	"context"
	"fmt"
	"strings"
)

// StockStatus summarizes a product's ledger.
type StockStatus string

const (
	StockStatusInStock         StockStatus = "IN_STOCK"
	StockStatusOutOfStock      StockStatus = "OUT_OF_STOCK"
	StockStatusPartialStockOut StockStatus = "PARTIAL_STOCK_OUT"
)

// StockInfo is the product-level stock summary.
type StockInfo struct {
	TotalStock int         `json:"totalStock"`
	Status     StockStatus `json:"status"`
}

// ProductStockInfo sums the ledger and classifies it. A product with no
// ledger entries is untracked and reported in stock with a total of zero.
// Otherwise a zero total is out of stock, and a positive total with at least
// one empty entry is a partial stock-out. The status is never stored.
func ProductStockInfo(p *Product) StockInfo {
	if len(p.VariantStock) == 0 {
		return StockInfo{TotalStock: 0, Status: StockStatusInStock}
	}

	total, empty := 0, 0
	for _, entry := range p.VariantStock {
		total += entry.StockCount
		if entry.StockCount <= 0 {
			empty++
		}
	}

	status := StockStatusInStock
	switch {
	case total <= 0:
		status = StockStatusOutOfStock
	case empty > 0:
		status = StockStatusPartialStockOut
	}
	return StockInfo{TotalStock: total, Status: status}
}

// IsProductInStock reports whether the product can supply quantity units
// across all combinations. Untracked products always can.
func IsProductInStock(p *Product, quantity int) bool {
	if len(p.VariantStock) == 0 {
		return true
	}
	info := ProductStockInfo(p)
	if info.Status == StockStatusOutOfStock {
		return false
	}
	return quantity <= 0 || info.TotalStock >= quantity
}

// VariantAvailability is the stock lookup result for one combination.
// Count is only meaningful when Tracked is true.
type VariantAvailability struct {
	Key     string `json:"key"`
	Count   int    `json:"count"`
	Tracked bool   `json:"tracked"`
}

// Unlimited reports whether the combination has no ledger entry.
func (a VariantAvailability) Unlimited() bool {
	return !a.Tracked
}

// Covers reports whether quantity units can be taken from the combination.
func (a VariantAvailability) Covers(quantity int) bool {
	return !a.Tracked || a.Count >= quantity
}

// Availability looks up the combination selected by itemIDs. An untracked
// combination reports Count 0 with Tracked false, which callers treat as
// unlimited, even when sibling combinations are tracked.
func Availability(p *Product, itemIDs []string) VariantAvailability {
	key := VariantKey(itemIDs)
	entry, ok := p.StockEntry(key)
	if !ok {
		return VariantAvailability{Key: key}
	}
	return VariantAvailability{Key: key, Count: entry.StockCount, Tracked: true}
}

// StockRequest asks for quantity units of one combination.
type StockRequest struct {
	ProductID              string   `json:"productId" validate:"required"`
	SelectedVariantItemIDs []string `json:"selectedVariantItemIds"`
	Quantity               int      `json:"quantity" validate:"gt=0"`
}

// InsufficientItem describes one request the ledger cannot satisfy.
type InsufficientItem struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName,omitempty"`
	VariantKey  string `json:"variantKey"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

// AvailabilityResult is the outcome of validating a batch of requests.
type AvailabilityResult struct {
	Available         bool               `json:"available"`
	InsufficientItems []InsufficientItem `json:"insufficientItems"`
}

// InsufficientStockError is returned when a reservation cannot be met.
type InsufficientStockError struct {
	ProductID  string
	VariantKey string
	Requested  int
	Available  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (%s): requested %d, available %d",
		e.ProductID, e.VariantKey, e.Requested, e.Available)
}

func (e *InsufficientStockError) ErrorCode() string {
	return ECONFLICT
}

// StockShortfallError carries every shortfall found while validating a
// batch, so callers can show the customer which lines to fix.
type StockShortfallError struct {
	Items []InsufficientItem
}

func (e *StockShortfallError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		parts = append(parts, fmt.Sprintf("%s (%s): requested %d, available %d",
			item.ProductID, item.VariantKey, item.Requested, item.Available))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

func (e *StockShortfallError) ErrorCode() string {
	return ECONFLICT
}

// InventoryService answers stock questions and performs reservations.
type InventoryService interface {
	// GetVariantStock returns the ledger count for a combination. Untracked
	// combinations report 0; use LookupVariantStock to tell them apart.
	GetVariantStock(ctx context.Context, productID string, itemIDs []string) (int, error)
	LookupVariantStock(ctx context.Context, productID string, itemIDs []string) (VariantAvailability, error)
	StockInfo(ctx context.Context, productID string) (*StockInfo, error)

	// Reduce atomically takes quantity units from a tracked combination.
	// Untracked combinations succeed without change.
	Reduce(ctx context.Context, productID string, itemIDs []string, quantity int) error

	// Validate checks each request independently against current stock
	// without changing anything.
	Validate(ctx context.Context, requests []StockRequest) (*AvailabilityResult, error)
}

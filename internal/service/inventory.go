package service

import (
	"context"
	"log/slog"

	"github.com/dukerupert/brokkr/internal/domain"
	"github.com/dukerupert/brokkr/internal/telemetry"
)

// InventoryService reads and reserves variant stock.
type InventoryService struct {
	products domain.ProductStore
	logger   *slog.Logger
}

var _ domain.InventoryService = (*InventoryService)(nil)

// NewInventoryService creates an InventoryService backed by products.
func NewInventoryService(products domain.ProductStore, logger *slog.Logger) *InventoryService {
	return &InventoryService{
		products: products,
		logger:   logger,
	}
}

func (s *InventoryService) GetVariantStock(ctx context.Context, productID string, itemIDs []string) (int, error) {
	a, err := s.LookupVariantStock(ctx, productID, itemIDs)
	if err != nil {
		return 0, err
	}
	return a.Count, nil
}

func (s *InventoryService) LookupVariantStock(ctx context.Context, productID string, itemIDs []string) (domain.VariantAvailability, error) {
	p, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return domain.VariantAvailability{}, domain.Passthrough(err, "inventory.lookup", "failed to load product")
	}
	return domain.Availability(p, itemIDs), nil
}

func (s *InventoryService) StockInfo(ctx context.Context, productID string) (*domain.StockInfo, error) {
	p, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, domain.Passthrough(err, "inventory.stock_info", "failed to load product")
	}
	info := domain.ProductStockInfo(p)
	return &info, nil
}

// Reduce issues a conditional decrement. When it matches nothing, a
// follow-up read decides between a missing product, an untracked
// combination (success, nothing to reserve) and a real shortfall. If the
// read shows enough stock again, the entry was restocked in between and
// the decrement is tried once more.
func (s *InventoryService) Reduce(ctx context.Context, productID string, itemIDs []string, quantity int) error {
	const op = "inventory.reduce"

	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	key := domain.VariantKey(itemIDs)

	for attempt := 0; ; attempt++ {
		ok, err := s.products.DecrementVariantStock(ctx, productID, key, quantity)
		if err != nil {
			recordReservation(telemetry.ReservationError)
			return domain.Passthrough(err, op, "failed to decrement stock")
		}
		if ok {
			recordReservation(telemetry.ReservationReserved)
			return nil
		}

		p, err := s.products.GetProduct(ctx, productID)
		if err != nil {
			recordReservation(telemetry.ReservationError)
			return domain.Passthrough(err, op, "failed to load product")
		}

		entry, tracked := p.StockEntry(key)
		if !tracked {
			recordReservation(telemetry.ReservationUntracked)
			s.logger.InfoContext(ctx, "combination not tracked, skipping stock reduction",
				"product_id", productID,
				"variant_key", key,
				"quantity", quantity,
			)
			return nil
		}
		if entry.StockCount >= quantity && attempt == 0 {
			continue
		}

		// The error never reports enough stock for the request it refused.
		recordReservation(telemetry.ReservationInsufficient)
		return &domain.InsufficientStockError{
			ProductID:  productID,
			VariantKey: key,
			Requested:  quantity,
			Available:  min(entry.StockCount, quantity-1),
		}
	}
}

// Validate checks every request on its own. Lines that name a missing or
// malformed product are reported short with nothing available. Nothing is
// held, so a later Reduce can still fail.
func (s *InventoryService) Validate(ctx context.Context, requests []domain.StockRequest) (*domain.AvailabilityResult, error) {
	const op = "inventory.validate"

	result := &domain.AvailabilityResult{
		Available:         true,
		InsufficientItems: []domain.InsufficientItem{},
	}
	loaded := make(map[string]*domain.Product)

	for _, req := range requests {
		key := domain.VariantKey(req.SelectedVariantItemIDs)

		p, seen := loaded[req.ProductID]
		if !seen {
			var err error
			p, err = s.products.GetProduct(ctx, req.ProductID)
			switch {
			case err == nil:
			case domain.IsCode(err, domain.ENOTFOUND), domain.IsCode(err, domain.EINVALID):
				p = nil
			default:
				return nil, domain.Passthrough(err, op, "failed to load product")
			}
			loaded[req.ProductID] = p
		}

		if p == nil {
			result.InsufficientItems = append(result.InsufficientItems, domain.InsufficientItem{
				ProductID:  req.ProductID,
				VariantKey: key,
				Requested:  req.Quantity,
				Available:  0,
			})
			continue
		}

		a := domain.Availability(p, req.SelectedVariantItemIDs)
		if !a.Covers(req.Quantity) {
			result.InsufficientItems = append(result.InsufficientItems, domain.InsufficientItem{
				ProductID:   req.ProductID,
				ProductName: p.Name,
				VariantKey:  key,
				Requested:   req.Quantity,
				Available:   a.Count,
			})
		}
	}

	result.Available = len(result.InsufficientItems) == 0
	if telemetry.Business != nil {
		outcome := "available"
		if !result.Available {
			outcome = "short"
		}
		telemetry.Business.AvailabilityChecks.WithLabelValues(outcome).Inc()
	}
	return result, nil
}

func recordReservation(result string) {
	if telemetry.Business != nil {
		telemetry.Business.StockReservations.WithLabelValues(result).Inc()
	}
}

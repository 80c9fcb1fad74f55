package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/brokkr/internal/domain"
	"github.com/dukerupert/brokkr/internal/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Item ids used by the tap fixture. Keys sort as "c-blue+s-large" etc.
const (
	colorRed   = "c-red"
	colorBlue  = "c-blue"
	sizeSmall  = "s-small"
	sizeLarge  = "s-large"
	keyRedS    = "c-red+s-small"
	keyRedL    = "c-red+s-large"
	keyBlueS   = "c-blue+s-small"
	keyBlueL   = "c-blue+s-large"
	tapBaseUSD = "100.00"
)

func tapVariants() []domain.ProductVariant {
	return []domain.ProductVariant{
		{
			VariantTypeID:   "color",
			VariantTypeName: "Color",
			SelectedItems: []domain.VariantItem{
				{ID: colorRed, Name: "Red"},
				{ID: colorBlue, Name: "Blue"},
			},
		},
		{
			VariantTypeID:   "size",
			VariantTypeName: "Size",
			SelectedItems: []domain.VariantItem{
				{ID: sizeSmall, Name: "Small"},
				{ID: sizeLarge, Name: "Large"},
			},
		},
	}
}

// seedTap stores a two-by-two product. Red/Small has 2 units, Red/Large is
// sold out, Blue/Small has 5 and Blue/Large is untracked.
func seedTap(t *testing.T, store *memory.Store) *domain.Product {
	t.Helper()
	ctx := context.Background()

	p := &domain.Product{
		Name:      "Kitchen Tap",
		BasePrice: decimal.RequireFromString(tapBaseUSD),
		Variants:  tapVariants(),
		InstallationService: &domain.InstallationService{
			Available: true,
			Price:     decimal.RequireFromString("25.00"),
		},
	}
	require.NoError(t, store.CreateProduct(ctx, p))
	require.NoError(t, store.ReplaceVariantStock(ctx, p.ID, []domain.VariantStock{
		{VariantCombinationKey: keyRedS, StockCount: 2},
		{VariantCombinationKey: keyRedL, StockCount: 0},
		{VariantCombinationKey: keyBlueS, StockCount: 5, PriceDelta: decimal.NewNullDecimal(decimal.RequireFromString("10.00"))},
	}))

	out, err := store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	return out
}

// seedPlain stores a product without variants and without a ledger.
func seedPlain(t *testing.T, store *memory.Store) *domain.Product {
	t.Helper()
	p := &domain.Product{
		Name:      "Sink Strainer",
		BasePrice: decimal.RequireFromString("12.50"),
	}
	require.NoError(t, store.CreateProduct(context.Background(), p))
	return p
}

func stockOf(t *testing.T, store *memory.Store, productID, key string) int {
	t.Helper()
	p, err := store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	entry, ok := p.StockEntry(key)
	require.True(t, ok, "no ledger entry for %s", key)
	return entry.StockCount
}

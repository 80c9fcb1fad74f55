package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/brokkr/internal/domain"
	"github.com/dukerupert/brokkr/internal/memory"
)

func TestInventoryService_GetVariantStock(t *testing.T) {
	store := memory.NewStore()
	svc := NewInventoryService(store, testLogger())
	tap := seedTap(t, store)
	ctx := context.Background()

	tests := []struct {
		name        string
		items       []string
		wantCount   int
		wantTracked bool
	}{
		{name: "tracked", items: []string{sizeSmall, colorRed}, wantCount: 2, wantTracked: true},
		{name: "tracked at zero", items: []string{colorRed, sizeLarge}, wantCount: 0, wantTracked: true},
		{name: "untracked sibling", items: []string{colorBlue, sizeLarge}, wantCount: 0, wantTracked: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := svc.GetVariantStock(ctx, tap.ID, tt.items)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCount, count)

			a, err := svc.LookupVariantStock(ctx, tap.ID, tt.items)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTracked, a.Tracked)
			assert.Equal(t, domain.VariantKey(tt.items), a.Key)
		})
	}

	_, err := svc.GetVariantStock(ctx, "missing", nil)
	assert.True(t, domain.IsCode(err, domain.ENOTFOUND))
}

func TestInventoryService_StockInfo(t *testing.T) {
	store := memory.NewStore()
	svc := NewInventoryService(store, testLogger())
	ctx := context.Background()

	tap := seedTap(t, store)
	info, err := svc.StockInfo(ctx, tap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StockInfo{TotalStock: 7, Status: domain.StockStatusPartialStockOut}, *info)

	plain := seedPlain(t, store)
	info, err = svc.StockInfo(ctx, plain.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StockInfo{TotalStock: 0, Status: domain.StockStatusInStock}, *info)
}

func TestInventoryService_Reduce(t *testing.T) {
	ctx := context.Background()

	t.Run("decrements tracked combination", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewInventoryService(store, testLogger())
		tap := seedTap(t, store)
		before := tap.UpdatedAt

		require.NoError(t, svc.Reduce(ctx, tap.ID, []string{colorBlue, sizeSmall}, 3))
		assert.Equal(t, 2, stockOf(t, store, tap.ID, keyBlueS))

		after, err := store.GetProduct(ctx, tap.ID)
		require.NoError(t, err)
		assert.False(t, after.UpdatedAt.Before(before))
	})

	t.Run("insufficient stock leaves count unchanged", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewInventoryService(store, testLogger())
		tap := seedTap(t, store)

		err := svc.Reduce(ctx, tap.ID, []string{colorRed, sizeSmall}, 3)
		var insufficient *domain.InsufficientStockError
		require.True(t, errors.As(err, &insufficient))
		assert.Equal(t, 3, insufficient.Requested)
		assert.Equal(t, 2, insufficient.Available)
		assert.Equal(t, keyRedS, insufficient.VariantKey)
		assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
		assert.Equal(t, 2, stockOf(t, store, tap.ID, keyRedS))
	})

	t.Run("untracked combination succeeds without a ledger change", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewInventoryService(store, testLogger())
		tap := seedTap(t, store)

		require.NoError(t, svc.Reduce(ctx, tap.ID, []string{colorBlue, sizeLarge}, 1000))
		after, err := store.GetProduct(ctx, tap.ID)
		require.NoError(t, err)
		assert.Equal(t, tap.VariantStock, after.VariantStock)
	})

	t.Run("untracked product", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewInventoryService(store, testLogger())
		plain := seedPlain(t, store)

		assert.NoError(t, svc.Reduce(ctx, plain.ID, nil, 4))
	})

	t.Run("missing product", func(t *testing.T) {
		svc := NewInventoryService(memory.NewStore(), testLogger())
		err := svc.Reduce(ctx, "missing", nil, 1)
		assert.True(t, domain.IsCode(err, domain.ENOTFOUND))
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		svc := NewInventoryService(memory.NewStore(), testLogger())
		assert.ErrorIs(t, svc.Reduce(ctx, "any", nil, 0), domain.ErrInvalidQuantity)
	})
}

func TestInventoryService_Reduce_Concurrent(t *testing.T) {
	const stock, callers = 10, 40

	store := memory.NewStore()
	svc := NewInventoryService(store, testLogger())
	tap := seedTap(t, store)
	require.NoError(t, store.ReplaceVariantStock(context.Background(), tap.ID, []domain.VariantStock{
		{VariantCombinationKey: keyRedS, StockCount: stock},
	}))

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.Reduce(context.Background(), tap.ID, []string{colorRed, sizeSmall}, 1)
			mu.Lock()
			defer mu.Unlock()
			var ie *domain.InsufficientStockError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &ie):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, stock, successes)
	assert.Equal(t, callers-stock, insufficient)
	assert.Equal(t, 0, stockOf(t, store, tap.ID, keyRedS))
}

// restockingStore refuses the first decrements it sees and restocks the
// entry in between, as a concurrent admin edit would.
type restockingStore struct {
	*memory.Store
	refusals int
	restock  []domain.VariantStock
}

func (s *restockingStore) DecrementVariantStock(ctx context.Context, productID, key string, quantity int) (bool, error) {
	if s.refusals > 0 {
		s.refusals--
		if err := s.Store.ReplaceVariantStock(ctx, productID, s.restock); err != nil {
			return false, err
		}
		return false, nil
	}
	return s.Store.DecrementVariantStock(ctx, productID, key, quantity)
}

func TestInventoryService_Reduce_Restocked(t *testing.T) {
	ctx := context.Background()
	restock := []domain.VariantStock{{VariantCombinationKey: keyRedS, StockCount: 5}}

	t.Run("retries once when stock arrives", func(t *testing.T) {
		store := &restockingStore{Store: memory.NewStore(), refusals: 1, restock: restock}
		tap := seedTap(t, store.Store)
		svc := NewInventoryService(store, testLogger())

		require.NoError(t, svc.Reduce(ctx, tap.ID, []string{colorRed, sizeSmall}, 3))
		assert.Equal(t, 2, stockOf(t, store.Store, tap.ID, keyRedS))
	})

	t.Run("error never reports enough stock", func(t *testing.T) {
		store := &restockingStore{Store: memory.NewStore(), refusals: 2, restock: restock}
		tap := seedTap(t, store.Store)
		svc := NewInventoryService(store, testLogger())

		err := svc.Reduce(ctx, tap.ID, []string{colorRed, sizeSmall}, 3)
		var ie *domain.InsufficientStockError
		require.True(t, errors.As(err, &ie))
		assert.Equal(t, 3, ie.Requested)
		assert.Less(t, ie.Available, ie.Requested)
	})
}

func TestInventoryService_Validate(t *testing.T) {
	store := memory.NewStore()
	svc := NewInventoryService(store, testLogger())
	tap := seedTap(t, store)
	plain := seedPlain(t, store)
	ctx := context.Background()

	t.Run("one short line is reported alone", func(t *testing.T) {
		result, err := svc.Validate(ctx, []domain.StockRequest{
			{ProductID: tap.ID, SelectedVariantItemIDs: []string{colorBlue, sizeSmall}, Quantity: 2},
			{ProductID: tap.ID, SelectedVariantItemIDs: []string{colorRed, sizeSmall}, Quantity: 3},
		})
		require.NoError(t, err)
		assert.False(t, result.Available)
		require.Len(t, result.InsufficientItems, 1)
		assert.Equal(t, domain.InsufficientItem{
			ProductID:   tap.ID,
			ProductName: "Kitchen Tap",
			VariantKey:  keyRedS,
			Requested:   3,
			Available:   2,
		}, result.InsufficientItems[0])
	})

	t.Run("untracked lines never fall short", func(t *testing.T) {
		result, err := svc.Validate(ctx, []domain.StockRequest{
			{ProductID: tap.ID, SelectedVariantItemIDs: []string{colorBlue, sizeLarge}, Quantity: 500},
			{ProductID: plain.ID, Quantity: 500},
		})
		require.NoError(t, err)
		assert.True(t, result.Available)
		assert.Empty(t, result.InsufficientItems)
		assert.NotNil(t, result.InsufficientItems)
	})

	t.Run("missing product is short with nothing available", func(t *testing.T) {
		result, err := svc.Validate(ctx, []domain.StockRequest{
			{ProductID: "deleted", SelectedVariantItemIDs: []string{colorRed}, Quantity: 1},
		})
		require.NoError(t, err)
		assert.False(t, result.Available)
		require.Len(t, result.InsufficientItems, 1)
		assert.Equal(t, 0, result.InsufficientItems[0].Available)
		assert.Equal(t, colorRed, result.InsufficientItems[0].VariantKey)
	})

	t.Run("validation holds nothing", func(t *testing.T) {
		_, err := svc.Validate(ctx, []domain.StockRequest{
			{ProductID: tap.ID, SelectedVariantItemIDs: []string{colorRed, sizeSmall}, Quantity: 2},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, stockOf(t, store, tap.ID, keyRedS))
	})
}

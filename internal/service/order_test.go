package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/brokkr/internal/billing"
	"github.com/dukerupert/brokkr/internal/domain"
	"github.com/dukerupert/brokkr/internal/memory"
)

type orderFixture struct {
	store  *memory.Store
	carts  *CartService
	orders *OrderService
	tap    *domain.Product
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	store := memory.NewStore()
	inventory := NewInventoryService(store, testLogger())
	return &orderFixture{
		store:  store,
		carts:  NewCartService(store, store, inventory, testLogger()),
		orders: NewOrderService(store, store, inventory, "usd", testLogger()),
		tap:    seedTap(t, store),
	}
}

// paidCart fills a cart and returns it with a matching paid completion.
func (f *orderFixture) paidCart(t *testing.T, sessionID string, lines ...domain.AddCartItemParams) (*domain.Cart, domain.CheckoutCompletion) {
	t.Helper()
	ctx := context.Background()
	_, session, err := f.carts.GetOrCreateCart(ctx, "")
	require.NoError(t, err)
	for _, line := range lines {
		_, err := f.carts.AddItem(ctx, session, line)
		require.NoError(t, err)
	}
	c, err := f.store.GetCartBySession(ctx, session)
	require.NoError(t, err)
	return c, domain.CheckoutCompletion{
		SessionID:     sessionID,
		CartID:        c.ID,
		CustomerEmail: "buyer@example.com",
		Currency:      "usd",
		Paid:          true,
	}
}

func TestOrderService_FulfillCheckout(t *testing.T) {
	ctx := context.Background()

	t.Run("creates order and reserves stock", func(t *testing.T) {
		f := newOrderFixture(t)
		c, completion := f.paidCart(t, "cs_1",
			domain.AddCartItemParams{ProductID: f.tap.ID, SelectedVariantItemIDs: []string{colorBlue, sizeSmall}, Quantity: 2},
			domain.AddCartItemParams{ProductID: f.tap.ID, SelectedVariantItemIDs: []string{colorBlue, sizeLarge}, Quantity: 7},
		)

		o, err := f.orders.FulfillCheckout(ctx, completion)
		require.NoError(t, err)
		assert.Regexp(t, regexp.MustCompile(`^ORD-\d{8}-[A-Z2-9]{6}$`), o.OrderNumber)
		assert.Equal(t, domain.OrderStatusPaid, o.Status)
		assert.False(t, o.NeedsReview)
		assert.Equal(t, int64(22000+70000), o.SubtotalCents)
		assert.Equal(t, o.SubtotalCents, o.TotalCents)
		require.Len(t, o.Items, 2)
		assert.True(t, o.Items[0].StockReserved)
		assert.True(t, o.Items[1].StockReserved)

		assert.Equal(t, 3, stockOf(t, f.store, f.tap.ID, keyBlueS))

		converted, err := f.store.GetCart(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CartStatusConverted, converted.Status)
	})

	t.Run("failed reservation flags the order and keeps it", func(t *testing.T) {
		f := newOrderFixture(t)
		_, completion := f.paidCart(t, "cs_2",
			domain.AddCartItemParams{ProductID: f.tap.ID, SelectedVariantItemIDs: []string{colorRed, sizeSmall}, Quantity: 2},
			domain.AddCartItemParams{ProductID: f.tap.ID, SelectedVariantItemIDs: []string{colorBlue, sizeSmall}, Quantity: 1},
		)
		// Another order takes the red units between checkout and payment.
		ok, err := f.store.DecrementVariantStock(ctx, f.tap.ID, keyRedS, 1)
		require.NoError(t, err)
		require.True(t, ok)

		o, err := f.orders.FulfillCheckout(ctx, completion)
		require.NoError(t, err)
		assert.True(t, o.NeedsReview)
		assert.False(t, o.Items[0].StockReserved)
		assert.Contains(t, o.Items[0].StockError, "requested 2, available 1")
		assert.True(t, o.Items[1].StockReserved)

		// The short line is untouched; the other line is reserved.
		assert.Equal(t, 1, stockOf(t, f.store, f.tap.ID, keyRedS))
		assert.Equal(t, 4, stockOf(t, f.store, f.tap.ID, keyBlueS))

		stored, err := f.orders.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.True(t, stored.NeedsReview)
		assert.Equal(t, o.Items[0].StockError, stored.Items[0].StockError)

		flagged := true
		list, err := f.orders.ListOrders(ctx, domain.OrderFilter{NeedsReview: &flagged})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, o.ID, list[0].ID)
	})

	t.Run("deleted product flags the order", func(t *testing.T) {
		f := newOrderFixture(t)
		_, completion := f.paidCart(t, "cs_3",
			domain.AddCartItemParams{ProductID: f.tap.ID, SelectedVariantItemIDs: []string{colorBlue, sizeSmall}, Quantity: 1},
		)
		require.NoError(t, f.store.DeleteProduct(ctx, f.tap.ID))

		o, err := f.orders.FulfillCheckout(ctx, completion)
		require.NoError(t, err)
		assert.True(t, o.NeedsReview)
		assert.NotEmpty(t, o.Items[0].StockError)
	})

	t.Run("repeated delivery is idempotent", func(t *testing.T) {
		f := newOrderFixture(t)
		_, completion := f.paidCart(t, "cs_4",
			domain.AddCartItemParams{ProductID: f.tap.ID, SelectedVariantItemIDs: []string{colorBlue, sizeSmall}, Quantity: 1},
		)

		first, err := f.orders.FulfillCheckout(ctx, completion)
		require.NoError(t, err)

		again, err := f.orders.FulfillCheckout(ctx, completion)
		assert.ErrorIs(t, err, domain.ErrCheckoutAlreadyProcessed)
		require.NotNil(t, again)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, 4, stockOf(t, f.store, f.tap.ID, keyBlueS))
	})

	t.Run("concurrent deliveries create one order", func(t *testing.T) {
		f := newOrderFixture(t)
		_, completion := f.paidCart(t, "cs_5",
			domain.AddCartItemParams{ProductID: f.tap.ID, SelectedVariantItemIDs: []string{colorBlue, sizeSmall}, Quantity: 1},
		)

		const deliveries = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
		)
		for range deliveries {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.orders.FulfillCheckout(ctx, completion)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					created++
				case errors.Is(err, domain.ErrCheckoutAlreadyProcessed),
					errors.Is(err, domain.ErrCartAlreadyConverted):
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, created)
		assert.Equal(t, 4, stockOf(t, f.store, f.tap.ID, keyBlueS))
	})

	t.Run("rejections", func(t *testing.T) {
		f := newOrderFixture(t)
		_, completion := f.paidCart(t, "cs_6",
			domain.AddCartItemParams{ProductID: f.tap.ID, SelectedVariantItemIDs: []string{colorBlue, sizeSmall}, Quantity: 1},
		)

		unpaid := completion
		unpaid.Paid = false
		_, err := f.orders.FulfillCheckout(ctx, unpaid)
		assert.ErrorIs(t, err, domain.ErrPaymentNotSucceeded)

		noCart := completion
		noCart.CartID = ""
		_, err = f.orders.FulfillCheckout(ctx, noCart)
		assert.ErrorIs(t, err, domain.ErrMissingCartID)

		unknown := completion
		unknown.CartID = "missing"
		_, err = f.orders.FulfillCheckout(ctx, unknown)
		assert.True(t, domain.IsCode(err, domain.ENOTFOUND))

		_, err = f.orders.FulfillCheckout(ctx, domain.CheckoutCompletion{Paid: true})
		assert.True(t, domain.IsValidationError(err))

		assert.Equal(t, 5, stockOf(t, f.store, f.tap.ID, keyBlueS))
	})
}

// checkout starts a payment session for a fresh cart holding lines.
func (f *orderFixture) checkout(t *testing.T, lines ...domain.AddCartItemParams) (string, *domain.Cart, *domain.CheckoutSession) {
	t.Helper()
	ctx := context.Background()
	_, session, err := f.carts.GetOrCreateCart(ctx, "")
	require.NoError(t, err)
	for _, line := range lines {
		_, err := f.carts.AddItem(ctx, session, line)
		require.NoError(t, err)
	}
	c, cs := f.startCheckout(t, session)
	return session, c, cs
}

func (f *orderFixture) startCheckout(t *testing.T, session string) (*domain.Cart, *domain.CheckoutSession) {
	t.Helper()
	ctx := context.Background()
	inventory := NewInventoryService(f.store, testLogger())
	checkout := NewCheckoutService(f.store, inventory, billing.NewMockProvider(), "usd", "https://shop.test", testLogger())
	cs, err := checkout.StartCheckout(ctx, session, domain.CheckoutParams{})
	require.NoError(t, err)

	c, err := f.store.GetCartBySession(ctx, session)
	require.NoError(t, err)
	return c, cs
}

func TestOrderService_FulfillsFrozenCart(t *testing.T) {
	ctx := context.Background()
	t.Run("edits after checkout starts are refused", func(t *testing.T) {
		f := newOrderFixture(t)
		line := domain.AddCartItemParams{ProductID: f.tap.ID, SelectedVariantItemIDs: []string{colorBlue, sizeSmall}, Quantity: 1}
		session, c, cs := f.checkout(t, line)
		assert.Equal(t, domain.CartStatusCheckoutPending, c.Status)
		assert.Equal(t, cs.ID, c.CheckoutSessionID)

		more := line
		more.Quantity = 3
		_, err := f.carts.AddItem(ctx, session, more)
		assert.ErrorIs(t, err, domain.ErrCheckoutPending)
		_, err = f.carts.UpdateItemQuantity(ctx, session, c.Items[0].ID, 4)
		assert.ErrorIs(t, err, domain.ErrCheckoutPending)
		_, err = f.carts.RemoveItem(ctx, session, c.Items[0].ID)
		assert.ErrorIs(t, err, domain.ErrCheckoutPending)
		assert.ErrorIs(t, f.carts.ClearCart(ctx, session), domain.ErrCheckoutPending)

		o, err := f.orders.FulfillCheckout(ctx, domain.CheckoutCompletion{
			SessionID: cs.ID, CartID: c.ID, AmountTotal: 11000, Currency: "usd", Paid: true,
		})
		require.NoError(t, err)
		require.Len(t, o.Items, 1)
		assert.Equal(t, 1, o.Items[0].Quantity)
		assert.Equal(t, int64(11000), o.SubtotalCents)
		assert.Equal(t, int64(11000), o.TotalCents)
		assert.False(t, o.NeedsReview)
		assert.Equal(t, 4, stockOf(t, f.store, f.tap.ID, keyBlueS))

		converted, err := f.store.GetCart(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CartStatusConverted, converted.Status)
	})

	t.Run("guest cart in checkout survives a login merge", func(t *testing.T) {
		f := newOrderFixture(t)
		_, userSession, err := f.carts.GetOrCreateCart(ctx, "")
		require.NoError(t, err)
		_, err = f.carts.AddItem(ctx, userSession, domain.AddCartItemParams{
			ProductID: f.tap.ID, SelectedVariantItemIDs: []string{colorRed, sizeSmall}, Quantity: 1,
		})
		require.NoError(t, err)
		_, err = f.carts.MergeCarts(ctx, userSession, "user-1")
		require.NoError(t, err)

		guestSession, c, cs := f.checkout(t,
			domain.AddCartItemParams{ProductID: f.tap.ID, SelectedVariantItemIDs: []string{colorBlue, sizeSmall}, Quantity: 1},
		)

		_, err = f.carts.MergeCarts(ctx, guestSession, "user-1")
		assert.ErrorIs(t, err, domain.ErrCheckoutPending)

		held, err := f.store.GetCart(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CartStatusCheckoutPending, held.Status)
		assert.Len(t, held.Items, 1)

		o, err := f.orders.FulfillCheckout(ctx, domain.CheckoutCompletion{
			SessionID: cs.ID, CartID: c.ID, AmountTotal: 11000, Paid: true,
		})
		require.NoError(t, err)
		require.Len(t, o.Items, 1)
		assert.Equal(t, keyBlueS, o.Items[0].VariantKey)
		assert.Equal(t, 4, stockOf(t, f.store, f.tap.ID, keyBlueS))
	})

	t.Run("guest lines are not merged into a cart in checkout", func(t *testing.T) {
		f := newOrderFixture(t)
		_, userSession, err := f.carts.GetOrCreateCart(ctx, "")
		require.NoError(t, err)
		_, err = f.carts.AddItem(ctx, userSession, domain.AddCartItemParams{
			ProductID: f.tap.ID, SelectedVariantItemIDs: []string{colorBlue, sizeSmall}, Quantity: 1,
		})
		require.NoError(t, err)
		_, err = f.carts.MergeCarts(ctx, userSession, "user-1")
		require.NoError(t, err)
		f.startCheckout(t, userSession)

		_, guestSession, err := f.carts.GetOrCreateCart(ctx, "")
		require.NoError(t, err)
		_, err = f.carts.AddItem(ctx, guestSession, domain.AddCartItemParams{
			ProductID: f.tap.ID, SelectedVariantItemIDs: []string{colorBlue, sizeSmall}, Quantity: 2,
		})
		require.NoError(t, err)

		_, err = f.carts.MergeCarts(ctx, guestSession, "user-1")
		assert.ErrorIs(t, err, domain.ErrCheckoutPending)

		owned, err := f.store.GetCartBySession(ctx, userSession)
		require.NoError(t, err)
		require.Len(t, owned.Items, 1)
		assert.Equal(t, 1, owned.Items[0].Quantity)
	})

	t.Run("amount that does not match the cart flags the order", func(t *testing.T) {
		f := newOrderFixture(t)
		_, c, cs := f.checkout(t,
			domain.AddCartItemParams{ProductID: f.tap.ID, SelectedVariantItemIDs: []string{colorBlue, sizeSmall}, Quantity: 1},
		)

		o, err := f.orders.FulfillCheckout(ctx, domain.CheckoutCompletion{
			SessionID: cs.ID, CartID: c.ID, AmountTotal: 5000, Paid: true,
		})
		require.NoError(t, err)
		assert.True(t, o.NeedsReview)
		assert.True(t, o.Items[0].StockReserved)
		assert.Equal(t, int64(5000), o.TotalCents)
	})
}

func TestOrderService_ReleaseCheckout(t *testing.T) {
	ctx := context.Background()
	line := func(f *orderFixture) domain.AddCartItemParams {
		return domain.AddCartItemParams{ProductID: f.tap.ID, SelectedVariantItemIDs: []string{colorBlue, sizeSmall}, Quantity: 1}
	}

	t.Run("expired session reopens the cart", func(t *testing.T) {
		f := newOrderFixture(t)
		session, c, cs := f.checkout(t, line(f))

		require.NoError(t, f.orders.ReleaseCheckout(ctx, cs.ID, c.ID))

		reopened, err := f.store.GetCart(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CartStatusOpen, reopened.Status)
		assert.Empty(t, reopened.CheckoutSessionID)

		_, err = f.carts.AddItem(ctx, session, line(f))
		assert.NoError(t, err)
	})

	t.Run("older session leaves a newer checkout alone", func(t *testing.T) {
		f := newOrderFixture(t)
		session, c, first := f.checkout(t, line(f))

		_, second := f.startCheckout(t, session)
		require.NotEqual(t, first.ID, second.ID)

		require.NoError(t, f.orders.ReleaseCheckout(ctx, first.ID, c.ID))

		held, err := f.store.GetCart(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CartStatusCheckoutPending, held.Status)
		assert.Equal(t, second.ID, held.CheckoutSessionID)
	})

	t.Run("paid cart stays converted", func(t *testing.T) {
		f := newOrderFixture(t)
		_, c, cs := f.checkout(t, line(f))
		_, err := f.orders.FulfillCheckout(ctx, domain.CheckoutCompletion{SessionID: cs.ID, CartID: c.ID, Paid: true})
		require.NoError(t, err)

		require.NoError(t, f.orders.ReleaseCheckout(ctx, cs.ID, c.ID))
		got, err := f.store.GetCart(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CartStatusConverted, got.Status)
	})

	t.Run("unknown cart is ignored", func(t *testing.T) {
		f := newOrderFixture(t)
		assert.NoError(t, f.orders.ReleaseCheckout(ctx, "cs_x", "missing"))
	})
}

type notifierFunc func(ctx context.Context, o *domain.Order) error

func (f notifierFunc) OrderPlaced(ctx context.Context, o *domain.Order) error { return f(ctx, o) }

func TestOrderService_Notifier(t *testing.T) {
	ctx := context.Background()

	t.Run("notified once per order", func(t *testing.T) {
		f := newOrderFixture(t)
		var notified []*domain.Order
		f.orders.WithNotifier(notifierFunc(func(ctx context.Context, o *domain.Order) error {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			notified = append(notified, o)
			return nil
		}))
		_, completion := f.paidCart(t, "cs_n1",
			domain.AddCartItemParams{ProductID: f.tap.ID, SelectedVariantItemIDs: []string{colorBlue, sizeSmall}, Quantity: 1},
		)

		o, err := f.orders.FulfillCheckout(ctx, completion)
		require.NoError(t, err)
		_, err = f.orders.FulfillCheckout(ctx, completion)
		require.ErrorIs(t, err, domain.ErrCheckoutAlreadyProcessed)

		require.Len(t, notified, 1)
		assert.Equal(t, o.ID, notified[0].ID)
		assert.True(t, notified[0].Items[0].StockReserved, "notified after reservation")
	})

	t.Run("notification failure keeps the order", func(t *testing.T) {
		f := newOrderFixture(t)
		f.orders.WithNotifier(notifierFunc(func(ctx context.Context, o *domain.Order) error {
			return errors.New("smtp: connection refused")
		}))
		_, completion := f.paidCart(t, "cs_n2",
			domain.AddCartItemParams{ProductID: f.tap.ID, SelectedVariantItemIDs: []string{colorBlue, sizeSmall}, Quantity: 1},
		)

		o, err := f.orders.FulfillCheckout(ctx, completion)
		require.NoError(t, err)
		assert.NotEmpty(t, o.ID)
		assert.Equal(t, 4, stockOf(t, f.store, f.tap.ID, keyBlueS))
	})
}

func TestOrderService_GetOrder(t *testing.T) {
	f := newOrderFixture(t)
	_, err := f.orders.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

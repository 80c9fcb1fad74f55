package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dukerupert/brokkr/internal/domain"
)

const orderColumns = `id::text, order_number, checkout_session_id, cart_id, customer_email, status,
	currency, subtotal_cents, total_cents, needs_review, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	if err := row.Scan(&o.ID, &o.OrderNumber, &o.CheckoutSessionID, &o.CartID, &o.CustomerEmail, &status,
		&o.Currency, &o.SubtotalCents, &o.TotalCents, &o.NeedsReview, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	o.Items = []domain.OrderItem{}
	return &o, nil
}

// CreateOrder inserts the order and its items. The unique index on
// checkout_session_id turns a second insert for the same session into
// ErrCheckoutAlreadyProcessed.
func (s *Store) CreateOrder(ctx context.Context, o *domain.Order) error {
	const op = "postgres.create_order"

	itemIDs, err := lineIDs(len(o.Items), func(i int) *string { return &o.Items[i].ID })
	if err != nil {
		return err
	}

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO orders (order_number, checkout_session_id, cart_id, customer_email, status,
			                    currency, subtotal_cents, total_cents, needs_review)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id::text, created_at, updated_at`,
			o.OrderNumber, o.CheckoutSessionID, o.CartID, o.CustomerEmail, string(o.Status),
			o.Currency, o.SubtotalCents, o.TotalCents, o.NeedsReview,
		).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, item := range o.Items {
			batch.Queue(`
				INSERT INTO order_items (id, order_id, product_id, product_name, variant_item_ids, variant_key,
				                         quantity, unit_price, installation_option, installation_price,
				                         stock_reserved, stock_error, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
				itemIDs[i], o.ID, item.ProductID, item.ProductName, nonNil(item.SelectedVariantItemIDs), item.VariantKey,
				item.Quantity, item.UnitPrice, item.InstallationOption, item.InstallationPrice,
				item.StockReserved, item.StockError, i)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		if code, constraint := pgErrorCode(err); code == uniqueViolation && constraint == "orders_checkout_session_id_key" {
			return domain.ErrCheckoutAlreadyProcessed
		}
		return storeErrorKeepDomain(err, op, "failed to create order")
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	oid, err := uuid.Parse(id)
	if err != nil {
		return nil, domain.ErrOrderNotFound
	}
	return s.getOrder(ctx, "postgres.get_order", `SELECT `+orderColumns+` FROM orders WHERE id = $1`, oid)
}

func (s *Store) GetOrderByCheckoutSession(ctx context.Context, sessionID string) (*domain.Order, error) {
	return s.getOrder(ctx, "postgres.get_order_by_session",
		`SELECT `+orderColumns+` FROM orders WHERE checkout_session_id = $1`, sessionID)
}

func (s *Store) getOrder(ctx context.Context, op, query string, arg any) (*domain.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, storeError(err, op, "failed to load order")
	}
	if err := s.loadOrderItems(ctx, []*domain.Order{o}); err != nil {
		return nil, storeError(err, op, "failed to load order items")
	}
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	const op = "postgres.list_orders"

	var needsReview pgtype.Bool
	if filter.NeedsReview != nil {
		needsReview = pgtype.Bool{Bool: *filter.NeedsReview, Valid: true}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE $1::boolean IS NULL OR needs_review = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`,
		needsReview, filter.Limit, filter.Offset)
	if err != nil {
		return nil, storeError(err, op, "failed to list orders")
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, storeError(err, op, "failed to read order")
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(err, op, "failed to list orders")
	}
	if len(orders) == 0 {
		return []domain.Order{}, nil
	}

	ptrs := make([]*domain.Order, len(orders))
	for i := range orders {
		ptrs[i] = &orders[i]
	}
	if err := s.loadOrderItems(ctx, ptrs); err != nil {
		return nil, storeError(err, op, "failed to load order items")
	}
	return orders, nil
}

func (s *Store) loadOrderItems(ctx context.Context, orders []*domain.Order) error {
	byID := make(map[string]*domain.Order, len(orders))
	ids := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		oid, err := uuid.Parse(o.ID)
		if err != nil {
			return err
		}
		byID[o.ID] = o
		ids = append(ids, oid)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT order_id::text, id::text, product_id, product_name, variant_item_ids, variant_key, quantity,
		       unit_price::text, installation_option, installation_price::text, stock_reserved, stock_error
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID           string
			item              domain.OrderItem
			unitPrice         string
			installationPrice string
		)
		if err := rows.Scan(&orderID, &item.ID, &item.ProductID, &item.ProductName, &item.SelectedVariantItemIDs,
			&item.VariantKey, &item.Quantity, &unitPrice, &item.InstallationOption, &installationPrice,
			&item.StockReserved, &item.StockError); err != nil {
			return err
		}
		if item.UnitPrice, err = parseDecimal(unitPrice); err != nil {
			return err
		}
		if item.InstallationPrice, err = parseDecimal(installationPrice); err != nil {
			return err
		}
		item.SelectedVariantItemIDs = nonNil(item.SelectedVariantItemIDs)
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	return rows.Err()
}

// SaveReservations records each item's reservation outcome and the review flag.
func (s *Store) SaveReservations(ctx context.Context, o *domain.Order) error {
	oid, err := uuid.Parse(o.ID)
	if err != nil {
		return domain.ErrOrderNotFound
	}

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE orders SET needs_review = $2, updated_at = now()
			WHERE id = $1
			RETURNING updated_at`, oid, o.NeedsReview).Scan(&o.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrOrderNotFound
		}
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, item := range o.Items {
			iid, err := uuid.Parse(item.ID)
			if err != nil {
				continue
			}
			batch.Queue(`
				UPDATE order_items SET stock_reserved = $3, stock_error = $4
				WHERE id = $1 AND order_id = $2`,
				iid, oid, item.StockReserved, item.StockError)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return storeErrorKeepDomain(err, "postgres.save_reservations", "failed to save reservations")
}

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dukerupert/brokkr/internal/domain"
)

const cartColumns = `id::text, session_id, user_id, status, checkout_session_id, created_at, updated_at`

func scanCart(row pgx.Row) (*domain.Cart, error) {
	var (
		c                 domain.Cart
		userID            pgtype.Text
		status            string
		checkoutSessionID pgtype.Text
	)
	if err := row.Scan(&c.ID, &c.SessionID, &userID, &status, &checkoutSessionID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.UserID = userID.String
	c.CheckoutSessionID = checkoutSessionID.String
	c.Status = domain.CartStatus(status)
	c.Items = []domain.CartItem{}
	return &c, nil
}

func (s *Store) GetCart(ctx context.Context, id string) (*domain.Cart, error) {
	cid, err := uuid.Parse(id)
	if err != nil {
		return nil, domain.ErrCartNotFound
	}
	return s.getCart(ctx, "postgres.get_cart", `SELECT `+cartColumns+` FROM carts WHERE id = $1`, cid)
}

// GetCartBySession returns the most recent active cart of a browser session.
func (s *Store) GetCartBySession(ctx context.Context, sessionID string) (*domain.Cart, error) {
	return s.getCart(ctx, "postgres.get_cart_by_session", `
		SELECT `+cartColumns+` FROM carts
		WHERE session_id = $1 AND status IN ('open', 'checkout_pending')
		ORDER BY updated_at DESC LIMIT 1`, sessionID)
}

func (s *Store) GetCartByUser(ctx context.Context, userID string) (*domain.Cart, error) {
	return s.getCart(ctx, "postgres.get_cart_by_user", `
		SELECT `+cartColumns+` FROM carts
		WHERE user_id = $1 AND status IN ('open', 'checkout_pending')
		ORDER BY updated_at DESC LIMIT 1`, userID)
}

func (s *Store) getCart(ctx context.Context, op, query string, arg any) (*domain.Cart, error) {
	c, err := scanCart(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCartNotFound
		}
		return nil, storeError(err, op, "failed to load cart")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, product_id, product_name, variant_item_ids, variant_key, variant_label,
		       quantity, unit_price::text, installation_option, installation_price::text, image_url
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY position`, c.ID)
	if err != nil {
		return nil, storeError(err, op, "failed to load cart items")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item              domain.CartItem
			unitPrice         string
			installationPrice string
		)
		if err := rows.Scan(&item.ID, &item.ProductID, &item.ProductName, &item.SelectedVariantItemIDs,
			&item.VariantKey, &item.VariantLabel, &item.Quantity, &unitPrice, &item.InstallationOption,
			&installationPrice, &item.ImageURL); err != nil {
			return nil, storeError(err, op, "failed to read cart item")
		}
		if item.UnitPrice, err = parseDecimal(unitPrice); err != nil {
			return nil, storeError(err, op, "failed to read cart item")
		}
		if item.InstallationPrice, err = parseDecimal(installationPrice); err != nil {
			return nil, storeError(err, op, "failed to read cart item")
		}
		item.SelectedVariantItemIDs = nonNil(item.SelectedVariantItemIDs)
		c.Items = append(c.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(err, op, "failed to load cart items")
	}
	return c, nil
}

func (s *Store) CreateCart(ctx context.Context, c *domain.Cart) error {
	if c.Status == "" {
		c.Status = domain.CartStatusOpen
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO carts (session_id, user_id, status)
		VALUES ($1, $2, $3)
		RETURNING id::text, created_at, updated_at`,
		c.SessionID, textOrNull(c.UserID), string(c.Status),
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return storeError(err, "postgres.create_cart", "failed to create cart")
	}
	if len(c.Items) > 0 {
		return s.SaveCart(ctx, c)
	}
	return nil
}

// SaveCart writes the cart row and replaces its lines in one transaction.
// The row update only matches while the stored cart is open, so a cart
// frozen for checkout cannot be overwritten by an edit that read it earlier.
func (s *Store) SaveCart(ctx context.Context, c *domain.Cart) error {
	const op = "postgres.save_cart"

	cid, err := uuid.Parse(c.ID)
	if err != nil {
		return domain.ErrCartNotFound
	}
	itemIDs, err := lineIDs(len(c.Items), func(i int) *string { return &c.Items[i].ID })
	if err != nil {
		return err
	}

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE carts SET user_id = $2, status = $3, updated_at = now()
			WHERE id = $1 AND status = 'open'
			RETURNING updated_at`,
			cid, textOrNull(c.UserID), string(c.Status),
		).Scan(&c.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return missingOrClosed(ctx, tx, cid)
		}
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM cart_items WHERE cart_id = $1`, cid)
		for i, item := range c.Items {
			batch.Queue(`
				INSERT INTO cart_items (id, cart_id, product_id, product_name, variant_item_ids, variant_key,
				                        variant_label, quantity, unit_price, installation_option, installation_price,
				                        image_url, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
				itemIDs[i], cid, item.ProductID, item.ProductName, nonNil(item.SelectedVariantItemIDs), item.VariantKey,
				item.VariantLabel, item.Quantity, item.UnitPrice, item.InstallationOption, item.InstallationPrice,
				item.ImageURL, i)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return storeErrorKeepDomain(err, op, "failed to save cart")
}

func missingOrClosed(ctx context.Context, db DBTX, cid uuid.UUID) error {
	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM carts WHERE id = $1)`, cid).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrCartNotFound
	}
	return domain.ErrCartNotOpen
}

// TransitionCart is a single conditional UPDATE on the cart row.
func (s *Store) TransitionCart(ctx context.Context, t domain.CartTransition) error {
	const op = "postgres.transition_cart"

	cid, err := uuid.Parse(t.CartID)
	if err != nil {
		return domain.ErrCartNotFound
	}
	var unchangedSince pgtype.Timestamptz
	if !t.UnchangedSince.IsZero() {
		unchangedSince = pgtype.Timestamptz{Time: t.UnchangedSince, Valid: true}
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE carts SET status = $3, checkout_session_id = $4, updated_at = now()
		WHERE id = $1 AND status = $2 AND ($5::timestamptz IS NULL OR updated_at = $5)`,
		cid, string(t.From), string(t.To), textOrNull(t.CheckoutSessionID), unchangedSince)
	if err != nil {
		return storeError(err, op, "failed to update cart status")
	}
	if tag.RowsAffected() == 0 {
		err := missingOrClosed(ctx, s.pool, cid)
		if errors.Is(err, domain.ErrCartNotOpen) {
			return domain.ErrCartChanged
		}
		return storeErrorKeepDomain(err, op, "failed to update cart status")
	}
	return nil
}

func (s *Store) DeleteAbandonedCarts(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM carts
		WHERE status IN ('open', 'merged') AND updated_at < $1`, before)
	if err != nil {
		return 0, storeError(err, "postgres.delete_abandoned_carts", "failed to delete abandoned carts")
	}
	return tag.RowsAffected(), nil
}

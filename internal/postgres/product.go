package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dukerupert/brokkr/internal/domain"
)

const productColumns = `id::text, name, base_price::text, offer_percentage::text, variants,
	installation_service, sub_category_ids, specifications, created_at, updated_at`

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var (
		p              domain.Product
		basePrice      string
		offer          pgtype.Text
		variants       []byte
		installation   []byte
		specifications []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &basePrice, &offer, &variants,
		&installation, &p.SubCategoryIDs, &specifications, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if p.BasePrice, err = parseDecimal(basePrice); err != nil {
		return nil, err
	}
	if p.OfferPercentage, err = parseNullDecimal(offer); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(variants, &p.Variants); err != nil {
		return nil, fmt.Errorf("decode variants: %w", err)
	}
	if len(installation) > 0 && string(installation) != "null" {
		p.InstallationService = &domain.InstallationService{}
		if err := json.Unmarshal(installation, p.InstallationService); err != nil {
			return nil, fmt.Errorf("decode installation service: %w", err)
		}
	}
	if err := json.Unmarshal(specifications, &p.Specifications); err != nil {
		return nil, fmt.Errorf("decode specifications: %w", err)
	}

	p.Variants = nonNil(p.Variants)
	p.SubCategoryIDs = nonNil(p.SubCategoryIDs)
	p.Specifications = nonNil(p.Specifications)
	p.Images = []domain.ProductImage{}
	p.VariantStock = []domain.VariantStock{}
	return &p, nil
}

// productDocs encodes the JSONB columns of p.
func productDocs(p *domain.Product) (variants, installation, specifications []byte, err error) {
	if variants, err = json.Marshal(nonNil(p.Variants)); err != nil {
		return nil, nil, nil, err
	}
	if p.InstallationService != nil {
		if installation, err = json.Marshal(p.InstallationService); err != nil {
			return nil, nil, nil, err
		}
	}
	if specifications, err = json.Marshal(nonNil(p.Specifications)); err != nil {
		return nil, nil, nil, err
	}
	return variants, installation, specifications, nil
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	const op = "postgres.list_products"

	rows, err := s.pool.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE $1 = '' OR $1 = ANY(sub_category_ids)
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`,
		filter.SubCategoryID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, storeError(err, op, "failed to list products")
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, storeError(err, op, "failed to read product")
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(err, op, "failed to list products")
	}
	if len(products) == 0 {
		return []domain.Product{}, nil
	}

	ptrs := make([]*domain.Product, len(products))
	for i := range products {
		ptrs[i] = &products[i]
	}
	if err := s.loadProductChildren(ctx, s.pool, ptrs); err != nil {
		return nil, storeError(err, op, "failed to load product details")
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	const op = "postgres.get_product"

	pid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	p, err := scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, pid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProductNotFound
		}
		return nil, storeError(err, op, "failed to load product")
	}
	if err := s.loadProductChildren(ctx, s.pool, []*domain.Product{p}); err != nil {
		return nil, storeError(err, op, "failed to load product details")
	}
	return p, nil
}

// loadProductChildren fills images and ledger entries for products in two queries.
func (s *Store) loadProductChildren(ctx context.Context, db DBTX, products []*domain.Product) error {
	byID := make(map[string]*domain.Product, len(products))
	ids := make([]uuid.UUID, 0, len(products))
	for _, p := range products {
		pid, err := parseID(p.ID)
		if err != nil {
			return err
		}
		byID[p.ID] = p
		ids = append(ids, pid)
	}

	rows, err := db.Query(ctx, `
		SELECT product_id::text, id::text, url, mapped_variants, sort_order
		FROM product_images
		WHERE product_id = ANY($1::uuid[])
		ORDER BY sort_order, id`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var (
			productID string
			img       domain.ProductImage
		)
		if err := rows.Scan(&productID, &img.ID, &img.URL, &img.MappedVariants, &img.SortOrder); err != nil {
			rows.Close()
			return err
		}
		img.MappedVariants = nonNil(img.MappedVariants)
		if p, ok := byID[productID]; ok {
			p.Images = append(p.Images, img)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = db.Query(ctx, `
		SELECT product_id::text, combination_key, stock_count, price::text, price_delta::text
		FROM product_variant_stock
		WHERE product_id = ANY($1::uuid[])
		ORDER BY position, combination_key`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			productID string
			entry     domain.VariantStock
			price     pgtype.Text
			delta     pgtype.Text
		)
		if err := rows.Scan(&productID, &entry.VariantCombinationKey, &entry.StockCount, &price, &delta); err != nil {
			return err
		}
		if entry.Price, err = parseNullDecimal(price); err != nil {
			return err
		}
		if entry.PriceDelta, err = parseNullDecimal(delta); err != nil {
			return err
		}
		if p, ok := byID[productID]; ok {
			p.VariantStock = append(p.VariantStock, entry)
		}
	}
	return rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, p *domain.Product) error {
	const op = "postgres.create_product"

	variants, installation, specifications, err := productDocs(p)
	if err != nil {
		return domain.Internal(err, op, "failed to encode product")
	}

	// The ledger goes in with the product: a product stored without its
	// entries would read as untracked, unlimited stock.
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `
			INSERT INTO products (name, base_price, offer_percentage, variants, installation_service, sub_category_ids, specifications)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id::text, created_at, updated_at`,
			p.Name, p.BasePrice, p.OfferPercentage, variants, installation, nonNil(p.SubCategoryIDs), specifications,
		).Scan(&id, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return err
		}
		if len(p.VariantStock) > 0 {
			pid, err := uuid.Parse(id)
			if err != nil {
				return err
			}
			batch := &pgx.Batch{}
			queueStockRows(batch, pid, p.VariantStock)
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return err
			}
		}
		p.ID = id
		return nil
	})
	if err != nil {
		return storeError(err, op, "failed to insert product")
	}
	return nil
}

// UpdateProduct writes catalog fields only. Images and the ledger are
// changed through their own methods.
func (s *Store) UpdateProduct(ctx context.Context, p *domain.Product) error {
	const op = "postgres.update_product"

	pid, err := parseID(p.ID)
	if err != nil {
		return err
	}
	variants, installation, specifications, err := productDocs(p)
	if err != nil {
		return domain.Internal(err, op, "failed to encode product")
	}

	err = s.pool.QueryRow(ctx, `
		UPDATE products
		SET name = $2, base_price = $3, offer_percentage = $4, variants = $5,
		    installation_service = $6, sub_category_ids = $7, specifications = $8, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		pid, p.Name, p.BasePrice, p.OfferPercentage, variants, installation, nonNil(p.SubCategoryIDs), specifications,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrProductNotFound
		}
		return storeError(err, op, "failed to update product")
	}
	return nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	pid, err := parseID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, pid)
	if err != nil {
		return storeError(err, "postgres.delete_product", "failed to delete product")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

// touchProduct bumps updated_at and reports whether the product exists.
func touchProduct(ctx context.Context, db DBTX, pid uuid.UUID) error {
	var id string
	err := db.QueryRow(ctx, `UPDATE products SET updated_at = now() WHERE id = $1 RETURNING id::text`, pid).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrProductNotFound
	}
	return err
}

func (s *Store) AddImage(ctx context.Context, productID string, img domain.ProductImage) error {
	const op = "postgres.add_image"

	pid, err := parseID(productID)
	if err != nil {
		return err
	}
	iid, err := parseID(img.ID)
	if err != nil {
		return err
	}

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		if err := touchProduct(ctx, tx, pid); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO product_images (id, product_id, url, mapped_variants, sort_order)
			VALUES ($1, $2, $3, $4, $5)`,
			iid, pid, img.URL, nonNil(img.MappedVariants), img.SortOrder)
		return err
	})
	if code, _ := pgErrorCode(err); code == uniqueViolation {
		return domain.Conflict(op, "image already exists")
	}
	return storeErrorKeepDomain(err, op, "failed to add image")
}

func (s *Store) SetImageMappings(ctx context.Context, productID string, mappings map[string][]string) error {
	const op = "postgres.set_image_mappings"

	pid, err := parseID(productID)
	if err != nil {
		return err
	}

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		if err := touchProduct(ctx, tx, pid); err != nil {
			return err
		}
		for imageID, keys := range mappings {
			iid, err := parseID(imageID)
			if err != nil {
				return domain.ErrImageNotFound
			}
			tag, err := tx.Exec(ctx, `
				UPDATE product_images SET mapped_variants = $3
				WHERE id = $1 AND product_id = $2`,
				iid, pid, nonNil(keys))
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return domain.ErrImageNotFound
			}
		}
		return nil
	})
	return storeErrorKeepDomain(err, op, "failed to save image mappings")
}

// ReplaceVariantStock swaps the whole ledger inside one transaction.
func (s *Store) ReplaceVariantStock(ctx context.Context, productID string, entries []domain.VariantStock) error {
	const op = "postgres.replace_variant_stock"

	pid, err := parseID(productID)
	if err != nil {
		return err
	}

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		if err := touchProduct(ctx, tx, pid); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM product_variant_stock WHERE product_id = $1`, pid)
		queueStockRows(batch, pid, entries)
		return tx.SendBatch(ctx, batch).Close()
	})
	return storeErrorKeepDomain(err, op, "failed to replace variant stock")
}

func queueStockRows(batch *pgx.Batch, pid uuid.UUID, entries []domain.VariantStock) {
	for i, entry := range entries {
		batch.Queue(`
			INSERT INTO product_variant_stock (product_id, combination_key, stock_count, price, price_delta, position)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			pid, entry.VariantCombinationKey, entry.StockCount, entry.Price, entry.PriceDelta, i)
	}
}

// RemoveVariantStock deletes only the named rows. Counts on the remaining
// rows are never rewritten, so concurrent decrements are not lost.
func (s *Store) RemoveVariantStock(ctx context.Context, productID string, keys []string) error {
	const op = "postgres.remove_variant_stock"

	pid, err := parseID(productID)
	if err != nil {
		return err
	}

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		if err := touchProduct(ctx, tx, pid); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			DELETE FROM product_variant_stock
			WHERE product_id = $1 AND combination_key = ANY($2)`,
			pid, nonNil(keys))
		return err
	})
	return storeErrorKeepDomain(err, op, "failed to remove variant stock")
}

// DecrementVariantStock is a single guarded UPDATE: the row only changes
// when it still holds at least quantity units, and the product's
// updated_at moves in the same statement. Concurrent callers serialize on
// the row lock, so the count can never go negative.
func (s *Store) DecrementVariantStock(ctx context.Context, productID, key string, quantity int) (bool, error) {
	pid, err := parseID(productID)
	if err != nil {
		return false, err
	}

	var id string
	err = s.pool.QueryRow(ctx, `
		WITH dec AS (
			UPDATE product_variant_stock
			SET stock_count = stock_count - $3
			WHERE product_id = $1 AND combination_key = $2 AND stock_count >= $3
			RETURNING product_id
		)
		UPDATE products SET updated_at = now()
		WHERE id IN (SELECT product_id FROM dec)
		RETURNING id::text`,
		pid, key, quantity).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeError(err, "postgres.decrement_variant_stock", "failed to decrement stock")
	}
	return true, nil
}

// storeErrorKeepDomain returns domain errors raised inside a transaction
// unchanged and maps everything else with storeError.
func storeErrorKeepDomain(err error, op, message string) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if code, _ := pgErrorCode(err); code == foreignKeyViolation {
		return domain.ErrProductNotFound
	}
	return storeError(err, op, message)
}

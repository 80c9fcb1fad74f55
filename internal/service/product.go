package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/brokkr/internal/domain"
	"github.com/dukerupert/brokkr/internal/storage"
	"github.com/dukerupert/brokkr/internal/telemetry"
)

// ProductService manages the catalog and keeps the stock ledger consistent
// with each product's variant declaration.
type ProductService struct {
	products        domain.ProductStore
	files           storage.Storage
	maxCombinations int
	logger          *slog.Logger
}

var _ domain.ProductService = (*ProductService)(nil)

// NewProductService creates a ProductService. files may be nil, in which
// case image uploads are refused and only URL images are accepted.
func NewProductService(products domain.ProductStore, files storage.Storage, maxCombinations int, logger *slog.Logger) *ProductService {
	if maxCombinations <= 0 {
		maxCombinations = domain.DefaultMaxVariantCombinations
	}
	return &ProductService{
		products:        products,
		files:           files,
		maxCombinations: maxCombinations,
		logger:          logger,
	}
}

func (s *ProductService) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	products, err := s.products.ListProducts(ctx, filter)
	if err != nil {
		return nil, domain.Passthrough(err, "product.list", "failed to list products")
	}
	return products, nil
}

func (s *ProductService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return nil, domain.Passthrough(err, "product.get", "failed to load product")
	}
	return p, nil
}

func (s *ProductService) CreateProduct(ctx context.Context, input domain.ProductInput) (*domain.Product, error) {
	const op = "product.create"

	p := &domain.Product{}
	if err := s.apply(op, p, input); err != nil {
		return nil, err
	}
	p.VariantStock = slices.Clone(input.VariantStock)
	if err := p.ValidateVariantStock(op); err != nil {
		return nil, err
	}

	if err := s.products.CreateProduct(ctx, p); err != nil {
		return nil, domain.Passthrough(err, op, "failed to save product")
	}

	s.logger.InfoContext(ctx, "product created",
		"product_id", p.ID,
		"variant_types", len(p.Variants),
		"ledger_entries", len(p.VariantStock),
	)
	return s.GetProduct(ctx, p.ID)
}

// UpdateProduct replaces catalog fields. When the new variant declaration
// orphans ledger entries, only those entries are removed; the counts of the
// others are left to the store so concurrent reservations are kept. A
// ledger sent with the input replaces the stored one.
func (s *ProductService) UpdateProduct(ctx context.Context, id string, input domain.ProductInput) (*domain.Product, error) {
	const op = "product.update"

	p, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return nil, domain.Passthrough(err, op, "failed to load product")
	}
	if err := s.apply(op, p, input); err != nil {
		return nil, err
	}

	var orphaned []string
	if input.VariantStock != nil {
		check := *p
		check.VariantStock = slices.Clone(input.VariantStock)
		if err := check.ValidateVariantStock(op); err != nil {
			return nil, err
		}
	} else {
		orphaned = s.orphanedKeys(p)
	}

	if err := s.products.UpdateProduct(ctx, p); err != nil {
		return nil, domain.Passthrough(err, op, "failed to save product")
	}

	switch {
	case input.VariantStock != nil:
		if err := s.products.ReplaceVariantStock(ctx, id, input.VariantStock); err != nil {
			return nil, domain.Passthrough(err, op, "failed to save variant stock")
		}
	case len(orphaned) > 0:
		s.logger.InfoContext(ctx, "dropping ledger entries orphaned by variant change",
			"product_id", id,
			"dropped", len(orphaned),
		)
		if err := s.products.RemoveVariantStock(ctx, id, orphaned); err != nil {
			return nil, domain.Passthrough(err, op, "failed to remove orphaned variant stock")
		}
	}
	return s.GetProduct(ctx, id)
}

// orphanedKeys returns the ledger keys of p that no longer fit its variants.
func (s *ProductService) orphanedKeys(p *domain.Product) []string {
	var keys []string
	for _, entry := range p.VariantStock {
		single := *p
		single.VariantStock = []domain.VariantStock{entry}
		if single.ValidateVariantStock("") != nil {
			keys = append(keys, entry.VariantCombinationKey)
		}
	}
	return keys
}

func (s *ProductService) DeleteProduct(ctx context.Context, id string) error {
	if err := s.products.DeleteProduct(ctx, id); err != nil {
		return domain.Passthrough(err, "product.delete", "failed to delete product")
	}
	s.logger.InfoContext(ctx, "product deleted", "product_id", id)
	return nil
}

// apply validates input and copies the catalog fields onto p.
func (s *ProductService) apply(op string, p *domain.Product, input domain.ProductInput) error {
	if err := validateStruct(op, input); err != nil {
		return err
	}

	p.Name = input.Name
	p.BasePrice = input.BasePrice.Round(2)
	p.OfferPercentage = decimal.NullDecimal{}
	if input.OfferPercentage != nil {
		p.OfferPercentage = decimal.NewNullDecimal(*input.OfferPercentage)
	}
	p.Variants = slices.Clone(input.Variants)
	if p.Variants == nil {
		p.Variants = []domain.ProductVariant{}
	}
	p.InstallationService = input.InstallationService
	p.SubCategoryIDs = slices.Clone(input.SubCategoryIDs)
	if p.SubCategoryIDs == nil {
		p.SubCategoryIDs = []string{}
	}
	p.Specifications = slices.Clone(input.Specifications)
	if p.Specifications == nil {
		p.Specifications = []domain.Specification{}
	}

	if err := p.ValidateVariants(op); err != nil {
		return err
	}
	return domain.ValidateCombinationCount(op, p.VariantTypes(), s.maxCombinations)
}

// =============================================================================
// Images
// =============================================================================

// AddImage attaches an image by URL or by upload. Mapped keys must be
// combinations the product can produce.
func (s *ProductService) AddImage(ctx context.Context, productID string, params domain.AddImageParams) (*domain.ProductImage, error) {
	const op = "product.add_image"

	if err := validateStruct(op, params); err != nil {
		return nil, err
	}
	if (params.URL == "") == (params.Upload == nil) {
		return nil, domain.Invalid(op, "provide either an image URL or a file")
	}

	p, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, domain.Passthrough(err, op, "failed to load product")
	}
	if err := checkMappedKeys(op, p, "mappedVariants", params.MappedVariants); err != nil {
		return nil, err
	}

	img := domain.ProductImage{
		ID:             uuid.NewString(),
		URL:            params.URL,
		MappedVariants: slices.Clone(params.MappedVariants),
		SortOrder:      len(p.Images),
	}
	if img.MappedVariants == nil {
		img.MappedVariants = []string{}
	}
	if params.SortOrder != nil {
		img.SortOrder = *params.SortOrder
	}

	var uploadedKey string
	if params.Upload != nil {
		if s.files == nil {
			return nil, domain.Errorf(domain.ENOTIMPL, op, "image uploads are not configured")
		}
		key, err := storage.ImageKey(p.ID, params.Upload.ContentType)
		if err != nil {
			return nil, domain.WrapError(err, domain.EINVALID, op, err.Error())
		}
		url, err := s.files.Put(ctx, key, params.Upload.Body, params.Upload.ContentType)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to store image")
		}
		uploadedKey = key
		img.URL = url
	}

	if err := s.products.AddImage(ctx, p.ID, img); err != nil {
		if uploadedKey != "" {
			if derr := s.files.Delete(ctx, uploadedKey); derr != nil {
				s.logger.WarnContext(ctx, "failed to remove orphaned upload", "key", uploadedKey, "error", derr)
			}
		}
		return nil, domain.Passthrough(err, op, "failed to save image")
	}

	s.logger.InfoContext(ctx, "product image added", "product_id", p.ID, "image_id", img.ID, "uploaded", uploadedKey != "")
	return &img, nil
}

// MapImages assigns images to combination keys. An empty key list makes an
// image apply to every combination again.
func (s *ProductService) MapImages(ctx context.Context, productID string, mappings []domain.ImageMapping) (*domain.Product, error) {
	const op = "product.map_images"

	if len(mappings) == 0 {
		return nil, domain.Invalid(op, "no image mappings given")
	}

	p, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, domain.Passthrough(err, op, "failed to load product")
	}

	byImage := make(map[string][]string, len(mappings))
	for i, m := range mappings {
		if err := validateStruct(op, m); err != nil {
			return nil, err
		}
		if !slices.ContainsFunc(p.Images, func(img domain.ProductImage) bool { return img.ID == m.ImageID }) {
			return nil, domain.ErrImageNotFound
		}
		if err := checkMappedKeys(op, p, fmt.Sprintf("mappings[%d].variantKeys", i), m.VariantKeys); err != nil {
			return nil, err
		}
		keys := slices.Clone(m.VariantKeys)
		if keys == nil {
			keys = []string{}
		}
		byImage[m.ImageID] = keys
	}

	if err := s.products.SetImageMappings(ctx, p.ID, byImage); err != nil {
		return nil, domain.Passthrough(err, op, "failed to save image mappings")
	}
	return s.GetProduct(ctx, p.ID)
}

func checkMappedKeys(op string, p *domain.Product, field string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	valid := p.CombinationKeys()
	for _, key := range keys {
		if _, ok := valid[key]; !ok {
			return domain.NewValidationError(op, field, "unknown combination key: "+key)
		}
	}
	return nil
}

// =============================================================================
// Combinations and ledger
// =============================================================================

// Combinations expands the product's variants and joins each combination
// with its ledger entry and effective unit price.
func (s *ProductService) Combinations(ctx context.Context, productID string) ([]domain.CombinationStock, error) {
	const op = "product.combinations"

	p, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, domain.Passthrough(err, op, "failed to load product")
	}
	types := p.VariantTypes()
	if err := domain.ValidateCombinationCount(op, types, s.maxCombinations); err != nil {
		return nil, err
	}

	combos := domain.GenerateCombinations(types)
	if telemetry.Business != nil {
		telemetry.Business.Combinations.Observe(float64(len(combos)))
	}

	out := make([]domain.CombinationStock, 0, len(combos))
	for _, c := range combos {
		cs := domain.CombinationStock{
			VariantCombination: c,
			UnitPrice:          domain.UnitPrice(p, c.Key),
		}
		if entry, ok := p.StockEntry(c.Key); ok {
			cs.Tracked = true
			cs.StockCount = entry.StockCount
			cs.Price = entry.Price
			cs.PriceDelta = entry.PriceDelta
		}
		out = append(out, cs)
	}
	return out, nil
}

// SetVariantStock replaces the whole ledger after validating it against
// the variant declaration.
func (s *ProductService) SetVariantStock(ctx context.Context, productID string, entries []domain.VariantStock) (*domain.Product, error) {
	const op = "product.set_stock"

	p, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, domain.Passthrough(err, op, "failed to load product")
	}

	p.VariantStock = slices.Clone(entries)
	if p.VariantStock == nil {
		p.VariantStock = []domain.VariantStock{}
	}
	if err := p.ValidateVariantStock(op); err != nil {
		return nil, err
	}

	if err := s.products.ReplaceVariantStock(ctx, p.ID, p.VariantStock); err != nil {
		return nil, domain.Passthrough(err, op, "failed to save variant stock")
	}

	info := domain.ProductStockInfo(p)
	s.logger.InfoContext(ctx, "variant stock replaced",
		"product_id", p.ID,
		"entries", len(p.VariantStock),
		"total_stock", info.TotalStock,
		"status", info.Status,
	)
	return s.GetProduct(ctx, p.ID)
}

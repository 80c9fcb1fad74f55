package domain

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry together with its variant-level stock ledger.
type Product struct {
	ID                  string               `json:"id"`
	Name                string               `json:"name"`
	BasePrice           decimal.Decimal      `json:"basePrice"`
	OfferPercentage     decimal.NullDecimal  `json:"offerPercentage"`
	Images              []ProductImage       `json:"images"`
	Variants            []ProductVariant     `json:"variants"`
	VariantStock        []VariantStock       `json:"variantStock"`
	InstallationService *InstallationService `json:"installationService,omitempty"`
	SubCategoryIDs      []string             `json:"subCategoryIds"`
	Specifications      []Specification      `json:"specifications"`
	CreatedAt           time.Time            `json:"createdAt"`
	UpdatedAt           time.Time            `json:"updatedAt"`
}

// VariantStock is one ledger entry. A combination without an entry is
// untracked and treated as unlimited.
type VariantStock struct {
	VariantCombinationKey string              `json:"variantCombinationKey" validate:"required"`
	StockCount            int                 `json:"stockCount" validate:"gte=0"`
	Price                 decimal.NullDecimal `json:"price"`
	PriceDelta            decimal.NullDecimal `json:"priceDelta"`
}

// ProductImage is a gallery image. MappedVariants lists the combination keys
// the image depicts; an empty list means it applies to every combination.
type ProductImage struct {
	ID             string   `json:"id"`
	URL            string   `json:"url"`
	MappedVariants []string `json:"mappedVariants"`
	SortOrder      int      `json:"order"`
}

// InstallationService is an optional paid add-on sold with a product.
type InstallationService struct {
	Available   bool            `json:"available"`
	Price       decimal.Decimal `json:"price" validate:"gte=0"`
	Description string          `json:"description,omitempty"`
}

type Specification struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
}

// VariantTypes projects the product's variant selections to the types used
// for combination generation.
func (p *Product) VariantTypes() []VariantType {
	types := make([]VariantType, 0, len(p.Variants))
	for _, v := range p.Variants {
		types = append(types, VariantType{
			ID:    v.VariantTypeID,
			Name:  v.VariantTypeName,
			Items: slices.Clone(v.SelectedItems),
		})
	}
	return types
}

// HasVariants reports whether the product declares any variant types.
func (p *Product) HasVariants() bool {
	return len(p.Variants) > 0
}

// StockEntry returns the ledger entry for key, if the combination is tracked.
func (p *Product) StockEntry(key string) (VariantStock, bool) {
	for _, entry := range p.VariantStock {
		if entry.VariantCombinationKey == key {
			return entry, true
		}
	}
	return VariantStock{}, false
}

// CombinationKeys returns the set of keys the product's variants expand to.
func (p *Product) CombinationKeys() map[string]struct{} {
	keys := make(map[string]struct{})
	for _, c := range GenerateCombinations(p.VariantTypes()) {
		keys[c.Key] = struct{}{}
	}
	return keys
}

// itemTypes maps every declared variant item id to its variant type id.
func (p *Product) itemTypes() map[string]string {
	m := make(map[string]string)
	for _, v := range p.Variants {
		for _, item := range v.SelectedItems {
			m[item.ID] = v.VariantTypeID
		}
	}
	return m
}

// ItemName returns the display name of a declared variant item.
func (p *Product) ItemName(itemID string) (string, bool) {
	for _, v := range p.Variants {
		for _, item := range v.SelectedItems {
			if item.ID == itemID {
				return item.Name, true
			}
		}
	}
	return "", false
}

// VariantLabel renders a combination key for display, e.g. "Red / Large".
func (p *Product) VariantLabel(key string) string {
	ids := SplitVariantKey(key)
	if len(ids) == 0 {
		return ""
	}
	label := ""
	for i, id := range ids {
		name, ok := p.ItemName(id)
		if !ok {
			name = id
		}
		if i > 0 {
			label += " / "
		}
		label += name
	}
	return label
}

// ValidateSelection checks that itemIDs picks exactly one declared item from
// each variant type. A product without variants only accepts an empty selection.
func (p *Product) ValidateSelection(op string, itemIDs []string) error {
	if !p.HasVariants() {
		if len(itemIDs) > 0 {
			return Invalid(op, "product has no variants to select")
		}
		return nil
	}

	types := p.itemTypes()
	seenItems := make(map[string]struct{}, len(itemIDs))
	seenTypes := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		if _, dup := seenItems[id]; dup {
			return Errorf(EINVALID, op, "variant item %s selected more than once", id)
		}
		seenItems[id] = struct{}{}

		typeID, ok := types[id]
		if !ok {
			return Errorf(EINVALID, op, "unknown variant item: %s", id)
		}
		if _, dup := seenTypes[typeID]; dup {
			return Errorf(EINVALID, op, "more than one item selected for variant type %s", typeID)
		}
		seenTypes[typeID] = struct{}{}
	}
	if len(seenTypes) != len(p.Variants) {
		return Invalid(op, "one item must be selected for every variant type")
	}
	return nil
}

// ValidateVariants checks the structural rules of the variant declaration:
// unique type ids and unique item ids across the whole product.
func (p *Product) ValidateVariants(op string) error {
	var err error
	typeIDs := make(map[string]struct{})
	itemIDs := make(map[string]struct{})
	for i, v := range p.Variants {
		if _, dup := typeIDs[v.VariantTypeID]; dup {
			err = AddFieldError(err, fmt.Sprintf("variants[%d].variantTypeId", i), "duplicate variant type")
		}
		typeIDs[v.VariantTypeID] = struct{}{}
		for j, item := range v.SelectedItems {
			if _, dup := itemIDs[item.ID]; dup {
				err = AddFieldError(err, fmt.Sprintf("variants[%d].selectedItems[%d].id", i, j), "duplicate variant item")
			}
			itemIDs[item.ID] = struct{}{}
		}
	}
	if ve, ok := err.(*ValidationError); ok {
		ve.Op = op
	}
	return err
}

// ValidateVariantStock checks every ledger entry against the variant
// declaration. A key must be the default key for products without variants,
// or a canonical key drawn from declared items with at most one item per
// type. Counts must be non-negative, absolute prices non-negative, and keys
// unique within the ledger.
func (p *Product) ValidateVariantStock(op string) error {
	types := p.itemTypes()
	seen := make(map[string]struct{}, len(p.VariantStock))
	var err error

	for i, entry := range p.VariantStock {
		field := fmt.Sprintf("variantStock[%d]", i)
		key := entry.VariantCombinationKey

		if _, dup := seen[key]; dup {
			err = AddFieldError(err, field+".variantCombinationKey", "duplicate combination key")
		}
		seen[key] = struct{}{}

		if msg := p.checkKey(key, types); msg != "" {
			err = AddFieldError(err, field+".variantCombinationKey", msg)
		}
		if entry.StockCount < 0 {
			err = AddFieldError(err, field+".stockCount", "must be zero or greater")
		}
		if entry.Price.Valid && entry.Price.Decimal.IsNegative() {
			err = AddFieldError(err, field+".price", "must be zero or greater")
		}
	}

	if ve, ok := err.(*ValidationError); ok {
		ve.Op = op
	}
	return err
}

func (p *Product) checkKey(key string, types map[string]string) string {
	if !p.HasVariants() {
		if key != DefaultVariantKey {
			return "product without variants only accepts the default key"
		}
		return ""
	}
	if key == DefaultVariantKey || key == "" {
		return "key must name variant items"
	}
	ids := SplitVariantKey(key)
	if VariantKey(ids) != key {
		return "key is not in canonical order"
	}
	usedTypes := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			return "key repeats a variant item"
		}
		typeID, ok := types[id]
		if !ok {
			return "unknown variant item: " + id
		}
		if _, dup := usedTypes[typeID]; dup {
			return "key uses more than one item of a variant type"
		}
		usedTypes[typeID] = struct{}{}
	}
	return ""
}

// ImagesFor returns the gallery images for a combination: images mapped to
// the key plus images mapped to nothing, ordered by SortOrder.
func (p *Product) ImagesFor(key string) []ProductImage {
	out := make([]ProductImage, 0, len(p.Images))
	for _, img := range p.Images {
		if len(img.MappedVariants) == 0 || slices.Contains(img.MappedVariants, key) {
			out = append(out, img)
		}
	}
	slices.SortStableFunc(out, func(a, b ProductImage) int { return a.SortOrder - b.SortOrder })
	return out
}

// =============================================================================
// Store
// =============================================================================

// ProductFilter narrows catalog listings.
type ProductFilter struct {
	SubCategoryID string
	Limit         int
	Offset        int
}

// ProductStore persists products, their images and their stock ledgers.
// Implementations return ErrProductNotFound for missing products and
// ErrInvalidID for ids they cannot parse.
type ProductStore interface {
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
	GetProduct(ctx context.Context, id string) (*Product, error)

	// CreateProduct stores p together with its stock ledger in one step and
	// assigns ID and timestamps on p.
	CreateProduct(ctx context.Context, p *Product) error

	// UpdateProduct replaces catalog fields. Images and the stock ledger are
	// left untouched.
	UpdateProduct(ctx context.Context, p *Product) error
	DeleteProduct(ctx context.Context, id string) error

	AddImage(ctx context.Context, productID string, img ProductImage) error

	// SetImageMappings replaces MappedVariants for each image id in mappings.
	SetImageMappings(ctx context.Context, productID string, mappings map[string][]string) error

	// ReplaceVariantStock swaps the whole ledger in one step.
	ReplaceVariantStock(ctx context.Context, productID string, entries []VariantStock) error

	// RemoveVariantStock deletes the ledger entries for keys and leaves the
	// counts of every other entry as they are. Unknown keys are ignored.
	RemoveVariantStock(ctx context.Context, productID string, keys []string) error

	// DecrementVariantStock subtracts quantity from the entry for key if and
	// only if the entry exists and holds at least quantity, as one atomic
	// step. It reports whether the decrement happened. A missing product,
	// a missing entry and an insufficient count all report false.
	DecrementVariantStock(ctx context.Context, productID, key string, quantity int) (bool, error)
}

// =============================================================================
// Service
// =============================================================================

// ProductInput is the writable part of a product.
type ProductInput struct {
	Name                string               `json:"name" validate:"required,max=200"`
	BasePrice           decimal.Decimal      `json:"basePrice" validate:"gte=0"`
	OfferPercentage     *decimal.Decimal     `json:"offerPercentage,omitempty" validate:"omitempty,gte=0,lte=100"`
	Variants            []ProductVariant     `json:"variants" validate:"dive"`
	VariantStock        []VariantStock       `json:"variantStock" validate:"dive"`
	InstallationService *InstallationService `json:"installationService,omitempty"`
	SubCategoryIDs      []string             `json:"subCategoryIds" validate:"dive,required"`
	Specifications      []Specification      `json:"specifications" validate:"dive"`
}

// ImageUpload is a file sent with an image request.
type ImageUpload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// AddImageParams adds an image either by URL or by uploading a file.
type AddImageParams struct {
	URL            string       `json:"url" validate:"omitempty,url"`
	Upload         *ImageUpload `json:"-"`
	MappedVariants []string     `json:"mappedVariants"`
	SortOrder      *int         `json:"order,omitempty"`
}

// ImageMapping assigns an image to combination keys.
type ImageMapping struct {
	ImageID     string   `json:"imageId" validate:"required"`
	VariantKeys []string `json:"variantKeys"`
}

// CombinationStock is a generated combination joined with its ledger entry.
type CombinationStock struct {
	VariantCombination
	Tracked    bool                `json:"tracked"`
	StockCount int                 `json:"stockCount"`
	Price      decimal.NullDecimal `json:"price"`
	PriceDelta decimal.NullDecimal `json:"priceDelta"`
	UnitPrice  decimal.Decimal     `json:"unitPrice"`
}

// ProductService manages the catalog and the stock ledger contents.
type ProductService interface {
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
	GetProduct(ctx context.Context, id string) (*Product, error)
	CreateProduct(ctx context.Context, input ProductInput) (*Product, error)
	UpdateProduct(ctx context.Context, id string, input ProductInput) (*Product, error)
	DeleteProduct(ctx context.Context, id string) error

	AddImage(ctx context.Context, productID string, params AddImageParams) (*ProductImage, error)
	MapImages(ctx context.Context, productID string, mappings []ImageMapping) (*Product, error)

	Combinations(ctx context.Context, productID string) ([]CombinationStock, error)
	SetVariantStock(ctx context.Context, productID string, entries []VariantStock) (*Product, error)
}

var (
	ErrProductNotFound = &Error{Code: ENOTFOUND, Message: "Product not found"}
	ErrImageNotFound   = &Error{Code: ENOTFOUND, Message: "Image not found"}
	ErrInvalidID       = &Error{Code: EINVALID, Message: "Invalid identifier"}
)

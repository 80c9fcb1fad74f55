package mongodb

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dukerupert/brokkr/internal/domain"
)

// Money is stored as Decimal128 so no digits are lost.

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	out, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("invalid decimal %s: %w", d.String(), err)
	}
	return out, nil
}

func toNullDecimal128(d decimal.NullDecimal) (*primitive.Decimal128, error) {
	if !d.Valid {
		return nil, nil
	}
	out, err := toDecimal128(d.Decimal)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func fromDecimal128(d primitive.Decimal128) (decimal.Decimal, error) {
	out, err := decimal.NewFromString(d.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal128 %s: %w", d.String(), err)
	}
	return out, nil
}

func fromNullDecimal128(d *primitive.Decimal128) (decimal.NullDecimal, error) {
	if d == nil {
		return decimal.NullDecimal{}, nil
	}
	out, err := fromDecimal128(*d)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(out), nil
}

type productDoc struct {
	ID                  primitive.ObjectID      `bson:"_id,omitempty"`
	Name                string                  `bson:"name"`
	BasePrice           primitive.Decimal128    `bson:"basePrice"`
	OfferPercentage     *primitive.Decimal128   `bson:"offerPercentage,omitempty"`
	Images              []imageDoc              `bson:"images"`
	Variants            []domain.ProductVariant `bson:"variants"`
	VariantStock        []stockDoc              `bson:"variantStock"`
	InstallationService *installationDoc        `bson:"installationService,omitempty"`
	SubCategoryIDs      []string                `bson:"subCategoryIds"`
	Specifications      []specificationDoc      `bson:"specifications"`
	CreatedAt           time.Time               `bson:"createdAt"`
	UpdatedAt           time.Time               `bson:"updatedAt"`
}

type imageDoc struct {
	ID             string   `bson:"id"`
	URL            string   `bson:"url"`
	MappedVariants []string `bson:"mappedVariants"`
	SortOrder      int      `bson:"order"`
}

type stockDoc struct {
	VariantCombinationKey string                `bson:"variantCombinationKey"`
	StockCount            int                   `bson:"stockCount"`
	Price                 *primitive.Decimal128 `bson:"price,omitempty"`
	PriceDelta            *primitive.Decimal128 `bson:"priceDelta,omitempty"`
}

type installationDoc struct {
	Available   bool                 `bson:"available"`
	Price       primitive.Decimal128 `bson:"price"`
	Description string               `bson:"description,omitempty"`
}

type specificationDoc struct {
	Name  string `bson:"name"`
	Value string `bson:"value"`
}

func toProductDoc(p *domain.Product) (*productDoc, error) {
	base, err := toDecimal128(p.BasePrice)
	if err != nil {
		return nil, err
	}
	offer, err := toNullDecimal128(p.OfferPercentage)
	if err != nil {
		return nil, err
	}
	stock, err := toStockDocs(p.VariantStock)
	if err != nil {
		return nil, err
	}

	doc := &productDoc{
		Name:            p.Name,
		BasePrice:       base,
		OfferPercentage: offer,
		Images:          toImageDocs(p.Images),
		Variants:        nonNil(p.Variants),
		VariantStock:    stock,
		SubCategoryIDs:  nonNil(p.SubCategoryIDs),
		Specifications:  make([]specificationDoc, 0, len(p.Specifications)),
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
	if p.InstallationService != nil {
		price, err := toDecimal128(p.InstallationService.Price)
		if err != nil {
			return nil, err
		}
		doc.InstallationService = &installationDoc{
			Available:   p.InstallationService.Available,
			Price:       price,
			Description: p.InstallationService.Description,
		}
	}
	for _, spec := range p.Specifications {
		doc.Specifications = append(doc.Specifications, specificationDoc(spec))
	}
	return doc, nil
}

func toImageDocs(images []domain.ProductImage) []imageDoc {
	out := make([]imageDoc, 0, len(images))
	for _, img := range images {
		out = append(out, imageDoc{
			ID:             img.ID,
			URL:            img.URL,
			MappedVariants: nonNil(img.MappedVariants),
			SortOrder:      img.SortOrder,
		})
	}
	return out
}

func toStockDocs(entries []domain.VariantStock) ([]stockDoc, error) {
	out := make([]stockDoc, 0, len(entries))
	for _, entry := range entries {
		price, err := toNullDecimal128(entry.Price)
		if err != nil {
			return nil, err
		}
		delta, err := toNullDecimal128(entry.PriceDelta)
		if err != nil {
			return nil, err
		}
		out = append(out, stockDoc{
			VariantCombinationKey: entry.VariantCombinationKey,
			StockCount:            entry.StockCount,
			Price:                 price,
			PriceDelta:            delta,
		})
	}
	return out, nil
}

func (doc *productDoc) toDomain() (*domain.Product, error) {
	base, err := fromDecimal128(doc.BasePrice)
	if err != nil {
		return nil, err
	}
	offer, err := fromNullDecimal128(doc.OfferPercentage)
	if err != nil {
		return nil, err
	}

	p := &domain.Product{
		ID:              doc.ID.Hex(),
		Name:            doc.Name,
		BasePrice:       base,
		OfferPercentage: offer,
		Images:          make([]domain.ProductImage, 0, len(doc.Images)),
		Variants:        nonNil(doc.Variants),
		VariantStock:    make([]domain.VariantStock, 0, len(doc.VariantStock)),
		SubCategoryIDs:  nonNil(doc.SubCategoryIDs),
		Specifications:  make([]domain.Specification, 0, len(doc.Specifications)),
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
	for _, img := range doc.Images {
		p.Images = append(p.Images, domain.ProductImage{
			ID:             img.ID,
			URL:            img.URL,
			MappedVariants: nonNil(img.MappedVariants),
			SortOrder:      img.SortOrder,
		})
	}
	for _, entry := range doc.VariantStock {
		price, err := fromNullDecimal128(entry.Price)
		if err != nil {
			return nil, err
		}
		delta, err := fromNullDecimal128(entry.PriceDelta)
		if err != nil {
			return nil, err
		}
		p.VariantStock = append(p.VariantStock, domain.VariantStock{
			VariantCombinationKey: entry.VariantCombinationKey,
			StockCount:            entry.StockCount,
			Price:                 price,
			PriceDelta:            delta,
		})
	}
	if doc.InstallationService != nil {
		price, err := fromDecimal128(doc.InstallationService.Price)
		if err != nil {
			return nil, err
		}
		p.InstallationService = &domain.InstallationService{
			Available:   doc.InstallationService.Available,
			Price:       price,
			Description: doc.InstallationService.Description,
		}
	}
	for _, spec := range doc.Specifications {
		p.Specifications = append(p.Specifications, domain.Specification(spec))
	}
	return p, nil
}

type cartDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	SessionID string             `bson:"sessionId"`
	UserID    string             `bson:"userId,omitempty"`
	Status    string             `bson:"status"`
	Items     []cartItemDoc      `bson:"items"`

	CheckoutSessionID string `bson:"checkoutSessionId,omitempty"`

	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

type cartItemDoc struct {
	ID                     string               `bson:"id"`
	ProductID              string               `bson:"productId"`
	ProductName            string               `bson:"productName"`
	SelectedVariantItemIDs []string             `bson:"selectedVariantItemIds"`
	VariantKey             string               `bson:"variantKey"`
	VariantLabel           string               `bson:"variantLabel,omitempty"`
	Quantity               int                  `bson:"quantity"`
	UnitPrice              primitive.Decimal128 `bson:"unitPrice"`
	InstallationOption     bool                 `bson:"installationOption"`
	InstallationPrice      primitive.Decimal128 `bson:"installationPrice"`
	ImageURL               string               `bson:"imageUrl,omitempty"`
}

func toCartItemDocs(items []domain.CartItem) ([]cartItemDoc, error) {
	out := make([]cartItemDoc, 0, len(items))
	for _, item := range items {
		unit, err := toDecimal128(item.UnitPrice)
		if err != nil {
			return nil, err
		}
		install, err := toDecimal128(item.InstallationPrice)
		if err != nil {
			return nil, err
		}
		out = append(out, cartItemDoc{
			ID:                     item.ID,
			ProductID:              item.ProductID,
			ProductName:            item.ProductName,
			SelectedVariantItemIDs: nonNil(item.SelectedVariantItemIDs),
			VariantKey:             item.VariantKey,
			VariantLabel:           item.VariantLabel,
			Quantity:               item.Quantity,
			UnitPrice:              unit,
			InstallationOption:     item.InstallationOption,
			InstallationPrice:      install,
			ImageURL:               item.ImageURL,
		})
	}
	return out, nil
}

func (doc *cartDoc) toDomain() (*domain.Cart, error) {
	c := &domain.Cart{
		ID:        doc.ID.Hex(),
		SessionID: doc.SessionID,
		UserID:    doc.UserID,
		Status:    domain.CartStatus(doc.Status),
		Items:     make([]domain.CartItem, 0, len(doc.Items)),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,

		CheckoutSessionID: doc.CheckoutSessionID,
	}
	for _, item := range doc.Items {
		unit, err := fromDecimal128(item.UnitPrice)
		if err != nil {
			return nil, err
		}
		install, err := fromDecimal128(item.InstallationPrice)
		if err != nil {
			return nil, err
		}
		c.Items = append(c.Items, domain.CartItem{
			ID:                     item.ID,
			ProductID:              item.ProductID,
			ProductName:            item.ProductName,
			SelectedVariantItemIDs: nonNil(item.SelectedVariantItemIDs),
			VariantKey:             item.VariantKey,
			VariantLabel:           item.VariantLabel,
			Quantity:               item.Quantity,
			UnitPrice:              unit,
			InstallationOption:     item.InstallationOption,
			InstallationPrice:      install,
			ImageURL:               item.ImageURL,
		})
	}
	return c, nil
}

type orderDoc struct {
	ID                primitive.ObjectID `bson:"_id,omitempty"`
	OrderNumber       string             `bson:"orderNumber"`
	CheckoutSessionID string             `bson:"checkoutSessionId"`
	CartID            string             `bson:"cartId"`
	CustomerEmail     string             `bson:"customerEmail,omitempty"`
	Status            string             `bson:"status"`
	Currency          string             `bson:"currency"`
	SubtotalCents     int64              `bson:"subtotalCents"`
	TotalCents        int64              `bson:"totalCents"`
	NeedsReview       bool               `bson:"needsReview"`
	Items             []orderItemDoc     `bson:"items"`
	CreatedAt         time.Time          `bson:"createdAt"`
	UpdatedAt         time.Time          `bson:"updatedAt"`
}

type orderItemDoc struct {
	ID                     string               `bson:"id"`
	ProductID              string               `bson:"productId"`
	ProductName            string               `bson:"productName"`
	SelectedVariantItemIDs []string             `bson:"selectedVariantItemIds"`
	VariantKey             string               `bson:"variantKey"`
	Quantity               int                  `bson:"quantity"`
	UnitPrice              primitive.Decimal128 `bson:"unitPrice"`
	InstallationOption     bool                 `bson:"installationOption"`
	InstallationPrice      primitive.Decimal128 `bson:"installationPrice"`
	StockReserved          bool                 `bson:"stockReserved"`
	StockError             string               `bson:"stockError,omitempty"`
}

func toOrderDoc(o *domain.Order) (*orderDoc, error) {
	doc := &orderDoc{
		OrderNumber:       o.OrderNumber,
		CheckoutSessionID: o.CheckoutSessionID,
		CartID:            o.CartID,
		CustomerEmail:     o.CustomerEmail,
		Status:            string(o.Status),
		Currency:          o.Currency,
		SubtotalCents:     o.SubtotalCents,
		TotalCents:        o.TotalCents,
		NeedsReview:       o.NeedsReview,
		Items:             make([]orderItemDoc, 0, len(o.Items)),
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
	for _, item := range o.Items {
		unit, err := toDecimal128(item.UnitPrice)
		if err != nil {
			return nil, err
		}
		install, err := toDecimal128(item.InstallationPrice)
		if err != nil {
			return nil, err
		}
		doc.Items = append(doc.Items, orderItemDoc{
			ID:                     item.ID,
			ProductID:              item.ProductID,
			ProductName:            item.ProductName,
			SelectedVariantItemIDs: nonNil(item.SelectedVariantItemIDs),
			VariantKey:             item.VariantKey,
			Quantity:               item.Quantity,
			UnitPrice:              unit,
			InstallationOption:     item.InstallationOption,
			InstallationPrice:      install,
			StockReserved:          item.StockReserved,
			StockError:             item.StockError,
		})
	}
	return doc, nil
}

func (doc *orderDoc) toDomain() (*domain.Order, error) {
	o := &domain.Order{
		ID:                doc.ID.Hex(),
		OrderNumber:       doc.OrderNumber,
		CheckoutSessionID: doc.CheckoutSessionID,
		CartID:            doc.CartID,
		CustomerEmail:     doc.CustomerEmail,
		Status:            domain.OrderStatus(doc.Status),
		Currency:          doc.Currency,
		SubtotalCents:     doc.SubtotalCents,
		TotalCents:        doc.TotalCents,
		NeedsReview:       doc.NeedsReview,
		Items:             make([]domain.OrderItem, 0, len(doc.Items)),
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
	for _, item := range doc.Items {
		unit, err := fromDecimal128(item.UnitPrice)
		if err != nil {
			return nil, err
		}
		install, err := fromDecimal128(item.InstallationPrice)
		if err != nil {
			return nil, err
		}
		o.Items = append(o.Items, domain.OrderItem{
			ID:                     item.ID,
			ProductID:              item.ProductID,
			ProductName:            item.ProductName,
			SelectedVariantItemIDs: nonNil(item.SelectedVariantItemIDs),
			VariantKey:             item.VariantKey,
			Quantity:               item.Quantity,
			UnitPrice:              unit,
			InstallationOption:     item.InstallationOption,
			InstallationPrice:      install,
			StockReserved:          item.StockReserved,
			StockError:             item.StockError,
		})
	}
	return o, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dukerupert/brokkr/internal/domain"
)

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	const op = "mongodb.list_products"

	query := bson.M{}
	if filter.SubCategoryID != "" {
		query["subCategoryIds"] = filter.SubCategoryID
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	cursor, err := s.products.Find(ctx, query, opts)
	if err != nil {
		return nil, storeError(err, op, "failed to list products")
	}
	var docs []productDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, storeError(err, op, "failed to read products")
	}

	products := make([]domain.Product, 0, len(docs))
	for i := range docs {
		p, err := docs[i].toDomain()
		if err != nil {
			return nil, storeError(err, op, "failed to decode product")
		}
		products = append(products, *p)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	const op = "mongodb.get_product"

	oid, err := parseObjectID(id, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	var doc productDoc
	if err := s.products.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProductNotFound
		}
		return nil, storeError(err, op, "failed to load product")
	}
	p, err := doc.toDomain()
	if err != nil {
		return nil, storeError(err, op, "failed to decode product")
	}
	return p, nil
}

// CreateProduct inserts p with its ledger embedded, in one write.
func (s *Store) CreateProduct(ctx context.Context, p *domain.Product) error {
	const op = "mongodb.create_product"

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	doc, err := toProductDoc(p)
	if err != nil {
		return domain.Internal(err, op, "failed to encode product")
	}

	res, err := s.products.InsertOne(ctx, doc)
	if err != nil {
		return storeError(err, op, "failed to insert product")
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		p.ID = oid.Hex()
	}
	return nil
}

// UpdateProduct sets catalog fields only; images and variantStock are
// changed through their own methods.
func (s *Store) UpdateProduct(ctx context.Context, p *domain.Product) error {
	const op = "mongodb.update_product"

	oid, err := parseObjectID(p.ID, domain.ErrInvalidID)
	if err != nil {
		return err
	}
	doc, err := toProductDoc(p)
	if err != nil {
		return domain.Internal(err, op, "failed to encode product")
	}

	now := time.Now().UTC()
	set := bson.M{
		"name":                doc.Name,
		"basePrice":           doc.BasePrice,
		"variants":            doc.Variants,
		"subCategoryIds":      doc.SubCategoryIDs,
		"specifications":      doc.Specifications,
		"offerPercentage":     doc.OfferPercentage,
		"installationService": doc.InstallationService,
		"updatedAt":           now,
	}

	var updated productDoc
	err = s.products.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"createdAt": 1, "updatedAt": 1}),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ErrProductNotFound
		}
		return storeError(err, op, "failed to update product")
	}
	p.CreatedAt = updated.CreatedAt
	p.UpdatedAt = updated.UpdatedAt
	return nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	oid, err := parseObjectID(id, domain.ErrInvalidID)
	if err != nil {
		return err
	}
	res, err := s.products.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return storeError(err, "mongodb.delete_product", "failed to delete product")
	}
	if res.DeletedCount == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (s *Store) AddImage(ctx context.Context, productID string, img domain.ProductImage) error {
	const op = "mongodb.add_image"

	oid, err := parseObjectID(productID, domain.ErrInvalidID)
	if err != nil {
		return err
	}
	doc := toImageDocs([]domain.ProductImage{img})[0]

	// The filter refuses a second image with the same id.
	res, err := s.products.UpdateOne(ctx,
		bson.M{"_id": oid, "images.id": bson.M{"$ne": img.ID}},
		bson.M{
			"$push": bson.M{"images": doc},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		})
	if err != nil {
		return storeError(err, op, "failed to add image")
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetProduct(ctx, productID); err != nil {
			return err
		}
		return domain.Conflict(op, "image already exists")
	}
	return nil
}

func (s *Store) SetImageMappings(ctx context.Context, productID string, mappings map[string][]string) error {
	const op = "mongodb.set_image_mappings"

	p, err := s.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(p.Images))
	for _, img := range p.Images {
		known[img.ID] = struct{}{}
	}
	for imageID := range mappings {
		if _, ok := known[imageID]; !ok {
			return domain.ErrImageNotFound
		}
	}

	oid, _ := parseObjectID(productID, domain.ErrInvalidID)
	now := time.Now().UTC()
	for imageID, keys := range mappings {
		res, err := s.products.UpdateOne(ctx,
			bson.M{"_id": oid, "images.id": imageID},
			bson.M{"$set": bson.M{
				"images.$.mappedVariants": nonNil(keys),
				"updatedAt":               now,
			}})
		if err != nil {
			return storeError(err, op, "failed to save image mapping")
		}
		if res.MatchedCount == 0 {
			return domain.ErrImageNotFound
		}
	}
	return nil
}

// ReplaceVariantStock overwrites the embedded ledger in one update.
func (s *Store) ReplaceVariantStock(ctx context.Context, productID string, entries []domain.VariantStock) error {
	const op = "mongodb.replace_variant_stock"

	oid, err := parseObjectID(productID, domain.ErrInvalidID)
	if err != nil {
		return err
	}
	stock, err := toStockDocs(entries)
	if err != nil {
		return domain.Internal(err, op, "failed to encode variant stock")
	}

	res, err := s.products.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{
		"variantStock": stock,
		"updatedAt":    time.Now().UTC(),
	}})
	if err != nil {
		return storeError(err, op, "failed to replace variant stock")
	}
	if res.MatchedCount == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

// RemoveVariantStock pulls the named entries out of the embedded ledger.
// The other elements are not rewritten, so concurrent $inc updates on
// them survive.
func (s *Store) RemoveVariantStock(ctx context.Context, productID string, keys []string) error {
	oid, err := parseObjectID(productID, domain.ErrInvalidID)
	if err != nil {
		return err
	}

	res, err := s.products.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$pull": bson.M{"variantStock": bson.M{"variantCombinationKey": bson.M{"$in": nonNil(keys)}}},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return storeError(err, "mongodb.remove_variant_stock", "failed to remove variant stock")
	}
	if res.MatchedCount == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

// DecrementVariantStock matches the ledger element and its count in the
// filter, then decrements through the positional operator. MongoDB applies
// the match and the update to the document atomically, so two callers can
// never both take the last units.
func (s *Store) DecrementVariantStock(ctx context.Context, productID, key string, quantity int) (bool, error) {
	oid, err := parseObjectID(productID, domain.ErrInvalidID)
	if err != nil {
		return false, err
	}

	filter := bson.M{
		"_id": oid,
		"variantStock": bson.M{"$elemMatch": bson.M{
			"variantCombinationKey": key,
			"stockCount":            bson.M{"$gte": quantity},
		}},
	}
	update := bson.M{
		"$inc": bson.M{"variantStock.$.stockCount": -quantity},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}
	res, err := s.products.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, storeError(err, "mongodb.decrement_variant_stock", "failed to decrement stock")
	}
	return res.MatchedCount == 1, nil
}

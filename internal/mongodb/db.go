// Package mongodb stores products, carts and orders as MongoDB documents.
// A product document embeds its images and its stock ledger, so every
// ledger change is a single-document update.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/dukerupert/brokkr/internal/domain"
)

const (
	productsCollection = "products"
	cartsCollection    = "carts"
	ordersCollection   = "orders"

	checkoutSessionIndex = "orders_checkout_session_unique"
)

// Store implements the product, cart and order stores on one database.
type Store struct {
	db       *mongo.Database
	products *mongo.Collection
	carts    *mongo.Collection
	orders   *mongo.Collection
}

var (
	_ domain.ProductStore = (*Store)(nil)
	_ domain.CartStore    = (*Store)(nil)
	_ domain.OrderStore   = (*Store)(nil)
)

func NewStore(db *mongo.Database) *Store {
	return &Store{
		db:       db,
		products: db.Collection(productsCollection),
		carts:    db.Collection(cartsCollection),
		orders:   db.Collection(ordersCollection),
	}
}

// Connect opens a client and verifies it against the primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb ping failed: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the indexes the stores rely on. It is safe to call
// on every start.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.products.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "subCategoryIds", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create product indexes: %w", err)
	}

	_, err = s.carts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sessionId", Value: 1}, {Key: "status", Value: 1}, {Key: "updatedAt", Value: -1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "status", Value: 1}, {Key: "updatedAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create cart indexes: %w", err)
	}

	_, err = s.orders.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "checkoutSessionId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(checkoutSessionIndex),
		},
		{
			Keys:    bson.D{{Key: "orderNumber", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "needsReview", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	return nil
}

// Ping reports whether the server answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

func parseObjectID(id string, notFound error) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, notFound
	}
	return oid, nil
}

func isDuplicateOn(err error, index string) bool {
	return mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), index)
}

// storeError keeps domain errors and wraps driver failures as internal.
func storeError(err error, op, message string) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Internal(err, op, message)
}

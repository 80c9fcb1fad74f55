package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dukerupert/brokkr/internal/domain"
)

// CreateOrder inserts the order document. The unique index on
// checkoutSessionId rejects a second order for the same session.
func (s *Store) CreateOrder(ctx context.Context, o *domain.Order) error {
	const op = "mongodb.create_order"

	for i := range o.Items {
		if o.Items[i].ID == "" {
			o.Items[i].ID = uuid.NewString()
		}
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	doc, err := toOrderDoc(o)
	if err != nil {
		return domain.Internal(err, op, "failed to encode order")
	}
	res, err := s.orders.InsertOne(ctx, doc)
	if err != nil {
		if isDuplicateOn(err, checkoutSessionIndex) {
			return domain.ErrCheckoutAlreadyProcessed
		}
		if mongo.IsDuplicateKeyError(err) {
			return domain.Conflict(op, "order number already exists")
		}
		return storeError(err, op, "failed to create order")
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		o.ID = oid.Hex()
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	oid, err := parseObjectID(id, domain.ErrOrderNotFound)
	if err != nil {
		return nil, err
	}
	return s.findOrder(ctx, "mongodb.get_order", bson.M{"_id": oid})
}

func (s *Store) GetOrderByCheckoutSession(ctx context.Context, sessionID string) (*domain.Order, error) {
	return s.findOrder(ctx, "mongodb.get_order_by_session", bson.M{"checkoutSessionId": sessionID})
}

func (s *Store) findOrder(ctx context.Context, op string, filter bson.M) (*domain.Order, error) {
	var doc orderDoc
	if err := s.orders.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, storeError(err, op, "failed to load order")
	}
	o, err := doc.toDomain()
	if err != nil {
		return nil, storeError(err, op, "failed to decode order")
	}
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	const op = "mongodb.list_orders"

	query := bson.M{}
	if filter.NeedsReview != nil {
		query["needsReview"] = *filter.NeedsReview
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	cursor, err := s.orders.Find(ctx, query, opts)
	if err != nil {
		return nil, storeError(err, op, "failed to list orders")
	}
	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, storeError(err, op, "failed to read orders")
	}

	orders := make([]domain.Order, 0, len(docs))
	for i := range docs {
		o, err := docs[i].toDomain()
		if err != nil {
			return nil, storeError(err, op, "failed to decode order")
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

// SaveReservations sets each item's outcome through its array index, found
// by matching the stored item ids.
func (s *Store) SaveReservations(ctx context.Context, o *domain.Order) error {
	const op = "mongodb.save_reservations"

	stored, err := s.GetOrder(ctx, o.ID)
	if err != nil {
		return err
	}
	oid, _ := parseObjectID(o.ID, domain.ErrOrderNotFound)

	now := time.Now().UTC()
	set := bson.M{"needsReview": o.NeedsReview, "updatedAt": now}
	byID := make(map[string]domain.OrderItem, len(o.Items))
	for _, item := range o.Items {
		byID[item.ID] = item
	}
	for i, existing := range stored.Items {
		item, ok := byID[existing.ID]
		if !ok {
			continue
		}
		set[fmt.Sprintf("items.%d.stockReserved", i)] = item.StockReserved
		set[fmt.Sprintf("items.%d.stockError", i)] = item.StockError
	}

	res, err := s.orders.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return storeError(err, op, "failed to save reservations")
	}
	if res.MatchedCount == 0 {
		return domain.ErrOrderNotFound
	}
	o.UpdatedAt = now
	return nil
}

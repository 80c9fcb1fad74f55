package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dukerupert/brokkr/internal/domain"
)

func (s *Store) GetCart(ctx context.Context, id string) (*domain.Cart, error) {
	oid, err := parseObjectID(id, domain.ErrCartNotFound)
	if err != nil {
		return nil, err
	}
	return s.findCart(ctx, "mongodb.get_cart", bson.M{"_id": oid})
}

// activeStatuses matches carts that still belong to their session.
var activeStatuses = bson.M{"$in": bson.A{
	string(domain.CartStatusOpen),
	string(domain.CartStatusCheckoutPending),
}}

// GetCartBySession returns the most recently updated active cart of a session.
func (s *Store) GetCartBySession(ctx context.Context, sessionID string) (*domain.Cart, error) {
	return s.findCart(ctx, "mongodb.get_cart_by_session",
		bson.M{"sessionId": sessionID, "status": activeStatuses})
}

func (s *Store) GetCartByUser(ctx context.Context, userID string) (*domain.Cart, error) {
	return s.findCart(ctx, "mongodb.get_cart_by_user",
		bson.M{"userId": userID, "status": activeStatuses})
}

func (s *Store) findCart(ctx context.Context, op string, filter bson.M) (*domain.Cart, error) {
	var doc cartDoc
	err := s.carts.FindOne(ctx, filter,
		options.FindOne().SetSort(bson.D{{Key: "updatedAt", Value: -1}}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrCartNotFound
		}
		return nil, storeError(err, op, "failed to load cart")
	}
	c, err := doc.toDomain()
	if err != nil {
		return nil, storeError(err, op, "failed to decode cart")
	}
	return c, nil
}

func (s *Store) CreateCart(ctx context.Context, c *domain.Cart) error {
	const op = "mongodb.create_cart"

	if c.Status == "" {
		c.Status = domain.CartStatusOpen
	}
	assignCartItemIDs(c)
	items, err := toCartItemDocs(c.Items)
	if err != nil {
		return domain.Internal(err, op, "failed to encode cart")
	}

	now := cartClock()
	res, err := s.carts.InsertOne(ctx, cartDoc{
		SessionID: c.SessionID,
		UserID:    c.UserID,
		Status:    string(c.Status),
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return storeError(err, op, "failed to create cart")
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		c.ID = oid.Hex()
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

// SaveCart overwrites owner, status and the whole item list in one update.
// The filter only matches an open cart.
func (s *Store) SaveCart(ctx context.Context, c *domain.Cart) error {
	const op = "mongodb.save_cart"

	oid, err := parseObjectID(c.ID, domain.ErrCartNotFound)
	if err != nil {
		return err
	}
	assignCartItemIDs(c)
	items, err := toCartItemDocs(c.Items)
	if err != nil {
		return domain.Internal(err, op, "failed to encode cart")
	}

	now := cartClock()
	filter := bson.M{"_id": oid, "status": string(domain.CartStatusOpen)}
	res, err := s.carts.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"userId":    c.UserID,
		"status":    string(c.Status),
		"items":     items,
		"updatedAt": now,
	}})
	if err != nil {
		return storeError(err, op, "failed to save cart")
	}
	if res.MatchedCount == 0 {
		return s.missingOrClosed(ctx, op, oid)
	}
	c.UpdatedAt = now
	return nil
}

func (s *Store) missingOrClosed(ctx context.Context, op string, oid primitive.ObjectID) error {
	n, err := s.carts.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return storeError(err, op, "failed to load cart")
	}
	if n == 0 {
		return domain.ErrCartNotFound
	}
	return domain.ErrCartNotOpen
}

// TransitionCart guards on status, and optionally updatedAt, in the update
// filter, so the check and the write are one atomic document update.
func (s *Store) TransitionCart(ctx context.Context, t domain.CartTransition) error {
	const op = "mongodb.transition_cart"

	oid, err := parseObjectID(t.CartID, domain.ErrCartNotFound)
	if err != nil {
		return err
	}
	filter := bson.M{"_id": oid, "status": string(t.From)}
	if !t.UnchangedSince.IsZero() {
		filter["updatedAt"] = t.UnchangedSince.UTC()
	}

	set := bson.M{
		"status":    string(t.To),
		"updatedAt": cartClock(),
	}
	update := bson.M{"$set": set}
	if t.CheckoutSessionID != "" {
		set["checkoutSessionId"] = t.CheckoutSessionID
	} else {
		update["$unset"] = bson.M{"checkoutSessionId": ""}
	}

	res, err := s.carts.UpdateOne(ctx, filter, update)
	if err != nil {
		return storeError(err, op, "failed to update cart status")
	}
	if res.MatchedCount == 0 {
		if err := s.missingOrClosed(ctx, op, oid); !errors.Is(err, domain.ErrCartNotOpen) {
			return err
		}
		return domain.ErrCartChanged
	}
	return nil
}

// cartClock matches the millisecond precision BSON stores, so an UpdatedAt
// handed back to callers can guard a later TransitionCart.
func cartClock() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func assignCartItemIDs(c *domain.Cart) {
	for i := range c.Items {
		if c.Items[i].ID == "" {
			c.Items[i].ID = uuid.NewString()
		}
	}
}

func (s *Store) DeleteAbandonedCarts(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.carts.DeleteMany(ctx, bson.M{
		"status": bson.M{"$in": bson.A{
			string(domain.CartStatusOpen),
			string(domain.CartStatusMerged),
		}},
		"updatedAt": bson.M{"$lt": before.UTC()},
	})
	if err != nil {
		return 0, storeError(err, "mongodb.delete_abandoned_carts", "failed to delete abandoned carts")
	}
	return res.DeletedCount, nil
}

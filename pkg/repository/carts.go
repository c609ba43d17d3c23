package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type CartStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewCartStore(coll *mongo.Collection) *CartStore {
	return &CartStore{coll: coll, now: time.Now}
}

// Get returns the user's cart, or an empty one if none was created yet.
func (s *CartStore) Get(ctx context.Context, userID string) (*models.Cart, error) {
	var cart models.Cart
	err := s.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&cart)
	if err == mongo.ErrNoDocuments {
		return &models.Cart{UserID: userID, Items: []models.CartItem{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find cart: %w", err)
	}
	if cart.Items == nil {
		cart.Items = []models.CartItem{}
	}
	return &cart, nil
}

// AddItem merges quantity into the line for productID, appending a new line
// (and creating the cart) when there is none.
func (s *CartStore) AddItem(ctx context.Context, userID, productID string, quantity int) error {
	merged, err := s.incrementLine(ctx, userID, productID, quantity)
	if err != nil || merged {
		return err
	}

	filter := bson.M{"_id": userID, "items.productId": bson.M{"$ne": productID}}
	update := bson.M{
		"$push": bson.M{"items": models.CartItem{ProductID: productID, Quantity: quantity}},
		"$set":  bson.M{"updatedAt": s.now()},
	}
	_, err = s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// A concurrent add created the line between our two writes.
		_, err = s.incrementLine(ctx, userID, productID, quantity)
	}
	if err != nil {
		return fmt.Errorf("failed to add cart item: %w", err)
	}
	return nil
}

func (s *CartStore) incrementLine(ctx context.Context, userID, productID string, quantity int) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": userID, "items.productId": productID},
		bson.M{
			"$inc": bson.M{"items.$.quantity": quantity},
			"$set": bson.M{"updatedAt": s.now()},
		},
	)
	if err != nil {
		return false, fmt.Errorf("failed to update cart item: %w", err)
	}
	return res.MatchedCount > 0, nil
}

// Clear empties the cart without deleting it.
func (s *CartStore) Clear(ctx context.Context, userID string) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"items": bson.A{}, "updatedAt": s.now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

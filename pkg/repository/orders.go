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

type OrderStore struct {
	coll *mongo.Collection
}

func NewOrderStore(coll *mongo.Collection) *OrderStore {
	return &OrderStore{coll: coll}
}

func (s *OrderStore) Create(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = newID()
	}
	if _, err := s.coll.InsertOne(ctx, order); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (s *OrderStore) Get(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&order); err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

func (s *OrderStore) ListByUser(ctx context.Context, userID string) ([]models.Order, error) {
	return s.find(ctx, bson.M{"userId": userID})
}

func (s *OrderStore) ListAll(ctx context.Context) ([]models.Order, error) {
	return s.find(ctx, bson.M{})
}

func (s *OrderStore) find(ctx context.Context, filter bson.M) ([]models.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find orders: %w", err)
	}
	defer cursor.Close(ctx)

	orders := []models.Order{}
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}
	return orders, nil
}

// MarkPaid moves the order from pending to paid in one conditional write.
// It returns false, with no error, when the order was not pending, so
// concurrent deliveries of the same payment transition it at most once.
func (s *OrderStore) MarkPaid(ctx context.Context, id, paymentID string, paidAt time.Time) (bool, error) {
	filter := bson.M{"_id": id, "status": models.OrderPending}
	update := bson.M{"$set": bson.M{
		"status":    models.OrderPaid,
		"paymentId": paymentID,
		"paidAt":    paidAt,
	}}

	err := s.coll.FindOneAndUpdate(ctx, filter, update).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to mark order %s paid: %w", id, err)
	}
	return true, nil
}

// SetShipped reports false when no order has the id.
func (s *OrderStore) SetShipped(ctx context.Context, id string, shipped bool, shippedAt *time.Time) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"shipped": shipped, "shippedAt": shippedAt}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to update order %s: %w", id, err)
	}
	return res.MatchedCount > 0, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	productsCollection = "products"
	cartsCollection    = "carts"
	ordersCollection   = "orders"
	usersCollection    = "users"
)

// ErrNotFound is returned by stores when the addressed document does not
// exist. Services translate it into the domain error that fits.
var ErrNotFound = errors.New("document not found")

type MongoRepository struct {
	client   *mongo.Client
	database *mongo.Database
	config   *config.MongoDBConfig
}

// NewMongoRepository connects to MongoDB. opTimeout bounds every operation
// issued through the client; exceeding it yields a driver timeout error.
func NewMongoRepository(cfg *config.MongoDBConfig, opTimeout time.Duration) (*MongoRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := options.Client().ApplyURI(cfg.URI)
	if opTimeout > 0 {
		opts.SetTimeout(opTimeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	return &MongoRepository{
		client:   client,
		database: client.Database(cfg.Database),
		config:   cfg,
	}, nil
}

func (m *MongoRepository) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoRepository) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoRepository) Products() *ProductStore {
	return NewProductStore(m.database.Collection(productsCollection))
}

func (m *MongoRepository) Carts() *CartStore {
	return NewCartStore(m.database.Collection(cartsCollection))
}

func (m *MongoRepository) Orders() *OrderStore {
	return NewOrderStore(m.database.Collection(ordersCollection))
}

func (m *MongoRepository) Users() *UserStore {
	return NewUserStore(m.database.Collection(usersCollection))
}

func (m *MongoRepository) Audit() *AuditStore {
	return NewAuditStore(m.database.Collection(m.config.AuditCollection))
}

// EnsureIndexes creates the indexes the stores rely on. Safe to run on
// every start.
func (m *MongoRepository) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		usersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		ordersCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
		productsCollection: {
			{Keys: bson.D{{Key: "slug", Value: 1}}},
		},
		m.config.AuditCollection: {
			{Keys: bson.D{{Key: "entity_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}

	for coll, models := range indexes {
		if _, err := m.database.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// WithTransaction runs fn inside a multi-document transaction when
// mongodb.transactions is enabled, and plainly otherwise. fn must issue its
// store calls with the context it receives.
func (m *MongoRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !m.config.Transactions {
		return fn(ctx)
	}

	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (m *MongoRepository) Transactional() bool {
	return m.config.Transactions
}

func newID() string {
	return primitive.NewObjectID().Hex()
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

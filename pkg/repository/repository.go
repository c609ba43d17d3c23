package repository

import (
	"context"
	"errors"
	"time"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/models"
)

// ProductRepository is the product catalog. DecrementStock is atomic and
// floors the stock at zero.
type ProductRepository interface {
	List(ctx context.Context) ([]models.Product, error)
	Get(ctx context.Context, id string) (*models.Product, error)
	GetMany(ctx context.Context, ids []string) ([]models.Product, error)
	Create(ctx context.Context, product *models.Product) error
	Update(ctx context.Context, id string, update ProductUpdate) (*models.Product, error)
	Delete(ctx context.Context, id string) error
	DecrementStock(ctx context.Context, id string, quantity int) (bool, error)
}

type CartRepository interface {
	Get(ctx context.Context, userID string) (*models.Cart, error)
	AddItem(ctx context.Context, userID, productID string, quantity int) error
	Clear(ctx context.Context, userID string) error
}

// OrderRepository stores orders. MarkPaid is a compare-and-set on the
// pending status and reports whether this call performed the transition.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	ListByUser(ctx context.Context, userID string) ([]models.Order, error)
	ListAll(ctx context.Context) ([]models.Order, error)
	MarkPaid(ctx context.Context, id, paymentID string, paidAt time.Time) (bool, error)
	SetShipped(ctx context.Context, id string, shipped bool, shippedAt *time.Time) (bool, error)
}

type UserRepository interface {
	Get(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Owners(ctx context.Context, ids []string) (map[string]*models.OrderOwner, error)
	Update(ctx context.Context, id string, update UserUpdate) (*models.User, error)
}

// TxRunner groups store writes so they commit or roll back together.
// Transactional reports whether it actually does; when it does not, fn runs
// as independent writes.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Transactional() bool
}

// ErrDuplicate is returned when a unique index rejects a write.
var ErrDuplicate = errors.New("duplicate document")

// ProductUpdate holds the fields a partial product edit may change; nil
// fields are left untouched.
type ProductUpdate struct {
	Name        *string
	Slug        *string
	Description *string
	Price       *float64
	Stock       *int
	Image       *string
	Category    *string
	Color       *string
	Model       *string
	Weight      *float64
	Width       *float64
	Height      *float64
	Length      *float64
}

type UserUpdate struct {
	Name    *string
	Phone   *string
	Address *string
	Avatar  *string
}

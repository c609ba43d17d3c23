package gateway

import (
	"context"
	"encoding/json"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/auth"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/ledger"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/models"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/service"
)

// Services are the operations the HTTP surface exposes. The implementations
// live in pkg/service.
type Services struct {
	Catalog    Catalog
	Cart       Cart
	Orders     Orders
	Reconciler Reconciler
	Profiles   Profiles
	Shipping   Shipping
	Payments   Payments
}

type TokenVerifier interface {
	Verify(token string) (auth.Caller, error)
}

type Catalog interface {
	List(ctx context.Context) ([]models.Product, error)
	Get(ctx context.Context, id string) (*models.Product, error)
	Create(ctx context.Context, caller auth.Caller, in service.ProductInput) (*models.Product, error)
	Update(ctx context.Context, caller auth.Caller, id string, patch service.ProductPatch) (*models.Product, error)
	Delete(ctx context.Context, caller auth.Caller, id string) error
}

type Cart interface {
	Get(ctx context.Context, caller auth.Caller) ([]service.CartLine, error)
	Add(ctx context.Context, caller auth.Caller, productID string, quantity int) error
}

type Orders interface {
	Build(ctx context.Context, caller auth.Caller, shipping *service.ShippingSelection) (*service.BuildResult, error)
	List(ctx context.Context, caller auth.Caller) ([]models.OrderView, error)
	MarkShipped(ctx context.Context, caller auth.Caller, orderID string, shipped bool) error
}

type Reconciler interface {
	Reconcile(ctx context.Context, n service.Notification) (*service.ReconcileResult, error)
}

type Profiles interface {
	Login(ctx context.Context, email, password string) (*service.LoginResult, error)
	Register(ctx context.Context, in service.Registration) (*models.User, error)
	Get(ctx context.Context, caller auth.Caller) (*models.User, error)
	Update(ctx context.Context, caller auth.Caller, in service.ProfileUpdate) (*models.User, error)
}

type Shipping interface {
	Quote(ctx context.Context, in service.QuoteInput) (json.RawMessage, error)
	Track(ctx context.Context, caller auth.Caller, orderIDs []string) (json.RawMessage, error)
	PurchaseLabel(ctx context.Context, caller auth.Caller, in service.LabelInput) (*service.LabelResult, error)
	Purchases(ctx context.Context, caller auth.Caller, onlyUnreconciled bool) ([]ledger.ShipmentRecord, error)
}

type Payments interface {
	CreatePreference(ctx context.Context, caller auth.Caller, orderID string) (*service.PreferenceResult, error)
}

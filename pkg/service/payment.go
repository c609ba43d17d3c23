package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/apperr"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/auth"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/config"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/mercadopago"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/models"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/repository"
	"go.uber.org/zap"
)

const webhookPath = "/api/webhooks/pagamento"

type PreferenceCreator interface {
	CreatePreference(ctx context.Context, req *mercadopago.PreferenceRequest) (*mercadopago.Preference, error)
}

type PreferenceResult struct {
	InitPoint    string `json:"initPoint"`
	PreferenceID string `json:"preferenceId"`
}

// Payments opens provider checkouts for pending orders.
type Payments struct {
	orders   repository.OrderRepository
	users    repository.UserRepository
	provider PreferenceCreator
	cfg      *config.MercadoPagoConfig
	logger   *zap.Logger
}

func NewPayments(
	orders repository.OrderRepository,
	users repository.UserRepository,
	provider PreferenceCreator,
	cfg *config.MercadoPagoConfig,
	logger *zap.Logger,
) *Payments {
	return &Payments{orders: orders, users: users, provider: provider, cfg: cfg, logger: logger.Named("payments")}
}

// CreatePreference opens a checkout for the order's frozen total. The
// provider echoes the order id back as external_reference in the webhook.
func (p *Payments) CreatePreference(ctx context.Context, caller auth.Caller, orderID string) (*PreferenceResult, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, apperr.ErrInvalidInput.Withf("pedidoId is required")
	}

	backend := strings.TrimRight(p.cfg.BackendPublicURL, "/")
	if backend == "" {
		return nil, apperr.ErrInternal.Withf("backend public url not configured")
	}

	order, err := p.orders.Get(ctx, orderID)
	if err != nil {
		return nil, storeErr(err, apperr.ErrOrderNotFound)
	}
	if order.UserID != caller.ID && !caller.IsAdmin() {
		return nil, apperr.ErrForbidden.Withf("order belongs to another user")
	}
	if order.Status != models.OrderPending {
		return nil, apperr.ErrOrderNotPending
	}

	req := &mercadopago.PreferenceRequest{
		Items: []mercadopago.PreferenceItem{{
			ID:         order.ID,
			Title:      fmt.Sprintf("Pedido #%s", order.ID),
			Quantity:   1,
			UnitPrice:  order.Total,
			CurrencyID: p.cfg.Currency,
		}},
		ExternalReference: order.ID,
		NotificationURL:   backend + webhookPath,
	}

	owners, err := p.users.Owners(ctx, []string{order.UserID})
	if err != nil {
		p.logger.Warn("Failed to load payer email", zap.String("order_id", order.ID), zap.Error(err))
	} else if owner := owners[order.UserID]; owner != nil && owner.Email != "" {
		req.Payer = map[string]string{"email": owner.Email}
	}

	if front := strings.TrimRight(p.cfg.FrontendURL, "/"); front != "" {
		req.AutoReturn = "approved"
		req.BackURLs = map[string]string{
			"success": front + "/sucesso",
			"failure": front + "/falha",
			"pending": front + "/pendente",
		}
	}

	pref, err := p.provider.CreatePreference(ctx, req)
	if err != nil {
		return nil, apperr.From(err)
	}
	if pref.InitPoint == "" {
		return nil, apperr.ErrUpstream.Withf("payment provider returned no checkout link")
	}

	p.logger.Info("Payment preference created",
		zap.String("order_id", order.ID),
		zap.String("preference_id", pref.ID),
		zap.Float64("total", order.Total))

	return &PreferenceResult{InitPoint: pref.InitPoint, PreferenceID: pref.ID}, nil
}

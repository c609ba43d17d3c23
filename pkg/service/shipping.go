package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/apperr"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/auth"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/config"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/events"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/ledger"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/melhorenvio"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/models"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/repository"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/upstream"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Label purchase steps, in order. The wallet is debited by StepCheckout.
const (
	StepCart     = "cart"
	StepCheckout = "checkout"
	StepGenerate = "generate"
	StepPrint    = "print"
)

const recentPurchasesLimit = 50

type ShippingAggregator interface {
	Calculate(ctx context.Context, req *melhorenvio.QuoteRequest) (json.RawMessage, error)
	AddToCart(ctx context.Context, req *melhorenvio.CartRequest) (string, json.RawMessage, error)
	Checkout(ctx context.Context, orderIDs []string) (json.RawMessage, error)
	Generate(ctx context.Context, orderIDs []string) (json.RawMessage, error)
	Print(ctx context.Context, orderIDs []string, public bool) (json.RawMessage, error)
	Tracking(ctx context.Context, orderIDs []string) (json.RawMessage, error)
}

type QuoteInput struct {
	ToPostalCode   string               `json:"toPostalCode"`
	Package        *melhorenvio.Package `json:"package"`
	Items          []models.CartItem    `json:"items"`
	InsuranceValue float64              `json:"insuranceValue"`
	Services       string               `json:"services"`
	Receipt        bool                 `json:"receipt"`
	OwnHand        bool                 `json:"own_hand"`
}

type LabelInput struct {
	ServiceID   ServiceID                 `json:"service_id"`
	AgencyID    *string                   `json:"agency_id"`
	From        melhorenvio.Address       `json:"from"`
	To          melhorenvio.Address       `json:"to"`
	Volumes     []melhorenvio.Package     `json:"volumes"`
	Options     LabelOptions              `json:"options"`
	Products    []melhorenvio.CartProduct `json:"products"`
	PrintPublic *bool                     `json:"printPublic"`
}

type LabelOptions struct {
	InsuranceValue float64              `json:"insurance_value"`
	Receipt        bool                 `json:"receipt"`
	OwnHand        bool                 `json:"own_hand"`
	Reverse        bool                 `json:"reverse"`
	NonCommercial  *bool                `json:"non_commercial"`
	Invoice        *melhorenvio.Invoice `json:"invoice"`
	Platform       string               `json:"platform"`
	Tags           []melhorenvio.Tag    `json:"tags"`
}

type LabelResult struct {
	CarrierOrderID string          `json:"orderId"`
	Checkout       json.RawMessage `json:"checkout"`
	Generate       json.RawMessage `json:"generate"`
	Print          json.RawMessage `json:"print"`
}

type Shipping struct {
	aggregator ShippingAggregator
	products   repository.ProductRepository
	ledger     ledger.Ledger
	publisher  events.Publisher
	cfg        *config.MelhorEnvioConfig
	logger     *zap.Logger
}

func NewShipping(
	aggregator ShippingAggregator,
	products repository.ProductRepository,
	l ledger.Ledger,
	publisher events.Publisher,
	cfg *config.MelhorEnvioConfig,
	logger *zap.Logger,
) *Shipping {
	return &Shipping{
		aggregator: aggregator,
		products:   products,
		ledger:     l,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger.Named("shipping"),
	}
}

// Quote asks the aggregator for carrier options. The package is either
// given explicitly or derived from catalog products: weights and heights
// add up, width and length take the largest item.
func (s *Shipping) Quote(ctx context.Context, in QuoteInput) (json.RawMessage, error) {
	to := digitsOnly(in.ToPostalCode)
	if to == "" {
		return nil, apperr.ErrInvalidInput.Withf("toPostalCode is required")
	}
	from := digitsOnly(s.cfg.FromPostalCode)
	if from == "" {
		return nil, apperr.ErrInternal.Withf("shipping origin postal code not configured")
	}

	pkg, insurance, err := s.quotePackage(ctx, in)
	if err != nil {
		return nil, err
	}

	req := &melhorenvio.QuoteRequest{
		From:    melhorenvio.Address{PostalCode: from},
		To:      melhorenvio.Address{PostalCode: to},
		Package: pkg,
		Options: melhorenvio.QuoteOptions{
			InsuranceValue: insurance,
			Receipt:        in.Receipt,
			OwnHand:        in.OwnHand,
		},
		Services: in.Services,
	}
	return s.aggregator.Calculate(ctx, req)
}

func (s *Shipping) quotePackage(ctx context.Context, in QuoteInput) (melhorenvio.Package, float64, error) {
	if len(in.Items) == 0 {
		p := in.Package
		if p == nil || p.Height <= 0 || p.Width <= 0 || p.Length <= 0 || p.Weight <= 0 {
			return melhorenvio.Package{}, 0, apperr.ErrInvalidInput.Withf("invalid quote parameters: package dimensions are required")
		}
		return *p, math.Max(0, in.InsuranceValue), nil
	}

	ids := make([]string, 0, len(in.Items))
	for _, item := range in.Items {
		if item.Quantity <= 0 {
			return melhorenvio.Package{}, 0, apperr.ErrInvalidInput.Withf("item quantities must be positive")
		}
		ids = append(ids, item.ProductID)
	}
	found, err := s.products.GetMany(ctx, uniqueStrings(ids))
	if err != nil {
		return melhorenvio.Package{}, 0, storeErr(err, nil)
	}
	byID := make(map[string]models.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	var pkg melhorenvio.Package
	var value float64
	for _, item := range in.Items {
		p, ok := byID[item.ProductID]
		if !ok {
			return melhorenvio.Package{}, 0, apperr.ErrProductNotFound.Withf("product %s not found", item.ProductID)
		}
		if !p.HasDimensions() {
			return melhorenvio.Package{}, 0, apperr.ErrInvalidInput.Withf("product %s has no shipping dimensions", p.Name)
		}
		qty := float64(item.Quantity)
		pkg.Weight += *p.Weight * qty
		pkg.Height += *p.Height * qty
		pkg.Width = math.Max(pkg.Width, *p.Width)
		pkg.Length = math.Max(pkg.Length, *p.Length)
		value += toAmount(lineTotal(p.Price, item.Quantity))
	}

	insurance := in.InsuranceValue
	if insurance <= 0 {
		insurance = value
	}
	return pkg, insurance, nil
}

func (s *Shipping) Track(ctx context.Context, caller auth.Caller, orderIDs []string) (json.RawMessage, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if len(orderIDs) == 0 {
		return nil, apperr.ErrInvalidInput.Withf(`"orders" must list at least one label id`)
	}
	return s.aggregator.Tracking(ctx, orderIDs)
}

// PurchaseLabel runs cart -> checkout -> generate -> print against the
// aggregator. Each attempt and step is written to the ledger. A failure
// reports the step, the label id and whether the wallet was already
// debited, in which case someone has to finish or refund it by hand.
func (s *Shipping) PurchaseLabel(ctx context.Context, caller auth.Caller, in LabelInput) (*LabelResult, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if in.ServiceID == "" || in.From.PostalCode == "" || in.To.PostalCode == "" || len(in.Volumes) == 0 {
		return nil, apperr.ErrInvalidInput.Withf("service_id, from.postal_code, to.postal_code and volumes are required")
	}

	saga := &labelSaga{
		shipping: s,
		record: &ledger.ShipmentRecord{
			RequestID:    uuid.NewString(),
			RequestedBy:  caller.ID,
			ServiceID:    string(in.ServiceID),
			ToPostalCode: digitsOnly(in.To.PostalCode),
			Step:         StepCart,
		},
	}
	if err := s.ledger.Begin(ctx, saga.record); err != nil {
		s.logger.Error("Failed to record label purchase start", zap.Error(err))
	}

	printPublic := in.PrintPublic == nil || *in.PrintPublic
	result := &LabelResult{}

	id, _, err := s.aggregator.AddToCart(ctx, s.cartRequest(in))
	if err != nil {
		return nil, saga.fail(ctx, StepCart, err)
	}
	result.CarrierOrderID = id
	saga.record.CarrierOrderID = id
	saga.complete(ctx, StepCart)

	orders := []string{id}
	if result.Checkout, err = s.aggregator.Checkout(ctx, orders); err != nil {
		return nil, saga.fail(ctx, StepCheckout, err)
	}
	saga.complete(ctx, StepCheckout)

	if result.Generate, err = s.aggregator.Generate(ctx, orders); err != nil {
		return nil, saga.fail(ctx, StepGenerate, err)
	}
	saga.complete(ctx, StepGenerate)

	if result.Print, err = s.aggregator.Print(ctx, orders, printPublic); err != nil {
		return nil, saga.fail(ctx, StepPrint, err)
	}
	saga.complete(ctx, StepPrint)
	saga.finish(ctx)

	return result, nil
}

func (s *Shipping) cartRequest(in LabelInput) *melhorenvio.CartRequest {
	agency := in.AgencyID
	if agency == nil && s.cfg.DefaultAgencyID != "" {
		def := s.cfg.DefaultAgencyID
		agency = &def
	}
	platform := in.Options.Platform
	if platform == "" {
		platform = s.cfg.Platform
	}

	return &melhorenvio.CartRequest{
		Service:  string(in.ServiceID),
		Agency:   agency,
		From:     in.From,
		To:       in.To,
		Volumes:  in.Volumes,
		Products: in.Products,
		Options: melhorenvio.CartOptions{
			Platform:       platform,
			InsuranceValue: math.Max(0, in.Options.InsuranceValue),
			Receipt:        in.Options.Receipt,
			OwnHand:        in.Options.OwnHand,
			Reverse:        in.Options.Reverse,
			// Without an invoice key the aggregator needs a content
			// declaration, so default to non-commercial.
			NonCommercial: in.Options.NonCommercial == nil || *in.Options.NonCommercial,
			Invoice:       in.Options.Invoice,
			Tags:          in.Options.Tags,
		},
	}
}

// Purchases lists recent label purchase attempts from the ledger.
func (s *Shipping) Purchases(ctx context.Context, caller auth.Caller, onlyUnreconciled bool) ([]ledger.ShipmentRecord, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	records, err := s.ledger.Recent(ctx, onlyUnreconciled, recentPurchasesLimit)
	if err != nil {
		return nil, apperr.From(err)
	}
	return records, nil
}

type labelSaga struct {
	shipping  *Shipping
	record    *ledger.ShipmentRecord
	completed []string
}

func (g *labelSaga) complete(ctx context.Context, step string) {
	g.completed = append(g.completed, step)
	g.record.Step = step
	g.record.SetCompletedSteps(g.completed)
	g.save(ctx)
}

func (g *labelSaga) finish(ctx context.Context) {
	g.record.Status = ledger.StatusCompleted
	g.save(ctx)

	g.shipping.logger.Info("Shipping label purchased",
		zap.String("request_id", g.record.RequestID),
		zap.String("carrier_order_id", g.record.CarrierOrderID))
	g.shipping.publisher.Publish(events.Event{
		Type: events.LabelPurchased,
		Data: map[string]interface{}{
			"requestId":      g.record.RequestID,
			"carrierOrderId": g.record.CarrierOrderID,
			"serviceId":      g.record.ServiceID,
		},
	})
}

func (g *labelSaga) fail(ctx context.Context, step string, cause error) error {
	debited := step == StepCheckout && outcomeUnknown(cause)
	for _, s := range g.completed {
		if s == StepCheckout {
			debited = true
		}
	}

	g.record.Step = step
	g.record.Status = ledger.StatusFailed
	g.record.NeedsManualReconciliation = debited
	g.record.Error = cause.Error()
	g.save(ctx)

	details := map[string]interface{}{
		"step":                      step,
		"carrierOrderId":            g.record.CarrierOrderID,
		"completedSteps":            append([]string{}, g.completed...),
		"needsManualReconciliation": debited,
	}

	g.shipping.logger.Error("Shipping label purchase failed",
		zap.String("request_id", g.record.RequestID),
		zap.String("step", step),
		zap.String("carrier_order_id", g.record.CarrierOrderID),
		zap.Bool("needs_manual_reconciliation", debited),
		zap.Error(cause))
	g.shipping.publisher.Publish(events.Event{
		Type: events.LabelFailed,
		Data: map[string]interface{}{
			"requestId":                 g.record.RequestID,
			"step":                      step,
			"carrierOrderId":            g.record.CarrierOrderID,
			"needsManualReconciliation": debited,
		},
	})

	return apperr.ErrShippingStepFailed.
		Withf("shipping label purchase failed at step %s", step).
		WithDetails(details).
		Wrap(cause)
}

func (g *labelSaga) save(ctx context.Context) {
	if err := g.shipping.ledger.Save(ctx, g.record); err != nil {
		g.shipping.logger.Error("Failed to record label purchase step",
			zap.String("request_id", g.record.RequestID),
			zap.String("step", g.record.Step),
			zap.Error(err))
	}
}

// outcomeUnknown reports whether a failed call may still have been applied
// by the provider: it timed out, never got a reply, or got a 2xx reply that
// could not be read.
func outcomeUnknown(err error) bool {
	if apperr.IsTimeout(err) {
		return true
	}
	return errors.Is(err, apperr.ErrUpstream) && upstream.StatusCode(err) == 0
}

package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/apperr"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/config"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/events"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/ledger"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/melhorenvio"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/models"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memLedger struct {
	records map[string]ledger.ShipmentRecord
	saves   int
}

func (l *memLedger) Begin(_ context.Context, rec *ledger.ShipmentRecord) error {
	if rec.Status == "" {
		rec.Status = ledger.StatusStarted
	}
	l.records[rec.RequestID] = *rec
	return nil
}

func (l *memLedger) Save(_ context.Context, rec *ledger.ShipmentRecord) error {
	l.saves++
	l.records[rec.RequestID] = *rec
	return nil
}

func (l *memLedger) Recent(_ context.Context, onlyUnreconciled bool, _ int) ([]ledger.ShipmentRecord, error) {
	var out []ledger.ShipmentRecord
	for _, r := range l.records {
		if onlyUnreconciled && !r.NeedsManualReconciliation {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (l *memLedger) only(t *testing.T) ledger.ShipmentRecord {
	t.Helper()
	require.Len(t, l.records, 1)
	for _, r := range l.records {
		return r
	}
	return ledger.ShipmentRecord{}
}

type shippingFixture struct {
	state      *memState
	aggregator *fakeAggregator
	ledger     *memLedger
	publisher  *recordingPublisher
	shipping   *Shipping
}

func newShippingFixture() *shippingFixture {
	f := &shippingFixture{
		state:      newMemState(),
		aggregator: &fakeAggregator{},
		ledger:     &memLedger{records: map[string]ledger.ShipmentRecord{}},
		publisher:  &recordingPublisher{},
	}
	cfg := &config.MelhorEnvioConfig{FromPostalCode: "13000-000", Platform: "MemimeiCaseShop", DefaultAgencyID: "42"}
	f.shipping = NewShipping(f.aggregator, memProducts{f.state}, f.ledger, f.publisher, cfg, zap.NewNop())
	return f
}

func labelInput() LabelInput {
	return LabelInput{
		ServiceID: "1",
		From:      melhorenvio.Address{PostalCode: "13000000", Name: "Loja"},
		To:        melhorenvio.Address{PostalCode: "01001000", Name: "Ana"},
		Volumes:   []melhorenvio.Package{{Height: 2, Width: 11, Length: 16, Weight: 0.3}},
	}
}

func TestQuote_DerivesPackageFromItems(t *testing.T) {
	f := newShippingFixture()
	f.state.addProduct(models.Product{ID: "p1", Name: "Case", Price: 50, Weight: ptr(0.1), Width: ptr(10.0), Height: ptr(2.0), Length: ptr(17.0)})
	f.state.addProduct(models.Product{ID: "p2", Name: "Film", Price: 20, Weight: ptr(0.05), Width: ptr(12.0), Height: ptr(1.0), Length: ptr(15.0)})

	_, err := f.shipping.Quote(context.Background(), QuoteInput{
		ToPostalCode: "01001-000",
		Items:        []models.CartItem{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 1}},
	})
	require.NoError(t, err)

	req := f.aggregator.quote
	require.NotNil(t, req)
	assert.Equal(t, "13000000", req.From.PostalCode)
	assert.Equal(t, "01001000", req.To.PostalCode)
	assert.InDelta(t, 0.25, req.Package.Weight, 1e-9)
	assert.InDelta(t, 5.0, req.Package.Height, 1e-9)
	assert.Equal(t, 12.0, req.Package.Width)
	assert.Equal(t, 17.0, req.Package.Length)
	assert.Equal(t, 120.0, req.Options.InsuranceValue)
}

func TestQuote_ExplicitPackage(t *testing.T) {
	f := newShippingFixture()
	pkg := &melhorenvio.Package{Height: 4, Width: 12, Length: 17, Weight: 0.3}

	_, err := f.shipping.Quote(context.Background(), QuoteInput{ToPostalCode: "01001000", Package: pkg, InsuranceValue: 80})
	require.NoError(t, err)
	assert.Equal(t, *pkg, f.aggregator.quote.Package)
	assert.Equal(t, 80.0, f.aggregator.quote.Options.InsuranceValue)
}

func TestQuote_Rejections(t *testing.T) {
	f := newShippingFixture()
	f.state.addProduct(models.Product{ID: "flat", Name: "Sticker", Price: 5})

	cases := map[string]QuoteInput{
		"no destination":     {Package: &melhorenvio.Package{Height: 1, Width: 1, Length: 1, Weight: 1}},
		"no package":         {ToPostalCode: "01001000"},
		"zero dimension":     {ToPostalCode: "01001000", Package: &melhorenvio.Package{Height: 0, Width: 1, Length: 1, Weight: 1}},
		"item without sizes": {ToPostalCode: "01001000", Items: []models.CartItem{{ProductID: "flat", Quantity: 1}}},
		"bad quantity":       {ToPostalCode: "01001000", Items: []models.CartItem{{ProductID: "flat", Quantity: 0}}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.shipping.Quote(context.Background(), in)
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}

	_, err := f.shipping.Quote(context.Background(), QuoteInput{ToPostalCode: "01001000", Items: []models.CartItem{{ProductID: "gone", Quantity: 1}}})
	assert.ErrorIs(t, err, apperr.ErrProductNotFound)
	assert.Nil(t, f.aggregator.quote)
}

func TestPurchaseLabel_RunsAllSteps(t *testing.T) {
	f := newShippingFixture()

	res, err := f.shipping.PurchaseLabel(context.Background(), admin, labelInput())
	require.NoError(t, err)

	assert.Equal(t, "lbl-1", res.CarrierOrderID)
	assert.Equal(t, []string{StepCart, StepCheckout, StepGenerate, StepPrint}, f.aggregator.calls)
	assert.True(t, f.aggregator.printPub)
	require.NotNil(t, f.aggregator.cartReq.Agency)
	assert.Equal(t, "42", *f.aggregator.cartReq.Agency)
	assert.Equal(t, "MemimeiCaseShop", f.aggregator.cartReq.Options.Platform)
	assert.True(t, f.aggregator.cartReq.Options.NonCommercial)

	rec := f.ledger.only(t)
	assert.Equal(t, ledger.StatusCompleted, rec.Status)
	assert.Equal(t, "lbl-1", rec.CarrierOrderID)
	assert.Equal(t, "cart,checkout,generate,print", rec.CompletedSteps)
	assert.False(t, rec.NeedsManualReconciliation)
	assert.Len(t, f.publisher.ofType(events.LabelPurchased), 1)
}

func TestPurchaseLabel_FailureReportsStep(t *testing.T) {
	cases := []struct {
		failAt    string
		completed []string
		manual    bool
	}{
		{failAt: StepCart, completed: []string{}, manual: false},
		{failAt: StepCheckout, completed: []string{StepCart}, manual: false},
		{failAt: StepGenerate, completed: []string{StepCart, StepCheckout}, manual: true},
		{failAt: StepPrint, completed: []string{StepCart, StepCheckout, StepGenerate}, manual: true},
	}

	for _, tc := range cases {
		t.Run(tc.failAt, func(t *testing.T) {
			f := newShippingFixture()
			f.aggregator.failAt = tc.failAt
			f.aggregator.err = apperr.ErrUpstream.Wrap(&upstream.StatusError{Service: "melhorenvio", StatusCode: 422, Message: "saldo insuficiente"})

			_, err := f.shipping.PurchaseLabel(context.Background(), admin, labelInput())
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrShippingStepFailed)

			var appErr *apperr.Error
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tc.failAt, appErr.Details["step"])
			assert.Equal(t, tc.completed, appErr.Details["completedSteps"])
			assert.Equal(t, tc.manual, appErr.Details["needsManualReconciliation"])
			if tc.failAt != StepCart {
				assert.Equal(t, "lbl-1", appErr.Details["carrierOrderId"])
			}

			rec := f.ledger.only(t)
			assert.Equal(t, ledger.StatusFailed, rec.Status)
			assert.Equal(t, tc.failAt, rec.Step)
			assert.Equal(t, tc.manual, rec.NeedsManualReconciliation)
			assert.True(t, strings.Contains(rec.Error, "422"))
			assert.Len(t, f.publisher.ofType(events.LabelFailed), 1)
		})
	}
}

func TestPurchaseLabel_CheckoutWithUnknownOutcome(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		manual bool
	}{
		{name: "timeout", err: apperr.ErrTimeout.Wrap(context.DeadlineExceeded), manual: true},
		{name: "transport", err: apperr.ErrUpstream.Withf("failed to reach melhorenvio").Wrap(errors.New("connection reset")), manual: true},
		{name: "rejected", err: apperr.ErrUpstream.Wrap(&upstream.StatusError{Service: "melhorenvio", StatusCode: 422}), manual: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newShippingFixture()
			f.aggregator.failAt = StepCheckout
			f.aggregator.err = tc.err

			_, err := f.shipping.PurchaseLabel(context.Background(), admin, labelInput())
			require.Error(t, err)

			var appErr *apperr.Error
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, StepCheckout, appErr.Details["step"])
			assert.Equal(t, tc.manual, appErr.Details["needsManualReconciliation"])

			rec := f.ledger.only(t)
			assert.Equal(t, ledger.StatusFailed, rec.Status)
			assert.Equal(t, tc.manual, rec.NeedsManualReconciliation)
		})
	}
}

func TestPurchaseLabel_Guards(t *testing.T) {
	f := newShippingFixture()

	_, err := f.shipping.PurchaseLabel(context.Background(), customer, labelInput())
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	in := labelInput()
	in.Volumes = nil
	_, err = f.shipping.PurchaseLabel(context.Background(), admin, in)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	assert.Empty(t, f.aggregator.calls)
	assert.Empty(t, f.ledger.records)
}

func TestPurchases_FiltersUnreconciled(t *testing.T) {
	f := newShippingFixture()
	f.ledger.records["a"] = ledger.ShipmentRecord{RequestID: "a", Status: ledger.StatusCompleted}
	f.ledger.records["b"] = ledger.ShipmentRecord{RequestID: "b", Status: ledger.StatusFailed, NeedsManualReconciliation: true}

	all, err := f.shipping.Purchases(context.Background(), admin, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := f.shipping.Purchases(context.Background(), admin, true)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].RequestID)

	_, err = f.shipping.Purchases(context.Background(), customer, false)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestTrack(t *testing.T) {
	f := newShippingFixture()

	_, err := f.shipping.Track(context.Background(), customer, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.shipping.Track(context.Background(), nobody, []string{"lbl-1"})
	assert.ErrorIs(t, err, apperr.ErrNotAuthenticated)

	raw, err := f.shipping.Track(context.Background(), customer, []string{"lbl-1"})
	require.NoError(t, err)
	assert.Contains(t, string(raw), "posted")
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/apperr"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/events"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/mercadopago"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/models"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/repository"
	"go.uber.org/zap"
)

const paymentTopic = "payment"

// PaymentVerifier looks up the provider's authoritative payment record.
type PaymentVerifier interface {
	GetPayment(ctx context.Context, id string) (*mercadopago.Payment, error)
}

// Notification is the provider's webhook payload.
type Notification struct {
	Topic string `json:"topic"`
	ID    string `json:"id"`
}

type ReconcileResult struct {
	OrderID         string   `json:"orderId"`
	PaymentID       string   `json:"paymentId"`
	SkippedProducts []string `json:"skippedProducts,omitempty"`
}

type Reconciler struct {
	orders    repository.OrderRepository
	products  repository.ProductRepository
	verifier  PaymentVerifier
	tx        repository.TxRunner
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewReconciler(
	orders repository.OrderRepository,
	products repository.ProductRepository,
	verifier PaymentVerifier,
	tx repository.TxRunner,
	publisher events.Publisher,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		orders:    orders,
		products:  products,
		verifier:  verifier,
		tx:        tx,
		publisher: publisher,
		logger:    logger.Named("reconciler"),
		now:       time.Now,
	}
}

// Reconcile verifies a payment notification with the provider and, for an
// approved payment, moves the referenced order from pending to paid and
// decrements stock for its lines. The pending->paid move is a conditional
// write, so a payment delivered any number of times, concurrently or not,
// decrements stock once.
func (r *Reconciler) Reconcile(ctx context.Context, n Notification) (*ReconcileResult, error) {
	if n.Topic != paymentTopic || n.ID == "" {
		return nil, apperr.ErrInvalidNotification
	}

	payment, err := r.verifier.GetPayment(ctx, n.ID)
	if err != nil {
		if apperr.IsTimeout(err) {
			return nil, apperr.From(err)
		}
		r.logger.Warn("Payment lookup failed", zap.String("payment_id", n.ID), zap.Error(err))
		return nil, apperr.ErrPaymentLookupFailed.Wrap(err)
	}
	if payment == nil {
		return nil, apperr.ErrPaymentLookupFailed
	}

	if payment.Status != mercadopago.StatusApproved {
		return nil, apperr.ErrPaymentNotApproved.Withf("payment not approved: status %s", payment.Status)
	}

	if payment.ExternalReference == "" {
		return nil, apperr.ErrExternalReferenceMissing
	}

	order, err := r.orders.Get(ctx, payment.ExternalReference)
	if err != nil {
		return nil, storeErr(err, apperr.ErrOrderNotFound)
	}
	if order.Status == models.OrderPaid {
		return nil, apperr.ErrAlreadyProcessed
	}

	paymentID := payment.ID
	if paymentID == "" {
		paymentID = n.ID
	}

	var applied, skipped []string
	err = r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		// The transaction may retry this function.
		applied, skipped = nil, nil

		transitioned, err := r.orders.MarkPaid(ctx, order.ID, paymentID, r.now())
		if err != nil {
			return err
		}
		if !transitioned {
			return apperr.ErrAlreadyProcessed
		}

		for _, item := range order.Items {
			found, err := r.products.DecrementStock(ctx, item.ProductID, item.Quantity)
			if err != nil {
				return &stockError{productID: item.ProductID, err: err}
			}
			if !found {
				r.logger.Warn("Product not found while decrementing stock",
					zap.String("order_id", order.ID),
					zap.String("product_id", item.ProductID))
				skipped = append(skipped, item.ProductID)
				continue
			}
			applied = append(applied, item.ProductID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrAlreadyProcessed) {
			return nil, apperr.ErrAlreadyProcessed
		}
		r.reportPartial(order, paymentID, applied, err)
		return nil, storeErr(err, nil)
	}

	r.logger.Info("Payment reconciled",
		zap.String("order_id", order.ID),
		zap.String("payment_id", paymentID),
		zap.Int("lines_decremented", len(applied)),
		zap.Strings("skipped_products", skipped))

	r.publisher.Publish(events.Event{
		Type:    events.OrderPaid,
		OrderID: order.ID,
		UserID:  order.UserID,
		Data: map[string]interface{}{
			"paymentId": paymentID,
			"total":     order.Total,
			"skipped":   skipped,
		},
	})

	return &ReconcileResult{OrderID: order.ID, PaymentID: paymentID, SkippedProducts: skipped}, nil
}

// reportPartial records a reconciliation that failed after its first write.
// Without a transaction the order may already be paid with some lines
// decremented; the event lists which, for manual follow-up.
func (r *Reconciler) reportPartial(order *models.Order, paymentID string, applied []string, err error) {
	rolledBack := r.tx.Transactional()

	fields := []zap.Field{
		zap.String("order_id", order.ID),
		zap.String("payment_id", paymentID),
		zap.Strings("applied_products", applied),
		zap.Bool("rolled_back", rolledBack),
		zap.Error(err),
	}
	data := map[string]interface{}{
		"paymentId":  paymentID,
		"applied":    applied,
		"rolledBack": rolledBack,
		"error":      err.Error(),
	}

	var se *stockError
	afterPaid := errors.As(err, &se)
	if afterPaid {
		fields = append(fields, zap.String("failed_product", se.productID))
		data["failedProduct"] = se.productID
	}

	r.logger.Error("Payment reconciliation failed mid-update", fields...)
	if rolledBack || !afterPaid {
		return
	}
	r.publisher.Publish(events.Event{
		Type:    events.OrderStockPartial,
		OrderID: order.ID,
		UserID:  order.UserID,
		Data:    data,
	})
}

type stockError struct {
	productID string
	err       error
}

func (e *stockError) Error() string { return "decrement stock of " + e.productID + ": " + e.err.Error() }

func (e *stockError) Unwrap() error { return e.err }

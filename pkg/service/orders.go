package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/apperr"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/auth"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/events"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/models"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ServiceID accepts a carrier service id sent as a JSON string or number.
type ServiceID string

func (s *ServiceID) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = ServiceID(strings.TrimSpace(str))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*s = ServiceID(num.String())
	return nil
}

// ShippingSelection is the carrier option chosen from a quote.
type ShippingSelection struct {
	ServiceID     ServiceID       `json:"serviceId"`
	Fee           json.RawMessage `json:"fee"`
	Name          string          `json:"name"`
	Company       string          `json:"company"`
	EstimatedDays int             `json:"estimatedDays"`
	PostalCode    string          `json:"postalCode"`
}

type BuildResult struct {
	OrderID     string  `json:"orderId"`
	Subtotal    float64 `json:"subtotal"`
	ShippingFee float64 `json:"shippingFee"`
	Total       float64 `json:"total"`
}

type OrderBuilder struct {
	carts     repository.CartRepository
	products  repository.ProductRepository
	orders    repository.OrderRepository
	users     repository.UserRepository
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewOrderBuilder(
	carts repository.CartRepository,
	products repository.ProductRepository,
	orders repository.OrderRepository,
	users repository.UserRepository,
	publisher events.Publisher,
	logger *zap.Logger,
) *OrderBuilder {
	return &OrderBuilder{
		carts:     carts,
		products:  products,
		orders:    orders,
		users:     users,
		publisher: publisher,
		logger:    logger.Named("orders"),
		now:       time.Now,
	}
}

// Build turns the caller's cart into a pending order priced at current
// catalog prices, then empties the cart. Every line is validated before
// anything is written.
func (b *OrderBuilder) Build(ctx context.Context, caller auth.Caller, shipping *ShippingSelection) (*BuildResult, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}

	fee := decimal.Zero
	if shipping != nil {
		var err error
		if fee, err = parseFee(shipping.Fee); err != nil {
			return nil, err
		}
	}

	cart, err := b.carts.Get(ctx, caller.ID)
	if err != nil {
		return nil, storeErr(err, nil)
	}
	if len(cart.Items) == 0 {
		return nil, apperr.ErrEmptyCart
	}

	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	found, err := b.products.GetMany(ctx, uniqueStrings(ids))
	if err != nil {
		return nil, storeErr(err, nil)
	}
	catalog := make(map[string]models.Product, len(found))
	for _, p := range found {
		catalog[p.ID] = p
	}

	// Lines for the same product are checked against stock together.
	requested := make(map[string]int, len(cart.Items))
	for _, item := range cart.Items {
		requested[item.ProductID] += item.Quantity
	}

	items := make([]models.OrderItem, 0, len(cart.Items))
	subtotal := decimal.Zero
	for _, item := range cart.Items {
		product, ok := catalog[item.ProductID]
		if !ok {
			return nil, apperr.ErrProductNotFound.Withf("product %s not found", item.ProductID)
		}
		if product.Stock <= 0 {
			return nil, apperr.ErrOutOfStock.Withf("product %s is out of stock", product.Name)
		}
		if requested[item.ProductID] > product.Stock {
			return nil, apperr.ErrInsufficientStock.Withf(
				"insufficient stock for product %s: requested %d, available %d",
				product.Name, requested[item.ProductID], product.Stock)
		}

		items = append(items, models.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
		})
		subtotal = subtotal.Add(lineTotal(product.Price, item.Quantity))
	}

	total := subtotal.Add(fee)
	order := &models.Order{
		UserID:    caller.ID,
		Items:     items,
		Subtotal:  toAmount(subtotal),
		Total:     toAmount(total),
		Status:    models.OrderPending,
		CreatedAt: b.now(),
	}
	if shipping != nil {
		order.Shipping = &models.Shipping{
			ServiceID:     string(shipping.ServiceID),
			Name:          shipping.Name,
			Company:       shipping.Company,
			EstimatedDays: shipping.EstimatedDays,
			PostalCode:    digitsOnly(shipping.PostalCode),
			Fee:           toAmount(fee),
		}
	}

	if err := b.orders.Create(ctx, order); err != nil {
		return nil, storeErr(err, nil)
	}

	// The order exists at this point; failing the request would invite a
	// duplicate order on retry.
	if err := b.carts.Clear(ctx, caller.ID); err != nil {
		b.logger.Error("Failed to clear cart after building order",
			zap.String("order_id", order.ID),
			zap.String("user_id", caller.ID),
			zap.Error(err))
	}

	b.logger.Info("Order built",
		zap.String("order_id", order.ID),
		zap.String("user_id", caller.ID),
		zap.Int("items", len(items)),
		zap.Float64("total", order.Total))

	b.publisher.Publish(events.Event{
		Type:    events.OrderCreated,
		OrderID: order.ID,
		UserID:  caller.ID,
		Data: map[string]interface{}{
			"subtotal": order.Subtotal,
			"fee":      order.ShippingFee(),
			"total":    order.Total,
			"items":    len(items),
		},
	})

	return &BuildResult{
		OrderID:     order.ID,
		Subtotal:    order.Subtotal,
		ShippingFee: order.ShippingFee(),
		Total:       order.Total,
	}, nil
}

// List returns the caller's orders, newest first. Administrators get every
// order, composed with its owner's contact details and the current display
// fields of its products.
func (b *OrderBuilder) List(ctx context.Context, caller auth.Caller) ([]models.OrderView, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}

	if !caller.IsAdmin() {
		orders, err := b.orders.ListByUser(ctx, caller.ID)
		if err != nil {
			return nil, storeErr(err, nil)
		}
		return composeOrderViews(orders, nil, nil), nil
	}

	orders, err := b.orders.ListAll(ctx)
	if err != nil {
		return nil, storeErr(err, nil)
	}

	var userIDs, productIDs []string
	for _, o := range orders {
		userIDs = append(userIDs, o.UserID)
		for _, item := range o.Items {
			productIDs = append(productIDs, item.ProductID)
		}
	}

	owners, err := b.users.Owners(ctx, uniqueStrings(userIDs))
	if err != nil {
		return nil, storeErr(err, nil)
	}
	products, err := b.products.GetMany(ctx, uniqueStrings(productIDs))
	if err != nil {
		return nil, storeErr(err, nil)
	}

	return composeOrderViews(orders, owners, products), nil
}

// composeOrderViews is the read-side join behind the admin listing. Nothing
// it produces is persisted.
func composeOrderViews(orders []models.Order, owners map[string]*models.OrderOwner, products []models.Product) []models.OrderView {
	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	views := make([]models.OrderView, 0, len(orders))
	for i := range orders {
		order := &orders[i]
		view := models.OrderView{
			Order: order,
			Owner: owners[order.UserID],
			Items: make([]models.OrderItemView, 0, len(order.Items)),
		}
		for _, item := range order.Items {
			iv := models.OrderItemView{OrderItem: item}
			if p, ok := byID[item.ProductID]; ok {
				iv.Name, iv.Model, iv.Color, iv.Image = p.Name, p.Model, p.Color, p.Image
			}
			view.Items = append(view.Items, iv)
		}
		views = append(views, view)
	}
	return views
}

// MarkShipped sets the fulfilment flag. The timestamp is set to now when
// shipped is true and cleared otherwise.
func (b *OrderBuilder) MarkShipped(ctx context.Context, caller auth.Caller, orderID string, shipped bool) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	if orderID == "" {
		return apperr.ErrInvalidInput.Withf("order id is required")
	}

	var shippedAt *time.Time
	if shipped {
		at := b.now()
		shippedAt = &at
	}

	matched, err := b.orders.SetShipped(ctx, orderID, shipped, shippedAt)
	if err != nil {
		return storeErr(err, nil)
	}
	if !matched {
		return apperr.ErrNotFound.Withf("order %s not found", orderID)
	}

	b.logger.Info("Order shipment updated", zap.String("order_id", orderID), zap.Bool("shipped", shipped))
	b.publisher.Publish(events.Event{
		Type:    events.OrderShipped,
		OrderID: orderID,
		Data:    map[string]interface{}{"shipped": shipped, "by": caller.ID},
	})
	return nil
}

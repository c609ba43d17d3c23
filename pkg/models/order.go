package models

import "time"

type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderPaid    OrderStatus = "paid"
)

type OrderItem struct {
	ProductID string  `bson:"productId" json:"productId"`
	Quantity  int     `bson:"quantity" json:"quantity"`
	UnitPrice float64 `bson:"unitPrice" json:"unitPrice"`
}

// Shipping is the carrier option the customer picked at checkout.
type Shipping struct {
	ServiceID     string  `bson:"serviceId" json:"serviceId"`
	Name          string  `bson:"name" json:"name"`
	Company       string  `bson:"company" json:"company"`
	EstimatedDays int     `bson:"estimatedDays" json:"estimatedDays"`
	PostalCode    string  `bson:"postalCode" json:"postalCode"`
	Fee           float64 `bson:"fee" json:"fee"`
}

// Order totals are frozen when the order is built and never recomputed.
type Order struct {
	ID        string      `bson:"_id" json:"id"`
	UserID    string      `bson:"userId" json:"userId"`
	Items     []OrderItem `bson:"items" json:"items"`
	Subtotal  float64     `bson:"subtotal" json:"subtotal"`
	Shipping  *Shipping   `bson:"shipping,omitempty" json:"shipping,omitempty"`
	Total     float64     `bson:"total" json:"total"`
	Status    OrderStatus `bson:"status" json:"status"`
	CreatedAt time.Time   `bson:"createdAt" json:"createdAt"`
	PaymentID string      `bson:"paymentId,omitempty" json:"paymentId,omitempty"`
	PaidAt    *time.Time  `bson:"paidAt,omitempty" json:"paidAt,omitempty"`
	Shipped   bool        `bson:"shipped" json:"shipped"`
	ShippedAt *time.Time  `bson:"shippedAt" json:"shippedAt"`
}

func (o *Order) ShippingFee() float64 {
	if o.Shipping == nil {
		return 0
	}
	return o.Shipping.Fee
}

// OrderOwner is the contact snapshot joined into admin order listings.
type OrderOwner struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type OrderItemView struct {
	OrderItem `bson:",inline"`
	Name      string `json:"name,omitempty"`
	Model     string `json:"model,omitempty"`
	Color     string `json:"color,omitempty"`
	Image     string `json:"image,omitempty"`
}

// OrderView is an order composed at read time with its owner and the
// current display fields of its products. It is never persisted.
type OrderView struct {
	*Order
	Owner *OrderOwner     `json:"owner,omitempty"`
	Items []OrderItemView `json:"items"`
}

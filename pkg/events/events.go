// Package events carries order lifecycle events off the request path. A
// single actor receives every event and hands it to the configured sinks in
// arrival order.
package events

import (
	"context"
	"time"
)

const (
	OrderCreated      = "order.created"
	OrderPaid         = "order.paid"
	OrderShipped      = "order.shipped"
	OrderStockPartial = "order.stock_partial"
	LabelPurchased    = "shipping.label_purchased"
	LabelFailed       = "shipping.label_failed"
)

type Event struct {
	ID      string                 `json:"id"`
	Type    string                 `json:"type"`
	OrderID string                 `json:"orderId,omitempty"`
	UserID  string                 `json:"userId,omitempty"`
	At      time.Time              `json:"at"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Publisher accepts events without blocking the caller on delivery.
type Publisher interface {
	Publish(ev Event)
}

// Sink delivers one event somewhere durable.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

// Nop discards every event.
func Nop() Publisher { return nopPublisher{} }

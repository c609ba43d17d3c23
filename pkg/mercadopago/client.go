// Package mercadopago is a minimal client for the Mercado Pago REST API:
// payment lookup for webhook verification and checkout preference creation.
package mercadopago

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/config"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/upstream"
)

const StatusApproved = "approved"

type Payment struct {
	ID                string  `json:"-"`
	Status            string  `json:"status"`
	StatusDetail      string  `json:"status_detail"`
	ExternalReference string  `json:"external_reference"`
	TransactionAmount float64 `json:"transaction_amount"`
}

type PreferenceItem struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type PreferenceRequest struct {
	Items             []PreferenceItem  `json:"items"`
	Payer             map[string]string `json:"payer,omitempty"`
	ExternalReference string            `json:"external_reference"`
	AutoReturn        string            `json:"auto_return,omitempty"`
	BackURLs          map[string]string `json:"back_urls,omitempty"`
	NotificationURL   string            `json:"notification_url,omitempty"`
}

type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type Client struct {
	rest *upstream.Client
}

func NewClient(cfg *config.MercadoPagoConfig, timeout time.Duration) *Client {
	return &Client{rest: upstream.New("mercadopago", cfg.BaseURL, cfg.AccessToken, timeout)}
}

// GetPayment fetches the authoritative payment record. The id is the one
// carried by the webhook notification.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var payload struct {
		ID json.Number `json:"id"`
		Payment
	}
	if err := c.rest.Do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, &payload); err != nil {
		return nil, err
	}
	if payload.ID == "" {
		return nil, fmt.Errorf("payment %s: empty response", id)
	}

	p := payload.Payment
	p.ID = payload.ID.String()
	return &p, nil
}

func (c *Client) CreatePreference(ctx context.Context, req *PreferenceRequest) (*Preference, error) {
	var pref Preference
	if err := c.rest.Do(ctx, http.MethodPost, "/checkout/preferences", req, &pref); err != nil {
		return nil, err
	}
	return &pref, nil
}

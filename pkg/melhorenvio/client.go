// Package melhorenvio talks to the Melhor Envio shipping aggregator: quotes,
// the label purchase steps and tracking. Replies the storefront only relays
// are kept as raw JSON.
package melhorenvio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/config"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/upstream"
)

type Package struct {
	Height float64 `json:"height"`
	Width  float64 `json:"width"`
	Length float64 `json:"length"`
	Weight float64 `json:"weight"`
}

type Address struct {
	Name            string `json:"name,omitempty"`
	Phone           string `json:"phone,omitempty"`
	Email           string `json:"email,omitempty"`
	Document        string `json:"document,omitempty"`
	CompanyDocument string `json:"company_document,omitempty"`
	Address         string `json:"address,omitempty"`
	Complement      string `json:"complement,omitempty"`
	Number          string `json:"number,omitempty"`
	District        string `json:"district,omitempty"`
	PostalCode      string `json:"postal_code"`
	City            string `json:"city,omitempty"`
	StateAbbr       string `json:"state_abbr,omitempty"`
}

type QuoteOptions struct {
	InsuranceValue float64 `json:"insurance_value"`
	Receipt        bool    `json:"receipt"`
	OwnHand        bool    `json:"own_hand"`
}

type QuoteRequest struct {
	From     Address      `json:"from"`
	To       Address      `json:"to"`
	Package  Package      `json:"package"`
	Options  QuoteOptions `json:"options"`
	Services string       `json:"services,omitempty"`
}

type Tag struct {
	Tag string `json:"tag"`
	URL string `json:"url,omitempty"`
}

type Invoice struct {
	Key string `json:"key"`
}

type CartOptions struct {
	Platform       string   `json:"platform"`
	InsuranceValue float64  `json:"insurance_value"`
	Receipt        bool     `json:"receipt"`
	OwnHand        bool     `json:"own_hand"`
	Reverse        bool     `json:"reverse"`
	NonCommercial  bool     `json:"non_commercial"`
	Invoice        *Invoice `json:"invoice,omitempty"`
	Tags           []Tag    `json:"tags,omitempty"`
}

type CartProduct struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// CartRequest places one label in the aggregator's cart.
type CartRequest struct {
	Service  string        `json:"service"`
	Agency   *string       `json:"agency"`
	From     Address       `json:"from"`
	To       Address       `json:"to"`
	Volumes  []Package     `json:"volumes"`
	Options  CartOptions   `json:"options"`
	Products []CartProduct `json:"products,omitempty"`
}

type Client struct {
	rest *upstream.Client
}

func NewClient(cfg *config.MelhorEnvioConfig, timeout time.Duration) *Client {
	rest := upstream.New("melhorenvio", cfg.BaseURL, cfg.Token, timeout).
		WithUserAgent(cfg.Platform)
	return &Client{rest: rest}
}

// Calculate returns the carrier options for the package.
func (c *Client) Calculate(ctx context.Context, req *QuoteRequest) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.rest.Do(ctx, http.MethodPost, "/api/v2/me/shipment/calculate", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddToCart returns the carrier-assigned id of the label, which the later
// steps are addressed by.
func (c *Client) AddToCart(ctx context.Context, req *CartRequest) (string, json.RawMessage, error) {
	var out json.RawMessage
	if err := c.rest.Do(ctx, http.MethodPost, "/api/v2/me/cart", req, &out); err != nil {
		return "", nil, err
	}

	var ids struct {
		ID   string `json:"id"`
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(out, &ids); err != nil {
		return "", out, fmt.Errorf("invalid cart response: %w", err)
	}
	id := ids.ID
	if id == "" {
		id = ids.Data.ID
	}
	if id == "" {
		return "", out, fmt.Errorf("cart response carries no label id")
	}
	return id, out, nil
}

// Checkout buys the labels, debiting the account wallet.
func (c *Client) Checkout(ctx context.Context, orderIDs []string) (json.RawMessage, error) {
	return c.ordersCall(ctx, "/api/v2/me/shipment/checkout", map[string]interface{}{"orders": orderIDs})
}

func (c *Client) Generate(ctx context.Context, orderIDs []string) (json.RawMessage, error) {
	return c.ordersCall(ctx, "/api/v2/me/shipment/generate", map[string]interface{}{"orders": orderIDs})
}

// Print returns the printable label links. Public links need no login.
func (c *Client) Print(ctx context.Context, orderIDs []string, public bool) (json.RawMessage, error) {
	body := map[string]interface{}{"orders": orderIDs}
	if public {
		body["mode"] = "public"
	}
	return c.ordersCall(ctx, "/api/v2/me/shipment/print", body)
}

func (c *Client) Tracking(ctx context.Context, orderIDs []string) (json.RawMessage, error) {
	return c.ordersCall(ctx, "/api/v2/me/shipment/tracking", map[string]interface{}{"orders": orderIDs})
}

func (c *Client) ordersCall(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.rest.Do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

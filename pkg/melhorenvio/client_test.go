package melhorenvio

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(&config.MelhorEnvioConfig{BaseURL: srv.URL, Token: "me-token", Platform: "MemimeiCaseShop"}, time.Second)
}

func TestCalculate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/me/shipment/calculate", r.URL.Path)
		assert.Equal(t, "Bearer me-token", r.Header.Get("Authorization"))
		var req QuoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "01002001", req.From.PostalCode)
		assert.Equal(t, 0.3, req.Package.Weight)
		_, _ = w.Write([]byte(`[{"id":1,"name":"PAC","price":"21.50"}]`))
	})

	out, err := c.Calculate(context.Background(), &QuoteRequest{
		From:    Address{PostalCode: "01002001"},
		To:      Address{PostalCode: "90570020"},
		Package: Package{Height: 4, Width: 12, Length: 17, Weight: 0.3},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1,"name":"PAC","price":"21.50"}]`, string(out))
}

func TestAddToCart_ReadsNestedID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"id":"lbl-9"}}`))
	})

	id, _, err := c.AddToCart(context.Background(), &CartRequest{Service: "1"})
	require.NoError(t, err)
	assert.Equal(t, "lbl-9", id)
}

func TestAddToCart_MissingID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, _, err := c.AddToCart(context.Background(), &CartRequest{Service: "1"})
	assert.Error(t, err)
}

func TestPrint_PublicMode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/me/shipment/print", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"orders":["lbl-1"],"mode":"public"}`, string(raw))
		_, _ = w.Write([]byte(`{"url":"https://print/lbl-1"}`))
	})

	out, err := c.Print(context.Background(), []string{"lbl-1"}, true)
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://print/lbl-1"}`, string(out))
}

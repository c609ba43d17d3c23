package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/apperr"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/auth"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/config"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/models"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubOrders struct {
	caller   auth.Caller
	shipping *service.ShippingSelection
	shipped  *bool
	orderID  string
	err      error
}

func (s *stubOrders) Build(_ context.Context, caller auth.Caller, shipping *service.ShippingSelection) (*service.BuildResult, error) {
	s.caller, s.shipping = caller, shipping
	if s.err != nil {
		return nil, s.err
	}
	return &service.BuildResult{OrderID: "o1", Subtotal: 100, ShippingFee: 15, Total: 115}, nil
}

func (s *stubOrders) List(_ context.Context, caller auth.Caller) ([]models.OrderView, error) {
	s.caller = caller
	return []models.OrderView{{Order: &models.Order{ID: "o1", UserID: caller.ID}}}, nil
}

func (s *stubOrders) MarkShipped(_ context.Context, caller auth.Caller, orderID string, shipped bool) error {
	s.caller, s.orderID, s.shipped = caller, orderID, &shipped
	return s.err
}

type stubReconciler struct {
	got service.Notification
	err error
}

func (s *stubReconciler) Reconcile(_ context.Context, n service.Notification) (*service.ReconcileResult, error) {
	s.got = n
	if s.err != nil {
		return nil, s.err
	}
	return &service.ReconcileResult{OrderID: "o1", PaymentID: n.ID}, nil
}

type stubCatalog struct{ products []models.Product }

func (s *stubCatalog) List(context.Context) ([]models.Product, error) { return s.products, nil }

func (s *stubCatalog) Get(_ context.Context, id string) (*models.Product, error) {
	for i := range s.products {
		if s.products[i].ID == id {
			return &s.products[i], nil
		}
	}
	return nil, apperr.ErrProductNotFound
}

func (s *stubCatalog) Create(_ context.Context, caller auth.Caller, in service.ProductInput) (*models.Product, error) {
	if !caller.IsAdmin() {
		return nil, apperr.ErrForbidden
	}
	return &models.Product{ID: "p9", Name: in.Name}, nil
}

func (s *stubCatalog) Update(context.Context, auth.Caller, string, service.ProductPatch) (*models.Product, error) {
	return nil, apperr.ErrForbidden
}

func (s *stubCatalog) Delete(context.Context, auth.Caller, string) error { return apperr.ErrForbidden }

type testEnv struct {
	issuer     *auth.Issuer
	orders     *stubOrders
	reconciler *stubReconciler
	handler    http.Handler
}

func newTestEnv(checks map[string]HealthCheck) *testEnv {
	env := &testEnv{
		issuer:     auth.NewIssuer("gateway-secret", time.Hour),
		orders:     &stubOrders{},
		reconciler: &stubReconciler{},
	}
	gw := NewGateway(&config.GatewayConfig{CORSOrigins: []string{"*"}}, zap.NewNop(), Services{
		Catalog:    &stubCatalog{products: []models.Product{{ID: "p1", Name: "Case", Price: 50}}},
		Orders:     env.orders,
		Reconciler: env.reconciler,
	}, env.issuer, checks)
	gw.SetupRoutes()
	env.handler = gw.Handler()
	return env
}

func (e *testEnv) token(t *testing.T, id string, role auth.Role) string {
	t.Helper()
	tok, err := e.issuer.Issue(id, role)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(method, target, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAuthenticatedRoutes_RequireToken(t *testing.T) {
	env := newTestEnv(nil)

	w := env.do(http.MethodGet, "/api/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "NOT_AUTHENTICATED", decode(t, w)["code"])

	w = env.do(http.MethodGet, "/api/orders", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other := auth.NewIssuer("another-secret", time.Hour)
	forged, err := other.Issue("u1", auth.RoleAdmin)
	require.NoError(t, err)
	w = env.do(http.MethodGet, "/api/orders", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBuildOrder_PassesCallerAndShipping(t *testing.T) {
	env := newTestEnv(nil)

	w := env.do(http.MethodPost, "/api/orders", env.token(t, "u1", auth.RoleCustomer),
		`{"shipping":{"serviceId":1,"fee":"15.00","name":"PAC","postalCode":"01001-000"}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "o1", body["orderId"])
	assert.Equal(t, 115.0, body["total"])

	assert.Equal(t, auth.Caller{ID: "u1", Role: auth.RoleCustomer}, env.orders.caller)
	require.NotNil(t, env.orders.shipping)
	assert.Equal(t, service.ServiceID("1"), env.orders.shipping.ServiceID)
	assert.JSONEq(t, `"15.00"`, string(env.orders.shipping.Fee))
}

func TestBuildOrder_EmptyBody(t *testing.T) {
	env := newTestEnv(nil)

	w := env.do(http.MethodPost, "/api/orders", env.token(t, "u1", auth.RoleCustomer), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Nil(t, env.orders.shipping)
}

func TestErrorRendering(t *testing.T) {
	env := newTestEnv(nil)
	tok := env.token(t, "u1", auth.RoleCustomer)

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.ErrEmptyCart, http.StatusBadRequest, "EMPTY_CART"},
		{apperr.ErrInsufficientStock.Withf("insufficient stock for product Case"), http.StatusBadRequest, "INSUFFICIENT_STOCK"},
		{apperr.ErrProductNotFound, http.StatusNotFound, "PRODUCT_NOT_FOUND"},
		{apperr.ErrTimeout, http.StatusInternalServerError, "STORE_TIMEOUT"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			env.orders.err = tc.err
			w := env.do(http.MethodPost, "/api/orders", tok, nil)
			assert.Equal(t, tc.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, tc.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestErrorRendering_Details(t *testing.T) {
	env := newTestEnv(nil)
	env.orders.err = apperr.ErrShippingStepFailed.WithDetails(map[string]any{"step": "generate", "needsManualReconciliation": true})

	w := env.do(http.MethodPost, "/api/orders", env.token(t, "u1", auth.RoleCustomer), nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	details, ok := decode(t, w)["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "generate", details["step"])
	assert.Equal(t, true, details["needsManualReconciliation"])
}

func TestMarkShipped_ReadsQueryAndBody(t *testing.T) {
	env := newTestEnv(nil)
	tok := env.token(t, "admin", auth.RoleAdmin)

	w := env.do(http.MethodPut, "/api/orders?id=o7", tok, map[string]bool{"shipped": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "o7", env.orders.orderID)
	require.NotNil(t, env.orders.shipped)
	assert.True(t, *env.orders.shipped)
	assert.True(t, env.orders.caller.IsAdmin())

	w = env.do(http.MethodPut, "/api/orders?id=o7", tok, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentWebhook(t *testing.T) {
	t.Run("json body with numeric id", func(t *testing.T) {
		env := newTestEnv(nil)
		w := env.do(http.MethodPost, "/api/webhooks/pagamento", "", `{"topic":"payment","id":123456}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, service.Notification{Topic: "payment", ID: "123456"}, env.reconciler.got)
		assert.Equal(t, "o1", decode(t, w)["orderId"])
	})

	t.Run("query parameters", func(t *testing.T) {
		env := newTestEnv(nil)
		w := env.do(http.MethodPost, "/api/webhooks/pagamento?topic=payment&id=99", "", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, service.Notification{Topic: "payment", ID: "99"}, env.reconciler.got)
	})

	t.Run("duplicate delivery", func(t *testing.T) {
		env := newTestEnv(nil)
		env.reconciler.err = apperr.ErrAlreadyProcessed
		w := env.do(http.MethodPost, "/api/webhooks/pagamento", "", `{"topic":"payment","id":"1"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "ALREADY_PROCESSED", decode(t, w)["code"])
	})
}

func TestProducts_PublicRead(t *testing.T) {
	env := newTestEnv(nil)

	w := env.do(http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Product
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = env.do(http.MethodGet, "/api/products?id=p1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Case", decode(t, w)["name"])

	w = env.do(http.MethodGet, "/api/products?id=nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodPost, "/api/products", env.token(t, "u1", auth.RoleCustomer), `{"name":"X"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(nil)

	w := env.do(http.MethodGet, "/api/products", "", nil)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(map[string]HealthCheck{
		"mongodb": func(context.Context) error { return nil },
	})
	w := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	env = newTestEnv(map[string]HealthCheck{
		"mongodb": func(context.Context) error { return nil },
		"redis":   func(context.Context) error { return errors.New("connection refused") },
	})
	w = env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "unhealthy", body["checks"].(map[string]interface{})["redis"])
}

func TestSwaggerDoc(t *testing.T) {
	env := newTestEnv(nil)
	w := env.do(http.MethodGet, "/swagger/doc.json", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "2.0", body["swagger"])
	paths := body["paths"].(map[string]interface{})
	assert.Contains(t, paths, "/api/orders")
	assert.Contains(t, paths, "/api/webhooks/pagamento")
	assert.Contains(t, paths["/api/melhorenvio/checkout"], "get")
}

func TestShutdownBeforeStart(t *testing.T) {
	gw := NewGateway(&config.GatewayConfig{Host: "127.0.0.1", Port: 0}, zap.NewNop(), Services{}, auth.NewIssuer("s", time.Hour), nil)
	gw.SetupRoutes()
	require.NoError(t, gw.Shutdown(context.Background()))

	done := make(chan error, 1)
	go func() { done <- gw.Start() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start kept serving after Shutdown")
	}
}

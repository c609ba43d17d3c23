package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/apperr"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/auth"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type addToCartRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type buildOrderRequest struct {
	Shipping *service.ShippingSelection `json:"shipping"`
}

type markShippedRequest struct {
	Shipped *bool `json:"shipped"`
}

type trackRequest struct {
	Orders []string `json:"orders"`
}

type preferenceRequest struct {
	OrderID string `json:"pedidoId"`
}

// webhookPayload accepts the payment id as a JSON string or number.
type webhookPayload struct {
	Topic string      `json:"topic"`
	ID    json.Number `json:"id"`
}

// bindOptionalJSON decodes the body when there is one. An empty body leaves
// dst untouched.
func bindOptionalJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// @Summary Log in and receive a bearer token
// @Tags auth
// @Produce json
// @Router /api/login [post]
func (g *Gateway) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.renderError(c, badRequest(err))
		return
	}

	res, err := g.services.Profiles.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		g.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Register a customer account
// @Tags auth
// @Produce json
// @Router /api/cadastro [post]
func (g *Gateway) register(c *gin.Context) {
	var req service.Registration
	if err := c.ShouldBindJSON(&req); err != nil {
		g.renderError(c, badRequest(err))
		return
	}

	user, err := g.services.Profiles.Register(c.Request.Context(), req)
	if err != nil {
		g.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// @Summary List products, or get one by id
// @Tags products
// @Produce json
// @Param id query string false "Product id"
// @Router /api/products [get]
func (g *Gateway) getProducts(c *gin.Context) {
	if id := c.Query("id"); id != "" {
		product, err := g.services.Catalog.Get(c.Request.Context(), id)
		if err != nil {
			g.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
		return
	}

	products, err := g.services.Catalog.List(c.Request.Context())
	if err != nil {
		g.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

// @Summary Create a product
// @Tags products
// @Produce json
// @Security BearerAuth
// @Router /api/products [post]
func (g *Gateway) createProduct(c *gin.Context, caller auth.Caller) {
	var req service.ProductInput
	if err := c.ShouldBindJSON(&req); err != nil {
		g.renderError(c, badRequest(err))
		return
	}

	product, err := g.services.Catalog.Create(c.Request.Context(), caller, req)
	if err != nil {
		g.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

// @Summary Update a product
// @Tags products
// @Produce json
// @Security BearerAuth
// @Param id query string true "Product id"
// @Router /api/products [put]
func (g *Gateway) updateProduct(c *gin.Context, caller auth.Caller) {
	var req service.ProductPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		g.renderError(c, badRequest(err))
		return
	}

	product, err := g.services.Catalog.Update(c.Request.Context(), caller, c.Query("id"), req)
	if err != nil {
		g.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// @Summary Delete a product
// @Tags products
// @Produce json
// @Security BearerAuth
// @Param id query string true "Product id"
// @Router /api/products [delete]
func (g *Gateway) deleteProduct(c *gin.Context, caller auth.Caller) {
	if err := g.services.Catalog.Delete(c.Request.Context(), caller, c.Query("id")); err != nil {
		g.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "product deleted"})
}

// @Summary Get the caller's cart
// @Tags cart
// @Produce json
// @Security BearerAuth
// @Router /api/cart [get]
func (g *Gateway) getCart(c *gin.Context, caller auth.Caller) {
	lines, err := g.services.Cart.Get(c.Request.Context(), caller)
	if err != nil {
		g.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, lines)
}

// @Summary Add a product to the caller's cart
// @Tags cart
// @Produce json
// @Security BearerAuth
// @Router /api/cart [post]
func (g *Gateway) addToCart(c *gin.Context, caller auth.Caller) {
	var req addToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.renderError(c, badRequest(err))
		return
	}

	if err := g.services.Cart.Add(c.Request.Context(), caller, req.ProductID, req.Quantity); err != nil {
		g.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "product added to cart"})
}

// @Summary Build a pending order from the caller's cart
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Router /api/orders [post]
func (g *Gateway) buildOrder(c *gin.Context, caller auth.Caller) {
	var req buildOrderRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		g.renderError(c, badRequest(err))
		return
	}

	res, err := g.services.Orders.Build(c.Request.Context(), caller, req.Shipping)
	if err != nil {
		g.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// @Summary List orders (own orders, or all for admins)
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Router /api/orders [get]
func (g *Gateway) listOrders(c *gin.Context, caller auth.Caller) {
	orders, err := g.services.Orders.List(c.Request.Context(), caller)
	if err != nil {
		g.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// @Summary Set or clear an order's shipped flag
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Param id query string true "Order id"
// @Router /api/orders [put]
func (g *Gateway) markShipped(c *gin.Context, caller auth.Caller) {
	var req markShippedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.renderError(c, badRequest(err))
		return
	}
	if req.Shipped == nil {
		g.renderError(c, apperr.ErrInvalidInput.Withf(`"shipped" must be a boolean`))
		return
	}

	if err := g.services.Orders.MarkShipped(c.Request.Context(), caller, c.Query("id"), *req.Shipped); err != nil {
		g.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "order updated", "shipped": *req.Shipped})
}

// @Summary Get the caller's profile
// @Tags profile
// @Produce json
// @Security BearerAuth
// @Router /api/usuario [get]
func (g *Gateway) getProfile(c *gin.Context, caller auth.Caller) {
	user, err := g.services.Profiles.Get(c.Request.Context(), caller)
	if err != nil {
		g.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// @Summary Update the caller's profile
// @Tags profile
// @Produce json
// @Security BearerAuth
// @Router /api/usuario [put]
func (g *Gateway) updateProfile(c *gin.Context, caller auth.Caller) {
	var req service.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		g.renderError(c, badRequest(err))
		return
	}

	user, err := g.services.Profiles.Update(c.Request.Context(), caller, req)
	if err != nil {
		g.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// paymentWebhook takes {topic, id} from the body, or from the query string
// when the body carries neither.
//
// @Summary Payment notification from Mercado Pago
// @Tags payments
// @Produce json
// @Param topic query string false "Notification topic"
// @Param id query string false "Payment id"
// @Router /api/webhooks/pagamento [post]
func (g *Gateway) paymentWebhook(c *gin.Context) {
	var payload webhookPayload
	if err := bindOptionalJSON(c, &payload); err != nil {
		g.logger.Warn("Unreadable payment webhook body",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err))
	}

	n := service.Notification{Topic: payload.Topic, ID: payload.ID.String()}
	if n.Topic == "" && n.ID == "" {
		n.Topic, n.ID = c.Query("topic"), c.Query("id")
	}
	n.Topic = strings.TrimSpace(n.Topic)
	n.ID = strings.TrimSpace(n.ID)

	g.logger.Info("Payment webhook received",
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.String("topic", n.Topic),
		zap.String("payment_id", n.ID))

	res, err := g.services.Reconciler.Reconcile(c.Request.Context(), n)
	if err != nil {
		g.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "payment approved", "orderId": res.OrderID, "paymentId": res.PaymentID})
}

// @Summary Quote shipping options
// @Tags shipping
// @Produce json
// @Router /api/melhorenvio/cotacao [post]
func (g *Gateway) quote(c *gin.Context) {
	var req service.QuoteInput
	if err := c.ShouldBindJSON(&req); err != nil {
		g.renderError(c, badRequest(err))
		return
	}

	raw, err := g.services.Shipping.Quote(c.Request.Context(), req)
	if err != nil {
		g.renderError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// @Summary Track shipments
// @Tags shipping
// @Produce json
// @Security BearerAuth
// @Router /api/melhorenvio/rastrear [post]
func (g *Gateway) track(c *gin.Context, caller auth.Caller) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.renderError(c, badRequest(err))
		return
	}

	raw, err := g.services.Shipping.Track(c.Request.Context(), caller, req.Orders)
	if err != nil {
		g.renderError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// @Summary Purchase a shipping label
// @Tags shipping
// @Produce json
// @Security BearerAuth
// @Router /api/melhorenvio/checkout [post]
func (g *Gateway) purchaseLabel(c *gin.Context, caller auth.Caller) {
	var req service.LabelInput
	if err := c.ShouldBindJSON(&req); err != nil {
		g.renderError(c, badRequest(err))
		return
	}

	res, err := g.services.Shipping.PurchaseLabel(c.Request.Context(), caller, req)
	if err != nil {
		g.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary List recent label purchases
// @Tags shipping
// @Produce json
// @Security BearerAuth
// @Param pendentes query boolean false "Only purchases needing manual reconciliation"
// @Router /api/melhorenvio/checkout [get]
func (g *Gateway) labelPurchases(c *gin.Context, caller auth.Caller) {
	pending, _ := strconv.ParseBool(c.DefaultQuery("pendentes", "false"))

	records, err := g.services.Shipping.Purchases(c.Request.Context(), caller, pending)
	if err != nil {
		g.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// @Summary Create a Mercado Pago checkout preference for an order
// @Tags payments
// @Produce json
// @Security BearerAuth
// @Router /api/mercado_pago/preference [post]
func (g *Gateway) createPreference(c *gin.Context, caller auth.Caller) {
	var req preferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.renderError(c, badRequest(err))
		return
	}

	res, err := g.services.Payments.CreatePreference(c.Request.Context(), caller, req.OrderID)
	if err != nil {
		g.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

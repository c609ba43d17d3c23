package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/GilAlvesOliveira/memimei-caseshop/docs"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/config"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck pings one backing store.
type HealthCheck func(ctx context.Context) error

type Gateway struct {
	config   *config.GatewayConfig
	services Services
	tokens   TokenVerifier
	checks   map[string]HealthCheck
	logger   *zap.Logger
	router   *gin.Engine
	server   *http.Server
}

func NewGateway(cfg *config.GatewayConfig, logger *zap.Logger, services Services, tokens TokenVerifier, checks map[string]HealthCheck) *Gateway {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware(logger))
	router.Use(corsMiddleware(cfg.CORSOrigins))

	return &Gateway{
		config:   cfg,
		services: services,
		tokens:   tokens,
		checks:   checks,
		logger:   logger,
		router:   router,
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (g *Gateway) SetupRoutes() {
	g.router.GET("/health", g.health)

	api := g.router.Group("/api")
	{
		api.POST("/login", g.login)
		api.POST("/cadastro", g.register)

		api.GET("/products", g.getProducts)
		api.POST("/products", g.authenticated(g.createProduct))
		api.PUT("/products", g.authenticated(g.updateProduct))
		api.DELETE("/products", g.authenticated(g.deleteProduct))

		api.GET("/cart", g.authenticated(g.getCart))
		api.POST("/cart", g.authenticated(g.addToCart))

		api.POST("/orders", g.authenticated(g.buildOrder))
		api.GET("/orders", g.authenticated(g.listOrders))
		api.PUT("/orders", g.authenticated(g.markShipped))

		api.GET("/usuario", g.authenticated(g.getProfile))
		api.PUT("/usuario", g.authenticated(g.updateProfile))

		api.POST("/webhooks/pagamento", g.paymentWebhook)

		shipping := api.Group("/melhorenvio")
		{
			shipping.POST("/cotacao", g.quote)
			shipping.POST("/rastrear", g.authenticated(g.track))
			shipping.POST("/checkout", g.authenticated(g.purchaseLabel))
			shipping.GET("/checkout", g.authenticated(g.labelPurchases))
		}

		api.POST("/mercado_pago/preference", g.authenticated(g.createPreference))
	}

	g.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

// Handler exposes the router, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Start blocks serving HTTP until Shutdown is called. A Shutdown that comes
// first makes Start return nil straight away.
func (g *Gateway) Start() error {
	g.logger.Info("Gateway starting", zap.String("address", g.server.Addr))
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.server.Shutdown(ctx)
}

func (g *Gateway) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, check := range g.checks {
		if err := check(ctx); err != nil {
			g.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			checks[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "healthy"
	}

	body := gin.H{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

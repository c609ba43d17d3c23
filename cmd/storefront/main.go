package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GilAlvesOliveira/memimei-caseshop/gateway"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/auth"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/config"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/discovery"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/events"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/grpc"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/ledger"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/logger"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/melhorenvio"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/mercadopago"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/repository"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/service"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

// @title Memimei Case Shop API
// @version 1.0
// @description Storefront API: catalog, cart, orders, payments and shipping.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.Must(cfg.Log)
	defer log.Sync()

	log.Info("Starting storefront",
		zap.String("name", cfg.Server.Name),
		zap.Int("http_port", cfg.Gateway.Port),
		zap.Int("grpc_port", cfg.Server.Port))

	ctx := context.Background()

	// MongoDB
	mongoRepo, err := repository.NewMongoRepository(&cfg.MongoDB, cfg.Timeouts.Store)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	if err := mongoRepo.EnsureIndexes(ctx); err != nil {
		log.Fatal("Failed to create MongoDB indexes", zap.Error(err))
	}
	log.Info("MongoDB connected",
		zap.String("database", cfg.MongoDB.Database),
		zap.Bool("transactions", mongoRepo.Transactional()))

	var (
		products repository.ProductRepository = mongoRepo.Products()
		users    repository.UserRepository    = mongoRepo.Users()
		redis    *repository.RedisRepository
	)

	checks := map[string]gateway.HealthCheck{"mongodb": mongoRepo.Ping}
	probes := map[string]grpc.Probe{"mongodb": mongoRepo.Ping}

	// Redis is an optional read cache.
	if cfg.Redis.Addr != "" {
		redis = repository.NewRedisRepository(&cfg.Redis)
		if err := redis.Ping(ctx); err != nil {
			log.Warn("Redis connection failed, cache calls will fall through", zap.Error(err))
		} else {
			log.Info("Redis connected successfully")
		}
		products = repository.NewCachedProducts(products, redis, redis.TTL(), log.Named("cache"))
		users = repository.NewCachedUsers(users, redis, redis.TTL(), log.Named("cache"))
		checks["redis"] = redis.Ping
	}

	// Shipping label ledger
	var shipmentLedger ledger.Ledger = ledger.Nop()
	var gormLedger *ledger.GormLedger
	if cfg.MySQL.Enabled {
		gormLedger, err = ledger.Open(&cfg.MySQL)
		if err != nil {
			log.Fatal("Failed to open shipment ledger", zap.Error(err))
		}
		shipmentLedger = gormLedger
		log.Info("Shipment ledger ready", zap.String("database", cfg.MySQL.Database))
	}

	// Events
	sinks := []events.Sink{events.NewAuditSink(mongoRepo.Audit(), cfg.Server.Name)}
	var kafkaSink *events.KafkaSink
	if cfg.Kafka.Enabled {
		kafkaSink = events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		sinks = append(sinks, kafkaSink)
		log.Info("Kafka sink enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	dispatcher, err := events.NewDispatcher(log, sinks...)
	if err != nil {
		log.Fatal("Failed to start event dispatcher", zap.Error(err))
	}

	// Upstream clients
	payments := mercadopago.NewClient(&cfg.MercadoPago, cfg.Timeouts.Upstream)
	aggregator := melhorenvio.NewClient(&cfg.MelhorEnvio, cfg.Timeouts.Upstream)
	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	carts := mongoRepo.Carts()
	orders := mongoRepo.Orders()

	services := gateway.Services{
		Catalog:    service.NewCatalog(products, log),
		Cart:       service.NewCartService(carts, products, log),
		Orders:     service.NewOrderBuilder(carts, products, orders, users, dispatcher, log),
		Reconciler: service.NewReconciler(orders, products, payments, mongoRepo, dispatcher, log),
		Profiles:   service.NewProfiles(users, issuer, log),
		Shipping:   service.NewShipping(aggregator, products, shipmentLedger, dispatcher, &cfg.MelhorEnvio, log),
		Payments:   service.NewPayments(orders, users, payments, &cfg.MercadoPago, log),
	}

	gw := gateway.NewGateway(&cfg.Gateway, log, services, issuer, checks)
	gw.SetupRoutes()

	healthServer := grpc.NewHealthServer(&cfg.Server, log, probes)

	serverErr := make(chan error, 2)
	go func() {
		if err := gw.Start(); err != nil {
			serverErr <- fmt.Errorf("gateway: %w", err)
		}
	}()
	go func() {
		if err := healthServer.Start(); err != nil {
			serverErr <- fmt.Errorf("grpc health: %w", err)
		}
	}()

	// Service discovery is best effort.
	instance := &discovery.ServiceInstance{
		Name:     cfg.Server.Name,
		Host:     cfg.Server.Host,
		GRPCPort: cfg.Server.Port,
		HTTPPort: cfg.Gateway.Port,
	}
	var sd *discovery.ServiceDiscovery
	if len(cfg.Etcd.Endpoints) > 0 {
		sd, err = discovery.NewServiceDiscovery(&cfg.Etcd, log)
		if err != nil {
			log.Warn("Failed to connect to etcd, continuing without service discovery", zap.Error(err))
		} else if err := sd.Register(ctx, instance); err != nil {
			log.Warn("Failed to register service", zap.Error(err))
		}
	}

	log.Info("Storefront started successfully")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("Received shutdown signal")
	case err := <-serverErr:
		log.Error("Server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if sd != nil {
		if err := sd.Deregister(shutdownCtx, instance); err != nil {
			log.Error("Failed to deregister service", zap.Error(err))
		}
		sd.Close()
	}

	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Error("Gateway shutdown failed", zap.Error(err))
	}
	healthServer.Stop()

	if err := dispatcher.Close(5 * time.Second); err != nil {
		log.Warn("Event dispatcher closed with pending events", zap.Error(err))
	}
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			log.Error("Failed to close Kafka writer", zap.Error(err))
		}
	}
	if gormLedger != nil {
		if err := gormLedger.Close(); err != nil {
			log.Error("Failed to close shipment ledger", zap.Error(err))
		}
	}
	if redis != nil {
		if err := redis.Close(); err != nil {
			log.Error("Failed to close Redis", zap.Error(err))
		}
	}
	if err := mongoRepo.Close(shutdownCtx); err != nil {
		log.Error("Failed to disconnect MongoDB", zap.Error(err))
	}

	log.Info("Storefront stopped")
}

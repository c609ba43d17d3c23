package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/config"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	defaultProbeInterval = 10 * time.Second
	probeTimeout         = 3 * time.Second
)

// Probe reports whether one backing store is reachable.
type Probe func(ctx context.Context) error

// HealthServer exposes the standard gRPC health service. The serving status
// of both the overall ("") and the named service follows the probes.
type HealthServer struct {
	config   *config.ServerConfig
	logger   *zap.Logger
	health   *health.Server
	probes   map[string]Probe
	interval time.Duration

	srv  *grpc.Server
	stop chan struct{}
	once sync.Once
}

func NewHealthServer(cfg *config.ServerConfig, logger *zap.Logger, probes map[string]Probe) *HealthServer {
	return &HealthServer{
		config:   cfg,
		logger:   logger.Named("grpc"),
		health:   health.NewServer(),
		probes:   probes,
		interval: defaultProbeInterval,
		stop:     make(chan struct{}),
	}
}

// Refresh runs every probe once and publishes the result.
func (s *HealthServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, probe := range s.probes {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := probe(pctx)
		cancel()
		if err != nil {
			s.logger.Warn("Health probe failed", zap.String("probe", name), zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.config.Name, status)
	return status
}

// Start listens on the configured port and blocks until Stop.
func (s *HealthServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.srv = grpc.NewServer()
	healthpb.RegisterHealthServer(s.srv, s.health)
	reflection.Register(s.srv)

	s.Refresh(context.Background())
	go s.watch()

	s.logger.Info("gRPC health server starting", zap.String("address", addr))
	return s.srv.Serve(lis)
}

func (s *HealthServer) watch() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Refresh(context.Background())
		}
	}
}

// Stop marks the service as not serving and drains in-flight calls.
func (s *HealthServer) Stop() {
	s.once.Do(func() {
		close(s.stop)
		s.health.Shutdown()
		if s.srv != nil {
			s.srv.GracefulStop()
		}
	})
}

// Package discovery announces a running storefront instance in etcd so
// load balancers and sibling services can find its HTTP and gRPC ports.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/config"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const leaseTTLSeconds = 30

type ServiceDiscovery struct {
	client *clientv3.Client
	config *config.EtcdConfig
	logger *zap.Logger

	mu      sync.Mutex
	leases  map[string]clientv3.LeaseID
	cancels map[string]context.CancelFunc
}

// ServiceInstance is one process. GRPCPort serves the health service,
// HTTPPort the storefront API.
type ServiceInstance struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	GRPCPort int    `json:"grpcPort"`
	HTTPPort int    `json:"httpPort"`
}

func (i *ServiceInstance) GRPCAddr() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.GRPCPort))
}

func (i *ServiceInstance) HTTPAddr() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.HTTPPort))
}

func NewServiceDiscovery(cfg *config.EtcdConfig, logger *zap.Logger) (*ServiceDiscovery, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("no etcd endpoints configured")
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout(cfg.DialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &ServiceDiscovery{
		client:  cli,
		config:  cfg,
		logger:  logger.Named("discovery"),
		leases:  make(map[string]clientv3.LeaseID),
		cancels: make(map[string]context.CancelFunc),
	}, nil
}

// dialTimeout accepts either a bare number of seconds or a duration.
func dialTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	if d < time.Second {
		return d * time.Second
	}
	return d
}

func instanceKey(prefix string, instance *ServiceInstance) string {
	return fmt.Sprintf("%s%s/%s", prefix, instance.Name, instance.GRPCAddr())
}

// Register puts the instance under a lease and keeps the lease alive until
// Deregister or Close.
func (sd *ServiceDiscovery) Register(ctx context.Context, instance *ServiceInstance) error {
	key := instanceKey(sd.config.Prefix, instance)
	value, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to encode instance: %w", err)
	}

	lease, err := sd.client.Grant(ctx, leaseTTLSeconds)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}

	if _, err := sd.client.Put(ctx, key, string(value), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	// The keep-alive outlives the registration request.
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := sd.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to keep alive: %w", err)
	}

	sd.mu.Lock()
	sd.leases[key] = lease.ID
	sd.cancels[key] = cancel
	sd.mu.Unlock()

	go func() {
		for range ch {
		}
		sd.logger.Debug("Lease keep-alive stopped", zap.String("key", key))
	}()

	sd.logger.Info("Service registered", zap.String("key", key), zap.String("http", instance.HTTPAddr()))
	return nil
}

func (sd *ServiceDiscovery) Deregister(ctx context.Context, instance *ServiceInstance) error {
	key := instanceKey(sd.config.Prefix, instance)

	sd.mu.Lock()
	lease, hasLease := sd.leases[key]
	if cancel, ok := sd.cancels[key]; ok {
		cancel()
	}
	delete(sd.leases, key)
	delete(sd.cancels, key)
	sd.mu.Unlock()

	if hasLease {
		if _, err := sd.client.Revoke(ctx, lease); err == nil {
			return nil
		}
	}

	if _, err := sd.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}
	return nil
}

func (sd *ServiceDiscovery) Close() error {
	sd.mu.Lock()
	for _, cancel := range sd.cancels {
		cancel()
	}
	sd.mu.Unlock()
	return sd.client.Close()
}

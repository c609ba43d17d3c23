package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/models"
	"go.uber.org/zap"
)

const catalogKey = "catalog:products"

func ownerKey(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

// CachedProducts serves the catalog listing from the cache and drops it on
// every write that can change what the listing shows. Cache failures are
// logged and fall through to the store.
type CachedProducts struct {
	ProductRepository
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedProducts(store ProductRepository, cache Cache, ttl time.Duration, logger *zap.Logger) *CachedProducts {
	return &CachedProducts{ProductRepository: store, cache: cache, ttl: ttl, logger: logger}
}

func (c *CachedProducts) List(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := c.cache.GetJSON(ctx, catalogKey, &products)
	if err == nil {
		return products, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("Catalog cache read failed", zap.Error(err))
	}

	products, err = c.ProductRepository.List(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetJSON(ctx, catalogKey, products, c.ttl); err != nil {
		c.logger.Warn("Catalog cache write failed", zap.Error(err))
	}
	return products, nil
}

func (c *CachedProducts) Create(ctx context.Context, product *models.Product) error {
	if err := c.ProductRepository.Create(ctx, product); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *CachedProducts) Update(ctx context.Context, id string, update ProductUpdate) (*models.Product, error) {
	product, err := c.ProductRepository.Update(ctx, id, update)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx)
	return product, nil
}

func (c *CachedProducts) Delete(ctx context.Context, id string) error {
	if err := c.ProductRepository.Delete(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *CachedProducts) DecrementStock(ctx context.Context, id string, quantity int) (bool, error) {
	found, err := c.ProductRepository.DecrementStock(ctx, id, quantity)
	if err != nil {
		return false, err
	}
	if found {
		c.invalidate(ctx)
	}
	return found, nil
}

func (c *CachedProducts) invalidate(ctx context.Context) {
	if err := c.cache.Del(ctx, catalogKey); err != nil {
		c.logger.Warn("Catalog cache invalidation failed", zap.Error(err))
	}
}

// CachedUsers caches the contact snapshots used by admin order listings.
type CachedUsers struct {
	UserRepository
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedUsers(store UserRepository, cache Cache, ttl time.Duration, logger *zap.Logger) *CachedUsers {
	return &CachedUsers{UserRepository: store, cache: cache, ttl: ttl, logger: logger}
}

func (c *CachedUsers) Owners(ctx context.Context, ids []string) (map[string]*models.OrderOwner, error) {
	owners := make(map[string]*models.OrderOwner, len(ids))
	var missing []string

	for _, id := range ids {
		var owner models.OrderOwner
		err := c.cache.GetJSON(ctx, ownerKey(id), &owner)
		if err == nil {
			owners[id] = &owner
			continue
		}
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn("User cache read failed", zap.String("user_id", id), zap.Error(err))
		}
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		return owners, nil
	}

	loaded, err := c.UserRepository.Owners(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, owner := range loaded {
		owners[id] = owner
		if err := c.cache.SetJSON(ctx, ownerKey(id), owner, c.ttl); err != nil {
			c.logger.Warn("User cache write failed", zap.String("user_id", id), zap.Error(err))
		}
	}
	return owners, nil
}

func (c *CachedUsers) Update(ctx context.Context, id string, update UserUpdate) (*models.User, error) {
	user, err := c.UserRepository.Update(ctx, id, update)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Del(ctx, ownerKey(id)); err != nil {
		c.logger.Warn("User cache invalidation failed", zap.String("user_id", id), zap.Error(err))
	}
	return user, nil
}

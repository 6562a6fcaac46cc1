// Package cache provides a read-through Redis cache for the public product
// listing. The engine never reads products from here; stock checks always
// happen inside a storage transaction.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ec-fulfillment/internal/domain/catalog"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
)

const activeProductsKey = "catalog:active"

// ProductCache serves the active-product listing from Redis with a short
// TTL. A nil client degrades to direct store reads.
type ProductCache struct {
	store store.Store
	rdb   *redis.Client
	ttl   time.Duration
}

func NewProductCache(st store.Store, rdb *redis.Client, ttl time.Duration) *ProductCache {
	return &ProductCache{store: st, rdb: rdb, ttl: ttl}
}

// ListActive returns all active products, from cache when fresh
func (c *ProductCache) ListActive(ctx context.Context) ([]*catalog.Product, error) {
	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, activeProductsKey).Bytes()
		if err == nil {
			var products []*catalog.Product
			if json.Unmarshal(data, &products) == nil {
				return products, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			log.Printf("[Cache] Redis read failed, falling back to store: %v", err)
		}
	}

	var products []*catalog.Product
	err := c.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		products, err = tx.ActiveProducts()
		return err
	})
	if err != nil {
		return nil, err
	}

	if c.rdb != nil {
		if data, err := json.Marshal(products); err == nil {
			if err := c.rdb.Set(ctx, activeProductsKey, data, c.ttl).Err(); err != nil {
				log.Printf("[Cache] Redis write failed: %v", err)
			}
		}
	}
	return products, nil
}

// Invalidate drops the cached listing after a stock or visibility change
func (c *ProductCache) Invalidate(ctx context.Context) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, activeProductsKey).Err(); err != nil {
		log.Printf("[Cache] Redis invalidate failed: %v", err)
	}
}

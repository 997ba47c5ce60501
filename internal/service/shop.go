// Package service holds the read and write paths for shops and seckill
// vouchers that sit on top of the cache engine.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Eklps/Dianping/internal/cache"
	"github.com/Eklps/Dianping/internal/domain"
	"github.com/Eklps/Dianping/internal/logging"
)

// Cache key prefixes for shops. Logical-expiry entries and plain TTL entries
// use different keys because their stored formats differ.
const (
	ShopKeyPrefix      = "cache:shop:"
	ShopPlainKeyPrefix = "cache:shop:plain:"
)

// ErrShopNotFound is returned by Update for an unknown shop.
var ErrShopNotFound = errors.New("shop not found")

// ShopStore is the relational side of shops. GetShop returns (nil, nil) for
// a missing shop; UpdateShop returns an error wrapping a not-found sentinel
// for a missing shop.
type ShopStore interface {
	GetShop(ctx context.Context, id int64) (*domain.Shop, error)
	UpdateShop(ctx context.Context, shop *domain.Shop) error
}

// ShopService serves shop reads from the cache and keeps it consistent on
// writes.
type ShopService struct {
	engine *cache.Client
	shops  ShopStore
	ttl    time.Duration
}

// NewShopService creates a shop service. ttl is both the plain entry TTL and
// the logical expiry window.
func NewShopService(engine *cache.Client, shops ShopStore, ttl time.Duration) *ShopService {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &ShopService{engine: engine, shops: shops, ttl: ttl}
}

// QueryByID reads a pre-warmed shop with logical expiry. Shops that were
// never warmed are reported as absent.
func (s *ShopService) QueryByID(ctx context.Context, id int64) (*domain.Shop, error) {
	return cache.QueryWithLogicalExpire(ctx, s.engine, ShopKeyPrefix, id, s.shops.GetShop, s.ttl)
}

// QueryByIDWithMutex reads a shop through the blocking mutex path.
func (s *ShopService) QueryByIDWithMutex(ctx context.Context, id int64) (*domain.Shop, error) {
	return cache.QueryWithMutex(ctx, s.engine, ShopPlainKeyPrefix, id, s.shops.GetShop, s.ttl)
}

// QueryByIDWithPassThrough reads a shop with negative caching only.
func (s *ShopService) QueryByIDWithPassThrough(ctx context.Context, id int64) (*domain.Shop, error) {
	return cache.QueryWithPassThrough(ctx, s.engine, ShopPlainKeyPrefix, id, s.shops.GetShop, s.ttl)
}

// Update writes the shop to the database first and then drops its cache
// entries. The logical entry is re-warmed from the database so hot reads
// keep being served.
func (s *ShopService) Update(ctx context.Context, shop *domain.Shop) error {
	if shop.ID <= 0 {
		return fmt.Errorf("shop id must be positive")
	}
	if err := s.shops.UpdateShop(ctx, shop); err != nil {
		return err
	}
	for _, prefix := range []string{ShopKeyPrefix, ShopPlainKeyPrefix} {
		if err := s.engine.Delete(ctx, cache.Key(prefix, shop.ID)); err != nil {
			return err
		}
	}
	if err := s.WarmUp(ctx, shop.ID); err != nil {
		logging.Op().Warn("re-warm shop after update", "shop", shop.ID, "error", err)
	}
	return nil
}

// WarmUp loads a shop from the database and writes its logical-expiry entry.
func (s *ShopService) WarmUp(ctx context.Context, id int64) error {
	shop, err := s.shops.GetShop(ctx, id)
	if err != nil {
		return fmt.Errorf("load shop %d: %w", id, err)
	}
	if shop == nil {
		return fmt.Errorf("shop %d: %w", id, ErrShopNotFound)
	}
	return s.engine.SetWithLogicalExpire(ctx, cache.Key(ShopKeyPrefix, id), shop, s.ttl)
}

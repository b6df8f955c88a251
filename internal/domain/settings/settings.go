// Package settings holds process-wide settings mutated only by
// administrators, currently the point price.
package settings

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/pointshop/internal/cache"
)

var (
	// ErrInvalidPointPrice is returned when setting a non-positive price.
	ErrInvalidPointPrice = errors.New("point price must be positive")
	// ErrNotConfigured is returned when no point price has been stored yet.
	ErrNotConfigured = errors.New("point price not configured")
)

// PointPrice is the currency amount equal to one point.
type PointPrice struct {
	Price     decimal.Decimal
	UpdatedAt time.Time
	UpdatedBy string
}

// Repository persists the point price singleton.
type Repository interface {
	// PointPrice returns the stored price or ErrNotConfigured.
	PointPrice(ctx context.Context) (*PointPrice, error)
	SetPointPrice(ctx context.Context, p PointPrice) error
}

// Service reads the point price through a cache and coalesces concurrent
// misses.
type Service struct {
	repo  Repository
	cache cache.Provider
	ttl   time.Duration
	group singleflight.Group
	now   func() time.Time

	// mu orders cache fills against invalidations; gen counts writes so a
	// load that raced SetPointPrice does not cache what it read.
	mu  sync.Mutex
	gen uint64
}

// NewService creates a settings Service. A zero ttl disables caching.
func NewService(repo Repository, c cache.Provider, ttl time.Duration) *Service {
	return &Service{repo: repo, cache: c, ttl: ttl, now: time.Now}
}

// PointPrice returns the current point price.
func (s *Service) PointPrice(ctx context.Context) (decimal.Decimal, error) {
	if s.cache != nil && s.ttl > 0 {
		v, err := s.cache.Get(ctx, cache.PointPriceKey)
		switch {
		case err == nil:
			if price, perr := decimal.NewFromString(v); perr == nil {
				return price, nil
			}
		case !errors.Is(err, cache.ErrNotFound):
			zctx.From(ctx).Warn("Point price cache read failed", zap.Error(err))
		}
	}

	// Shared by all waiters, detached from the caller that started it.
	loadCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(cache.PointPriceKey, func() (any, error) {
		gen := s.generation()
		p, err := s.repo.PointPrice(loadCtx)
		if err != nil {
			return nil, err
		}
		s.store(loadCtx, gen, p.Price)
		return p.Price, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return decimal.Zero, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		if errors.Is(res.Err, ErrNotConfigured) {
			return decimal.Zero, ErrNotConfigured
		}
		return decimal.Zero, errors.Wrap(res.Err, "load point price")
	}
	return res.Val.(decimal.Decimal), nil
}

// Get returns the stored setting with its audit fields, bypassing the cache.
func (s *Service) Get(ctx context.Context) (*PointPrice, error) {
	return s.repo.PointPrice(ctx)
}

// SetPointPrice replaces the point price.
func (s *Service) SetPointPrice(ctx context.Context, price decimal.Decimal, actor string) (*PointPrice, error) {
	if !price.IsPositive() {
		return nil, ErrInvalidPointPrice
	}
	p := PointPrice{Price: price, UpdatedAt: s.now().UTC(), UpdatedBy: actor}
	if err := s.repo.SetPointPrice(ctx, p); err != nil {
		return nil, errors.Wrap(err, "store point price")
	}
	s.invalidate(ctx)
	zctx.From(ctx).Info("Point price updated",
		zap.String("price", price.String()),
		zap.String("actor", actor),
	)
	return &p, nil
}

func (s *Service) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// invalidate drops the cached price and detaches in-flight loads so later
// readers see the new value.
func (s *Service) invalidate(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.group.Forget(cache.PointPriceKey)
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.PointPriceKey); err != nil {
		zctx.From(ctx).Warn("Point price cache invalidation failed", zap.Error(err))
	}
}

// store caches price unless the setting was written after gen was taken.
func (s *Service) store(ctx context.Context, gen uint64, price decimal.Decimal) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return
	}
	if err := s.cache.Set(ctx, cache.PointPriceKey, price.String(), s.ttl); err != nil {
		zctx.From(ctx).Warn("Point price cache write failed", zap.Error(err))
	}
}

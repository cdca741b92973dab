package resolver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/seatdesk/seatdesk/internal/domain"
	"github.com/seatdesk/seatdesk/internal/occupancy"
	"github.com/seatdesk/seatdesk/internal/repository"
)

const (
	poolCacheSize       = 256
	DefaultPoolCacheTTL = 5 * time.Minute
)

// Resolver picks a resource with spare capacity. It never writes: the answer
// is advisory and may be stale by the time the provider is called.
type Resolver struct {
	resources repository.ResourceRepository
	cache     occupancy.Cache
	pools     *lru.LRU[string, int64]
	logger    *zap.Logger
}

func New(resources repository.ResourceRepository, cache occupancy.Cache, poolCacheTTL time.Duration, logger *zap.Logger) *Resolver {
	if poolCacheTTL <= 0 {
		poolCacheTTL = DefaultPoolCacheTTL
	}
	return &Resolver{
		resources: resources,
		cache:     cache,
		pools:     lru.NewLRU[string, int64](poolCacheSize, nil, poolCacheTTL),
		logger:    logger,
	}
}

// FindAvailable returns the active resource in scope with the smallest id
// whose occupancy is below capacity, or ErrNoCapacity. Resources listed in
// exclude are skipped.
func (r *Resolver) FindAvailable(ctx context.Context, scope domain.PoolScope, exclude ...int64) (*domain.ResourceRef, error) {
	poolID, err := r.poolID(ctx, scope)
	if err != nil {
		return nil, err
	}

	candidates, err := r.resources.ListActive(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}

	for _, res := range candidates {
		if slices.Contains(exclude, res.ID) {
			continue
		}
		used, err := r.cache.Occupancy(ctx, res.ID)
		if err != nil {
			r.logger.Warn("skipping resource: occupancy unavailable",
				zap.Int64("resource_id", res.ID), zap.Error(err))
			continue
		}
		if used < res.Capacity {
			ref := res.Ref()
			ref.Available = res.Capacity - used
			return &ref, nil
		}
	}
	return nil, domain.ErrNoCapacity
}

// Stats totals capacity and occupancy over every active resource. Resources
// whose occupancy cannot be read count as full.
func (r *Resolver) Stats(ctx context.Context) (*domain.SeatStats, error) {
	all, err := r.resources.ListActive(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}

	var s domain.SeatStats
	for _, res := range all {
		s.TotalSeats += res.Capacity
		used, err := r.cache.Occupancy(ctx, res.ID)
		if err != nil {
			r.logger.Warn("occupancy unavailable for stats",
				zap.Int64("resource_id", res.ID), zap.Error(err))
			used = res.Capacity
		}
		used = min(used, res.Capacity)
		s.UsedSeats += used
	}
	s.AvailableSeats = s.TotalSeats - s.UsedSeats
	return &s, nil
}

// poolID resolves the scope to a pool id filter; nil means global.
func (r *Resolver) poolID(ctx context.Context, scope domain.PoolScope) (*int64, error) {
	if scope.PoolID != nil {
		return scope.PoolID, nil
	}
	if scope.PoolName == "" {
		return nil, nil
	}
	if id, ok := r.pools.Get(scope.PoolName); ok {
		return &id, nil
	}

	p, err := r.resources.GetPoolByName(ctx, scope.PoolName)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNoCapacity
	}
	if err != nil {
		return nil, fmt.Errorf("lookup pool %q: %w", scope.PoolName, err)
	}
	r.pools.Add(scope.PoolName, p.ID)
	return &p.ID, nil
}

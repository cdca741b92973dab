// Package occupancy serves the number of used seats per resource.
//
// Occupancy is owned by the membership sync job, which writes the
// resource_members snapshot. This package only reads that snapshot, caches
// it, and refreshes the cache on a schedule.
package occupancy

import (
	"context"

	"github.com/seatdesk/seatdesk/internal/repository"
)

// Cache returns the current occupancy of a resource. Values may be stale by
// up to the cache TTL; Invalidate is a hint that a resource just changed.
type Cache interface {
	Occupancy(ctx context.Context, resourceID int64) (int, error)
	Invalidate(ctx context.Context, resourceID int64) error
}

// Warmer reloads a resource's occupancy from the source of truth.
type Warmer interface {
	Refresh(ctx context.Context, resourceID int64) (int, error)
}

// SourceCache reads straight from the membership snapshot with no caching.
// Used when REDIS_URL is not configured.
type SourceCache struct {
	source repository.MembershipRepository
}

func NewSourceCache(source repository.MembershipRepository) *SourceCache {
	return &SourceCache{source: source}
}

func (c *SourceCache) Occupancy(ctx context.Context, resourceID int64) (int, error) {
	return c.source.CountMembers(ctx, resourceID)
}

func (c *SourceCache) Invalidate(context.Context, int64) error { return nil }

func (c *SourceCache) Refresh(ctx context.Context, resourceID int64) (int, error) {
	return c.source.CountMembers(ctx, resourceID)
}

var (
	_ Cache  = (*SourceCache)(nil)
	_ Warmer = (*SourceCache)(nil)
)

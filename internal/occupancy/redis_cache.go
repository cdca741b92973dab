package occupancy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/seatdesk/seatdesk/internal/repository"
)

const DefaultTTL = 5 * time.Minute

// Connect initializes a Redis client from a redis:// URL or a bare host:port.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisCache is a read-through occupancy cache. Misses are loaded from the
// membership snapshot; concurrent misses for one resource share a single
// load. Redis errors degrade to reading the source directly.
type RedisCache struct {
	client *redis.Client
	source repository.MembershipRepository
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

func NewRedisCache(client *redis.Client, source repository.MembershipRepository, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, source: source, ttl: ttl, logger: logger}
}

func key(resourceID int64) string {
	return "occupancy:" + strconv.FormatInt(resourceID, 10)
}

func (c *RedisCache) Occupancy(ctx context.Context, resourceID int64) (int, error) {
	n, err := c.client.Get(ctx, key(resourceID)).Int()
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, redis.Nil) {
		c.logger.Warn("occupancy cache read failed, using source",
			zap.Int64("resource_id", resourceID), zap.Error(err))
	}

	v, err, _ := c.group.Do(key(resourceID), func() (any, error) {
		return c.Refresh(ctx, resourceID)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Refresh reloads occupancy from the source and stores it with a fresh TTL.
// A failed cache write is logged; the loaded value is still returned.
func (c *RedisCache) Refresh(ctx context.Context, resourceID int64) (int, error) {
	n, err := c.source.CountMembers(ctx, resourceID)
	if err != nil {
		return 0, fmt.Errorf("load occupancy for resource %d: %w", resourceID, err)
	}
	if err := c.client.Set(ctx, key(resourceID), n, c.ttl).Err(); err != nil {
		c.logger.Warn("occupancy cache write failed",
			zap.Int64("resource_id", resourceID), zap.Error(err))
	}
	return n, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, resourceID int64) error {
	if err := c.client.Del(ctx, key(resourceID)).Err(); err != nil {
		return fmt.Errorf("invalidate occupancy for resource %d: %w", resourceID, err)
	}
	return nil
}

var (
	_ Cache  = (*RedisCache)(nil)
	_ Warmer = (*RedisCache)(nil)
)

package occupancy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LeaderLock elects a single replica to run a job. Acquire returns a release
// func when the lock is held, or ok=false when another holder has it.
type LeaderLock interface {
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// RedisLock is a SET NX PX lock. Each holder writes a random token and only
// deletes the key if the token still matches, so an expired holder cannot
// release a lock that has since moved to another replica.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, key: key, ttl: ttl}
}

func (l *RedisLock) Acquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// Detached: the job's ctx may already be done when we release.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
	}
	return release, true, nil
}

// LocalLock always grants leadership. Used for single-replica deployments
// without Redis.
type LocalLock struct{}

func (LocalLock) Acquire(context.Context) (func(), bool, error) {
	return func() {}, true, nil
}

var (
	_ LeaderLock = (*RedisLock)(nil)
	_ LeaderLock = LocalLock{}
)

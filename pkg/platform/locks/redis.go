package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ratedesk/pkg/platform/sentinel"
)

const (
	defaultTTL     = 30 * time.Second
	defaultRetry   = 50 * time.Millisecond
	releaseTimeout = 2 * time.Second
)

// releaseScript deletes the lock only when the stored token matches, so a
// lock that expired and was re-acquired by another instance is never deleted
// by the original holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Redis is a Manager backed by a shared Redis instance, for deployments
// running more than one server process. Locks carry a TTL so a crashed
// holder cannot wedge a negotiation forever.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// RedisOption configures a Redis manager.
type RedisOption func(*Redis)

// WithTTL sets how long an acquired lock survives a crashed holder.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithRedisWait sets the bounded wait budget for acquiring a held lock.
func WithRedisWait(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.wait = d
		}
	}
}

// WithRetryInterval sets the polling interval while waiting for a held lock.
func WithRetryInterval(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.retry = d
		}
	}
}

// NewRedis constructs a Redis-backed lock manager.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: "lock:negotiation:",
		ttl:    defaultTTL,
		wait:   defaultWait,
		retry:  defaultRetry,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire implements Manager using SET NX PX with a per-acquisition token.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	full := r.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)

	for {
		ok, err := r.client.SetNX(ctx, full, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %q: %w", key, err)
		}
		if ok {
			return func() {
				// Release must not inherit a canceled request context.
				rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
				defer cancel()
				_ = releaseScript.Run(rctx, r.client, []string{full}, token).Err()
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, sentinel.ErrLockHeld
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retry):
		}
	}
}

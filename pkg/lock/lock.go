// Package lock provides the lease that keeps a single scheduler instance
// scanning at a time when several are deployed.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// DefaultKey is the lease key shared by every scheduler instance.
const DefaultKey = "cadence:scheduler:lease"

var ErrInvalidTTL = errors.New("lease ttl must be positive")

// Locker is a renewable lease. Acquire returns true while this holder owns it.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Extends the lease only when the stored token is ours.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a Locker backed by a single Redis key holding the owner token.
type RedisLease struct {
	client redis.UniversalClient
	key    string
	token  string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisLease returns a lease on key with a fresh owner token. An empty key
// falls back to DefaultKey; ttl must be positive.
func NewRedisLease(client redis.UniversalClient, key string, ttl time.Duration, logger *slog.Logger) (*RedisLease, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	if key == "" {
		key = DefaultKey
	}

	return &RedisLease{
		client: client,
		key:    key,
		token:  uuid.NewString(),
		ttl:    ttl,
		logger: logger.With("component", "redis_lease", "key", key),
	}, nil
}

// NewRedisClient connects to the Redis server at url (redis://host:port/db).
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// Acquire takes the lease when it is free or renews it when this holder
// already owns it. It reports false while another holder owns it.
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}

	if acquired {
		l.logger.DebugContext(ctx, "lease acquired")

		return true, nil
	}

	renewed, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to renew lease: %w", err)
	}

	return renewed == 1, nil
}

// Release deletes the key only if this holder still owns it.
func (l *RedisLease) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lease: %w", err)
	}

	return nil
}

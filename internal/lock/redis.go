package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/id/uuid"
)

// releaseScript deletes the key only if it still holds our token, so a
// holder whose lease expired cannot release someone else's.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a LockManager shared by every orchestrator instance.
type Redis struct {
	client redis.Cmdable
	prefix string
	tokens TokenSource
}

// NewRedis builds a Redis lock manager. Keys are stored under prefix.
func NewRedis(client redis.Cmdable, prefix string, tokens TokenSource) *Redis {
	if tokens == nil {
		tokens = uuid.New()
	}
	return &Redis{client: client, prefix: prefix, tokens: tokens}
}

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// TryAcquire implements crawler.LockManager with SET NX PX.
func (r *Redis) TryAcquire(ctx context.Context, key string, ttl time.Duration) (crawler.Lease, error) {
	token, err := r.tokens.NewToken()
	if err != nil {
		return nil, fmt.Errorf("lease token: %w", err)
	}
	full := r.prefix + key
	ok, err := r.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", full, err)
	}
	if !ok {
		return nil, crawler.ErrLockHeld
	}
	return &redisLease{client: r.client, key: full, token: token}, nil
}

type redisLease struct {
	client redis.Cmdable
	key    string
	token  string
}

// Release deletes the key if this lease still owns it.
func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}

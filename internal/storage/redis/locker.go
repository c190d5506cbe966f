// Package redis holds short-lived processing locks for payment
// notifications in Redis.
package redis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/GaryWong163/Online-shop/internal/domain/payment"
)

var _ payment.Locker = (*Locker)(nil)

const (
	keyNamespace   = "shop"
	inflightPrefix = "payment_inflight"

	// DefaultTTL bounds how long a crashed worker can block redelivery.
	DefaultTTL = 30 * time.Second
)

// releaseScript deletes KEYS[1] only while it still holds the owner token
// ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type cmdable interface {
	redis.Scripter
	Ping(ctx context.Context) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
}

// Locker implements payment.Locker with SET NX and a TTL. Each acquired key
// remembers an owner token so a lock that expired and was taken by another
// worker is never released by the previous owner.
type Locker struct {
	client cmdable
	ttl    time.Duration

	mu     sync.Mutex
	owners map[string]string
}

// NewClient parses url and verifies connectivity.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return c, nil
}

// NewLocker creates a Locker on client.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	return newLocker(client, ttl)
}

func newLocker(client cmdable, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{client: client, ttl: ttl, owners: make(map[string]string)}
}

// Key returns the namespaced lock key for a provider transaction id.
func Key(id string) string {
	return strings.Join([]string{keyNamespace, inflightPrefix, id}, ":")
}

// Acquire takes the lock for key. It reports false when another holder owns
// it.
func (l *Locker) Acquire(ctx context.Context, key string) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, Key(key), owner, l.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "setnx")
	}
	if ok {
		l.mu.Lock()
		l.owners[key] = owner
		l.mu.Unlock()
	}
	return ok, nil
}

// Release frees key if this Locker still owns it.
func (l *Locker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	owner, ok := l.owners[key]
	delete(l.owners, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	if err := releaseScript.Run(ctx, l.client, []string{Key(key)}, owner).Err(); err != nil {
		return errors.Wrap(err, "release lock")
	}
	return nil
}

// Ping checks connectivity.
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

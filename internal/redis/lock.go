package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("slot lock not acquired")

// Locker serializes commands that write to the same provider calendar day.
// The store's unique constraint stays authoritative.
type Locker interface {
	WithSlotLock(ctx context.Context, providerID int64, date time.Time, fn func(ctx context.Context) error) error
}

// compare-and-delete so an expired holder never removes a successor's lock
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type providerDayLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisSlotLocker returns a Locker keyed on provider and date. fn runs
// with a context bounded by ttl so it cannot outlive the key.
func NewRedisSlotLocker(rdb *redis.Client, ttl time.Duration) Locker {
	return &providerDayLocker{rdb: rdb, ttl: ttl}
}

func SlotLockKey(providerID int64, date time.Time) string {
	return fmt.Sprintf("lock:provider:%d:%s", providerID, date.Format(time.DateOnly))
}

type lease struct {
	key   string
	token string
}

func (l *providerDayLocker) acquire(ctx context.Context, key string) (*lease, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	switch {
	case err != nil:
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	case !ok:
		return nil, ErrLockNotAcquired
	}
	return &lease{key: key, token: token}, nil
}

func (l *providerDayLocker) release(ctx context.Context, ls *lease) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{ls.key}, ls.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s: %w", ls.key, err)
	}
	return nil
}

func (l *providerDayLocker) WithSlotLock(ctx context.Context, providerID int64, date time.Time, fn func(ctx context.Context) error) error {
	ls, err := l.acquire(ctx, SlotLockKey(providerID, date))
	if err != nil {
		return err
	}
	// Released even when the request context is already cancelled.
	defer func() { _ = l.release(context.WithoutCancel(ctx), ls) }()

	held, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(held)
}

type noopLocker struct{}

// NoopLocker runs fn directly; used when SLOT_LOCK_ENABLED is false.
func NoopLocker() Locker { return noopLocker{} }

func (noopLocker) WithSlotLock(ctx context.Context, _ int64, _ time.Time, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

package redisclient

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("resource-day lock not acquired")
)

// Locker serializes validate-then-commit over a set of resource-day keys.
// Keys are taken in sorted order and all of them are held while fn runs.
type Locker interface {
	WithLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

func dayKey(kind, id string, day time.Time) string {
	return fmt.Sprintf("lock:%s-day:%s:%s", kind, id, day.Format(time.DateOnly))
}

func ProviderDayKey(providerID string, day time.Time) string {
	return dayKey("provider", providerID, day)
}

func RoomDayKey(roomID string, day time.Time) string {
	return dayKey("room", roomID, day)
}

func EquipmentDayKey(equipmentID string, day time.Time) string {
	return dayKey("equipment", equipmentID, day)
}

// lockOrder sorts and dedupes keys so two callers never wait on each other
// in opposite order.
func lockOrder(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}

type redisDayLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDayLocker creates a locker that uses one Redis key per resource-day.
func NewRedisDayLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisDayLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisDayLocker) WithLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()
	var held []string

	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		for _, key := range held {
			_ = l.release(releaseCtx, key, token)
		}
	}()

	for _, key := range lockOrder(keys) {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
		}
		held = append(held, key)
	}

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(lockCtx)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisDayLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

// LocalLocker is the single-process stand-in used when Redis is not
// configured. Like the Redis locker it fails fast instead of waiting.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) WithLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	ordered := lockOrder(keys)

	l.mu.Lock()
	for _, key := range ordered {
		if _, busy := l.held[key]; busy {
			l.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
		}
	}
	for _, key := range ordered {
		l.held[key] = struct{}{}
	}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		for _, key := range ordered {
			delete(l.held, key)
		}
		l.mu.Unlock()
	}()

	return fn(ctx)
}

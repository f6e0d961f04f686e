package forms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSubmitInProgress is returned when the same form instance already has a
// submission in flight.
var ErrSubmitInProgress = errors.New("forms: submission already in progress")

const defaultGuardTTL = 30 * time.Second

// Guard serialises submissions per form instance.
type Guard interface {
	// Acquire marks key as in flight. It returns ErrSubmitInProgress when the
	// key is already held.
	Acquire(ctx context.Context, key string) error
	Release(ctx context.Context, key string)
	// Busy reports whether key is currently held.
	Busy(ctx context.Context, key string) bool
}

// InstanceKey identifies one browser session's copy of a form.
func InstanceKey(sessionID, form string) string {
	return sessionID + ":" + form
}

// MemoryGuard keeps in-flight keys in process memory.
type MemoryGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewMemoryGuard constructs an empty MemoryGuard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{inFlight: make(map[string]struct{})}
}

// Acquire implements Guard.
func (g *MemoryGuard) Acquire(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.inFlight[key]; ok {
		return ErrSubmitInProgress
	}
	g.inFlight[key] = struct{}{}
	return nil
}

// Release implements Guard.
func (g *MemoryGuard) Release(_ context.Context, key string) {
	g.mu.Lock()
	delete(g.inFlight, key)
	g.mu.Unlock()
}

// Busy implements Guard.
func (g *MemoryGuard) Busy(_ context.Context, key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inFlight[key]
	return ok
}

// RedisGuard shares in-flight keys across replicas with SET NX. The TTL frees
// keys left behind by a crashed replica.
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisGuard wraps client. A non-positive ttl selects the default.
func NewRedisGuard(client redis.UniversalClient, ttl time.Duration) *RedisGuard {
	if client == nil {
		panic("forms: redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}
	return &RedisGuard{client: client, prefix: "signin:guard:", ttl: ttl}
}

// Acquire implements Guard.
func (g *RedisGuard) Acquire(ctx context.Context, key string) error {
	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), g.ttl).Result()
	if err != nil {
		return fmt.Errorf("forms: acquire guard: %w", err)
	}
	if !ok {
		return ErrSubmitInProgress
	}
	return nil
}

// Release implements Guard. The request context may already be cancelled, so
// the delete runs on a detached context.
func (g *RedisGuard) Release(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	_ = g.client.Del(ctx, g.prefix+key).Err()
}

// Busy implements Guard.
func (g *RedisGuard) Busy(ctx context.Context, key string) bool {
	n, err := g.client.Exists(ctx, g.prefix+key).Result()
	return err == nil && n > 0
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xelma/round-engine/internal/model"
)

// ErrNonceReused is returned when a signed request is replayed.
var ErrNonceReused = errors.New("auth: nonce already used")

// NonceGuard records (address, nonce) pairs and rejects a pair seen before.
// Entries only need to outlive the verifier's acceptance window.
type NonceGuard interface {
	Use(ctx context.Context, addr model.Address, nonce int64, ttl time.Duration) error
}

// MemoryNonceGuard is a process-local NonceGuard.
type MemoryNonceGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time // key → expiry
	now  func() time.Time
}

func NewMemoryNonceGuard() *MemoryNonceGuard {
	return &MemoryNonceGuard{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (g *MemoryNonceGuard) Use(_ context.Context, addr model.Address, nonce int64, ttl time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, exp := range g.seen {
		if now.After(exp) {
			delete(g.seen, k)
		}
	}

	k := nonceKey(addr, nonce)
	if _, ok := g.seen[k]; ok {
		return ErrNonceReused
	}
	g.seen[k] = now.Add(ttl)
	return nil
}

// RedisNonceGuard shares replay protection across server instances using
// SET NX with a TTL.
type RedisNonceGuard struct {
	rdb *redis.Client
}

func NewRedisNonceGuard(rdb *redis.Client) *RedisNonceGuard {
	return &RedisNonceGuard{rdb: rdb}
}

func (g *RedisNonceGuard) Use(ctx context.Context, addr model.Address, nonce int64, ttl time.Duration) error {
	ok, err := g.rdb.SetNX(ctx, nonceKey(addr, nonce), 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("auth: record nonce: %w", err)
	}
	if !ok {
		return ErrNonceReused
	}
	return nil
}

func nonceKey(addr model.Address, nonce int64) string {
	return "xelma:nonce:" + string(addr) + ":" + strconv.FormatInt(nonce, 10)
}

// Compile-time interface checks.
var (
	_ NonceGuard = (*MemoryNonceGuard)(nil)
	_ NonceGuard = (*RedisNonceGuard)(nil)
)

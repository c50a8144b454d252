package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xelma/round-engine/internal/model"
)

// Cache bookkeeping keys. The hash tag keeps every key in one cluster slot so
// the scripts below can touch them together.
const (
	genKey     = "xelma:{state}:gen"
	writersKey = "xelma:{state}:writers"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for View. Update always reads and writes the primary, so contract
// logic never sees a cached value.
//
// Cache entries are namespaced by a generation counter that every Update
// bumps before and after it commits. A View only reads or fills the cache
// while no Update is in flight, and it rechecks the generation once fn
// returns; if a write landed in between, fn runs again against the primary
// alone. fn may therefore run twice and must only read.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// fillScript stores a value only if the generation is unchanged and no
// writer is in flight.
var fillScript = redis.NewScript(`
if (redis.call('GET', KEYS[1]) or '0') ~= ARGV[1] then return 0 end
if tonumber(redis.call('GET', KEYS[2]) or '0') > 0 then return 0 end
redis.call('SET', KEYS[3], ARGV[2], 'PX', ARGV[3])
return 1
`)

// beginScript registers a writer and bumps the generation. The writer count
// expires so a crashed writer cannot disable the cache forever.
var beginScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return redis.call('INCR', KEYS[1])
`)

// endScript bumps the generation and releases the writer.
var endScript = redis.NewScript(`
local n = redis.call('DECR', KEYS[2])
if n <= 0 then redis.call('DEL', KEYS[2]) end
return redis.call('INCR', KEYS[1])
`)

// --- Read-through (check cache first) ---

func (s *CachedStore) View(ctx context.Context, fn func(Tx) error) error {
	gen, ok := s.generation(ctx)
	if !ok {
		return s.primary.View(ctx, fn)
	}

	err := s.primary.View(ctx, func(tx Tx) error {
		return fn(&cachedTx{Tx: tx, s: s, gen: gen})
	})
	if err != nil {
		return err
	}

	if after, ok := s.generation(ctx); ok && after == gen {
		return nil
	}
	slog.Debug("store: write during cached view, re-reading primary", "gen", gen)
	return s.primary.View(ctx, fn)
}

// generation returns the current cache generation, or false when the cache
// must not be used (a writer is in flight or Redis is unavailable).
func (s *CachedStore) generation(ctx context.Context) (string, bool) {
	vals, err := s.rdb.MGet(ctx, genKey, writersKey).Result()
	if err != nil {
		slog.Warn("store: cache generation unavailable", "err", err)
		return "", false
	}
	gen := "0"
	if v, ok := vals[0].(string); ok {
		gen = v
	}
	if v, ok := vals[1].(string); ok {
		if n, err := strconv.Atoi(v); err != nil || n > 0 {
			return "", false
		}
	}
	return gen, true
}

type cachedTx struct {
	Tx
	s   *CachedStore
	gen string
}

func (t *cachedTx) Get(ctx context.Context, key model.DataKey, dst any) (bool, error) {
	ck := cacheKey(t.gen, key)
	data, err := t.s.rdb.Get(ctx, ck).Bytes()
	if err == nil && json.Unmarshal(data, dst) == nil {
		return true, nil
	}

	// Cache miss: read from primary.
	ok, err := t.Tx.Get(ctx, key, dst)
	if err != nil || !ok {
		return ok, err
	}
	if data, err := json.Marshal(dst); err == nil {
		ttl := strconv.FormatInt(t.s.ttl.Milliseconds(), 10)
		if err := fillScript.Run(ctx, t.s.rdb, []string{genKey, writersKey, ck}, t.gen, data, ttl).Err(); err != nil {
			slog.Warn("store: cache fill failed", "key", key.String(), "err", err)
		}
	}
	return true, nil
}

// Has always asks the primary so it agrees with the snapshot.
func (t *cachedTx) Has(ctx context.Context, key model.DataKey) (bool, error) {
	return t.Tx.Has(ctx, key)
}

// --- Write-through (write to primary, retire the cache generation) ---

func (s *CachedStore) Update(ctx context.Context, fn func(Tx) error) error {
	lease := strconv.FormatInt(s.ttl.Milliseconds(), 10)
	if err := beginScript.Run(ctx, s.rdb, []string{genKey, writersKey}, lease).Err(); err != nil {
		return fmt.Errorf("store: cache begin write: %w", err)
	}

	err := s.primary.Update(ctx, fn)

	// The generation must move even if the caller has gone away.
	// The commit stands either way; until the writer lease expires readers
	// go to the primary.
	if endErr := endScript.Run(context.WithoutCancel(ctx), s.rdb, []string{genKey, writersKey}).Err(); endErr != nil {
		slog.Error("store: cache end write failed", "err", endErr)
	}
	return err
}

// --- Cache helpers ---

func cacheKey(gen string, key model.DataKey) string {
	return "xelma:{state}:" + gen + ":" + key.String()
}

package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/xelma/round-engine/internal/model"
)

func newTestCachedStore(t *testing.T, primary Store) (*CachedStore, *redis.Client) {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { rdb.Close() })

	return NewCachedStore(primary, rdb, time.Minute), rdb
}

func currentGen(t *testing.T, rdb *redis.Client) string {
	t.Helper()
	gen, err := rdb.Get(context.Background(), genKey).Result()
	if err == redis.Nil {
		return "0"
	}
	if err != nil {
		t.Fatalf("read generation: %v", err)
	}
	return gen
}

func readBalance(t *testing.T, s Store, key model.DataKey) decimal.Decimal {
	t.Helper()
	ctx := context.Background()
	var got decimal.Decimal
	if err := s.View(ctx, func(tx Tx) error {
		_, err := tx.Get(ctx, key, &got)
		return err
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	return got
}

func setBalance(t *testing.T, s Store, key model.DataKey, v int64) {
	t.Helper()
	ctx := context.Background()
	if err := s.Update(ctx, func(tx Tx) error { return tx.Set(ctx, key, decimal.NewFromInt(v)) }); err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestCachedStore_ReadThroughAndRetire(t *testing.T) {
	s, rdb := newTestCachedStore(t, NewMemoryStore())
	ctx := context.Background()
	key := model.BalanceKey("cache-test-user")

	setBalance(t, s, key, 7)
	if got := readBalance(t, s, key); !got.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected 7, got %s", got)
	}
	cached := cacheKey(currentGen(t, rdb), key)
	t.Cleanup(func() { rdb.Del(ctx, cached) })
	if n, _ := rdb.Exists(ctx, cached).Result(); n != 1 {
		t.Fatal("expected value to be cached after read")
	}

	setBalance(t, s, key, 9)
	if cacheKey(currentGen(t, rdb), key) == cached {
		t.Fatal("expected write to move the cache generation")
	}
	if got := readBalance(t, s, key); !got.Equal(decimal.NewFromInt(9)) {
		t.Errorf("expected 9 after write, got %s", got)
	}
	refilled := cacheKey(currentGen(t, rdb), key)
	t.Cleanup(func() { rdb.Del(ctx, refilled) })
}

func TestCachedStore_UpdateBypassesCache(t *testing.T) {
	s, rdb := newTestCachedStore(t, NewMemoryStore())
	ctx := context.Background()
	key := model.BalanceKey("cache-stale-user")

	setBalance(t, s, key, 1)
	// Plant a stale cache value; Update must still read the primary.
	planted := cacheKey(currentGen(t, rdb), key)
	rdb.Set(ctx, planted, `"100"`, time.Minute)
	t.Cleanup(func() { rdb.Del(ctx, planted) })

	s.Update(ctx, func(tx Tx) error {
		var bal decimal.Decimal
		tx.Get(ctx, key, &bal)
		if !bal.Equal(decimal.NewFromInt(1)) {
			t.Errorf("update saw cached value %s", bal)
		}
		return nil
	})
}

func TestCachedStore_WriterInFlightSkipsCache(t *testing.T) {
	s, rdb := newTestCachedStore(t, NewMemoryStore())
	ctx := context.Background()
	key := model.BalanceKey("cache-inflight-user")

	setBalance(t, s, key, 3)
	planted := cacheKey(currentGen(t, rdb), key)
	rdb.Set(ctx, planted, `"100"`, time.Minute)
	rdb.Set(ctx, writersKey, 1, time.Minute)
	t.Cleanup(func() { rdb.Del(ctx, planted, writersKey) })

	if got := readBalance(t, s, key); !got.Equal(decimal.NewFromInt(3)) {
		t.Errorf("expected primary value 3 while a writer is in flight, got %s", got)
	}
}

// snapshotStore gives every View a frozen copy of the data taken when the
// View starts, the way a RepeatableRead transaction does, and does not block
// Updates while a View runs.
type snapshotStore struct {
	*MemoryStore
}

func (s snapshotStore) View(_ context.Context, fn func(Tx) error) error {
	return fn(snapshotTx(s.Snapshot()))
}

type snapshotTx map[string]string

func (tx snapshotTx) Get(_ context.Context, key model.DataKey, dst any) (bool, error) {
	raw, ok := tx[key.String()]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal([]byte(raw), dst)
}

func (tx snapshotTx) Set(context.Context, model.DataKey, any) error { return ErrReadOnly }
func (tx snapshotTx) Remove(context.Context, model.DataKey) error   { return ErrReadOnly }

func (tx snapshotTx) Has(_ context.Context, key model.DataKey) (bool, error) {
	_, ok := tx[key.String()]
	return ok, nil
}

func TestCachedStore_ViewConcurrentWithUpdate(t *testing.T) {
	s, rdb := newTestCachedStore(t, snapshotStore{NewMemoryStore()})
	ctx := context.Background()
	key := model.BalanceKey("cache-race-user")

	setBalance(t, s, key, 1)
	startGen := currentGen(t, rdb)

	// The View's snapshot predates the write; its miss must not refill the
	// cache with the old value, and the View itself must report the new one.
	runs := 0
	var got decimal.Decimal
	err := s.View(ctx, func(tx Tx) error {
		runs++
		if runs == 1 {
			setBalance(t, s, key, 2)
		}
		_, err := tx.Get(ctx, key, &got)
		return err
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if runs != 2 {
		t.Errorf("expected the view to re-read the primary, ran %d times", runs)
	}
	if !got.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected committed value 2, got %s", got)
	}

	if n, _ := rdb.Exists(ctx, cacheKey(startGen, key)).Result(); n != 0 {
		t.Error("stale value was written back to the cache")
	}
	if got := readBalance(t, s, key); !got.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected 2 on a later read, got %s", got)
	}
	refilled := cacheKey(currentGen(t, rdb), key)
	t.Cleanup(func() { rdb.Del(ctx, refilled) })
}

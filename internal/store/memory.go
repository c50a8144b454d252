package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xelma/round-engine/internal/model"
)

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

func (s *MemoryStore) View(_ context.Context, fn func(Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&memTx{base: s.data, readOnly: true})
}

func (s *MemoryStore) Update(_ context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		base:    s.data,
		writes:  make(map[string][]byte),
		removed: make(map[string]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}

	// Commit staged changes.
	for k := range tx.removed {
		delete(s.data, k)
	}
	for k, v := range tx.writes {
		s.data[k] = v
	}
	return nil
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Snapshot returns a copy of the raw encoded state, keyed by DataKey.String().
// Tests use it to assert that failed calls leave the store untouched.
func (s *MemoryStore) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.data))
	for k, v := range s.data {
		out[k] = string(v)
	}
	return out
}

// memTx stages writes over the committed map. Values are stored encoded, so
// callers never share memory with the store.
type memTx struct {
	base     map[string][]byte
	writes   map[string][]byte
	removed  map[string]bool
	readOnly bool
}

func (tx *memTx) lookup(key string) ([]byte, bool) {
	if v, ok := tx.writes[key]; ok {
		return v, true
	}
	if tx.removed[key] {
		return nil, false
	}
	v, ok := tx.base[key]
	return v, ok
}

func (tx *memTx) Get(_ context.Context, key model.DataKey, dst any) (bool, error) {
	raw, ok := tx.lookup(key.String())
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return true, nil
}

func (tx *memTx) Set(_ context.Context, key model.DataKey, value any) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	k := key.String()
	delete(tx.removed, k)
	tx.writes[k] = raw
	return nil
}

func (tx *memTx) Remove(_ context.Context, key model.DataKey) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	k := key.String()
	delete(tx.writes, k)
	tx.removed[k] = true
	return nil
}

func (tx *memTx) Has(_ context.Context, key model.DataKey) (bool, error) {
	_, ok := tx.lookup(key.String())
	return ok, nil
}

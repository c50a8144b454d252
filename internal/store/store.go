// Package store defines the persistence contract for the round engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache over a primary store), and in-memory (for testing and development).
//
// The contract is a tagged key→value space. Every contract invocation runs
// inside exactly one View or Update: an Update commits all of its writes or
// none of them, and Updates never interleave.
package store

import (
	"context"
	"errors"

	"github.com/xelma/round-engine/internal/model"
)

// ErrReadOnly is returned when a write is attempted inside View.
var ErrReadOnly = errors.New("store: write in read-only transaction")

// Tx is the per-invocation view of the store. Values are JSON-encoded by the
// backend; Get decodes into dst and reports whether the key existed.
type Tx interface {
	Get(ctx context.Context, key model.DataKey, dst any) (bool, error)
	Set(ctx context.Context, key model.DataKey, value any) error
	Remove(ctx context.Context, key model.DataKey) error
	Has(ctx context.Context, key model.DataKey) (bool, error)
}

// Store runs functions against a consistent snapshot of the key space.
type Store interface {
	// View runs fn read-only. Writes fail with ErrReadOnly.
	View(ctx context.Context, fn func(Tx) error) error

	// Update runs fn serialized against every other Update. If fn returns an
	// error, none of its writes are applied.
	Update(ctx context.Context, fn func(Tx) error) error
}

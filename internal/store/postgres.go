package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xelma/round-engine/internal/model"
)

// stateLockID is the advisory lock key that serializes Updates across every
// engine instance sharing the database.
const stateLockID int64 = 0x58454c4d41

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Each key is one row of contract_state holding the JSON-encoded value; all
// monetary values inside are decimal strings, so nothing is rounded.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx, readOnly: true})
	})
}

func (s *PostgresStore) Update(ctx context.Context, fn func(Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, stateLockID); err != nil {
			return fmt.Errorf("store: acquire state lock: %w", err)
		}
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct {
	tx       pgx.Tx
	readOnly bool
}

func (t *pgTx) Get(ctx context.Context, key model.DataKey, dst any) (bool, error) {
	var raw string
	err := t.tx.QueryRow(ctx,
		`SELECT value::TEXT FROM contract_state WHERE key = $1`, key.String()).
		Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return true, nil
}

func (t *pgTx) Set(ctx context.Context, key model.DataKey, value any) error {
	if t.readOnly {
		return ErrReadOnly
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO contract_state (key, value, updated_at)
		 VALUES ($1, $2::JSONB, now())
		 ON CONFLICT (key) DO UPDATE
		 SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key.String(), string(raw),
	)
	if err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}

func (t *pgTx) Remove(ctx context.Context, key model.DataKey) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM contract_state WHERE key = $1`, key.String()); err != nil {
		return fmt.Errorf("store: remove %s: %w", key, err)
	}
	return nil
}

func (t *pgTx) Has(ctx context.Context, key model.DataKey) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM contract_state WHERE key = $1)`, key.String()).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: has %s: %w", key, err)
	}
	return exists, nil
}

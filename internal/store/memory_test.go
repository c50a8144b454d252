package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/xelma/round-engine/internal/model"
)

func TestMemoryStore_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	key := model.BalanceKey("alice")

	err := s.Update(ctx, func(tx Tx) error {
		return tx.Set(ctx, key, decimal.NewFromInt(42))
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got decimal.Decimal
	err = s.View(ctx, func(tx Tx) error {
		ok, err := tx.Get(ctx, key, &got)
		if !ok {
			t.Error("expected key to exist")
		}
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(42)) {
		t.Errorf("expected 42, got %s", got)
	}

	s.Update(ctx, func(tx Tx) error { return tx.Remove(ctx, key) })
	s.View(ctx, func(tx Tx) error {
		if ok, _ := tx.Has(ctx, key); ok {
			t.Error("expected key to be removed")
		}
		return nil
	})
}

func TestMemoryStore_FailedUpdateDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Update(ctx, func(tx Tx) error {
		return tx.Set(ctx, model.AdminKey, model.Address("admin"))
	})
	before := s.Snapshot()

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx Tx) error {
		tx.Set(ctx, model.OracleKey, model.Address("oracle"))
		tx.Remove(ctx, model.AdminKey)
		return boom
	})
	if err != boom {
		t.Fatalf("expected boom, got %v", err)
	}

	after := s.Snapshot()
	if len(after) != len(before) || after[model.AdminKey.String()] != before[model.AdminKey.String()] {
		t.Errorf("store changed after failed update: before=%v after=%v", before, after)
	}
}

func TestMemoryStore_ReadYourWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.Update(ctx, func(tx Tx) error {
		tx.Set(ctx, model.AdminKey, model.Address("a"))
		var got model.Address
		if ok, _ := tx.Get(ctx, model.AdminKey, &got); !ok || got != "a" {
			t.Errorf("expected staged write to be visible, got %q", got)
		}
		tx.Remove(ctx, model.AdminKey)
		if ok, _ := tx.Has(ctx, model.AdminKey); ok {
			t.Error("expected staged remove to be visible")
		}
		return nil
	})
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d keys", s.Len())
	}
}

func TestMemoryStore_ViewIsReadOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	err := s.View(ctx, func(tx Tx) error {
		return tx.Set(ctx, model.AdminKey, model.Address("x"))
	})
	if err != ErrReadOnly {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

func TestMemoryStore_ValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	positions := map[model.Address]model.UserPosition{
		"alice": {Amount: decimal.NewFromInt(10), Side: model.SideUp},
	}
	s.Update(ctx, func(tx Tx) error { return tx.Set(ctx, model.PositionsKey, positions) })

	positions["bob"] = model.UserPosition{Amount: decimal.NewFromInt(5), Side: model.SideDown}

	var stored map[model.Address]model.UserPosition
	s.View(ctx, func(tx Tx) error {
		_, err := tx.Get(ctx, model.PositionsKey, &stored)
		return err
	})
	if len(stored) != 1 {
		t.Errorf("external mutation leaked into store: %v", stored)
	}
}

package contract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xelma/round-engine/internal/model"
	"github.com/xelma/round-engine/internal/store"
)

// Initialize sets the admin and oracle roles. It can succeed only once, and
// the admin must authorize it.
func (c *Contract) Initialize(ctx context.Context, admin, oracle model.Address) error {
	err := c.store.Update(ctx, func(tx store.Tx) error {
		if err := c.auth.Require(ctx, admin); err != nil {
			return fmt.Errorf("%w: %w", ErrUnauthorizedAdmin, err)
		}
		exists, err := tx.Has(ctx, model.AdminKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyInitialized
		}
		if err := tx.Set(ctx, model.AdminKey, admin); err != nil {
			return err
		}
		return tx.Set(ctx, model.OracleKey, oracle)
	})
	if err != nil {
		return err
	}

	slog.Info("contract initialized", "admin", admin, "oracle", oracle)
	return nil
}

// GetAdmin returns the admin, or false before Initialize.
func (c *Contract) GetAdmin(ctx context.Context) (model.Address, bool, error) {
	return c.readRole(ctx, model.AdminKey)
}

// GetOracle returns the oracle, or false before Initialize.
func (c *Contract) GetOracle(ctx context.Context) (model.Address, bool, error) {
	return c.readRole(ctx, model.OracleKey)
}

func (c *Contract) readRole(ctx context.Context, key model.DataKey) (model.Address, bool, error) {
	var (
		addr model.Address
		ok   bool
	)
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		addr, ok, err = load[model.Address](ctx, tx, key)
		return err
	})
	return addr, ok, err
}

// requireRole loads a role and checks that it authorized the call.
func (c *Contract) requireRole(ctx context.Context, tx store.Tx, key model.DataKey, notSet, denied *Error) (model.Address, error) {
	addr, ok, err := load[model.Address](ctx, tx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", notSet
	}
	if err := c.auth.Require(ctx, addr); err != nil {
		return "", fmt.Errorf("%w: %w", denied, err)
	}
	return addr, nil
}

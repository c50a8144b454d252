package contract

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/xelma/round-engine/internal/amount"
	"github.com/xelma/round-engine/internal/model"
	"github.com/xelma/round-engine/internal/store"
)

// ClaimWinnings moves everything the user has pending into their balance and
// returns the amount moved. Nothing pending returns zero and writes nothing.
func (c *Contract) ClaimWinnings(ctx context.Context, user model.Address) (decimal.Decimal, error) {
	var claimed decimal.Decimal
	err := c.store.Update(ctx, func(tx store.Tx) error {
		if err := c.auth.Require(ctx, user); err != nil {
			return err
		}
		pending, err := loadAmount(ctx, tx, model.PendingWinningsKey(user))
		if err != nil {
			return err
		}
		if pending.IsZero() {
			claimed = decimal.Zero
			return nil
		}

		bal, err := loadAmount(ctx, tx, model.BalanceKey(user))
		if err != nil {
			return err
		}
		next, err := amount.CheckedAdd(bal, pending)
		if err != nil {
			return overflow(err)
		}
		if err := setBalance(ctx, tx, user, next); err != nil {
			return err
		}
		claimed = pending
		return tx.Remove(ctx, model.PendingWinningsKey(user))
	})
	if err != nil {
		return decimal.Zero, err
	}

	if claimed.IsPositive() {
		slog.Info("winnings claimed", "user", user, "amount", claimed.String())
	}
	return claimed, nil
}

// GetPendingWinnings returns what the user could claim now.
func (c *Contract) GetPendingWinnings(ctx context.Context, user model.Address) (decimal.Decimal, error) {
	var pending decimal.Decimal
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		pending, err = loadAmount(ctx, tx, model.PendingWinningsKey(user))
		return err
	})
	return pending, err
}

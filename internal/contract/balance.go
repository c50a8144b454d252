package contract

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/xelma/round-engine/internal/model"
	"github.com/xelma/round-engine/internal/store"
)

// MintInitial credits the faucet amount to a user who has no balance yet and
// returns the resulting balance. Repeated calls return the existing balance
// unchanged.
func (c *Contract) MintInitial(ctx context.Context, user model.Address) (decimal.Decimal, error) {
	var (
		bal    decimal.Decimal
		minted bool
	)
	err := c.store.Update(ctx, func(tx store.Tx) error {
		if err := c.auth.Require(ctx, user); err != nil {
			return err
		}
		existing, ok, err := load[decimal.Decimal](ctx, tx, model.BalanceKey(user))
		if err != nil {
			return err
		}
		if ok {
			bal = existing
			return nil
		}
		bal, minted = FaucetAmount, true
		return setBalance(ctx, tx, user, bal)
	})
	if err != nil {
		return decimal.Zero, err
	}

	if minted {
		slog.Info("faucet minted", "user", user, "amount", bal.String())
	}
	return bal, nil
}

// Balance returns the user's spendable balance, zero if never minted.
func (c *Contract) Balance(ctx context.Context, user model.Address) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		bal, err = loadAmount(ctx, tx, model.BalanceKey(user))
		return err
	})
	return bal, err
}

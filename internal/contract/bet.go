package contract

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/xelma/round-engine/internal/amount"
	"github.com/xelma/round-engine/internal/model"
	"github.com/xelma/round-engine/internal/store"
)

// PlaceBet stakes amount on side in the active Up/Down round. The balance
// debit, the new position and the pool increase are applied together or not
// at all. One bet per user per round.
func (c *Contract) PlaceBet(ctx context.Context, user model.Address, amt decimal.Decimal, side model.BetSide) error {
	// Input checks run outside the store lock; their verdicts are reported
	// after authorization.
	stakeOK := validStake(amt)

	var round *model.Round
	err := c.store.Update(ctx, func(tx store.Tx) error {
		if err := c.auth.Require(ctx, user); err != nil {
			return err
		}
		if !stakeOK {
			return ErrInvalidBetAmount
		}
		if !side.Valid() {
			return ErrInvalidSide
		}

		var err error
		round, err = c.openRound(ctx, tx, model.ModeUpDown)
		if err != nil {
			return err
		}
		if err := checkBalance(ctx, tx, user, amt); err != nil {
			return err
		}

		positions, err := loadPositions(ctx, tx)
		if err != nil {
			return err
		}
		if _, ok := positions[user]; ok {
			return ErrAlreadyBet
		}

		if err := debit(ctx, tx, user, amt); err != nil {
			return err
		}
		positions[user] = model.UserPosition{Amount: amt, Side: side}
		if err := tx.Set(ctx, model.PositionsKey, positions); err != nil {
			return err
		}

		if side == model.SideUp {
			round.PoolUp, err = amount.CheckedAdd(round.PoolUp, amt)
		} else {
			round.PoolDown, err = amount.CheckedAdd(round.PoolDown, amt)
		}
		if err != nil {
			return overflow(err)
		}
		return tx.Set(ctx, model.ActiveRoundKey, round)
	})
	if err != nil {
		return err
	}

	slog.Info("bet placed",
		"user", user,
		"side", side,
		"amount", amt.String(),
		"pool_up", round.PoolUp.String(),
		"pool_down", round.PoolDown.String(),
	)
	return nil
}

// GetUserPosition returns the user's position in the active round, or nil.
func (c *Contract) GetUserPosition(ctx context.Context, user model.Address) (*model.UserPosition, error) {
	var pos *model.UserPosition
	err := c.store.View(ctx, func(tx store.Tx) error {
		round, err := loadRound(ctx, tx)
		if err != nil || round == nil {
			return err
		}
		positions, err := loadPositions(ctx, tx)
		if err != nil {
			return err
		}
		if p, ok := positions[user]; ok {
			pos = &p
		}
		return nil
	})
	return pos, err
}

// validStake reports whether amt is a positive whole amount in range.
func validStake(amt decimal.Decimal) bool {
	return amt.IsPositive() && amount.InI128(amt)
}

// openRound returns the active round if it is of the wanted mode and still
// accepts stakes. A round closes at its end ledger, not after it.
func (c *Contract) openRound(ctx context.Context, tx store.Tx, want model.RoundMode) (*model.Round, error) {
	round, err := loadRound(ctx, tx)
	if err != nil {
		return nil, err
	}
	if round == nil {
		return nil, ErrNoActiveRound
	}
	if round.Mode != want {
		return nil, ErrWrongModeForPrediction
	}
	seq, err := c.sequence(ctx)
	if err != nil {
		return nil, err
	}
	if seq >= round.EndLedger {
		return nil, ErrRoundEnded
	}
	return round, nil
}

func checkBalance(ctx context.Context, tx store.Tx, user model.Address, amt decimal.Decimal) error {
	bal, err := loadAmount(ctx, tx, model.BalanceKey(user))
	if err != nil {
		return err
	}
	if bal.LessThan(amt) {
		return ErrInsufficientBalance
	}
	return nil
}

func debit(ctx context.Context, tx store.Tx, user model.Address, amt decimal.Decimal) error {
	bal, err := loadAmount(ctx, tx, model.BalanceKey(user))
	if err != nil {
		return err
	}
	next, err := amount.CheckedSub(bal, amt)
	if err != nil {
		return overflow(err)
	}
	return setBalance(ctx, tx, user, next)
}

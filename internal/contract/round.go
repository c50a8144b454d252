package contract

import (
	"context"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"github.com/xelma/round-engine/internal/amount"
	"github.com/xelma/round-engine/internal/model"
	"github.com/xelma/round-engine/internal/store"
)

// CreateRound opens a new betting window starting at the current ledger and
// closing duration ledgers later. A nil mode means Up/Down.
//
// A previous round that still holds stakes must be resolved first; an empty
// one is replaced.
func (c *Contract) CreateRound(ctx context.Context, startPrice decimal.Decimal, duration uint32, mode *model.RoundMode) (*model.Round, error) {
	if !startPrice.IsPositive() || !amount.InU128(startPrice) {
		return nil, ErrInvalidPrice
	}
	if duration == 0 || duration > MaxRoundDuration {
		return nil, ErrInvalidDuration
	}
	m := model.ModeUpDown
	if mode != nil {
		m = *mode
	}
	if m != model.ModeUpDown && m != model.ModePrecision {
		return nil, ErrInvalidMode
	}

	var round *model.Round
	err := c.store.Update(ctx, func(tx store.Tx) error {
		if _, err := c.requireRole(ctx, tx, model.AdminKey, ErrAdminNotSet, ErrUnauthorizedAdmin); err != nil {
			return err
		}

		seq, err := c.sequence(ctx)
		if err != nil {
			return err
		}
		end := uint64(seq) + uint64(duration)
		if end > math.MaxUint32 {
			return ErrOverflow
		}

		staked, err := c.roundHoldsStake(ctx, tx)
		if err != nil {
			return err
		}
		if staked {
			return ErrRoundActive
		}

		round = &model.Round{
			PriceStart: startPrice,
			EndLedger:  uint32(end),
			PoolUp:     decimal.Zero,
			PoolDown:   decimal.Zero,
			Mode:       m,
		}
		if err := tx.Set(ctx, model.ActiveRoundKey, round); err != nil {
			return err
		}
		if err := tx.Remove(ctx, model.PositionsKey); err != nil {
			return err
		}
		return tx.Remove(ctx, model.PrecisionPredictionsKey)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("round created",
		"mode", round.Mode.String(),
		"price_start", round.PriceStart.String(),
		"end_ledger", round.EndLedger,
	)
	return round, nil
}

// roundHoldsStake reports whether an active round has accepted any stake.
func (c *Contract) roundHoldsStake(ctx context.Context, tx store.Tx) (bool, error) {
	round, err := loadRound(ctx, tx)
	if err != nil || round == nil {
		return false, err
	}
	if round.PoolUp.IsPositive() || round.PoolDown.IsPositive() {
		return true, nil
	}
	preds, err := loadPredictions(ctx, tx)
	if err != nil {
		return false, err
	}
	return len(preds) > 0, nil
}

// GetActiveRound returns the open round, or nil when there is none.
func (c *Contract) GetActiveRound(ctx context.Context) (*model.Round, error) {
	var round *model.Round
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		round, err = loadRound(ctx, tx)
		return err
	})
	return round, err
}

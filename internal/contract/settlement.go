package contract

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/xelma/round-engine/internal/amount"
	"github.com/xelma/round-engine/internal/model"
	"github.com/xelma/round-engine/internal/store"
)

// ResolveRound settles the active round at finalPrice and clears it. Only the
// oracle may call it.
//
// Up/Down rounds:
//   - finalPrice == start: every stake is refunded into pending winnings and
//     stats are untouched.
//   - otherwise each winner accrues stake + floor(stake*losing/winning) and
//     every participant gets one win or loss. If nobody backed the winning
//     side nothing is paid and no stats change.
//
// Precision rounds are voided: every stake is refunded and stats are
// untouched.
//
// Floor division leaves undistributed dust in the contract; the returned
// receipt reports it.
func (c *Contract) ResolveRound(ctx context.Context, finalPrice decimal.Decimal) (*model.Settlement, error) {
	if !finalPrice.IsPositive() || !amount.InU128(finalPrice) {
		return nil, ErrInvalidPrice
	}

	var receipt *model.Settlement
	err := c.store.Update(ctx, func(tx store.Tx) error {
		if _, err := c.requireRole(ctx, tx, model.OracleKey, ErrOracleNotSet, ErrUnauthorizedOracle); err != nil {
			return err
		}
		round, err := loadRound(ctx, tx)
		if err != nil {
			return err
		}
		if round == nil {
			return ErrNoActiveRound
		}
		seq, err := c.sequence(ctx)
		if err != nil {
			return err
		}

		receipt = &model.Settlement{
			ID:             c.newID(),
			Mode:           round.Mode,
			PriceStart:     round.PriceStart,
			FinalPrice:     finalPrice,
			WinningPool:    decimal.Zero,
			LosingPool:     decimal.Zero,
			Payouts:        []model.Payout{},
			Losers:         []model.Address{},
			Dust:           decimal.Zero,
			ResolvedLedger: seq,
			ResolvedAt:     c.now().UTC(),
		}

		if round.Mode == model.ModePrecision {
			err = voidPrecision(ctx, tx, receipt)
		} else {
			err = settleUpDown(ctx, tx, round, receipt)
		}
		if err != nil {
			return err
		}

		for _, key := range []model.DataKey{model.ActiveRoundKey, model.PositionsKey, model.PrecisionPredictionsKey} {
			if err := tx.Remove(ctx, key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("round resolved",
		"id", receipt.ID,
		"outcome", receipt.Outcome,
		"price_start", receipt.PriceStart.String(),
		"final_price", receipt.FinalPrice.String(),
		"payouts", len(receipt.Payouts),
		"losers", len(receipt.Losers),
		"dust", receipt.Dust.String(),
	)
	return receipt, nil
}

func settleUpDown(ctx context.Context, tx store.Tx, round *model.Round, receipt *model.Settlement) error {
	positions, err := loadPositions(ctx, tx)
	if err != nil {
		return err
	}
	users := sortedUsers(positions)

	var winningSide model.BetSide
	switch receipt.FinalPrice.Cmp(round.PriceStart) {
	case 0:
		receipt.Outcome = model.OutcomeUnchanged
		for _, u := range users {
			if err := refund(ctx, tx, receipt, u, positions[u].Amount); err != nil {
				return err
			}
		}
		return nil
	case 1:
		receipt.Outcome = model.OutcomeUp
		winningSide = model.SideUp
		receipt.WinningPool, receipt.LosingPool = round.PoolUp, round.PoolDown
	default:
		receipt.Outcome = model.OutcomeDown
		winningSide = model.SideDown
		receipt.WinningPool, receipt.LosingPool = round.PoolDown, round.PoolUp
	}

	if receipt.WinningPool.IsZero() {
		return nil
	}

	distributed := decimal.Zero
	for _, u := range users {
		pos := positions[u]
		if pos.Side != winningSide {
			if err := recordLoss(ctx, tx, u); err != nil {
				return err
			}
			receipt.Losers = append(receipt.Losers, u)
			continue
		}

		share, err := amount.MulDivFloor(pos.Amount, receipt.LosingPool, receipt.WinningPool)
		if err != nil {
			return overflow(err)
		}
		payout, err := amount.CheckedAdd(pos.Amount, share)
		if err != nil {
			return overflow(err)
		}
		if err := accruePending(ctx, tx, u, payout); err != nil {
			return err
		}
		if err := recordWin(ctx, tx, u); err != nil {
			return err
		}
		if distributed, err = amount.CheckedAdd(distributed, share); err != nil {
			return overflow(err)
		}
		receipt.Payouts = append(receipt.Payouts, model.Payout{User: u, Amount: payout, Kind: model.PayoutWin})
	}

	dust, err := amount.CheckedSub(receipt.LosingPool, distributed)
	if err != nil {
		return overflow(err)
	}
	receipt.Dust = dust
	return nil
}

func voidPrecision(ctx context.Context, tx store.Tx, receipt *model.Settlement) error {
	receipt.Outcome = model.OutcomeVoid
	preds, err := loadPredictions(ctx, tx)
	if err != nil {
		return err
	}
	for _, p := range preds {
		if err := refund(ctx, tx, receipt, p.User, p.Amount); err != nil {
			return err
		}
	}
	return nil
}

func refund(ctx context.Context, tx store.Tx, receipt *model.Settlement, user model.Address, amt decimal.Decimal) error {
	if err := accruePending(ctx, tx, user, amt); err != nil {
		return err
	}
	receipt.Payouts = append(receipt.Payouts, model.Payout{User: user, Amount: amt, Kind: model.PayoutRefund})
	return nil
}

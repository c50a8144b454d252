package contract

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/xelma/round-engine/internal/amount"
	"github.com/xelma/round-engine/internal/model"
	"github.com/xelma/round-engine/internal/store"
)

var predictionScaleLimit = decimal.NewFromInt(PredictionScaleLimit)

// PredictPrice stakes amount on a price guess in the active precision round.
// The guess is scaled to 4 decimals (0.2297 → 2297) and must be below
// PredictionScaleLimit. Predictions keep their arrival order.
func (c *Contract) PredictPrice(ctx context.Context, user model.Address, predicted, amt decimal.Decimal) error {
	stakeOK := validStake(amt)
	scaleOK := validScale(predicted)

	err := c.store.Update(ctx, func(tx store.Tx) error {
		if err := c.auth.Require(ctx, user); err != nil {
			return err
		}
		if !stakeOK {
			return ErrInvalidBetAmount
		}
		if !scaleOK {
			return ErrInvalidPriceScale
		}

		if _, err := c.openRound(ctx, tx, model.ModePrecision); err != nil {
			return err
		}
		if err := checkBalance(ctx, tx, user, amt); err != nil {
			return err
		}

		preds, err := loadPredictions(ctx, tx)
		if err != nil {
			return err
		}
		for _, p := range preds {
			if p.User == user {
				return ErrAlreadyBet
			}
		}

		if err := debit(ctx, tx, user, amt); err != nil {
			return err
		}
		preds = append(preds, model.PrecisionPrediction{User: user, PredictedPrice: predicted, Amount: amt})
		return tx.Set(ctx, model.PrecisionPredictionsKey, preds)
	})
	if err != nil {
		return err
	}

	slog.Info("price predicted", "user", user, "predicted_price", predicted.String(), "amount", amt.String())
	return nil
}

// GetUserPrecisionPrediction returns the user's guess in the active round, or nil.
func (c *Contract) GetUserPrecisionPrediction(ctx context.Context, user model.Address) (*model.PrecisionPrediction, error) {
	preds, err := c.GetPrecisionPredictions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range preds {
		if preds[i].User == user {
			return &preds[i], nil
		}
	}
	return nil, nil
}

// GetPrecisionPredictions returns every guess in the active round in arrival order.
func (c *Contract) GetPrecisionPredictions(ctx context.Context) ([]model.PrecisionPrediction, error) {
	var preds []model.PrecisionPrediction
	err := c.store.View(ctx, func(tx store.Tx) error {
		round, err := loadRound(ctx, tx)
		if err != nil || round == nil {
			return err
		}
		preds, err = loadPredictions(ctx, tx)
		return err
	})
	if preds == nil {
		preds = []model.PrecisionPrediction{}
	}
	return preds, err
}

// validScale reports whether predicted is a whole 4-decimal scaled price below
// PredictionScaleLimit.
func validScale(predicted decimal.Decimal) bool {
	return amount.InU128(predicted) && predicted.LessThan(predictionScaleLimit)
}

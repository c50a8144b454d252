package contract

import (
	"context"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/xelma/round-engine/internal/amount"
	"github.com/xelma/round-engine/internal/model"
	"github.com/xelma/round-engine/internal/store"
)

// load reads key into a T. Absent keys yield the zero value and false.
func load[T any](ctx context.Context, tx store.Tx, key model.DataKey) (T, bool, error) {
	var v T
	ok, err := tx.Get(ctx, key, &v)
	if err != nil || !ok {
		var zero T
		return zero, false, err
	}
	return v, true, nil
}

func loadAmount(ctx context.Context, tx store.Tx, key model.DataKey) (decimal.Decimal, error) {
	v, ok, err := load[decimal.Decimal](ctx, tx, key)
	if err != nil || !ok {
		return decimal.Zero, err
	}
	return v, nil
}

func loadRound(ctx context.Context, tx store.Tx) (*model.Round, error) {
	r, ok, err := load[model.Round](ctx, tx, model.ActiveRoundKey)
	if err != nil || !ok {
		return nil, err
	}
	return &r, nil
}

func loadPositions(ctx context.Context, tx store.Tx) (map[model.Address]model.UserPosition, error) {
	p, _, err := load[map[model.Address]model.UserPosition](ctx, tx, model.PositionsKey)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = make(map[model.Address]model.UserPosition)
	}
	return p, nil
}

func loadPredictions(ctx context.Context, tx store.Tx) ([]model.PrecisionPrediction, error) {
	p, _, err := load[[]model.PrecisionPrediction](ctx, tx, model.PrecisionPredictionsKey)
	return p, err
}

// setBalance overwrites a balance. Callers validate the amount.
func setBalance(ctx context.Context, tx store.Tx, user model.Address, v decimal.Decimal) error {
	return tx.Set(ctx, model.BalanceKey(user), v)
}

// accruePending adds v to the user's pending winnings.
func accruePending(ctx context.Context, tx store.Tx, user model.Address, v decimal.Decimal) error {
	current, err := loadAmount(ctx, tx, model.PendingWinningsKey(user))
	if err != nil {
		return err
	}
	next, err := amount.CheckedAdd(current, v)
	if err != nil {
		return overflow(err)
	}
	return tx.Set(ctx, model.PendingWinningsKey(user), next)
}

// sortedUsers returns the position holders in a stable order.
func sortedUsers(positions map[model.Address]model.UserPosition) []model.Address {
	users := make([]model.Address, 0, len(positions))
	for u := range positions {
		users = append(users, u)
	}
	slices.Sort(users)
	return users
}

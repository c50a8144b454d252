package contract

import (
	"context"

	"github.com/xelma/round-engine/internal/model"
	"github.com/xelma/round-engine/internal/store"
)

// GetUserStats returns the user's record; all zeros if they never settled.
func (c *Contract) GetUserStats(ctx context.Context, user model.Address) (model.UserStats, error) {
	var stats model.UserStats
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		stats, _, err = load[model.UserStats](ctx, tx, model.UserStatsKey(user))
		return err
	})
	return stats, err
}

func recordWin(ctx context.Context, tx store.Tx, user model.Address) error {
	return updateStats(ctx, tx, user, model.UserStats.RecordWin)
}

func recordLoss(ctx context.Context, tx store.Tx, user model.Address) error {
	return updateStats(ctx, tx, user, model.UserStats.RecordLoss)
}

func updateStats(ctx context.Context, tx store.Tx, user model.Address, next func(model.UserStats) model.UserStats) error {
	stats, _, err := load[model.UserStats](ctx, tx, model.UserStatsKey(user))
	if err != nil {
		return err
	}
	return tx.Set(ctx, model.UserStatsKey(user), next(stats))
}

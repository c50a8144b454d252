// Package contract implements the round engine's ledger: the faucet balance
// book, the single active round, bets and price predictions, oracle
// settlement, pending winnings and per-user stats.
//
// Every exported operation runs inside exactly one store transaction. A
// failed operation returns a typed *Error (or an authorization error) and
// leaves the store untouched.
package contract

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xelma/round-engine/internal/amount"
	"github.com/xelma/round-engine/internal/auth"
	"github.com/xelma/round-engine/internal/ledger"
	"github.com/xelma/round-engine/internal/store"
)

const (
	// Decimals is the fixed-point precision of token amounts and feed prices.
	Decimals = 7

	// MaxRoundDuration is the longest round, in ledgers.
	MaxRoundDuration uint32 = 100_000

	// PredictionScaleLimit bounds precision guesses: prices carry 4 decimals
	// and must stay below 10.0000.
	PredictionScaleLimit = 100_000
)

// FaucetAmount is what MintInitial credits: 1000 tokens in stroops.
var FaucetAmount = amount.Scaled(1000, Decimals)

// Contract is the store-backed aggregate every operation works on.
type Contract struct {
	store store.Store
	auth  auth.Authorizer
	clock ledger.Clock
	newID func() string
	now   func() time.Time
}

// New creates a Contract over the given collaborators.
func New(st store.Store, az auth.Authorizer, clock ledger.Clock) *Contract {
	return &Contract{
		store: st,
		auth:  az,
		clock: clock,
		newID: uuid.NewString,
		now:   time.Now,
	}
}

func (c *Contract) sequence(ctx context.Context) (uint32, error) {
	seq, err := c.clock.Sequence(ctx)
	if err != nil {
		return 0, fmt.Errorf("contract: read ledger sequence: %w", err)
	}
	return seq, nil
}

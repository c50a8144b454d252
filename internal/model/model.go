// Package model defines the core domain types shared across the round engine.
// All token amounts and prices use shopspring/decimal holding whole numbers
// of the smallest unit (stroops), never float64.
package model

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Address identifies a principal. The HTTP layer only accepts checksummed
// hex addresses; the contract treats it as an opaque identifier.
type Address string

// BetSide is the direction a user bet on in an Up/Down round.
type BetSide string

const (
	SideUp   BetSide = "UP"
	SideDown BetSide = "DOWN"
)

// Valid reports whether s is one of the two known sides.
func (s BetSide) Valid() bool {
	return s == SideUp || s == SideDown
}

// RoundMode selects how a round accepts stakes.
type RoundMode uint32

const (
	// ModeUpDown rounds keep two pools (UP / DOWN).
	ModeUpDown RoundMode = 0
	// ModePrecision rounds keep an ordered list of price guesses.
	ModePrecision RoundMode = 1
)

func (m RoundMode) String() string {
	switch m {
	case ModeUpDown:
		return "updown"
	case ModePrecision:
		return "precision"
	default:
		return "unknown"
	}
}

// Round is the singleton active betting window. It exists in the store only
// while betting is open or awaiting resolution.
type Round struct {
	PriceStart decimal.Decimal `json:"price_start"` // stroops
	EndLedger  uint32          `json:"end_ledger"`  // first ledger at which bets are refused
	PoolUp     decimal.Decimal `json:"pool_up"`
	PoolDown   decimal.Decimal `json:"pool_down"`
	Mode       RoundMode       `json:"mode"`
}

// UserPosition is one principal's stake in the active Up/Down round.
type UserPosition struct {
	Amount decimal.Decimal `json:"amount"`
	Side   BetSide         `json:"side"`
}

// PrecisionPrediction is one principal's price guess in a precision round.
// PredictedPrice is scaled to 4 decimals (0.2297 → 2297).
type PrecisionPrediction struct {
	User           Address         `json:"user"`
	PredictedPrice decimal.Decimal `json:"predicted_price"`
	Amount         decimal.Decimal `json:"amount"`
}

// UserStats tracks a principal's prediction record across rounds.
type UserStats struct {
	TotalWins     uint32 `json:"total_wins"`
	TotalLosses   uint32 `json:"total_losses"`
	CurrentStreak uint32 `json:"current_streak"`
	BestStreak    uint32 `json:"best_streak"`
}

// RecordWin returns the stats after one more win.
func (s UserStats) RecordWin() UserStats {
	s.TotalWins = inc(s.TotalWins)
	s.CurrentStreak = inc(s.CurrentStreak)
	if s.CurrentStreak > s.BestStreak {
		s.BestStreak = s.CurrentStreak
	}
	return s
}

// RecordLoss returns the stats after one more loss. The current streak resets.
func (s UserStats) RecordLoss() UserStats {
	s.TotalLosses = inc(s.TotalLosses)
	s.CurrentStreak = 0
	return s
}

// inc adds one, saturating at the uint32 maximum instead of wrapping.
func inc(n uint32) uint32 {
	if n == math.MaxUint32 {
		return n
	}
	return n + 1
}

// Outcome classifies how a round was settled.
type Outcome string

const (
	OutcomeUp        Outcome = "UP"
	OutcomeDown      Outcome = "DOWN"
	OutcomeUnchanged Outcome = "UNCHANGED"
	OutcomeVoid      Outcome = "VOID" // precision rounds: stakes refunded
)

// PayoutKind distinguishes winnings from refunds in a settlement receipt.
type PayoutKind string

const (
	PayoutWin    PayoutKind = "win"
	PayoutRefund PayoutKind = "refund"
)

// Payout is an amount accrued into a principal's pending winnings.
type Payout struct {
	User   Address         `json:"user"`
	Amount decimal.Decimal `json:"amount"`
	Kind   PayoutKind      `json:"kind"`
}

// Settlement is the receipt produced by resolving a round. It is not kept in
// the contract store; the service layer archives and broadcasts it.
type Settlement struct {
	ID             string          `json:"id"`
	Mode           RoundMode       `json:"mode"`
	PriceStart     decimal.Decimal `json:"price_start"`
	FinalPrice     decimal.Decimal `json:"final_price"`
	Outcome        Outcome         `json:"outcome"`
	WinningPool    decimal.Decimal `json:"winning_pool"`
	LosingPool     decimal.Decimal `json:"losing_pool"`
	Payouts        []Payout        `json:"payouts"`
	Losers         []Address       `json:"losers"`
	Dust           decimal.Decimal `json:"dust"` // losing pool left undistributed by floor division
	ResolvedLedger uint32          `json:"resolved_ledger"`
	ResolvedAt     time.Time       `json:"resolved_at"`
}

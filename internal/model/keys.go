package model

// KeyKind is the tag of a storage key.
type KeyKind string

const (
	KindBalance              KeyKind = "balance"
	KindAdmin                KeyKind = "admin"
	KindOracle               KeyKind = "oracle"
	KindActiveRound          KeyKind = "active_round"
	KindPositions            KeyKind = "positions"
	KindPrecisionPredictions KeyKind = "precision_predictions"
	KindPendingWinnings      KeyKind = "pending_winnings"
	KindUserStats            KeyKind = "user_stats"
)

// DataKey is the tagged key space of the contract store. Per-principal kinds
// carry the principal; singleton kinds leave Addr empty.
type DataKey struct {
	Kind KeyKind
	Addr Address
}

func BalanceKey(a Address) DataKey         { return DataKey{Kind: KindBalance, Addr: a} }
func PendingWinningsKey(a Address) DataKey { return DataKey{Kind: KindPendingWinnings, Addr: a} }
func UserStatsKey(a Address) DataKey       { return DataKey{Kind: KindUserStats, Addr: a} }

var (
	AdminKey                = DataKey{Kind: KindAdmin}
	OracleKey               = DataKey{Kind: KindOracle}
	ActiveRoundKey          = DataKey{Kind: KindActiveRound}
	PositionsKey            = DataKey{Kind: KindPositions}
	PrecisionPredictionsKey = DataKey{Kind: KindPrecisionPredictions}
)

// String renders the key as used by the store backends, e.g.
// "balance:0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B" or "admin".
func (k DataKey) String() string {
	if k.Addr == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + ":" + string(k.Addr)
}

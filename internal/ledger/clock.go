// Package ledger provides the ledger sequence clock that bounds round
// durations. A sequence number is a monotonically increasing counter that
// advances at a fixed interval (about 5 seconds on the reference network).
package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// DefaultInterval is the nominal time between two ledgers.
const DefaultInterval = 5 * time.Second

// ErrSequenceOverflow is returned when the sequence would exceed uint32.
var ErrSequenceOverflow = errors.New("ledger: sequence exceeds uint32 range")

// Clock reports the current ledger sequence.
type Clock interface {
	Sequence(ctx context.Context) (uint32, error)
}

// WallClock derives the sequence from wall time: one ledger per interval
// since genesis. Times before genesis report sequence 0.
type WallClock struct {
	genesis  time.Time
	interval time.Duration
	now      func() time.Time
}

// NewWallClock creates a clock that starts counting at genesis.
// A non-positive interval falls back to DefaultInterval.
func NewWallClock(genesis time.Time, interval time.Duration) *WallClock {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &WallClock{genesis: genesis, interval: interval, now: time.Now}
}

func (c *WallClock) Sequence(_ context.Context) (uint32, error) {
	elapsed := c.now().Sub(c.genesis)
	if elapsed <= 0 {
		return 0, nil
	}
	seq := int64(elapsed / c.interval)
	if seq > math.MaxUint32 {
		return 0, ErrSequenceOverflow
	}
	return uint32(seq), nil
}

// ManualClock is a clock whose sequence is set explicitly. Used in tests.
type ManualClock struct {
	mu  sync.Mutex
	seq uint32
}

// NewManualClock creates a clock positioned at seq.
func NewManualClock(seq uint32) *ManualClock {
	return &ManualClock{seq: seq}
}

func (c *ManualClock) Sequence(_ context.Context) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq, nil
}

// Set moves the clock to seq.
func (c *ManualClock) Set(seq uint32) {
	c.mu.Lock()
	c.seq = seq
	c.mu.Unlock()
}

// Advance moves the clock forward by n ledgers, saturating at MaxUint32.
func (c *ManualClock) Advance(n uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq > math.MaxUint32-n {
		c.seq = math.MaxUint32
		return
	}
	c.seq += n
}

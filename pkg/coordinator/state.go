package coordinator

import (
	"math/rand/v2"
	"time"

	"github.com/cwbridge/cwbridge/pkg/checkwatt"
	"github.com/cwbridge/cwbridge/pkg/types"
)

// State is everything that carries over from one tick to the next. It is
// passed into Refresh and a new copy is returned.
type State struct {
	// Booted is false until the first successful refresh.
	Booted bool

	// MonetaryCountdown is decremented on every tick after boot and the
	// monetary fetch runs when it reaches zero.
	MonetaryCountdown int

	CustomerID     string
	EnergyProvider string

	// Revenue is nil until the monetary fetch ran during this boot.
	Revenue        *checkwatt.Revenue
	MonthPeakPower *float64

	// FCRD is the last FCR-D state that was dispatched.
	FCRD types.FCRDSnapshot

	// RankOffset is the minute past the rank hour after which the daily
	// push is allowed.
	RankOffset   int
	LastRankPush time.Time
}

// MaxRankOffset is the upper bound (inclusive) of the random push offset.
const MaxRankOffset = 14

// NewState returns the state of a freshly set up entry. A persisted entry
// state restores the rank push bookkeeping.
func NewState(persisted *types.EntryState) State {
	if persisted == nil {
		return State{RankOffset: RandomRankOffset()}
	}
	return State{
		RankOffset:   persisted.RankPushOffset,
		LastRankPush: persisted.LastRankPush,
	}
}

// RandomRankOffset picks a minute offset in [0, MaxRankOffset].
func RandomRankOffset() int {
	return rand.IntN(MaxRankOffset + 1)
}

// Persisted returns the subset of the state that survives restarts.
func (s State) Persisted() types.EntryState {
	return types.EntryState{
		LastRankPush:   s.LastRankPush,
		RankPushOffset: s.RankOffset,
	}
}

package staking

import (
	"github.com/holiman/uint256"
)

// LockDuration is the number of lock units a stake commits to.
type LockDuration uint32

const (
	Lock1  LockDuration = 1
	Lock3  LockDuration = 3
	Lock6  LockDuration = 6
	Lock12 LockDuration = 12
)

// BpsDenominator is the basis point scale for weight multipliers.
const BpsDenominator uint64 = 10_000

// DefaultLockUnitSeconds is the length of one lock unit (30 days).
const DefaultLockUnitSeconds int64 = 30 * 24 * 60 * 60

var multiplierTable = map[LockDuration]uint64{
	Lock1:  10_000,
	Lock3:  12_000,
	Lock6:  15_000,
	Lock12: 20_000,
}

// MultiplierBps returns the weight multiplier for d. Unrecognised durations
// receive the 1.0x multiplier; callers validate before relying on it.
func MultiplierBps(d LockDuration) uint64 {
	if bps, ok := multiplierTable[d]; ok {
		return bps
	}
	return BpsDenominator
}

// ValidateLockDuration rejects durations outside the multiplier table.
func ValidateLockDuration(d LockDuration) error {
	if _, ok := multiplierTable[d]; !ok {
		return ErrInvalidLockDuration
	}
	return nil
}

// LockDurations lists the accepted durations in ascending order.
func LockDurations() []LockDuration {
	return []LockDuration{Lock1, Lock3, Lock6, Lock12}
}

// WeightFor returns floor(amount * MultiplierBps(d) / 10000).
func WeightFor(amount uint64, d LockDuration) *uint256.Int {
	w := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(MultiplierBps(d)))
	return w.Div(w, uint256.NewInt(BpsDenominator))
}

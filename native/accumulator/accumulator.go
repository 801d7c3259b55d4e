package accumulator

import (
	"errors"
	"math"

	"github.com/holiman/uint256"
)

// Precision is the fixed-point scale applied to the reward-per-weight accumulator.
const Precision uint64 = 1_000_000_000_000

var (
	// ErrOverflow is returned when a result does not fit its declared width.
	ErrOverflow = errors.New("accumulator: arithmetic overflow")

	precision = uint256.NewInt(Precision)
	maxU128   = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
)

// Scale returns the accumulator precision as a fresh 128-bit value.
func Scale() *uint256.Int { return new(uint256.Int).Set(precision) }

// Zero returns a new zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// FromUint64 lifts a 64-bit amount into the 128-bit domain.
func FromUint64(v uint64) *uint256.Int { return uint256.NewInt(v) }

// Fits128 reports whether v is representable as an unsigned 128-bit integer.
func Fits128(v *uint256.Int) bool {
	return v == nil || !v.Gt(maxU128)
}

// AccrueDelta converts an injected amount into the per-weight increment
// floor(amount*Precision/totalWeight). A zero total weight yields zero.
func AccrueDelta(amount uint64, totalWeight *uint256.Int) (*uint256.Int, error) {
	if amount == 0 || totalWeight == nil || totalWeight.IsZero() {
		return Zero(), nil
	}
	if !Fits128(totalWeight) {
		return nil, ErrOverflow
	}
	scaled := new(uint256.Int).Mul(uint256.NewInt(amount), precision)
	delta := new(uint256.Int).Div(scaled, totalWeight)
	return delta, nil
}

// AccrueRemainder reports the portion of amount that AccrueDelta could not
// fold into the accumulator: amount - floor(delta*totalWeight/Precision).
func AccrueRemainder(amount uint64, delta, totalWeight *uint256.Int) (uint64, error) {
	if totalWeight == nil || totalWeight.IsZero() {
		return amount, nil
	}
	folded, err := Settle(totalWeight, delta)
	if err != nil {
		return 0, err
	}
	if !folded.IsUint64() || folded.Uint64() > amount {
		return 0, nil
	}
	return amount - folded.Uint64(), nil
}

// Settle returns floor(weight*acc/Precision). The product is formed in a
// 256-bit intermediate; only the settled value is bounded to 128 bits.
func Settle(weight, acc *uint256.Int) (*uint256.Int, error) {
	if weight == nil || acc == nil || weight.IsZero() || acc.IsZero() {
		return Zero(), nil
	}
	if !Fits128(weight) || !Fits128(acc) {
		return nil, ErrOverflow
	}
	product, overflow := new(uint256.Int).MulOverflow(weight, acc)
	if overflow {
		return nil, ErrOverflow
	}
	settled := product.Div(product, precision)
	if !Fits128(settled) {
		return nil, ErrOverflow
	}
	return settled, nil
}

// Add returns a+b, failing when the sum leaves the 128-bit range.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(orZero(a), orZero(b))
	if overflow || !Fits128(sum) {
		return nil, ErrOverflow
	}
	return sum, nil
}

// SubSat returns a-b, clamped at zero.
func SubSat(a, b *uint256.Int) *uint256.Int {
	a, b = orZero(a), orZero(b)
	if !a.Gt(b) {
		return Zero()
	}
	return new(uint256.Int).Sub(a, b)
}

// ToUint64 narrows v to 64 bits.
func ToUint64(v *uint256.Int) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	if !v.IsUint64() {
		return 0, ErrOverflow
	}
	return v.Uint64(), nil
}

// AddUint64 is a checked 64-bit addition.
func AddUint64(a, b uint64) (uint64, error) {
	if b > math.MaxUint64-a {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// SaturatingUint64 narrows v to 64 bits, capping at math.MaxUint64.
func SaturatingUint64(v *uint256.Int) uint64 {
	if v == nil {
		return 0
	}
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}

// Clone copies v, mapping nil to zero.
func Clone(v *uint256.Int) *uint256.Int {
	return new(uint256.Int).Set(orZero(v))
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

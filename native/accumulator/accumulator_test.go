package accumulator

import (
	"math"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestScale(t *testing.T) {
	require.Equal(t, uint64(1_000_000_000_000), Scale().Uint64())
	scale := Scale()
	scale.SetUint64(7)
	require.Equal(t, Precision, Scale().Uint64(), "scale must not be shared")
}

func TestAccrueDeltaSingleStaker(t *testing.T) {
	delta, err := AccrueDelta(100, uint256.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, uint64(100_000_000_000), delta.Uint64())

	settled, err := Settle(uint256.NewInt(1000), delta)
	require.NoError(t, err)
	require.Equal(t, uint64(100), settled.Uint64())
}

func TestAccrueDeltaZeroWeight(t *testing.T) {
	delta, err := AccrueDelta(500, Zero())
	require.NoError(t, err)
	require.True(t, delta.IsZero())

	delta, err = AccrueDelta(500, nil)
	require.NoError(t, err)
	require.True(t, delta.IsZero())
}

func TestAccrueDeltaFloors(t *testing.T) {
	delta, err := AccrueDelta(10, uint256.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, uint64(3_333_333_333_333), delta.Uint64())

	remainder, err := AccrueRemainder(10, delta, uint256.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, uint64(1), remainder)
}

func TestAccrueRemainderZeroWeightStrandsEverything(t *testing.T) {
	remainder, err := AccrueRemainder(42, Zero(), Zero())
	require.NoError(t, err)
	require.Equal(t, uint64(42), remainder)
}

func TestSettleRejectsOversizedOperands(t *testing.T) {
	huge := new(uint256.Int).Lsh(uint256.NewInt(1), 130)
	_, err := Settle(huge, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrOverflow)
}

func TestSettleResultBoundedTo128Bits(t *testing.T) {
	weight := new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
	acc := new(uint256.Int).Lsh(uint256.NewInt(1), 127)
	_, err := Settle(weight, acc)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestAddChecksWidth(t *testing.T) {
	ceiling := new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
	_, err := Add(ceiling, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrOverflow)

	sum, err := Add(uint256.NewInt(2), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(2), sum.Uint64())
}

func TestSubSatClamps(t *testing.T) {
	require.True(t, SubSat(uint256.NewInt(3), uint256.NewInt(5)).IsZero())
	require.Equal(t, uint64(2), SubSat(uint256.NewInt(5), uint256.NewInt(3)).Uint64())
}

func TestUint64Helpers(t *testing.T) {
	_, err := AddUint64(math.MaxUint64, 1)
	require.ErrorIs(t, err, ErrOverflow)

	big := new(uint256.Int).Lsh(uint256.NewInt(1), 70)
	_, err = ToUint64(big)
	require.ErrorIs(t, err, ErrOverflow)
	require.Equal(t, uint64(math.MaxUint64), SaturatingUint64(big))
}

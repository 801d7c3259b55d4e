package staking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMultiplierTable(t *testing.T) {
	cases := map[LockDuration]uint64{
		Lock1:  10_000,
		Lock3:  12_000,
		Lock6:  15_000,
		Lock12: 20_000,
		0:      10_000,
		7:      10_000,
	}
	for lock, want := range cases {
		require.Equal(t, want, MultiplierBps(lock), "lock %d", lock)
	}
}

func TestValidateLockDuration(t *testing.T) {
	for _, lock := range LockDurations() {
		require.NoError(t, ValidateLockDuration(lock))
	}
	require.ErrorIs(t, ValidateLockDuration(2), ErrInvalidLockDuration)
}

func TestWeightForFloors(t *testing.T) {
	require.Equal(t, uint64(1), WeightFor(1, Lock3).Uint64())
	require.Equal(t, uint64(15), WeightFor(10, Lock6).Uint64())
	require.Equal(t, uint64(2), WeightFor(1, Lock12).Uint64())
}

func TestProjection(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Stake(context.Background(), "alice", h.pool, "alice", 1000, Lock1)
	require.NoError(t, err)
	_, err = h.engine.Stake(context.Background(), "bob", h.pool, "bob", 1000, Lock12)
	require.NoError(t, err)

	proj, err := h.engine.Project(h.pool, "bob", 6000, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(300), proj.StakingBucket)
	require.Equal(t, uint64(6666), proj.ShareBps)
	require.Equal(t, uint64(200), proj.ProjectedReward)
	require.Equal(t, uint64(20_000), proj.MultiplierBps)
	require.Equal(t, uint32(2), proj.Pool.ActiveStakers)
	require.Equal(t, h.now+12*testLockUnit, proj.UnlockAt)

	empty, err := h.engine.Project(h.pool, "carol", 6000, 5)
	require.NoError(t, err)
	require.Zero(t, empty.ProjectedReward)
	require.Zero(t, empty.ShareBps)
}

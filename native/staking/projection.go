package staking

import (
	"github.com/holiman/uint256"

	"stakeledger/native/accumulator"
)

// PoolSnapshot summarises pool state for reporting.
type PoolSnapshot struct {
	TotalStaked        uint64       `json:"totalStaked"`
	TotalWeight        *uint256.Int `json:"totalWeight"`
	AccRewardPerWeight *uint256.Int `json:"accRewardPerWeight"`
	ActiveStakers      uint32       `json:"activeStakers"`
	EpochIndex         uint64       `json:"epochIndex"`
}

// Projection estimates what a position would earn from a hypothetical
// revenue event.
type Projection struct {
	Owner           string       `json:"owner"`
	StakedAmount    uint64       `json:"stakedAmount"`
	WeightedStake   *uint256.Int `json:"weightedStake"`
	MultiplierBps   uint64       `json:"multiplierBps"`
	ShareBps        uint64       `json:"shareBps"`
	Revenue         uint64       `json:"revenue"`
	StakingBucket   uint64       `json:"stakingBucket"`
	ProjectedReward uint64       `json:"projectedReward"`
	Claimable       uint64       `json:"claimable"`
	UnlockAt        int64        `json:"unlockAt"`
	Pool            PoolSnapshot `json:"pool"`
}

// Snapshot returns the reporting view of a pool.
func (p *Pool) Snapshot() PoolSnapshot {
	return PoolSnapshot{
		TotalStaked:        p.TotalStaked,
		TotalWeight:        accumulator.Clone(p.TotalWeight),
		AccRewardPerWeight: accumulator.Clone(p.AccRewardPerWeight),
		ActiveStakers:      p.ActiveStakers,
		EpochIndex:         p.EpochIndex,
	}
}

// Project computes the owner's share of a revenue event of size revenue
// whose staking bucket is stakingPct percent. The reward is derived through
// the same accumulator arithmetic a real injection would apply.
func (e *Engine) Project(id PoolID, owner string, revenue uint64, stakingPct uint8) (Projection, error) {
	if err := e.ready(); err != nil {
		return Projection{}, err
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return Projection{}, err
	}
	pos, _, err := e.loadPosition(id, owner)
	if err != nil {
		return Projection{}, err
	}
	bucket := new(uint256.Int).Mul(uint256.NewInt(revenue), uint256.NewInt(uint64(stakingPct)))
	bucket.Div(bucket, uint256.NewInt(100))
	stakingAmt := accumulator.SaturatingUint64(bucket)

	out := Projection{
		Owner:         pos.Owner,
		StakedAmount:  pos.StakedAmount,
		WeightedStake: accumulator.Clone(pos.Weight),
		MultiplierBps: MultiplierBps(pos.LockDuration),
		Revenue:       revenue,
		StakingBucket: stakingAmt,
		UnlockAt:      pos.UnlockAt(e.lockUnit),
		Pool:          pool.Snapshot(),
	}
	if pos.StakedAmount == 0 {
		out.MultiplierBps = 0
		out.UnlockAt = 0
	}
	if _, out.Claimable, err = claimable(pos, pool); err != nil {
		return Projection{}, err
	}
	if pool.TotalWeight.IsZero() || pos.Weight.IsZero() {
		return out, nil
	}
	share := new(uint256.Int).Mul(pos.Weight, uint256.NewInt(BpsDenominator))
	share.Div(share, pool.TotalWeight)
	out.ShareBps = accumulator.SaturatingUint64(share)

	delta, err := accumulator.AccrueDelta(stakingAmt, pool.TotalWeight)
	if err != nil {
		return Projection{}, err
	}
	reward, err := accumulator.Settle(pos.Weight, delta)
	if err != nil {
		return Projection{}, err
	}
	out.ProjectedReward = accumulator.SaturatingUint64(reward)
	return out, nil
}

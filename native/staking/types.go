package staking

import (
	"strings"

	"github.com/holiman/uint256"

	"stakeledger/native/accumulator"
	"stakeledger/native/transfer"
)

// PoolID identifies a staking pool by its administrator and asset.
type PoolID struct {
	Admin string `json:"admin"`
	Asset string `json:"asset"`
}

// Key returns the canonical string form used for storage keys and locks.
func (id PoolID) Key() string { return id.Admin + "/" + id.Asset }

// Validate ensures both components are present.
func (id PoolID) Validate() error {
	if strings.TrimSpace(id.Admin) == "" || strings.TrimSpace(id.Asset) == "" {
		return ErrInvalidPool
	}
	return nil
}

// Pool captures the aggregate accounting for a staking pool.
type Pool struct {
	ID                 PoolID             `json:"id"`
	Kind               transfer.AssetKind `json:"kind"`
	TotalStaked        uint64             `json:"totalStaked"`
	TotalWeight        *uint256.Int       `json:"totalWeight"`
	AccRewardPerWeight *uint256.Int       `json:"accRewardPerWeight"`
	EpochIndex         uint64             `json:"epochIndex"`
	ActiveStakers      uint32             `json:"activeStakers"`
	CarriedRewards     uint64             `json:"carriedRewards"`
	CreatedAt          int64              `json:"createdAt"`
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TotalWeight = accumulator.Clone(p.TotalWeight)
	clone.AccRewardPerWeight = accumulator.Clone(p.AccRewardPerWeight)
	return &clone
}

// StakeEscrow returns the custody account holding staked principal.
func (p *Pool) StakeEscrow() transfer.Escrow {
	return p.escrow(transfer.VaultStake)
}

// RewardEscrow returns the custody account backing the reward ledger.
func (p *Pool) RewardEscrow() transfer.Escrow {
	return p.escrow(transfer.VaultReward)
}

// RevenueEscrow returns the custody account for the revenue-share bucket.
func (p *Pool) RevenueEscrow() transfer.Escrow {
	return p.escrow(transfer.VaultRevenue)
}

func (p *Pool) escrow(vault transfer.VaultKind) transfer.Escrow {
	return transfer.Escrow{
		Asset: p.ID.Asset,
		Kind:  p.Kind,
		Vault: vault,
		Owner: p.ID.Key(),
	}
}

// Position is a participant's stake in a pool.
type Position struct {
	Pool           PoolID       `json:"pool"`
	Owner          string       `json:"owner"`
	StakedAmount   uint64       `json:"stakedAmount"`
	Weight         *uint256.Int `json:"weight"`
	RewardDebt     *uint256.Int `json:"rewardDebt"`
	PendingRewards uint64       `json:"pendingRewards"`
	LockDuration   LockDuration `json:"lockDuration"`
	StakeTimestamp int64        `json:"stakeTimestamp"`
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Weight = accumulator.Clone(p.Weight)
	clone.RewardDebt = accumulator.Clone(p.RewardDebt)
	return &clone
}

// UnlockAt returns the timestamp from which the position may be withdrawn.
func (p *Position) UnlockAt(lockUnit int64) int64 {
	if p == nil {
		return 0
	}
	return p.StakeTimestamp + int64(p.LockDuration)*lockUnit
}

// RewardLedger tracks funds available to pay staking rewards for one pool.
type RewardLedger struct {
	Pool         PoolID `json:"pool"`
	TotalFunds   uint64 `json:"totalFunds"`
	TotalClaimed uint64 `json:"totalClaimed"`
}

// Clone returns a copy of the ledger.
func (l *RewardLedger) Clone() *RewardLedger {
	if l == nil {
		return nil
	}
	clone := *l
	return &clone
}

// Injection summarises a reward injection into a pool's accumulator.
type Injection struct {
	Amount      uint64       `json:"amount"`
	Folded      uint64       `json:"folded"`
	Delta       *uint256.Int `json:"delta"`
	Accumulator *uint256.Int `json:"accumulator"`
	Remainder   uint64       `json:"remainder"`
	Carried     uint64       `json:"carried"`
	Stranded    bool         `json:"stranded"`
	Epoch       uint64       `json:"epoch"`
}

func newPool(id PoolID, kind transfer.AssetKind, now int64) *Pool {
	return &Pool{
		ID:                 id,
		Kind:               kind,
		TotalWeight:        accumulator.Zero(),
		AccRewardPerWeight: accumulator.Zero(),
		CreatedAt:          now,
	}
}

func newPosition(id PoolID, owner string) *Position {
	return &Position{
		Pool:       id,
		Owner:      owner,
		Weight:     accumulator.Zero(),
		RewardDebt: accumulator.Zero(),
	}
}

func ensurePool(p *Pool) *Pool {
	if p.TotalWeight == nil {
		p.TotalWeight = accumulator.Zero()
	}
	if p.AccRewardPerWeight == nil {
		p.AccRewardPerWeight = accumulator.Zero()
	}
	return p
}

func ensurePosition(p *Position) *Position {
	if p.Weight == nil {
		p.Weight = accumulator.Zero()
	}
	if p.RewardDebt == nil {
		p.RewardDebt = accumulator.Zero()
	}
	return p
}

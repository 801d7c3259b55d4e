package revenue

import (
	"stakeledger/native/staking"
	"stakeledger/native/transfer"
)

// MaxTournamentIDLength bounds tournament identifiers.
const MaxTournamentIDLength = 32

// MaxParticipants caps tournament registrations.
const MaxParticipants = 1000

// MaxTournamentDurationSeconds caps how far in the future a tournament may end.
const MaxTournamentDurationSeconds int64 = 90 * 24 * 60 * 60

// RevenueLedger tracks the revenue-share bucket for one pool.
type RevenueLedger struct {
	Pool             staking.PoolID `json:"pool"`
	TotalFunds       uint64         `json:"totalFunds"`
	PrizeReserve     uint64         `json:"prizeReserve"`
	TotalBurned      uint64         `json:"totalBurned"`
	Distributions    uint64         `json:"distributions"`
	LastDistribution int64          `json:"lastDistribution"`
}

// Clone returns a copy of the ledger.
func (l *RevenueLedger) Clone() *RevenueLedger {
	if l == nil {
		return nil
	}
	clone := *l
	return &clone
}

// Tournament is a revenue source collecting entry fees.
type Tournament struct {
	ID              string             `json:"id"`
	Pool            staking.PoolID     `json:"pool"`
	Kind            transfer.AssetKind `json:"kind"`
	EntryFee        uint64             `json:"entryFee"`
	MaxParticipants uint32             `json:"maxParticipants"`
	Participants    uint32             `json:"participants"`
	TotalFunds      uint64             `json:"totalFunds"`
	EndTime         int64              `json:"endTime"`
	IsActive        bool               `json:"isActive"`
	CreatedAt       int64              `json:"createdAt"`
	DistributedAt   int64              `json:"distributedAt"`
}

// Clone returns a copy of the tournament.
func (t *Tournament) Clone() *Tournament {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// Admin returns the tournament's administrator, which is the pool admin.
func (t *Tournament) Admin() string { return t.Pool.Admin }

// Escrow returns the account holding collected entry fees.
func (t *Tournament) Escrow() transfer.Escrow {
	return transfer.Escrow{
		Asset: t.Pool.Asset,
		Kind:  t.Kind,
		Vault: transfer.VaultTournament,
		Owner: t.ID,
	}
}

// PrizeEscrow returns the account holding the tournament's prize pool.
func (t *Tournament) PrizeEscrow() transfer.Escrow {
	e := t.Escrow()
	e.Vault = transfer.VaultPrize
	return e
}

// PrizePool tracks the prize bucket of a tournament.
type PrizePool struct {
	Tournament    string   `json:"tournament"`
	TotalFunds    uint64   `json:"totalFunds"`
	Distributed   bool     `json:"distributed"`
	Winners       []string `json:"winners,omitempty"`
	Payouts       []uint64 `json:"payouts,omitempty"`
	DistributedAt int64    `json:"distributedAt"`
}

// Clone returns a deep copy of the prize pool.
func (p *PrizePool) Clone() *PrizePool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Winners = append([]string(nil), p.Winners...)
	clone.Payouts = append([]uint64(nil), p.Payouts...)
	return &clone
}

// Distribution records the outcome of one revenue distribution.
type Distribution struct {
	Source      string            `json:"source"`
	Pool        staking.PoolID    `json:"pool"`
	Percentages Percentages       `json:"percentages"`
	Split       Split             `json:"split"`
	Dust        uint64            `json:"dust"`
	Injection   staking.Injection `json:"injection"`
	Timestamp   int64             `json:"timestamp"`
}

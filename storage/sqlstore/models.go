package sqlstore

import (
	"time"

	"gorm.io/gorm"
)

// PoolRecord persists a staking pool. u128 columns hold decimal strings.
type PoolRecord struct {
	Admin              string `gorm:"primaryKey;size:128"`
	Asset              string `gorm:"primaryKey;size:128"`
	Kind               string `gorm:"size:16"`
	TotalStaked        uint64
	TotalWeight        string `gorm:"size:40"`
	AccRewardPerWeight string `gorm:"size:40"`
	EpochIndex         uint64
	ActiveStakers      uint32
	CarriedRewards     uint64
	CreatedAt          int64 `gorm:"autoCreateTime:false"`
	UpdatedAt          time.Time
}

// PositionRecord persists one participant's stake in a pool.
type PositionRecord struct {
	Admin          string `gorm:"primaryKey;size:128"`
	Asset          string `gorm:"primaryKey;size:128"`
	Owner          string `gorm:"primaryKey;size:128"`
	StakedAmount   uint64
	Weight         string `gorm:"size:40"`
	RewardDebt     string `gorm:"size:40"`
	PendingRewards uint64
	LockDuration   uint32
	StakeTimestamp int64
	UpdatedAt      time.Time
}

// RewardLedgerRecord persists a pool's reward ledger.
type RewardLedgerRecord struct {
	Admin        string `gorm:"primaryKey;size:128"`
	Asset        string `gorm:"primaryKey;size:128"`
	TotalFunds   uint64
	TotalClaimed uint64
	UpdatedAt    time.Time
}

// RevenueLedgerRecord persists a pool's revenue-share ledger.
type RevenueLedgerRecord struct {
	Admin            string `gorm:"primaryKey;size:128"`
	Asset            string `gorm:"primaryKey;size:128"`
	TotalFunds       uint64
	PrizeReserve     uint64
	TotalBurned      uint64
	Distributions    uint64
	LastDistribution int64
	UpdatedAt        time.Time
}

// TournamentRecord persists a tournament revenue source.
type TournamentRecord struct {
	ID              string `gorm:"primaryKey;size:32"`
	Admin           string `gorm:"size:128;index:idx_tournament_pool"`
	Asset           string `gorm:"size:128;index:idx_tournament_pool"`
	Kind            string `gorm:"size:16"`
	EntryFee        uint64
	MaxParticipants uint32
	Participants    uint32
	TotalFunds      uint64
	EndTime         int64
	IsActive        bool
	CreatedAt       int64 `gorm:"autoCreateTime:false"`
	DistributedAt   int64
}

// RegistrationRecord marks a paid tournament registration.
type RegistrationRecord struct {
	TournamentID string `gorm:"primaryKey;size:32"`
	Player       string `gorm:"primaryKey;size:128"`
	RegisteredAt int64
}

// PrizePoolRecord persists a tournament prize pool. Winners and payouts
// are comma separated.
type PrizePoolRecord struct {
	TournamentID  string `gorm:"primaryKey;size:32"`
	TotalFunds    uint64
	Distributed   bool
	Winners       string `gorm:"type:text"`
	Payouts       string `gorm:"type:text"`
	DistributedAt int64
}

// BalanceRecord persists a native balance.
type BalanceRecord struct {
	Asset     string `gorm:"primaryKey;size:128"`
	Account   string `gorm:"primaryKey;size:255"`
	Amount    uint64
	UpdatedAt time.Time
}

// GenesisRecord marks a genesis entry as applied.
type GenesisRecord struct {
	Entry     string `gorm:"primaryKey;size:255"`
	CreatedAt time.Time
}

// IdempotencyKey stores request idempotency metadata.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	RequestID string `gorm:"size:64"`
	Caller    string `gorm:"size:128"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the ledger.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&PoolRecord{},
		&PositionRecord{},
		&RewardLedgerRecord{},
		&RevenueLedgerRecord{},
		&TournamentRecord{},
		&RegistrationRecord{},
		&PrizePoolRecord{},
		&BalanceRecord{},
		&GenesisRecord{},
		&IdempotencyKey{},
	)
}

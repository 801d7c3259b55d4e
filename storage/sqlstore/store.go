package sqlstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/glebarez/sqlite"
	"github.com/holiman/uint256"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"stakeledger/native/revenue"
	"stakeledger/native/staking"
	"stakeledger/native/transfer"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the configured database and migrates the schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Store runs ledger transactions against a gorm database.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// New wraps an opened database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for auxiliary tables.
func (s *Store) DB() *gorm.DB { return s.db }

// Update runs fn inside a database transaction. Writers are serialized
// because native balances are shared across pools.
func (s *Store) Update(fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&State{tx: tx})
	})
}

// View runs fn against the committed state.
func (s *Store) View(fn func(*State) error) error {
	return fn(&State{tx: s.db, readOnly: true})
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ErrReadOnly is returned when a View callback attempts a write.
var ErrReadOnly = errors.New("sqlstore: read-only transaction")

// State implements the staking and revenue engine state plus the native
// balance book on top of a gorm transaction.
type State struct {
	tx       *gorm.DB
	readOnly bool
}

func (s *State) first(out any, conds ...any) (bool, error) {
	err := s.tx.Take(out, conds...).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *State) upsert(v any) error {
	if s.readOnly {
		return ErrReadOnly
	}
	return s.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(v).Error
}

func decU128(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func parseU128(raw string) (*uint256.Int, error) {
	if raw == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: decode u128 %q: %w", raw, err)
	}
	return v, nil
}

// StakingPoolGet implements the staking engine state.
func (s *State) StakingPoolGet(id staking.PoolID) (*staking.Pool, bool, error) {
	var rec PoolRecord
	ok, err := s.first(&rec, "admin = ? AND asset = ?", id.Admin, id.Asset)
	if err != nil || !ok {
		return nil, false, err
	}
	pool, err := rec.toPool()
	if err != nil {
		return nil, false, err
	}
	return pool, true, nil
}

// StakingPoolPut implements the staking engine state.
func (s *State) StakingPoolPut(pool *staking.Pool) error {
	return s.upsert(&PoolRecord{
		Admin:              pool.ID.Admin,
		Asset:              pool.ID.Asset,
		Kind:               string(pool.Kind),
		TotalStaked:        pool.TotalStaked,
		TotalWeight:        decU128(pool.TotalWeight),
		AccRewardPerWeight: decU128(pool.AccRewardPerWeight),
		EpochIndex:         pool.EpochIndex,
		ActiveStakers:      pool.ActiveStakers,
		CarriedRewards:     pool.CarriedRewards,
		CreatedAt:          pool.CreatedAt,
	})
}

// StakingPools lists every stored pool.
func (s *State) StakingPools() ([]*staking.Pool, error) {
	var recs []PoolRecord
	if err := s.tx.Order("admin, asset").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*staking.Pool, 0, len(recs))
	for i := range recs {
		pool, err := recs[i].toPool()
		if err != nil {
			return nil, err
		}
		out = append(out, pool)
	}
	return out, nil
}

func (rec *PoolRecord) toPool() (*staking.Pool, error) {
	weight, err := parseU128(rec.TotalWeight)
	if err != nil {
		return nil, err
	}
	acc, err := parseU128(rec.AccRewardPerWeight)
	if err != nil {
		return nil, err
	}
	return &staking.Pool{
		ID:                 staking.PoolID{Admin: rec.Admin, Asset: rec.Asset},
		Kind:               transfer.AssetKind(rec.Kind),
		TotalStaked:        rec.TotalStaked,
		TotalWeight:        weight,
		AccRewardPerWeight: acc,
		EpochIndex:         rec.EpochIndex,
		ActiveStakers:      rec.ActiveStakers,
		CarriedRewards:     rec.CarriedRewards,
		CreatedAt:          rec.CreatedAt,
	}, nil
}

// StakePositionGet implements the staking engine state.
func (s *State) StakePositionGet(id staking.PoolID, owner string) (*staking.Position, bool, error) {
	var rec PositionRecord
	ok, err := s.first(&rec, "admin = ? AND asset = ? AND owner = ?", id.Admin, id.Asset, owner)
	if err != nil || !ok {
		return nil, false, err
	}
	weight, err := parseU128(rec.Weight)
	if err != nil {
		return nil, false, err
	}
	debt, err := parseU128(rec.RewardDebt)
	if err != nil {
		return nil, false, err
	}
	return &staking.Position{
		Pool:           id,
		Owner:          rec.Owner,
		StakedAmount:   rec.StakedAmount,
		Weight:         weight,
		RewardDebt:     debt,
		PendingRewards: rec.PendingRewards,
		LockDuration:   staking.LockDuration(rec.LockDuration),
		StakeTimestamp: rec.StakeTimestamp,
	}, true, nil
}

// StakePositionPut implements the staking engine state.
func (s *State) StakePositionPut(pos *staking.Position) error {
	return s.upsert(&PositionRecord{
		Admin:          pos.Pool.Admin,
		Asset:          pos.Pool.Asset,
		Owner:          pos.Owner,
		StakedAmount:   pos.StakedAmount,
		Weight:         decU128(pos.Weight),
		RewardDebt:     decU128(pos.RewardDebt),
		PendingRewards: pos.PendingRewards,
		LockDuration:   uint32(pos.LockDuration),
		StakeTimestamp: pos.StakeTimestamp,
	})
}

// RewardLedgerGet implements the staking engine state.
func (s *State) RewardLedgerGet(id staking.PoolID) (*staking.RewardLedger, bool, error) {
	var rec RewardLedgerRecord
	ok, err := s.first(&rec, "admin = ? AND asset = ?", id.Admin, id.Asset)
	if err != nil || !ok {
		return nil, false, err
	}
	return &staking.RewardLedger{Pool: id, TotalFunds: rec.TotalFunds, TotalClaimed: rec.TotalClaimed}, true, nil
}

// RewardLedgerPut implements the staking engine state.
func (s *State) RewardLedgerPut(ledger *staking.RewardLedger) error {
	return s.upsert(&RewardLedgerRecord{
		Admin:        ledger.Pool.Admin,
		Asset:        ledger.Pool.Asset,
		TotalFunds:   ledger.TotalFunds,
		TotalClaimed: ledger.TotalClaimed,
	})
}

// RevenueLedgerGet implements the revenue engine state.
func (s *State) RevenueLedgerGet(id staking.PoolID) (*revenue.RevenueLedger, bool, error) {
	var rec RevenueLedgerRecord
	ok, err := s.first(&rec, "admin = ? AND asset = ?", id.Admin, id.Asset)
	if err != nil || !ok {
		return nil, false, err
	}
	return &revenue.RevenueLedger{
		Pool:             id,
		TotalFunds:       rec.TotalFunds,
		PrizeReserve:     rec.PrizeReserve,
		TotalBurned:      rec.TotalBurned,
		Distributions:    rec.Distributions,
		LastDistribution: rec.LastDistribution,
	}, true, nil
}

// RevenueLedgerPut implements the revenue engine state.
func (s *State) RevenueLedgerPut(ledger *revenue.RevenueLedger) error {
	return s.upsert(&RevenueLedgerRecord{
		Admin:            ledger.Pool.Admin,
		Asset:            ledger.Pool.Asset,
		TotalFunds:       ledger.TotalFunds,
		PrizeReserve:     ledger.PrizeReserve,
		TotalBurned:      ledger.TotalBurned,
		Distributions:    ledger.Distributions,
		LastDistribution: ledger.LastDistribution,
	})
}

// TournamentGet implements the revenue engine state.
func (s *State) TournamentGet(id string) (*revenue.Tournament, bool, error) {
	var rec TournamentRecord
	ok, err := s.first(&rec, "id = ?", id)
	if err != nil || !ok {
		return nil, false, err
	}
	return &revenue.Tournament{
		ID:              rec.ID,
		Pool:            staking.PoolID{Admin: rec.Admin, Asset: rec.Asset},
		Kind:            transfer.AssetKind(rec.Kind),
		EntryFee:        rec.EntryFee,
		MaxParticipants: rec.MaxParticipants,
		Participants:    rec.Participants,
		TotalFunds:      rec.TotalFunds,
		EndTime:         rec.EndTime,
		IsActive:        rec.IsActive,
		CreatedAt:       rec.CreatedAt,
		DistributedAt:   rec.DistributedAt,
	}, true, nil
}

// TournamentPut implements the revenue engine state.
func (s *State) TournamentPut(t *revenue.Tournament) error {
	return s.upsert(&TournamentRecord{
		ID:              t.ID,
		Admin:           t.Pool.Admin,
		Asset:           t.Pool.Asset,
		Kind:            string(t.Kind),
		EntryFee:        t.EntryFee,
		MaxParticipants: t.MaxParticipants,
		Participants:    t.Participants,
		TotalFunds:      t.TotalFunds,
		EndTime:         t.EndTime,
		IsActive:        t.IsActive,
		CreatedAt:       t.CreatedAt,
		DistributedAt:   t.DistributedAt,
	})
}

// TournamentRegistrationGet implements the revenue engine state.
func (s *State) TournamentRegistrationGet(id, player string) (bool, error) {
	var rec RegistrationRecord
	return s.first(&rec, "tournament_id = ? AND player = ?", id, player)
}

// TournamentRegistrationPut implements the revenue engine state.
func (s *State) TournamentRegistrationPut(id, player string, at int64) error {
	return s.upsert(&RegistrationRecord{TournamentID: id, Player: player, RegisteredAt: at})
}

// PrizePoolGet implements the revenue engine state.
func (s *State) PrizePoolGet(tournament string) (*revenue.PrizePool, bool, error) {
	var rec PrizePoolRecord
	ok, err := s.first(&rec, "tournament_id = ?", tournament)
	if err != nil || !ok {
		return nil, false, err
	}
	pool := &revenue.PrizePool{
		Tournament:    rec.TournamentID,
		TotalFunds:    rec.TotalFunds,
		Distributed:   rec.Distributed,
		DistributedAt: rec.DistributedAt,
	}
	if rec.Winners != "" {
		pool.Winners = strings.Split(rec.Winners, ",")
	}
	if rec.Payouts != "" {
		for _, raw := range strings.Split(rec.Payouts, ",") {
			v, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return nil, false, fmt.Errorf("sqlstore: decode payout %q: %w", raw, err)
			}
			pool.Payouts = append(pool.Payouts, v)
		}
	}
	return pool, true, nil
}

// PrizePoolPut implements the revenue engine state.
func (s *State) PrizePoolPut(pool *revenue.PrizePool) error {
	payouts := make([]string, len(pool.Payouts))
	for i, v := range pool.Payouts {
		payouts[i] = strconv.FormatUint(v, 10)
	}
	return s.upsert(&PrizePoolRecord{
		TournamentID:  pool.Tournament,
		TotalFunds:    pool.TotalFunds,
		Distributed:   pool.Distributed,
		Winners:       strings.Join(pool.Winners, ","),
		Payouts:       strings.Join(payouts, ","),
		DistributedAt: pool.DistributedAt,
	})
}

// Balance implements transfer.BalanceStore. Rows are locked for update on
// databases that support row locks.
func (s *State) Balance(asset, account string) (uint64, error) {
	var rec BalanceRecord
	q := s.tx
	if !s.readOnly {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.Take(&rec, "asset = ? AND account = ?", asset, account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rec.Amount, nil
}

// SetBalance implements transfer.BalanceStore.
func (s *State) SetBalance(asset, account string, amount uint64) error {
	return s.upsert(&BalanceRecord{Asset: asset, Account: account, Amount: amount})
}

// GenesisApplied reports whether the genesis entry was already applied.
func (s *State) GenesisApplied(entry string) (bool, error) {
	var rec GenesisRecord
	return s.first(&rec, "entry = ?", entry)
}

// MarkGenesisApplied records the genesis entry as applied.
func (s *State) MarkGenesisApplied(entry string) error {
	if s.readOnly {
		return ErrReadOnly
	}
	return s.tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&GenesisRecord{Entry: entry}).Error
}

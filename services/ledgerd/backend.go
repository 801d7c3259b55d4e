package ledgerd

import (
	"fmt"

	"stakeledger/native/revenue"
	"stakeledger/native/staking"
	"stakeledger/storage"
	"stakeledger/storage/sqlstore"
)

// LedgerState is the transactional view the engines and native ledger are
// bound to. Both the key-value and SQL backends satisfy it.
type LedgerState interface {
	StakingPoolGet(id staking.PoolID) (*staking.Pool, bool, error)
	StakingPoolPut(pool *staking.Pool) error
	StakingPools() ([]*staking.Pool, error)
	StakePositionGet(id staking.PoolID, owner string) (*staking.Position, bool, error)
	StakePositionPut(pos *staking.Position) error
	RewardLedgerGet(id staking.PoolID) (*staking.RewardLedger, bool, error)
	RewardLedgerPut(ledger *staking.RewardLedger) error

	RevenueLedgerGet(id staking.PoolID) (*revenue.RevenueLedger, bool, error)
	RevenueLedgerPut(ledger *revenue.RevenueLedger) error
	TournamentGet(id string) (*revenue.Tournament, bool, error)
	TournamentPut(t *revenue.Tournament) error
	TournamentRegistrationGet(id string, player string) (bool, error)
	TournamentRegistrationPut(id string, player string, at int64) error
	PrizePoolGet(tournament string) (*revenue.PrizePool, bool, error)
	PrizePoolPut(pool *revenue.PrizePool) error

	Balance(asset, account string) (uint64, error)
	SetBalance(asset, account string, amount uint64) error

	GenesisApplied(entry string) (bool, error)
	MarkGenesisApplied(entry string) error
}

// Backend runs ledger transactions. Update commits when fn returns nil and
// discards every write otherwise.
type Backend interface {
	Update(fn func(LedgerState) error) error
	View(fn func(LedgerState) error) error
	Close() error
}

type kvBackend struct {
	store *storage.Store
}

func (b *kvBackend) Update(fn func(LedgerState) error) error {
	return b.store.Update(func(st *storage.State) error { return fn(st) })
}

func (b *kvBackend) View(fn func(LedgerState) error) error {
	return b.store.View(func(st *storage.State) error { return fn(st) })
}

func (b *kvBackend) Close() error {
	b.store.Close()
	return nil
}

type sqlBackend struct {
	store *sqlstore.Store
}

func (b *sqlBackend) Update(fn func(LedgerState) error) error {
	return b.store.Update(func(st *sqlstore.State) error { return fn(st) })
}

func (b *sqlBackend) View(fn func(LedgerState) error) error {
	return b.store.View(func(st *sqlstore.State) error { return fn(st) })
}

func (b *sqlBackend) Close() error { return b.store.Close() }

// NewMemoryBackend returns a volatile backend, used by tests and the
// default configuration.
func NewMemoryBackend() Backend {
	return &kvBackend{store: storage.NewStore(storage.NewMemDB())}
}

// NewSQLBackend wraps an already opened SQL store.
func NewSQLBackend(store *sqlstore.Store) Backend {
	return &sqlBackend{store: store}
}

// OpenBackend opens the storage driver selected by cfg.
func OpenBackend(cfg StorageConfig) (Backend, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemoryBackend(), nil
	case DriverLevelDB:
		db, err := storage.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open leveldb: %w", err)
		}
		return &kvBackend{store: storage.NewStore(db)}, nil
	case DriverSQLite, DriverPostgres:
		db, err := sqlstore.Open(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return NewSQLBackend(sqlstore.New(db)), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

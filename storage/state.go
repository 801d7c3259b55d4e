package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"stakeledger/native/revenue"
	"stakeledger/native/staking"
)

// ErrReadOnly is returned when a View callback attempts a write.
var ErrReadOnly = errors.New("storage: read-only transaction")

const (
	prefixPool         = "pool:"
	prefixPosition     = "position:"
	prefixReward       = "reward:"
	prefixRevenue      = "revenue:"
	prefixTournament   = "tournament:"
	prefixRegistration = "registration:"
	prefixPrize        = "prize:"
	prefixBalance      = "balance:"
	prefixGenesis      = "genesis:"
)

// Store serializes ledger transactions over a key-value Database.
type Store struct {
	db Database
	mu sync.Mutex
}

// NewStore wraps db.
func NewStore(db Database) *Store {
	return &Store{db: db}
}

// Update runs fn against a write-buffered State and commits its writes in a
// single batch when fn returns nil. Writers are serialized.
func (s *Store) Update(fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &State{db: s.db, writes: make(map[string][]byte)}
	if err := fn(st); err != nil {
		return err
	}
	if len(st.writes) == 0 {
		return nil
	}
	return s.db.Write(st.writes)
}

// View runs fn against the committed state.
func (s *Store) View(fn func(*State) error) error {
	return fn(&State{db: s.db, readOnly: true})
}

// Close closes the underlying database.
func (s *Store) Close() {
	s.db.Close()
}

// State implements the staking and revenue engine state plus the native
// balance book. Reads observe the transaction's own writes.
type State struct {
	db       Database
	writes   map[string][]byte
	readOnly bool
}

func (s *State) raw(key string) ([]byte, bool, error) {
	if v, ok := s.writes[key]; ok {
		return v, v != nil, nil
	}
	v, err := s.db.Get([]byte(key))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *State) get(key string, out any) (bool, error) {
	data, ok, err := s.raw(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *State) put(key string, v any) error {
	if s.readOnly {
		return ErrReadOnly
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	s.writes[key] = data
	return nil
}

func (s *State) keys(prefix string) ([]string, error) {
	stored, err := s.db.Keys([]byte(prefix))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(stored))
	out := make([]string, 0, len(stored))
	for _, k := range stored {
		key := string(k)
		if v, ok := s.writes[key]; ok && v == nil {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	for key, v := range s.writes {
		if v == nil || !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := seen[key]; !ok {
			out = append(out, key)
		}
	}
	return out, nil
}

func poolKey(id staking.PoolID) string { return id.Key() }

// StakingPoolGet implements the staking engine state.
func (s *State) StakingPoolGet(id staking.PoolID) (*staking.Pool, bool, error) {
	var pool staking.Pool
	ok, err := s.get(prefixPool+poolKey(id), &pool)
	if err != nil || !ok {
		return nil, false, err
	}
	return &pool, true, nil
}

// StakingPoolPut implements the staking engine state.
func (s *State) StakingPoolPut(pool *staking.Pool) error {
	return s.put(prefixPool+poolKey(pool.ID), pool)
}

// StakingPools lists every stored pool.
func (s *State) StakingPools() ([]*staking.Pool, error) {
	keys, err := s.keys(prefixPool)
	if err != nil {
		return nil, err
	}
	out := make([]*staking.Pool, 0, len(keys))
	for _, key := range keys {
		var pool staking.Pool
		ok, err := s.get(key, &pool)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, &pool)
		}
	}
	return out, nil
}

// StakePositionGet implements the staking engine state.
func (s *State) StakePositionGet(id staking.PoolID, owner string) (*staking.Position, bool, error) {
	var pos staking.Position
	ok, err := s.get(prefixPosition+poolKey(id)+"|"+owner, &pos)
	if err != nil || !ok {
		return nil, false, err
	}
	return &pos, true, nil
}

// StakePositionPut implements the staking engine state.
func (s *State) StakePositionPut(pos *staking.Position) error {
	return s.put(prefixPosition+poolKey(pos.Pool)+"|"+pos.Owner, pos)
}

// RewardLedgerGet implements the staking engine state.
func (s *State) RewardLedgerGet(id staking.PoolID) (*staking.RewardLedger, bool, error) {
	var ledger staking.RewardLedger
	ok, err := s.get(prefixReward+poolKey(id), &ledger)
	if err != nil || !ok {
		return nil, false, err
	}
	return &ledger, true, nil
}

// RewardLedgerPut implements the staking engine state.
func (s *State) RewardLedgerPut(ledger *staking.RewardLedger) error {
	return s.put(prefixReward+poolKey(ledger.Pool), ledger)
}

// RevenueLedgerGet implements the revenue engine state.
func (s *State) RevenueLedgerGet(id staking.PoolID) (*revenue.RevenueLedger, bool, error) {
	var ledger revenue.RevenueLedger
	ok, err := s.get(prefixRevenue+poolKey(id), &ledger)
	if err != nil || !ok {
		return nil, false, err
	}
	return &ledger, true, nil
}

// RevenueLedgerPut implements the revenue engine state.
func (s *State) RevenueLedgerPut(ledger *revenue.RevenueLedger) error {
	return s.put(prefixRevenue+poolKey(ledger.Pool), ledger)
}

// TournamentGet implements the revenue engine state.
func (s *State) TournamentGet(id string) (*revenue.Tournament, bool, error) {
	var t revenue.Tournament
	ok, err := s.get(prefixTournament+id, &t)
	if err != nil || !ok {
		return nil, false, err
	}
	return &t, true, nil
}

// TournamentPut implements the revenue engine state.
func (s *State) TournamentPut(t *revenue.Tournament) error {
	return s.put(prefixTournament+t.ID, t)
}

// TournamentRegistrationGet implements the revenue engine state.
func (s *State) TournamentRegistrationGet(id, player string) (bool, error) {
	var at int64
	return s.get(prefixRegistration+id+"|"+player, &at)
}

// TournamentRegistrationPut implements the revenue engine state.
func (s *State) TournamentRegistrationPut(id, player string, at int64) error {
	return s.put(prefixRegistration+id+"|"+player, at)
}

// PrizePoolGet implements the revenue engine state.
func (s *State) PrizePoolGet(tournament string) (*revenue.PrizePool, bool, error) {
	var pool revenue.PrizePool
	ok, err := s.get(prefixPrize+tournament, &pool)
	if err != nil || !ok {
		return nil, false, err
	}
	return &pool, true, nil
}

// PrizePoolPut implements the revenue engine state.
func (s *State) PrizePoolPut(pool *revenue.PrizePool) error {
	return s.put(prefixPrize+pool.Tournament, pool)
}

// Balance implements transfer.BalanceStore.
func (s *State) Balance(asset, account string) (uint64, error) {
	var bal uint64
	if _, err := s.get(prefixBalance+asset+"|"+account, &bal); err != nil {
		return 0, err
	}
	return bal, nil
}

// SetBalance implements transfer.BalanceStore.
func (s *State) SetBalance(asset, account string, amount uint64) error {
	key := prefixBalance + asset + "|" + account
	if amount == 0 {
		if s.readOnly {
			return ErrReadOnly
		}
		s.writes[key] = nil
		return nil
	}
	return s.put(key, amount)
}

// GenesisApplied reports whether the genesis entry was already applied.
func (s *State) GenesisApplied(entry string) (bool, error) {
	_, ok, err := s.raw(prefixGenesis + entry)
	return ok, err
}

// MarkGenesisApplied records the genesis entry as applied.
func (s *State) MarkGenesisApplied(entry string) error {
	return s.put(prefixGenesis+entry, true)
}

package revenue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"stakeledger/core/events"
	"stakeledger/native/staking"
	"stakeledger/native/transfer"
)

type mockState struct {
	pools         map[string]*staking.Pool
	positions     map[string]*staking.Position
	rewardLedgers map[string]*staking.RewardLedger
	ledgers       map[string]*RevenueLedger
	tournaments   map[string]*Tournament
	registrations map[string]int64
	prizePools    map[string]*PrizePool
	balances      map[string]uint64
}

func newMockState() *mockState {
	return &mockState{
		pools:         make(map[string]*staking.Pool),
		positions:     make(map[string]*staking.Position),
		rewardLedgers: make(map[string]*staking.RewardLedger),
		ledgers:       make(map[string]*RevenueLedger),
		tournaments:   make(map[string]*Tournament),
		registrations: make(map[string]int64),
		prizePools:    make(map[string]*PrizePool),
		balances:      make(map[string]uint64),
	}
}

func (m *mockState) StakingPoolGet(id staking.PoolID) (*staking.Pool, bool, error) {
	pool, ok := m.pools[id.Key()]
	if !ok {
		return nil, false, nil
	}
	return pool.Clone(), true, nil
}

func (m *mockState) StakingPoolPut(pool *staking.Pool) error {
	m.pools[pool.ID.Key()] = pool.Clone()
	return nil
}

func (m *mockState) StakePositionGet(id staking.PoolID, owner string) (*staking.Position, bool, error) {
	pos, ok := m.positions[id.Key()+"|"+owner]
	if !ok {
		return nil, false, nil
	}
	return pos.Clone(), true, nil
}

func (m *mockState) StakePositionPut(pos *staking.Position) error {
	m.positions[pos.Pool.Key()+"|"+pos.Owner] = pos.Clone()
	return nil
}

func (m *mockState) RewardLedgerGet(id staking.PoolID) (*staking.RewardLedger, bool, error) {
	ledger, ok := m.rewardLedgers[id.Key()]
	if !ok {
		return nil, false, nil
	}
	return ledger.Clone(), true, nil
}

func (m *mockState) RewardLedgerPut(ledger *staking.RewardLedger) error {
	m.rewardLedgers[ledger.Pool.Key()] = ledger.Clone()
	return nil
}

func (m *mockState) RevenueLedgerGet(id staking.PoolID) (*RevenueLedger, bool, error) {
	ledger, ok := m.ledgers[id.Key()]
	if !ok {
		return nil, false, nil
	}
	return ledger.Clone(), true, nil
}

func (m *mockState) RevenueLedgerPut(ledger *RevenueLedger) error {
	m.ledgers[ledger.Pool.Key()] = ledger.Clone()
	return nil
}

func (m *mockState) TournamentGet(id string) (*Tournament, bool, error) {
	t, ok := m.tournaments[id]
	if !ok {
		return nil, false, nil
	}
	return t.Clone(), true, nil
}

func (m *mockState) TournamentPut(t *Tournament) error {
	m.tournaments[t.ID] = t.Clone()
	return nil
}

func (m *mockState) TournamentRegistrationGet(id, player string) (bool, error) {
	_, ok := m.registrations[id+"|"+player]
	return ok, nil
}

func (m *mockState) TournamentRegistrationPut(id, player string, at int64) error {
	m.registrations[id+"|"+player] = at
	return nil
}

func (m *mockState) PrizePoolGet(id string) (*PrizePool, bool, error) {
	pool, ok := m.prizePools[id]
	if !ok {
		return nil, false, nil
	}
	return pool.Clone(), true, nil
}

func (m *mockState) PrizePoolPut(pool *PrizePool) error {
	m.prizePools[pool.Tournament] = pool.Clone()
	return nil
}

func (m *mockState) Balance(asset, account string) (uint64, error) {
	return m.balances[asset+"|"+account], nil
}

func (m *mockState) SetBalance(asset, account string, amount uint64) error {
	m.balances[asset+"|"+account] = amount
	return nil
}

type recorder struct{ events []events.Event }

func (r *recorder) Emit(evt events.Event) { r.events = append(r.events, evt) }

func (r *recorder) last(typ string) events.Record {
	for i := len(r.events) - 1; i >= 0; i-- {
		if rec, ok := r.events[i].(events.Record); ok && rec.Type == typ {
			return rec
		}
	}
	return events.Record{}
}

type harness struct {
	state   *mockState
	native  *transfer.NativeLedger
	staking *staking.Engine
	engine  *Engine
	events  *recorder
	pool    staking.PoolID
	now     int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		state:  newMockState(),
		events: &recorder{},
		pool:   staking.PoolID{Admin: "admin", Asset: "native"},
		now:    1_000,
	}
	h.native = transfer.NewNativeLedger(h.state)
	router := transfer.NewRouter(h.native, nil)
	clock := func() int64 { return h.now }

	h.staking = staking.NewEngine()
	h.staking.SetState(h.state)
	h.staking.SetTransfers(router)
	h.staking.SetEmitter(h.events)
	h.staking.SetNowFunc(clock)
	h.staking.SetLockUnit(100)

	h.engine = NewEngine()
	h.engine.SetState(h.state)
	h.engine.SetStaking(h.staking)
	h.engine.SetTransfers(router)
	h.engine.SetEmitter(h.events)
	h.engine.SetNowFunc(clock)

	_, err := h.staking.InitializePool("admin", h.pool, transfer.KindNative)
	require.NoError(t, err)
	_, err = h.staking.InitializeRewardLedger("admin", h.pool)
	require.NoError(t, err)
	_, err = h.engine.InitializeRevenueLedger("admin", h.pool)
	require.NoError(t, err)
	for _, who := range []string{"alice", "bob", "carol", "admin"} {
		require.NoError(t, h.native.Credit("native", who, 100_000))
	}
	return h
}

func (h *harness) balance(account string) uint64 {
	bal, _ := h.native.Balance("native", account)
	return bal
}

func (h *harness) poolState(t *testing.T) *staking.Pool {
	t.Helper()
	pool, err := h.staking.Pool(h.pool)
	require.NoError(t, err)
	return pool
}

func TestSplitFundsFloorsEveryBucket(t *testing.T) {
	split, err := SplitFunds(101, DefaultPercentages)
	require.NoError(t, err)
	require.Equal(t, Split{Total: 101, Prize: 40, Revenue: 50, Staking: 5, Burn: 5}, split)
	require.Equal(t, uint64(1), split.Dust())

	split, err = SplitFunds(^uint64(0), Percentages{Prize: 25, Revenue: 25, Staking: 25, Burn: 25})
	require.NoError(t, err)
	require.LessOrEqual(t, split.Dust(), uint64(3))
	require.Equal(t, split.Total, split.Distributed()+split.Dust())
}

func TestSplitDustNeverExceedsThree(t *testing.T) {
	pct := Percentages{Prize: 33, Revenue: 33, Staking: 33, Burn: 1}
	for total := uint64(0); total < 2_000; total++ {
		split, err := SplitFunds(total, pct)
		require.NoError(t, err)
		require.LessOrEqual(t, split.Dust(), uint64(3))
		require.LessOrEqual(t, split.Distributed(), total)
	}
}

func TestPercentagesValidate(t *testing.T) {
	require.NoError(t, DefaultPercentages.Validate())
	require.ErrorIs(t, Percentages{Prize: 50, Revenue: 50, Staking: 50}.Validate(), ErrInvalidPercentages)
	// 255+1+100 wraps to 100 in eight bits.
	require.ErrorIs(t, Percentages{Prize: 255, Revenue: 1, Burn: 100}.Validate(), ErrInvalidPercentages)
	_, err := SplitFunds(10, Percentages{Prize: 10})
	require.ErrorIs(t, err, ErrInvalidPercentages)
	require.Equal(t, staking.KindValidation, Classify(err))
}

func TestDistributeDirectFeedsStakers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.staking.Stake(ctx, "alice", h.pool, "alice", 1000, staking.Lock1)
	require.NoError(t, err)
	supplyBefore := h.balance("admin") + h.balance("alice")

	dist, err := h.engine.DistributeDirect(ctx, "admin", h.pool, 1000, Percentages{})
	require.NoError(t, err)
	require.Equal(t, DefaultPercentages, dist.Percentages)
	require.Equal(t, Split{Total: 1000, Prize: 400, Revenue: 500, Staking: 50, Burn: 50}, dist.Split)
	require.Zero(t, dist.Dust)
	require.False(t, dist.Injection.Stranded)
	require.Equal(t, uint64(50_000_000_000), dist.Injection.Delta.Uint64())

	pool := h.poolState(t)
	require.Equal(t, uint64(50), h.balance(pool.RewardEscrow().Account()))
	require.Equal(t, uint64(500), h.balance(pool.RevenueEscrow().Account()))
	require.Equal(t, uint64(400), h.balance("escrow:prize:"+h.pool.Key()))
	require.Zero(t, h.balance("escrow:intake:"+h.pool.Key()))
	require.Equal(t, supplyBefore-1000, h.balance("admin")+h.balance("alice"))

	ledger, err := h.engine.RevenueLedger(h.pool)
	require.NoError(t, err)
	require.Equal(t, uint64(500), ledger.TotalFunds)
	require.Equal(t, uint64(400), ledger.PrizeReserve)
	require.Equal(t, uint64(50), ledger.TotalBurned)
	require.Equal(t, uint64(1), ledger.Distributions)
	require.Equal(t, h.now, ledger.LastDistribution)

	claimed, err := h.staking.Claim(ctx, "alice", h.pool, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(50), claimed)

	rec := h.events.last(EventTypeDistributed)
	require.Equal(t, "direct:admin/native", rec.Attributes["source"])
	require.Equal(t, "50", rec.Attributes["staking"])
}

func TestDistributeWithoutStakersStrandsStakingBucket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	dist, err := h.engine.DistributeDirect(ctx, "admin", h.pool, 1000, DefaultPercentages)
	require.NoError(t, err)
	require.True(t, dist.Injection.Stranded)
	require.True(t, dist.Injection.Delta.IsZero())
	require.True(t, h.poolState(t).AccRewardPerWeight.IsZero())

	_, err = h.staking.Stake(ctx, "alice", h.pool, "alice", 1000, staking.Lock1)
	require.NoError(t, err)
	_, err = h.staking.Claim(ctx, "alice", h.pool, "alice")
	require.ErrorIs(t, err, staking.ErrNothingToClaim)
}

func TestDistributeCarriesDustAndStrandedBucket(t *testing.T) {
	h := newHarness(t)
	h.staking.SetCarryRemainder(true)
	ctx := context.Background()

	dist, err := h.engine.DistributeDirect(ctx, "admin", h.pool, 1001, DefaultPercentages)
	require.NoError(t, err)
	require.Equal(t, uint64(1), dist.Dust)
	require.Equal(t, uint64(51), dist.Injection.Amount)
	require.Equal(t, uint64(51), dist.Injection.Carried)
	require.Equal(t, uint64(51), h.poolState(t).CarriedRewards)

	_, err = h.staking.Stake(ctx, "alice", h.pool, "alice", 1000, staking.Lock1)
	require.NoError(t, err)
	dist, err = h.engine.DistributeDirect(ctx, "admin", h.pool, 100, DefaultPercentages)
	require.NoError(t, err)
	require.Equal(t, uint64(56), dist.Injection.Folded)
	require.Zero(t, dist.Injection.Carried)

	claimed, err := h.staking.Claim(ctx, "alice", h.pool, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(56), claimed)
	require.Zero(t, h.balance(h.poolState(t).RewardEscrow().Account()))
}

func TestDistributeAuthorization(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.DistributeDirect(context.Background(), "bob", h.pool, 100, DefaultPercentages)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.True(t, IsUnauthorized(err))
	require.Equal(t, staking.KindPrecondition, Classify(err))
}

func TestDistributeFailedCollectionLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	before := h.balance("admin")
	_, err := h.engine.DistributeDirect(context.Background(), "admin", h.pool, before+1, DefaultPercentages)
	require.ErrorIs(t, err, transfer.ErrInsufficientBalance)
	require.Equal(t, staking.KindTransfer, Classify(err))
	require.Equal(t, before, h.balance("admin"))

	ledger, err := h.engine.RevenueLedger(h.pool)
	require.NoError(t, err)
	require.Zero(t, ledger.Distributions)
	require.Zero(t, h.poolState(t).EpochIndex)
}

func TestDistributeRequiresRevenueLedger(t *testing.T) {
	h := newHarness(t)
	delete(h.state.ledgers, h.pool.Key())
	_, err := h.engine.DistributeDirect(context.Background(), "admin", h.pool, 100, DefaultPercentages)
	require.ErrorIs(t, err, ErrRevenueLedgerNotFound)

	_, err = h.engine.DistributeDirect(context.Background(), "admin", h.pool, 0, DefaultPercentages)
	require.ErrorIs(t, err, ErrNoFunds)
}

func TestDistributeRejectsInvalidPercentages(t *testing.T) {
	h := newHarness(t)
	before := h.balance("admin")
	_, err := h.engine.DistributeDirect(context.Background(), "admin", h.pool, 100, Percentages{Prize: 90, Burn: 20})
	require.ErrorIs(t, err, ErrInvalidPercentages)
	require.Equal(t, before, h.balance("admin"))
	require.ErrorIs(t, h.engine.SetDefaultPercentages(Percentages{Prize: 1}), ErrInvalidPercentages)
	require.NoError(t, h.engine.SetDefaultPercentages(Percentages{Staking: 100}))
	require.Equal(t, Percentages{Staking: 100}, h.engine.DefaultPercentages())
}

func TestEngineRequiresDependencies(t *testing.T) {
	e := NewEngine()
	_, err := e.InitializeRevenueLedger("admin", staking.PoolID{Admin: "admin", Asset: "native"})
	require.ErrorIs(t, err, ErrNilState)
	e.SetState(newMockState())
	_, err = e.InitializeRevenueLedger("admin", staking.PoolID{Admin: "admin", Asset: "native"})
	require.ErrorIs(t, err, ErrStakingUnavailable)
}

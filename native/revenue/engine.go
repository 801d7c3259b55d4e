package revenue

import (
	"context"
	"strings"
	"time"

	"stakeledger/core/events"
	"stakeledger/native/accumulator"
	"stakeledger/native/staking"
	"stakeledger/native/transfer"
)

type engineState interface {
	RevenueLedgerGet(id staking.PoolID) (*RevenueLedger, bool, error)
	RevenueLedgerPut(ledger *RevenueLedger) error
	TournamentGet(id string) (*Tournament, bool, error)
	TournamentPut(t *Tournament) error
	TournamentRegistrationGet(id string, player string) (bool, error)
	TournamentRegistrationPut(id string, player string, at int64) error
	PrizePoolGet(tournament string) (*PrizePool, bool, error)
	PrizePoolPut(pool *PrizePool) error
}

// Source supplies funds to distribute. The core does not care how they were
// earned.
type Source interface {
	SourceID() string
	// Escrow holds the funds to distribute.
	Escrow() transfer.Escrow
	// PrizeEscrow receives the prize bucket.
	PrizeEscrow() transfer.Escrow
	// Available returns the amount ready for distribution.
	Available() uint64
	// Settle marks the funds consumed and books the prize bucket.
	Settle(now int64, prize uint64) error
}

// Engine splits revenue across the prize, revenue-share, staking and burn
// buckets and feeds the staking bucket into the pool accumulator.
type Engine struct {
	state     engineState
	staking   *staking.Engine
	transfers transfer.Resolver
	emitter   events.Emitter
	nowFn     func() int64
	defaults  Percentages
}

// NewEngine constructs a revenue engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
		defaults: DefaultPercentages,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetStaking configures the staking engine receiving the staking bucket.
func (e *Engine) SetStaking(s *staking.Engine) { e.staking = s }

// SetTransfers configures the resolver used to move bucket funds.
func (e *Engine) SetTransfers(resolver transfer.Resolver) { e.transfers = resolver }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetDefaultPercentages configures the split used when a caller omits one.
func (e *Engine) SetDefaultPercentages(p Percentages) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.defaults = p
	return nil
}

// DefaultPercentages returns the configured fallback split.
func (e *Engine) DefaultPercentages() Percentages { return e.defaults }

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.staking == nil {
		return ErrStakingUnavailable
	}
	if e.transfers == nil {
		return staking.ErrTransferUnavailable
	}
	return nil
}

func (e *Engine) resolve(pct Percentages) Percentages {
	if pct.IsZero() {
		return e.defaults
	}
	return pct
}

func (e *Engine) loadLedger(id staking.PoolID) (*RevenueLedger, error) {
	ledger, ok, err := e.state.RevenueLedgerGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || ledger == nil {
		return nil, ErrRevenueLedgerNotFound
	}
	return ledger, nil
}

// InitializeRevenueLedger creates the revenue-share ledger for a pool.
func (e *Engine) InitializeRevenueLedger(caller string, id staking.PoolID) (*RevenueLedger, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, err := e.staking.Pool(id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(caller) != id.Admin {
		return nil, ErrUnauthorized
	}
	existing, ok, err := e.state.RevenueLedgerGet(id)
	if err != nil {
		return nil, err
	}
	if ok && existing != nil {
		return existing, nil
	}
	ledger := &RevenueLedger{Pool: id}
	if err := e.state.RevenueLedgerPut(ledger); err != nil {
		return nil, err
	}
	e.emit(LedgerInitializedEvent(id))
	return ledger, nil
}

// RevenueLedger returns the revenue-share ledger for a pool.
func (e *Engine) RevenueLedger(id staking.PoolID) (*RevenueLedger, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.loadLedger(id)
}

// DistributeDirect collects amount from the pool admin and distributes it.
// It is the entry point for fee revenue that does not come from a tournament.
func (e *Engine) DistributeDirect(ctx context.Context, caller string, id staking.PoolID, amount uint64, pct Percentages) (*Distribution, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pool, err := e.staking.Pool(id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(caller) != id.Admin {
		return nil, ErrUnauthorized
	}
	if amount == 0 {
		return nil, ErrNoFunds
	}
	pct = e.resolve(pct)
	if err := pct.Validate(); err != nil {
		return nil, err
	}
	if _, err := e.loadLedger(id); err != nil {
		return nil, err
	}
	src := &DirectSource{pool: pool, amount: amount}
	xfer, err := e.transfers.For(pool.Kind)
	if err != nil {
		return nil, err
	}
	if err := xfer.Deposit(ctx, caller, src.Escrow(), amount); err != nil {
		return nil, err
	}
	return e.Distribute(ctx, caller, id, src, pct)
}

// Distribute splits the source's funds by pct. The staking bucket is moved
// into the reward escrow and folded into the pool accumulator; with no
// weight staked it is stranded (or carried, when enabled).
func (e *Engine) Distribute(ctx context.Context, caller string, id staking.PoolID, src Source, pct Percentages) (*Distribution, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pool, err := e.staking.Pool(id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(caller) != id.Admin {
		return nil, ErrUnauthorized
	}
	pct = e.resolve(pct)
	split, err := SplitFunds(src.Available(), pct)
	if err != nil {
		return nil, err
	}
	if split.Total == 0 {
		return nil, ErrNoFunds
	}
	ledger, err := e.loadLedger(id)
	if err != nil {
		return nil, err
	}
	stakingAmt := split.Staking
	if e.staking.CarryRemainder() {
		stakingAmt += split.Dust()
	}
	revenueFunds, err := accumulator.AddUint64(ledger.TotalFunds, split.Revenue)
	if err != nil {
		return nil, err
	}
	xfer, err := e.transfers.For(pool.Kind)
	if err != nil {
		return nil, err
	}

	now := e.now()
	if err := src.Settle(now, split.Prize); err != nil {
		return nil, err
	}
	if err := e.commitSource(src, ledger, split.Prize); err != nil {
		return nil, err
	}
	ledger.TotalFunds = revenueFunds
	ledger.TotalBurned = saturatingAdd(ledger.TotalBurned, split.Burn)
	ledger.Distributions++
	ledger.LastDistribution = now
	if err := e.state.RevenueLedgerPut(ledger); err != nil {
		return nil, err
	}

	from := src.Escrow()
	moves := []struct {
		to     string
		amount uint64
	}{
		{src.PrizeEscrow().Account(), split.Prize},
		{pool.RevenueEscrow().Account(), split.Revenue},
		{pool.RewardEscrow().Account(), stakingAmt},
		{transfer.BurnAccount, split.Burn},
	}
	for _, move := range moves {
		if move.amount == 0 {
			continue
		}
		if err := xfer.Withdraw(ctx, from, move.to, move.amount); err != nil {
			return nil, err
		}
	}

	inj, err := e.staking.InjectRewards(caller, id, stakingAmt)
	if err != nil {
		return nil, err
	}
	dist := &Distribution{
		Source:      src.SourceID(),
		Pool:        id,
		Percentages: pct,
		Split:       split,
		Dust:        split.Dust(),
		Injection:   inj,
		Timestamp:   now,
	}
	e.emit(DistributedEvent(dist))
	return dist, nil
}

func (e *Engine) commitSource(src Source, ledger *RevenueLedger, prize uint64) error {
	switch s := src.(type) {
	case *tournamentSource:
		if err := e.state.TournamentPut(s.tournament); err != nil {
			return err
		}
		return e.state.PrizePoolPut(s.prizePool)
	case *DirectSource:
		ledger.PrizeReserve = saturatingAdd(ledger.PrizeReserve, prize)
	}
	return nil
}

// DirectSource distributes funds deposited by the pool admin in the same
// call. Its prize bucket is reserved on the revenue ledger.
type DirectSource struct {
	pool   *staking.Pool
	amount uint64
}

// SourceID implements Source.
func (s *DirectSource) SourceID() string { return "direct:" + s.pool.ID.Key() }

// Escrow implements Source.
func (s *DirectSource) Escrow() transfer.Escrow {
	return transfer.Escrow{
		Asset: s.pool.ID.Asset,
		Kind:  s.pool.Kind,
		Vault: transfer.VaultIntake,
		Owner: s.pool.ID.Key(),
	}
}

// PrizeEscrow implements Source.
func (s *DirectSource) PrizeEscrow() transfer.Escrow {
	e := s.Escrow()
	e.Vault = transfer.VaultPrize
	return e
}

// Available implements Source.
func (s *DirectSource) Available() uint64 { return s.amount }

// Settle implements Source.
func (s *DirectSource) Settle(int64, uint64) error {
	s.amount = 0
	return nil
}

func saturatingAdd(a, b uint64) uint64 {
	if sum := a + b; sum >= a {
		return sum
	}
	return ^uint64(0)
}

package ledgerd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"stakeledger/core/events"
	"stakeledger/native/common"
	"stakeledger/native/revenue"
	"stakeledger/native/staking"
	"stakeledger/native/transfer"
	"stakeledger/observability"
	telemetry "stakeledger/observability/otel"
)

// ServiceOptions wires the dependencies of a Service.
type ServiceOptions struct {
	Backend        Backend
	Pauses         *common.Pauses
	Emitter        events.Emitter
	Tokens         transfer.TokenClient
	Logger         *slog.Logger
	Metrics        *observability.LedgerMetrics
	Clock          func() int64
	LockUnit       int64
	CarryRemainder bool
	Percentages    revenue.Percentages
}

// Service executes ledger operations. Every mutation runs in one backend
// transaction while holding the mutex of the pool it touches.
type Service struct {
	backend  Backend
	pauses   *common.Pauses
	emitter  events.Emitter
	tokens   transfer.TokenClient
	logger   *slog.Logger
	metrics  *observability.LedgerMetrics
	clock    func() int64
	lockUnit int64
	carry    bool
	defaults revenue.Percentages

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService validates opts and constructs a Service.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("ledgerd: backend required")
	}
	if opts.Percentages.IsZero() {
		opts.Percentages = revenue.DefaultPercentages
	}
	if err := opts.Percentages.Validate(); err != nil {
		return nil, err
	}
	if opts.Pauses == nil {
		opts.Pauses = common.NewPauses()
	}
	if opts.Emitter == nil {
		opts.Emitter = events.NoopEmitter{}
	}
	if opts.Tokens == nil {
		opts.Tokens = transfer.FuncClient{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.Ledger()
	}
	if opts.Clock == nil {
		opts.Clock = func() int64 { return time.Now().Unix() }
	}
	if opts.LockUnit <= 0 {
		opts.LockUnit = staking.DefaultLockUnitSeconds
	}
	return &Service{
		backend:  opts.Backend,
		pauses:   opts.Pauses,
		emitter:  opts.Emitter,
		tokens:   opts.Tokens,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		clock:    opts.Clock,
		lockUnit: opts.LockUnit,
		carry:    opts.CarryRemainder,
		defaults: opts.Percentages,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// Pauses exposes the pause switchboard.
func (s *Service) Pauses() *common.Pauses { return s.pauses }

// Ledger bundles engines bound to one backend transaction.
type Ledger struct {
	State   LedgerState
	Staking *staking.Engine
	Revenue *revenue.Engine
	Native  *transfer.NativeLedger
}

func (s *Service) bind(st LedgerState, emitter events.Emitter) *Ledger {
	native := transfer.NewNativeLedger(st)
	router := transfer.NewRouter(native, transfer.NewTokenLedger(s.tokens))

	stk := staking.NewEngine()
	stk.SetState(st)
	stk.SetTransfers(router)
	stk.SetEmitter(emitter)
	stk.SetNowFunc(s.clock)
	stk.SetLockUnit(s.lockUnit)
	stk.SetCarryRemainder(s.carry)

	rev := revenue.NewEngine()
	rev.SetState(st)
	rev.SetStaking(stk)
	rev.SetTransfers(router)
	rev.SetEmitter(emitter)
	rev.SetNowFunc(s.clock)
	_ = rev.SetDefaultPercentages(s.defaults)

	return &Ledger{State: st, Staking: stk, Revenue: rev, Native: native}
}

func (s *Service) poolLock(id staking.PoolID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := id.Key()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// Mutate runs fn in a write transaction under the pool's mutex. Events are
// published only after the transaction commits.
func (s *Service) Mutate(ctx context.Context, op, module string, pool staking.PoolID, fn func(*Ledger) error) error {
	ctx, span := telemetry.StartSpan(ctx, op, attribute.String("pool", pool.Key()))
	defer span.End()
	start := time.Now()
	err := s.mutate(module, pool, fn)
	kind := string(revenue.Classify(err))
	s.metrics.Observe(op, time.Since(start), kind, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		s.logger.WarnContext(ctx, "ledger operation failed",
			slog.String("op", op),
			slog.String("pool", pool.Key()),
			slog.String("kind", kind),
			slog.Any("error", err))
		return err
	}
	s.logger.InfoContext(ctx, "ledger operation applied",
		slog.String("op", op),
		slog.String("pool", pool.Key()))
	s.refreshPool(pool)
	return nil
}

func (s *Service) mutate(module string, pool staking.PoolID, fn func(*Ledger) error) error {
	if err := common.Guard(s.pauses, module); err != nil {
		return err
	}
	lock := s.poolLock(pool)
	lock.Lock()
	defer lock.Unlock()
	buf := &events.Buffer{}
	err := s.backend.Update(func(st LedgerState) error {
		return fn(s.bind(st, buf))
	})
	if err != nil {
		buf.Drain()
		return err
	}
	buf.FlushTo(events.Multi{s.emitter, eventCounter{}})
	return nil
}

// Read runs fn against committed state.
func (s *Service) Read(fn func(*Ledger) error) error {
	return s.backend.View(func(st LedgerState) error {
		return fn(s.bind(st, events.NoopEmitter{}))
	})
}

func (s *Service) refreshPool(id staking.PoolID) {
	err := s.Read(func(l *Ledger) error {
		pool, ok, err := l.State.StakingPoolGet(id)
		if err != nil || !ok {
			return err
		}
		var funds uint64
		if ledger, ok, err := l.State.RewardLedgerGet(id); err != nil {
			return err
		} else if ok {
			funds = ledger.TotalFunds
		}
		s.metrics.RecordPool(id.Key(), pool.TotalStaked, pool.TotalWeight, pool.AccRewardPerWeight, funds)
		return nil
	})
	if err != nil {
		s.logger.Warn("refresh pool metrics", slog.String("pool", id.Key()), slog.Any("error", err))
	}
}

type eventCounter struct{}

func (eventCounter) Emit(evt events.Event) {
	observability.Events().RecordEvent(evt.EventType())
}

// InitializePool creates the pool together with its reward and revenue
// ledgers.
func (s *Service) InitializePool(ctx context.Context, caller string, id staking.PoolID, kind transfer.AssetKind) (*staking.Pool, error) {
	var out *staking.Pool
	err := s.Mutate(ctx, "initialize_pool", common.ModuleStaking, id, func(l *Ledger) error {
		pool, err := l.Staking.InitializePool(caller, id, kind)
		if err != nil {
			return err
		}
		if _, err := l.Staking.InitializeRewardLedger(caller, id); err != nil {
			return err
		}
		if _, err := l.Revenue.InitializeRevenueLedger(caller, id); err != nil {
			return err
		}
		out = pool
		return nil
	})
	return out, err
}

// FundRewards deposits amount from caller into the pool's reward escrow.
func (s *Service) FundRewards(ctx context.Context, caller string, id staking.PoolID, amount uint64) (*staking.RewardLedger, error) {
	var out *staking.RewardLedger
	err := s.Mutate(ctx, "fund", common.ModuleStaking, id, func(l *Ledger) error {
		ledger, err := l.Staking.FundRewardLedger(ctx, caller, id, amount)
		out = ledger
		return err
	})
	return out, err
}

// Stake locks amount for owner in the pool.
func (s *Service) Stake(ctx context.Context, caller string, id staking.PoolID, owner string, amount uint64, lock staking.LockDuration) (*staking.Position, error) {
	var out *staking.Position
	err := s.Mutate(ctx, "stake", common.ModuleStaking, id, func(l *Ledger) error {
		pos, err := l.Staking.Stake(ctx, caller, id, owner, amount, lock)
		out = pos
		return err
	})
	return out, err
}

// Unstake withdraws the owner's full principal.
func (s *Service) Unstake(ctx context.Context, caller string, id staking.PoolID, owner string) (uint64, error) {
	var out uint64
	err := s.Mutate(ctx, "unstake", common.ModuleStaking, id, func(l *Ledger) error {
		amount, err := l.Staking.Unstake(ctx, caller, id, owner)
		out = amount
		return err
	})
	return out, err
}

// Accrue settles the owner's rewards into pending.
func (s *Service) Accrue(ctx context.Context, caller string, id staking.PoolID, owner string) (uint64, error) {
	var out uint64
	err := s.Mutate(ctx, "accrue", common.ModuleStaking, id, func(l *Ledger) error {
		settled, err := l.Staking.Accrue(caller, id, owner)
		out = settled
		return err
	})
	return out, err
}

// Claim pays out the owner's claimable rewards.
func (s *Service) Claim(ctx context.Context, caller string, id staking.PoolID, owner string) (uint64, error) {
	var out uint64
	err := s.Mutate(ctx, "claim", common.ModuleStaking, id, func(l *Ledger) error {
		amount, err := l.Staking.Claim(ctx, caller, id, owner)
		out = amount
		return err
	})
	return out, err
}

// Distribute collects amount from caller and splits it across the pool's
// buckets.
func (s *Service) Distribute(ctx context.Context, caller string, id staking.PoolID, amount uint64, pct revenue.Percentages) (*revenue.Distribution, error) {
	var out *revenue.Distribution
	err := s.Mutate(ctx, "distribute", common.ModuleRevenue, id, func(l *Ledger) error {
		d, err := l.Revenue.DistributeDirect(ctx, caller, id, amount, pct)
		out = d
		return err
	})
	if err == nil {
		s.recordDistribution(out)
	}
	return out, err
}

func (s *Service) recordDistribution(d *revenue.Distribution) {
	if d == nil {
		return
	}
	s.metrics.RecordDistribution(d.Pool.Key(), d.Dust, d.Injection.Stranded)
}

// PoolView is the read model returned for a pool.
type PoolView struct {
	Pool          *staking.Pool          `json:"pool"`
	RewardLedger  *staking.RewardLedger  `json:"rewardLedger,omitempty"`
	RevenueLedger *revenue.RevenueLedger `json:"revenueLedger,omitempty"`
}

// Pool returns the pool and its ledgers.
func (s *Service) Pool(id staking.PoolID) (*PoolView, error) {
	var out PoolView
	err := s.Read(func(l *Ledger) error {
		pool, err := l.Staking.Pool(id)
		if err != nil {
			return err
		}
		out.Pool = pool
		if ledger, err := l.Staking.RewardLedger(id); err == nil {
			out.RewardLedger = ledger
		} else if !errors.Is(err, staking.ErrRewardLedgerNotFound) {
			return err
		}
		if ledger, err := l.Revenue.RevenueLedger(id); err == nil {
			out.RevenueLedger = ledger
		} else if !errors.Is(err, revenue.ErrRevenueLedgerNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Pools lists every pool ordered by key.
func (s *Service) Pools() ([]*staking.Pool, error) {
	var out []*staking.Pool
	err := s.backend.View(func(st LedgerState) error {
		pools, err := st.StakingPools()
		out = pools
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Key() < out[j].ID.Key() })
	return out, nil
}

// PositionView is a position with its claimable preview.
type PositionView struct {
	Position  *staking.Position `json:"position"`
	Claimable uint64            `json:"claimable"`
	UnlockAt  int64             `json:"unlockAt"`
}

// Position returns the owner's position in the pool.
func (s *Service) Position(id staking.PoolID, owner string) (*PositionView, error) {
	var out PositionView
	err := s.Read(func(l *Ledger) error {
		pos, err := l.Staking.Position(id, owner)
		if err != nil {
			return err
		}
		claimable, err := l.Staking.Claimable(id, owner)
		if err != nil {
			return err
		}
		out = PositionView{Position: pos, Claimable: claimable}
		if pos.StakedAmount > 0 {
			out.UnlockAt = pos.UnlockAt(s.lockUnit)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Project estimates the owner's reward from a revenue event of size
// revenueAmt split with the configured default percentages.
func (s *Service) Project(id staking.PoolID, owner string, revenueAmt uint64) (staking.Projection, error) {
	var out staking.Projection
	err := s.Read(func(l *Ledger) error {
		p, err := l.Staking.Project(id, owner, revenueAmt, s.defaults.Staking)
		out = p
		return err
	})
	return out, err
}

func (s *Service) tournamentPool(id string) (staking.PoolID, error) {
	var pool staking.PoolID
	err := s.Read(func(l *Ledger) error {
		t, err := l.Revenue.Tournament(id)
		if err != nil {
			return err
		}
		pool = t.Pool
		return nil
	})
	return pool, err
}

// CreateTournament opens a tournament feeding the pool.
func (s *Service) CreateTournament(ctx context.Context, caller string, pool staking.PoolID, id string, entryFee uint64, maxParticipants uint32, endTime int64) (*revenue.Tournament, error) {
	var out *revenue.Tournament
	err := s.Mutate(ctx, "create_tournament", common.ModuleRevenue, pool, func(l *Ledger) error {
		t, err := l.Revenue.CreateTournament(caller, pool, id, entryFee, maxParticipants, endTime)
		out = t
		return err
	})
	return out, err
}

// Tournament returns the tournament and its prize pool, if initialised.
func (s *Service) Tournament(id string) (*revenue.Tournament, *revenue.PrizePool, error) {
	var (
		t     *revenue.Tournament
		prize *revenue.PrizePool
	)
	err := s.Read(func(l *Ledger) error {
		var err error
		if t, err = l.Revenue.Tournament(id); err != nil {
			return err
		}
		prize, err = l.Revenue.PrizePool(id)
		if errors.Is(err, revenue.ErrPrizePoolNotFound) {
			return nil
		}
		return err
	})
	return t, prize, err
}

func (s *Service) mutateTournament(ctx context.Context, op, id string, fn func(*Ledger) error) error {
	pool, err := s.tournamentPool(id)
	if err != nil {
		s.metrics.Observe(op, 0, string(revenue.Classify(err)), err)
		return err
	}
	return s.Mutate(ctx, op, common.ModuleRevenue, pool, fn)
}

// Register enrolls player and collects the entry fee.
func (s *Service) Register(ctx context.Context, caller, id, player string) (*revenue.Tournament, error) {
	var out *revenue.Tournament
	err := s.mutateTournament(ctx, "register", id, func(l *Ledger) error {
		t, err := l.Revenue.Register(ctx, caller, id, player)
		out = t
		return err
	})
	return out, err
}

// InitializePrizePool prepares the tournament's prize pool.
func (s *Service) InitializePrizePool(ctx context.Context, caller, id string) (*revenue.PrizePool, error) {
	var out *revenue.PrizePool
	err := s.mutateTournament(ctx, "initialize_prize_pool", id, func(l *Ledger) error {
		p, err := l.Revenue.InitializePrizePool(caller, id)
		out = p
		return err
	})
	return out, err
}

// DistributeTournament splits the collected entry fees.
func (s *Service) DistributeTournament(ctx context.Context, caller, id string, pct revenue.Percentages) (*revenue.Distribution, error) {
	var out *revenue.Distribution
	err := s.mutateTournament(ctx, "distribute_tournament", id, func(l *Ledger) error {
		d, err := l.Revenue.DistributeTournament(ctx, caller, id, pct)
		out = d
		return err
	})
	if err == nil {
		s.recordDistribution(out)
	}
	return out, err
}

// DistributePrizes pays the prize pool to the three winners.
func (s *Service) DistributePrizes(ctx context.Context, caller, id string, winners [3]string) (*revenue.PrizePool, error) {
	var out *revenue.PrizePool
	err := s.mutateTournament(ctx, "distribute_prizes", id, func(l *Ledger) error {
		p, err := l.Revenue.DistributePrizes(ctx, caller, id, winners)
		out = p
		return err
	})
	return out, err
}

// Balance reports a native balance.
func (s *Service) Balance(asset, account string) (uint64, error) {
	var out uint64
	err := s.Read(func(l *Ledger) error {
		bal, err := l.Native.Balance(asset, account)
		out = bal
		return err
	})
	return out, err
}

// Bootstrap applies fn in a single unguarded transaction. It is used to seed
// genesis before the server starts.
func (s *Service) Bootstrap(ctx context.Context, fn func(context.Context, *Ledger) error) error {
	buf := &events.Buffer{}
	err := s.backend.Update(func(st LedgerState) error {
		return fn(ctx, s.bind(st, buf))
	})
	if err != nil {
		return err
	}
	buf.FlushTo(events.Multi{s.emitter, eventCounter{}})
	return nil
}

// SetPause toggles a module pause and mirrors it to metrics.
func (s *Service) SetPause(module string, paused bool) {
	if module == "" {
		module = common.ModuleAll
	}
	s.pauses.Set(module, paused)
	s.metrics.SetPause(module, paused)
}

// Close releases the backend.
func (s *Service) Close() error {
	return s.backend.Close()
}

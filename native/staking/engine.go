package staking

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"stakeledger/core/events"
	"stakeledger/native/accumulator"
	"stakeledger/native/transfer"
)

type engineState interface {
	StakingPoolGet(id PoolID) (*Pool, bool, error)
	StakingPoolPut(pool *Pool) error
	StakePositionGet(id PoolID, owner string) (*Position, bool, error)
	StakePositionPut(pos *Position) error
	RewardLedgerGet(id PoolID) (*RewardLedger, bool, error)
	RewardLedgerPut(ledger *RewardLedger) error
}

// Engine applies stake, unstake, accrue, claim and reward injection against
// a pool. Callers serialize operations per pool.
type Engine struct {
	state          engineState
	transfers      transfer.Resolver
	emitter        events.Emitter
	nowFn          func() int64
	lockUnit       int64
	carryRemainder bool
}

// NewEngine constructs a staking engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
		lockUnit: DefaultLockUnitSeconds,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTransfers configures the resolver used to move principal and rewards.
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

// SetLockUnit configures the length in seconds of one lock unit.
func (e *Engine) SetLockUnit(seconds int64) {
	if seconds <= 0 {
		seconds = DefaultLockUnitSeconds
	}
	e.lockUnit = seconds
}

// LockUnit returns the configured lock unit length in seconds.
func (e *Engine) LockUnit() int64 { return e.lockUnit }

// SetCarryRemainder toggles carrying rounding residue into the next injection.
func (e *Engine) SetCarryRemainder(carry bool) { e.carryRemainder = carry }

// CarryRemainder reports whether rounding residue is carried forward.
func (e *Engine) CarryRemainder() bool { return e.carryRemainder }

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
	return nil
}

func (e *Engine) transferFor(pool *Pool) (transfer.Transfer, error) {
	if e.transfers == nil {
		return nil, ErrTransferUnavailable
	}
	return e.transfers.For(pool.Kind)
}

func (e *Engine) loadPool(id PoolID) (*Pool, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	pool, ok, err := e.state.StakingPoolGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || pool == nil {
		return nil, ErrPoolNotFound
	}
	return ensurePool(pool), nil
}

func (e *Engine) loadLedger(id PoolID) (*RewardLedger, error) {
	ledger, ok, err := e.state.RewardLedgerGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || ledger == nil {
		return nil, ErrRewardLedgerNotFound
	}
	return ledger, nil
}

func (e *Engine) loadPosition(id PoolID, owner string) (*Position, bool, error) {
	pos, ok, err := e.state.StakePositionGet(id, owner)
	if err != nil {
		return nil, false, err
	}
	if !ok || pos == nil {
		return newPosition(id, owner), false, nil
	}
	return ensurePosition(pos), true, nil
}

func authorize(caller, owner string) (string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return "", ErrInvalidOwner
	}
	if strings.TrimSpace(caller) != owner {
		return "", ErrUnauthorized
	}
	return owner, nil
}

// settlePending books rewards earned since the last settlement into
// PendingRewards and returns the accumulated entitlement.
func settlePending(pos *Position, pool *Pool) (*uint256.Int, uint64, error) {
	accumulated, err := accumulator.Settle(pos.Weight, pool.AccRewardPerWeight)
	if err != nil {
		return nil, 0, err
	}
	delta := accumulator.SaturatingUint64(accumulator.SubSat(accumulated, pos.RewardDebt))
	pos.PendingRewards = saturatingAdd(pos.PendingRewards, delta)
	return accumulated, delta, nil
}

func saturatingAdd(a, b uint64) uint64 {
	if b > math.MaxUint64-a {
		return math.MaxUint64
	}
	return a + b
}

// InitializePool creates the pool for id. Re-initialising an empty pool
// keeps its accumulator.
func (e *Engine) InitializePool(caller string, id PoolID, kind transfer.AssetKind) (*Pool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(caller) != id.Admin {
		return nil, ErrUnauthorized
	}
	switch kind {
	case transfer.KindNative:
	case transfer.KindToken:
		if _, err := transfer.ParseTokenAddress(id.Asset); err != nil {
			return nil, err
		}
	default:
		return nil, transfer.ErrUnsupportedKind
	}
	existing, ok, err := e.state.StakingPoolGet(id)
	if err != nil {
		return nil, err
	}
	if ok && existing != nil {
		if existing.TotalStaked != 0 || existing.Kind != kind {
			return nil, ErrAlreadyInitialized
		}
		return ensurePool(existing), nil
	}
	pool := newPool(id, kind, e.now())
	if err := e.state.StakingPoolPut(pool); err != nil {
		return nil, err
	}
	e.emit(poolEvent(EventTypePoolInitialized, id, map[string]string{"kind": string(kind)}))
	return pool, nil
}

// InitializeRewardLedger creates the zero reward ledger for id.
func (e *Engine) InitializeRewardLedger(caller string, id PoolID) (*RewardLedger, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, err := e.loadPool(id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(caller) != id.Admin {
		return nil, ErrUnauthorized
	}
	existing, ok, err := e.state.RewardLedgerGet(id)
	if err != nil {
		return nil, err
	}
	if ok && existing != nil {
		return existing, nil
	}
	ledger := &RewardLedger{Pool: id}
	if err := e.state.RewardLedgerPut(ledger); err != nil {
		return nil, err
	}
	e.emit(poolEvent(EventTypeLedgerInitialized, id, nil))
	return ledger, nil
}

// FundRewardLedger deposits amount from the funder into the reward escrow.
func (e *Engine) FundRewardLedger(ctx context.Context, from string, id PoolID, amount uint64) (*RewardLedger, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	ledger, err := e.loadLedger(id)
	if err != nil {
		return nil, err
	}
	funds, err := accumulator.AddUint64(ledger.TotalFunds, amount)
	if err != nil {
		return nil, err
	}
	xfer, err := e.transferFor(pool)
	if err != nil {
		return nil, err
	}
	if err := xfer.Deposit(ctx, from, pool.RewardEscrow(), amount); err != nil {
		return nil, err
	}
	ledger.TotalFunds = funds
	if err := e.state.RewardLedgerPut(ledger); err != nil {
		return nil, err
	}
	e.emit(poolEvent(EventTypeLedgerFunded, id, map[string]string{"from": from, "amount": u64(amount)}))
	return ledger, nil
}

// Stake deposits amount under the chosen lock and adds its weight to the
// position. Earned rewards are settled before the weight changes.
func (e *Engine) Stake(ctx context.Context, caller string, id PoolID, owner string, amount uint64, lock LockDuration) (*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	owner, err := authorize(caller, owner)
	if err != nil {
		return nil, err
	}
	if err := ValidateLockDuration(lock); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	pos, _, err := e.loadPosition(id, owner)
	if err != nil {
		return nil, err
	}
	wasEmpty := pos.StakedAmount == 0
	if !wasEmpty {
		if _, _, err := settlePending(pos, pool); err != nil {
			return nil, err
		}
	}

	added := WeightFor(amount, lock)
	staked, err := accumulator.AddUint64(pos.StakedAmount, amount)
	if err != nil {
		return nil, err
	}
	weight, err := accumulator.Add(pos.Weight, added)
	if err != nil {
		return nil, err
	}
	totalStaked, err := accumulator.AddUint64(pool.TotalStaked, amount)
	if err != nil {
		return nil, err
	}
	totalWeight, err := accumulator.Add(pool.TotalWeight, added)
	if err != nil {
		return nil, err
	}
	debt, err := accumulator.Settle(weight, pool.AccRewardPerWeight)
	if err != nil {
		return nil, err
	}

	xfer, err := e.transferFor(pool)
	if err != nil {
		return nil, err
	}
	if err := xfer.Deposit(ctx, owner, pool.StakeEscrow(), amount); err != nil {
		return nil, err
	}

	pos.StakedAmount = staked
	pos.Weight = weight
	pos.RewardDebt = debt
	// A top-up never brings the unlock time forward.
	now := e.now()
	if wasEmpty || now+int64(lock)*e.lockUnit >= pos.UnlockAt(e.lockUnit) {
		pos.LockDuration = lock
		pos.StakeTimestamp = now
	}
	pool.TotalStaked = totalStaked
	pool.TotalWeight = totalWeight
	if wasEmpty && pool.ActiveStakers < math.MaxUint32 {
		pool.ActiveStakers++
	}
	if err := e.state.StakePositionPut(pos); err != nil {
		return nil, err
	}
	if err := e.state.StakingPoolPut(pool); err != nil {
		return nil, err
	}
	e.emit(StakedEvent(pos, amount, added))
	return pos, nil
}

// Unstake withdraws the full principal of the position. Pending rewards are
// kept for a later claim.
func (e *Engine) Unstake(ctx context.Context, caller string, id PoolID, owner string) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	owner, err := authorize(caller, owner)
	if err != nil {
		return 0, err
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return 0, err
	}
	pos, _, err := e.loadPosition(id, owner)
	if err != nil {
		return 0, err
	}
	if pos.StakedAmount == 0 {
		return 0, ErrInsufficientStakedBalance
	}
	if e.now() < pos.UnlockAt(e.lockUnit) {
		return 0, ErrUnstakeLocked
	}
	if _, _, err := settlePending(pos, pool); err != nil {
		return 0, err
	}
	amount := pos.StakedAmount
	if pool.TotalStaked < amount {
		return 0, ErrMathOverflow
	}
	xfer, err := e.transferFor(pool)
	if err != nil {
		return 0, err
	}

	pool.TotalStaked -= amount
	pool.TotalWeight = accumulator.SubSat(pool.TotalWeight, pos.Weight)
	if pool.ActiveStakers > 0 {
		pool.ActiveStakers--
	}
	pos.StakedAmount = 0
	pos.Weight = accumulator.Zero()
	pos.RewardDebt = accumulator.Zero()
	if err := e.state.StakePositionPut(pos); err != nil {
		return 0, err
	}
	if err := e.state.StakingPoolPut(pool); err != nil {
		return 0, err
	}
	if err := xfer.Withdraw(ctx, pool.StakeEscrow(), owner, amount); err != nil {
		return 0, err
	}
	e.emit(UnstakedEvent(pos, amount))
	return amount, nil
}

// Accrue checkpoints earned rewards into PendingRewards. Calling it again
// without an intervening injection settles nothing.
func (e *Engine) Accrue(caller string, id PoolID, owner string) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	owner, err := authorize(caller, owner)
	if err != nil {
		return 0, err
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return 0, err
	}
	pos, exists, err := e.loadPosition(id, owner)
	if err != nil || !exists {
		return 0, err
	}
	accumulated, settled, err := settlePending(pos, pool)
	if err != nil {
		return 0, err
	}
	if settled == 0 {
		return 0, nil
	}
	pos.RewardDebt = accumulated
	if err := e.state.StakePositionPut(pos); err != nil {
		return 0, err
	}
	e.emit(AccruedEvent(pos, settled))
	return settled, nil
}

func claimable(pos *Position, pool *Pool) (*uint256.Int, uint64, error) {
	accumulated, err := accumulator.Settle(pos.Weight, pool.AccRewardPerWeight)
	if err != nil {
		return nil, 0, err
	}
	earned := accumulator.SaturatingUint64(accumulator.SubSat(accumulated, pos.RewardDebt))
	return accumulated, saturatingAdd(earned, pos.PendingRewards), nil
}

// Claim pays out everything the position has earned from the reward ledger.
func (e *Engine) Claim(ctx context.Context, caller string, id PoolID, owner string) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	owner, err := authorize(caller, owner)
	if err != nil {
		return 0, err
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return 0, err
	}
	pos, exists, err := e.loadPosition(id, owner)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrNothingToClaim
	}
	accumulated, amount, err := claimable(pos, pool)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrNothingToClaim
	}
	ledger, err := e.loadLedger(id)
	if err != nil {
		return 0, err
	}
	if ledger.TotalFunds < amount {
		return 0, ErrInsufficientPoolFunds
	}
	xfer, err := e.transferFor(pool)
	if err != nil {
		return 0, err
	}

	ledger.TotalFunds -= amount
	ledger.TotalClaimed = saturatingAdd(ledger.TotalClaimed, amount)
	pos.PendingRewards = 0
	pos.RewardDebt = accumulated
	if err := e.state.StakePositionPut(pos); err != nil {
		return 0, err
	}
	if err := e.state.RewardLedgerPut(ledger); err != nil {
		return 0, err
	}
	if err := xfer.Withdraw(ctx, pool.RewardEscrow(), owner, amount); err != nil {
		return 0, err
	}
	e.emit(ClaimedEvent(pos, amount))
	return amount, nil
}

// InjectRewards folds amount, already moved into the reward escrow, into the
// pool accumulator. It is the only writer of AccRewardPerWeight. With no
// weight staked the amount is stranded unless remainders are carried.
func (e *Engine) InjectRewards(caller string, id PoolID, amount uint64) (Injection, error) {
	if err := e.ready(); err != nil {
		return Injection{}, err
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return Injection{}, err
	}
	if strings.TrimSpace(caller) != id.Admin {
		return Injection{}, ErrUnauthorized
	}
	ledger, err := e.loadLedger(id)
	if err != nil {
		return Injection{}, err
	}
	funds, err := accumulator.AddUint64(ledger.TotalFunds, amount)
	if err != nil {
		return Injection{}, err
	}
	folded := amount
	if e.carryRemainder {
		if folded, err = accumulator.AddUint64(amount, pool.CarriedRewards); err != nil {
			return Injection{}, err
		}
	}
	inj := Injection{Amount: amount, Folded: folded, Delta: accumulator.Zero()}
	if pool.TotalWeight.IsZero() {
		inj.Stranded = folded > 0
		inj.Remainder = folded
	} else {
		delta, err := accumulator.AccrueDelta(folded, pool.TotalWeight)
		if err != nil {
			return Injection{}, err
		}
		acc, err := accumulator.Add(pool.AccRewardPerWeight, delta)
		if err != nil {
			return Injection{}, err
		}
		remainder, err := accumulator.AccrueRemainder(folded, delta, pool.TotalWeight)
		if err != nil {
			return Injection{}, err
		}
		pool.AccRewardPerWeight = acc
		inj.Delta = delta
		inj.Remainder = remainder
	}
	if e.carryRemainder {
		pool.CarriedRewards = inj.Remainder
		inj.Carried = inj.Remainder
	}
	pool.EpochIndex++
	ledger.TotalFunds = funds
	inj.Accumulator = accumulator.Clone(pool.AccRewardPerWeight)
	inj.Epoch = pool.EpochIndex

	if err := e.state.StakingPoolPut(pool); err != nil {
		return Injection{}, err
	}
	if err := e.state.RewardLedgerPut(ledger); err != nil {
		return Injection{}, err
	}
	e.emit(RewardsInjectedEvent(id, inj))
	return inj, nil
}

// Pool returns the pool stored for id.
func (e *Engine) Pool(id PoolID) (*Pool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadPool(id)
}

// Position returns the stored position. A participant that never staked
// receives a zero position.
func (e *Engine) Position(id PoolID, owner string) (*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, err := e.loadPool(id); err != nil {
		return nil, err
	}
	pos, _, err := e.loadPosition(id, strings.TrimSpace(owner))
	return pos, err
}

// RewardLedger returns the reward ledger for id.
func (e *Engine) RewardLedger(id PoolID) (*RewardLedger, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return e.loadLedger(id)
}

// Claimable previews the amount Claim would pay without mutating state.
func (e *Engine) Claimable(id PoolID, owner string) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return 0, err
	}
	pos, _, err := e.loadPosition(id, strings.TrimSpace(owner))
	if err != nil {
		return 0, err
	}
	_, amount, err := claimable(pos, pool)
	return amount, err
}

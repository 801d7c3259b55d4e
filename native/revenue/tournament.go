package revenue

import (
	"context"
	"strings"

	"stakeledger/native/accumulator"
	"stakeledger/native/staking"
	"stakeledger/native/transfer"
)

// Prize shares paid to first, second and third place, in percent.
var prizeShares = [3]uint64{50, 30, 20}

func (e *Engine) loadTournament(id string) (*Tournament, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrTournamentIDRequired
	}
	t, ok, err := e.state.TournamentGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || t == nil {
		return nil, ErrTournamentNotFound
	}
	return t, nil
}

func (e *Engine) loadPrizePool(id string) (*PrizePool, error) {
	pool, ok, err := e.state.PrizePoolGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || pool == nil {
		return nil, ErrPrizePoolNotFound
	}
	return pool, nil
}

func validateTournamentID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrTournamentIDRequired
	}
	if len(id) > MaxTournamentIDLength {
		return "", ErrTournamentIDTooLong
	}
	return id, nil
}

// CreateTournament opens a tournament collecting entry fees for the pool.
// Only the pool admin may create tournaments.
func (e *Engine) CreateTournament(caller string, pool staking.PoolID, id string, entryFee uint64, maxParticipants uint32, endTime int64) (*Tournament, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	id, err := validateTournamentID(id)
	if err != nil {
		return nil, err
	}
	if entryFee == 0 {
		return nil, ErrInvalidEntryFee
	}
	if maxParticipants == 0 || maxParticipants > MaxParticipants {
		return nil, ErrInvalidMaxParticipants
	}
	now := e.now()
	if endTime <= now || endTime >= now+MaxTournamentDurationSeconds {
		return nil, ErrInvalidEndTime
	}
	p, err := e.staking.Pool(pool)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(caller) != pool.Admin {
		return nil, ErrUnauthorized
	}
	_, exists, err := e.state.TournamentGet(id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrTournamentExists
	}
	t := &Tournament{
		ID:              id,
		Pool:            pool,
		Kind:            p.Kind,
		EntryFee:        entryFee,
		MaxParticipants: maxParticipants,
		EndTime:         endTime,
		IsActive:        true,
		CreatedAt:       now,
	}
	if err := e.state.TournamentPut(t); err != nil {
		return nil, err
	}
	e.emit(TournamentCreatedEvent(t))
	return t, nil
}

// Register enrolls player and collects the entry fee into the tournament
// escrow.
func (e *Engine) Register(ctx context.Context, caller string, id string, player string) (*Tournament, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	player = strings.TrimSpace(player)
	if player == "" {
		return nil, staking.ErrInvalidOwner
	}
	if strings.TrimSpace(caller) != player {
		return nil, ErrUnauthorized
	}
	t, err := e.loadTournament(id)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, ErrTournamentInactive
	}
	if e.now() >= t.EndTime {
		return nil, ErrTournamentEnded
	}
	if t.Participants >= t.MaxParticipants {
		return nil, ErrTournamentFull
	}
	registered, err := e.state.TournamentRegistrationGet(t.ID, player)
	if err != nil {
		return nil, err
	}
	if registered {
		return nil, ErrAlreadyRegistered
	}
	funds, err := accumulator.AddUint64(t.TotalFunds, t.EntryFee)
	if err != nil {
		return nil, err
	}
	xfer, err := e.transfers.For(t.Kind)
	if err != nil {
		return nil, err
	}
	if err := xfer.Deposit(ctx, player, t.Escrow(), t.EntryFee); err != nil {
		return nil, err
	}
	t.TotalFunds = funds
	t.Participants++
	if err := e.state.TournamentRegistrationPut(t.ID, player, e.now()); err != nil {
		return nil, err
	}
	if err := e.state.TournamentPut(t); err != nil {
		return nil, err
	}
	e.emit(RegisteredEvent(t, player))
	return t, nil
}

// Tournament returns the stored tournament.
func (e *Engine) Tournament(id string) (*Tournament, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.loadTournament(id)
}

// PrizePool returns the prize pool of a tournament.
func (e *Engine) PrizePool(id string) (*PrizePool, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.loadPrizePool(strings.TrimSpace(id))
}

// InitializePrizePool creates the empty prize pool for a tournament.
func (e *Engine) InitializePrizePool(caller string, id string) (*PrizePool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	t, err := e.loadTournament(id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(caller) != t.Admin() {
		return nil, ErrUnauthorized
	}
	existing, ok, err := e.state.PrizePoolGet(t.ID)
	if err != nil {
		return nil, err
	}
	if ok && existing != nil {
		return existing, nil
	}
	pool := &PrizePool{Tournament: t.ID}
	if err := e.state.PrizePoolPut(pool); err != nil {
		return nil, err
	}
	e.emit(PrizePoolInitializedEvent(t))
	return pool, nil
}

// DistributeTournament distributes the collected entry fees of an ended
// tournament. The prize bucket is credited to its prize pool.
func (e *Engine) DistributeTournament(ctx context.Context, caller string, id string, pct Percentages) (*Distribution, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	t, err := e.loadTournament(id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(caller) != t.Admin() {
		return nil, ErrUnauthorized
	}
	if !t.IsActive {
		return nil, ErrTournamentInactive
	}
	if e.now() < t.EndTime {
		return nil, ErrTournamentNotEnded
	}
	if t.TotalFunds == 0 {
		return nil, ErrNoFunds
	}
	prizePool, err := e.loadPrizePool(t.ID)
	if err != nil {
		return nil, err
	}
	return e.Distribute(ctx, caller, t.Pool, &tournamentSource{tournament: t, prizePool: prizePool}, pct)
}

// DistributePrizes pays the prize pool to three distinct winners in a
// 50/30/20 split. First place receives the rounding remainder so the pool
// empties exactly.
func (e *Engine) DistributePrizes(ctx context.Context, caller string, id string, winners [3]string) (*PrizePool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	t, err := e.loadTournament(id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(caller) != t.Admin() {
		return nil, ErrUnauthorized
	}
	seen := make(map[string]struct{}, len(winners))
	for i := range winners {
		winners[i] = strings.TrimSpace(winners[i])
		if winners[i] == "" {
			return nil, ErrInvalidWinners
		}
		if _, dup := seen[winners[i]]; dup {
			return nil, ErrInvalidWinners
		}
		seen[winners[i]] = struct{}{}
	}
	pool, err := e.loadPrizePool(t.ID)
	if err != nil {
		return nil, err
	}
	if pool.Distributed {
		return nil, ErrAlreadyDistributed
	}
	if pool.TotalFunds == 0 {
		return nil, ErrNoPrizeFunds
	}
	payouts := PrizePayouts(pool.TotalFunds)
	xfer, err := e.transfers.For(t.Kind)
	if err != nil {
		return nil, err
	}

	now := e.now()
	pool.Distributed = true
	pool.DistributedAt = now
	pool.Winners = winners[:]
	pool.Payouts = payouts[:]
	pool.TotalFunds = 0
	if err := e.state.PrizePoolPut(pool); err != nil {
		return nil, err
	}
	escrow := t.PrizeEscrow()
	for i, amount := range payouts {
		if amount == 0 {
			continue
		}
		if err := xfer.Withdraw(ctx, escrow, winners[i], amount); err != nil {
			return nil, err
		}
	}
	e.emit(PrizesDistributedEvent(t, pool))
	return pool, nil
}

// PrizePayouts splits total 50/30/20 with first place absorbing the floor
// remainder.
func PrizePayouts(total uint64) [3]uint64 {
	var out [3]uint64
	var paid uint64
	for i := 1; i < len(prizeShares); i++ {
		out[i] = bucket(total, uint8(prizeShares[i]))
		paid += out[i]
	}
	out[0] = total - paid
	return out
}

type tournamentSource struct {
	tournament *Tournament
	prizePool  *PrizePool
}

func (s *tournamentSource) SourceID() string             { return "tournament:" + s.tournament.ID }
func (s *tournamentSource) Escrow() transfer.Escrow      { return s.tournament.Escrow() }
func (s *tournamentSource) PrizeEscrow() transfer.Escrow { return s.tournament.PrizeEscrow() }
func (s *tournamentSource) Available() uint64            { return s.tournament.TotalFunds }

func (s *tournamentSource) Settle(now int64, prize uint64) error {
	funds, err := accumulator.AddUint64(s.prizePool.TotalFunds, prize)
	if err != nil {
		return err
	}
	s.prizePool.TotalFunds = funds
	s.tournament.TotalFunds = 0
	s.tournament.IsActive = false
	s.tournament.DistributedAt = now
	return nil
}

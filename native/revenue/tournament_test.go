package revenue

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"stakeledger/native/staking"
	"stakeledger/native/transfer"
)

func TestCreateTournamentValidation(t *testing.T) {
	h := newHarness(t)
	end := h.now + 500

	_, err := h.engine.CreateTournament("admin", h.pool, "", 10, 5, end)
	require.ErrorIs(t, err, ErrTournamentIDRequired)
	_, err = h.engine.CreateTournament("admin", h.pool, strings.Repeat("x", 33), 10, 5, end)
	require.ErrorIs(t, err, ErrTournamentIDTooLong)
	_, err = h.engine.CreateTournament("admin", h.pool, "cup", 0, 5, end)
	require.ErrorIs(t, err, ErrInvalidEntryFee)
	_, err = h.engine.CreateTournament("admin", h.pool, "cup", 10, 0, end)
	require.ErrorIs(t, err, ErrInvalidMaxParticipants)
	_, err = h.engine.CreateTournament("admin", h.pool, "cup", 10, MaxParticipants+1, end)
	require.ErrorIs(t, err, ErrInvalidMaxParticipants)
	_, err = h.engine.CreateTournament("admin", h.pool, "cup", 10, 5, h.now)
	require.ErrorIs(t, err, ErrInvalidEndTime)
	_, err = h.engine.CreateTournament("admin", h.pool, "cup", 10, 5, h.now+MaxTournamentDurationSeconds)
	require.ErrorIs(t, err, ErrInvalidEndTime)
	_, err = h.engine.CreateTournament("bob", h.pool, "cup", 10, 5, end)
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.engine.CreateTournament("admin", staking.PoolID{Admin: "admin", Asset: "other"}, "cup", 10, 5, end)
	require.ErrorIs(t, err, staking.ErrPoolNotFound)

	tour, err := h.engine.CreateTournament("admin", h.pool, strings.Repeat("x", 32), 10, 5, end)
	require.NoError(t, err)
	require.True(t, tour.IsActive)
	require.Equal(t, transfer.KindNative, tour.Kind)
	_, err = h.engine.CreateTournament("admin", h.pool, strings.Repeat("x", 32), 10, 5, end)
	require.ErrorIs(t, err, ErrTournamentExists)
}

func TestTournamentLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.staking.Stake(ctx, "carol", h.pool, "carol", 1000, staking.Lock1)
	require.NoError(t, err)

	_, err = h.engine.CreateTournament("admin", h.pool, "cup", 100, 2, h.now+500)
	require.NoError(t, err)

	_, err = h.engine.Register(ctx, "bob", "cup", "alice")
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.engine.Register(ctx, "alice", "cup", "alice")
	require.NoError(t, err)
	_, err = h.engine.Register(ctx, "alice", "cup", "alice")
	require.ErrorIs(t, err, ErrAlreadyRegistered)
	tour, err := h.engine.Register(ctx, "bob", "cup", "bob")
	require.NoError(t, err)
	require.Equal(t, uint32(2), tour.Participants)
	require.Equal(t, uint64(200), tour.TotalFunds)
	require.Equal(t, uint64(200), h.balance(tour.Escrow().Account()))
	_, err = h.engine.Register(ctx, "carol", "cup", "carol")
	require.ErrorIs(t, err, ErrTournamentFull)

	_, err = h.engine.DistributeTournament(ctx, "admin", "cup", DefaultPercentages)
	require.ErrorIs(t, err, ErrTournamentNotEnded)

	h.now += 500
	_, err = h.engine.DistributeTournament(ctx, "admin", "cup", DefaultPercentages)
	require.ErrorIs(t, err, ErrPrizePoolNotFound)
	_, err = h.engine.InitializePrizePool("bob", "cup")
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.engine.InitializePrizePool("admin", "cup")
	require.NoError(t, err)

	dist, err := h.engine.DistributeTournament(ctx, "admin", "cup", DefaultPercentages)
	require.NoError(t, err)
	require.Equal(t, "tournament:cup", dist.Source)
	require.Equal(t, Split{Total: 200, Prize: 80, Revenue: 100, Staking: 10, Burn: 10}, dist.Split)
	require.Equal(t, uint64(10_000_000_000), dist.Injection.Delta.Uint64())

	tour, err = h.engine.Tournament("cup")
	require.NoError(t, err)
	require.False(t, tour.IsActive)
	require.Zero(t, tour.TotalFunds)
	require.Equal(t, h.now, tour.DistributedAt)
	require.Zero(t, h.balance(tour.Escrow().Account()))
	require.Equal(t, uint64(80), h.balance(tour.PrizeEscrow().Account()))

	prizes, err := h.engine.PrizePool("cup")
	require.NoError(t, err)
	require.Equal(t, uint64(80), prizes.TotalFunds)

	ledger, err := h.engine.RevenueLedger(h.pool)
	require.NoError(t, err)
	require.Equal(t, uint64(100), ledger.TotalFunds)
	require.Zero(t, ledger.PrizeReserve)

	_, err = h.engine.DistributeTournament(ctx, "admin", "cup", DefaultPercentages)
	require.ErrorIs(t, err, ErrTournamentInactive)
	_, err = h.engine.Register(ctx, "carol", "cup", "carol")
	require.ErrorIs(t, err, ErrTournamentInactive)

	claimed, err := h.staking.Claim(ctx, "carol", h.pool, "carol")
	require.NoError(t, err)
	require.Equal(t, uint64(10), claimed)
}

func TestRegisterAfterEndFails(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.CreateTournament("admin", h.pool, "cup", 100, 2, h.now+10)
	require.NoError(t, err)
	h.now += 10
	_, err = h.engine.Register(context.Background(), "alice", "cup", "alice")
	require.ErrorIs(t, err, ErrTournamentEnded)
	_, err = h.engine.Register(context.Background(), "alice", "missing", "alice")
	require.ErrorIs(t, err, ErrTournamentNotFound)
}

func TestRegisterFailedDepositLeavesTournamentUntouched(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.CreateTournament("admin", h.pool, "cup", 200_000, 2, h.now+10)
	require.NoError(t, err)
	_, err = h.engine.Register(context.Background(), "alice", "cup", "alice")
	require.ErrorIs(t, err, transfer.ErrInsufficientBalance)

	tour, err := h.engine.Tournament("cup")
	require.NoError(t, err)
	require.Zero(t, tour.Participants)
	require.Zero(t, tour.TotalFunds)
	registered, err := h.state.TournamentRegistrationGet("cup", "alice")
	require.NoError(t, err)
	require.False(t, registered)
}

func TestPrizePayoutsEmptyThePool(t *testing.T) {
	require.Equal(t, [3]uint64{40, 24, 16}, PrizePayouts(80))
	require.Equal(t, [3]uint64{51, 30, 20}, PrizePayouts(101))
	require.Equal(t, [3]uint64{1, 0, 0}, PrizePayouts(1))
	for total := uint64(0); total < 500; total++ {
		p := PrizePayouts(total)
		require.Equal(t, total, p[0]+p[1]+p[2])
	}
}

func TestDistributePrizes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.engine.CreateTournament("admin", h.pool, "cup", 100, 2, h.now+10)
	require.NoError(t, err)
	_, err = h.engine.InitializePrizePool("admin", "cup")
	require.NoError(t, err)

	winners := [3]string{"alice", "bob", "carol"}
	_, err = h.engine.DistributePrizes(ctx, "admin", "cup", winners)
	require.ErrorIs(t, err, ErrNoPrizeFunds)

	for _, who := range []string{"alice", "bob"} {
		_, err = h.engine.Register(ctx, who, "cup", who)
		require.NoError(t, err)
	}
	h.now += 10
	_, err = h.engine.DistributeTournament(ctx, "admin", "cup", DefaultPercentages)
	require.NoError(t, err)

	_, err = h.engine.DistributePrizes(ctx, "admin", "cup", [3]string{"alice", "alice", "bob"})
	require.ErrorIs(t, err, ErrInvalidWinners)
	_, err = h.engine.DistributePrizes(ctx, "bob", "cup", winners)
	require.ErrorIs(t, err, ErrUnauthorized)

	before := map[string]uint64{}
	for _, w := range winners {
		before[w] = h.balance(w)
	}
	pool, err := h.engine.DistributePrizes(ctx, "admin", "cup", winners)
	require.NoError(t, err)
	require.True(t, pool.Distributed)
	require.Zero(t, pool.TotalFunds)
	require.Equal(t, []uint64{40, 24, 16}, pool.Payouts)
	require.Equal(t, before["alice"]+40, h.balance("alice"))
	require.Equal(t, before["bob"]+24, h.balance("bob"))
	require.Equal(t, before["carol"]+16, h.balance("carol"))

	tour, err := h.engine.Tournament("cup")
	require.NoError(t, err)
	require.Zero(t, h.balance(tour.PrizeEscrow().Account()))

	_, err = h.engine.DistributePrizes(ctx, "admin", "cup", winners)
	require.ErrorIs(t, err, ErrAlreadyDistributed)

	rec := h.events.last(EventTypePrizesDistributed)
	require.Equal(t, "alice,bob,carol", rec.Attributes["winners"])
	require.Equal(t, "40,24,16", rec.Attributes["payouts"])
}

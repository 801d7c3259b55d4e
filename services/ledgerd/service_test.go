package ledgerd

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"stakeledger/native/revenue"
	"stakeledger/native/staking"
	"stakeledger/native/transfer"
)

var tokenPool = staking.PoolID{Admin: "admin", Asset: "0x00000000000000000000000000000000000000aa"}

// outageClient accepts deposits and fails every release from an escrow while
// down is set.
type outageClient struct {
	down atomic.Bool
}

func (c *outageClient) client() transfer.FuncClient {
	return transfer.FuncClient{
		TransferFunc: func(_ context.Context, _ common.Address, from, _ string, _ *big.Int) (string, error) {
			if c.down.Load() && strings.HasPrefix(from, "escrow:") {
				return "", errors.New("gateway unavailable")
			}
			return "0xok", nil
		},
		BurnFunc: func(context.Context, common.Address, string, *big.Int) (string, error) {
			if c.down.Load() {
				return "", errors.New("gateway unavailable")
			}
			return "0xok", nil
		},
	}
}

type ledgerSnapshot struct {
	pool     *PoolView
	position *PositionView
}

func snapshotLedger(t *testing.T, svc *Service) ledgerSnapshot {
	t.Helper()
	pool, err := svc.Pool(tokenPool)
	require.NoError(t, err)
	pos, err := svc.Position(tokenPool, "alice")
	require.NoError(t, err)
	return ledgerSnapshot{pool: pool, position: pos}
}

func TestFailedWithdrawalLeavesLedgerUntouched(t *testing.T) {
	ctx := context.Background()
	gateway := &outageClient{}
	var now atomic.Int64
	now.Store(1000)
	svc, err := NewService(ServiceOptions{
		Backend:  NewMemoryBackend(),
		Logger:   discardLogger(),
		Tokens:   gateway.client(),
		Clock:    now.Load,
		LockUnit: 100,
	})
	require.NoError(t, err)

	_, err = svc.InitializePool(ctx, "admin", tokenPool, transfer.KindToken)
	require.NoError(t, err)
	_, err = svc.FundRewards(ctx, "admin", tokenPool, 1000)
	require.NoError(t, err)
	_, err = svc.Stake(ctx, "alice", tokenPool, "alice", 1000, staking.Lock1)
	require.NoError(t, err)
	_, err = svc.Distribute(ctx, "admin", tokenPool, 2000, revenue.Percentages{})
	require.NoError(t, err)
	now.Add(100)

	before := snapshotLedger(t, svc)
	require.Equal(t, uint64(100), before.position.Claimable)

	gateway.down.Store(true)
	_, err = svc.Unstake(ctx, "alice", tokenPool, "alice")
	require.ErrorIs(t, err, transfer.ErrFailed)
	require.Equal(t, before, snapshotLedger(t, svc))

	_, err = svc.Claim(ctx, "alice", tokenPool, "alice")
	require.ErrorIs(t, err, transfer.ErrFailed)
	require.Equal(t, before, snapshotLedger(t, svc))

	_, err = svc.Distribute(ctx, "admin", tokenPool, 2000, revenue.Percentages{})
	require.ErrorIs(t, err, transfer.ErrFailed)
	require.Equal(t, before, snapshotLedger(t, svc))

	gateway.down.Store(false)
	claimed, err := svc.Claim(ctx, "alice", tokenPool, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(100), claimed)
	amount, err := svc.Unstake(ctx, "alice", tokenPool, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(1000), amount)
}

const restartGenesis = `
[[Balances]]
Asset = "native"
Account = "admin"
Amount = 5000

[[Balances]]
Asset = "native"
Account = "alice"
Amount = 1000

[[Pools]]
Admin = "admin"
Asset = "native"
Kind = "native"
RewardFunding = 500
`

func TestApplyGenesisAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "genesis.toml")
	require.NoError(t, os.WriteFile(path, []byte(restartGenesis), 0o600))

	backend := NewMemoryBackend()
	open := func() *Service {
		svc, err := NewService(ServiceOptions{
			Backend:  backend,
			Logger:   discardLogger(),
			Clock:    func() int64 { return 1000 },
			LockUnit: 100,
		})
		require.NoError(t, err)
		require.NoError(t, ApplyGenesis(ctx, svc, path))
		return svc
	}

	svc := open()
	_, err := svc.Stake(ctx, "alice", testPool, "alice", 1000, staking.Lock1)
	require.NoError(t, err)
	_, err = svc.FundRewards(ctx, "admin", testPool, 4500)
	require.NoError(t, err)

	svc = open()
	view, err := svc.Pool(testPool)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), view.Pool.TotalStaked)
	require.Equal(t, uint64(5000), view.RewardLedger.TotalFunds)
	admin, err := svc.Balance("native", "admin")
	require.NoError(t, err)
	require.Zero(t, admin)
	alice, err := svc.Balance("native", "alice")
	require.NoError(t, err)
	require.Zero(t, alice)
}

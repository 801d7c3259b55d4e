package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"stakeledger/native/revenue"
	"stakeledger/native/staking"
	"stakeledger/native/transfer"
)

var testPool = staking.PoolID{Admin: "admin", Asset: "native"}

func engines(st *State) (*staking.Engine, *revenue.Engine, *transfer.NativeLedger) {
	native := transfer.NewNativeLedger(st)
	router := transfer.NewRouter(native, nil)
	stk := staking.NewEngine()
	stk.SetState(st)
	stk.SetTransfers(router)
	rev := revenue.NewEngine()
	rev.SetState(st)
	rev.SetStaking(stk)
	rev.SetTransfers(router)
	return stk, rev, native
}

func seed(t *testing.T, store *Store) {
	t.Helper()
	require.NoError(t, store.Update(func(st *State) error {
		stk, rev, native := engines(st)
		if _, err := stk.InitializePool("admin", testPool, transfer.KindNative); err != nil {
			return err
		}
		if _, err := stk.InitializeRewardLedger("admin", testPool); err != nil {
			return err
		}
		if _, err := rev.InitializeRevenueLedger("admin", testPool); err != nil {
			return err
		}
		for _, who := range []string{"admin", "alice"} {
			if err := native.Credit("native", who, 10_000); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestMemDBBasics(t *testing.T) {
	db := NewMemDB()
	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("a:1"), []byte("x")))
	require.NoError(t, db.Write(map[string][]byte{"a:2": []byte("y"), "b:1": []byte("z"), "a:1": nil}))
	keys, err := db.Keys([]byte("a:"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a:2")}, keys)
	require.NoError(t, db.Delete([]byte("a:2")))
	_, err = db.Get([]byte("a:2"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	store := NewStore(NewMemDB())
	seed(t, store)

	boom := errors.New("boom")
	err := store.Update(func(st *State) error {
		stk, _, _ := engines(st)
		if _, err := stk.Stake(context.Background(), "alice", testPool, "alice", 1000, staking.Lock1); err != nil {
			return err
		}
		pool, ok, err := st.StakingPoolGet(testPool)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(1000), pool.TotalStaked)
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, store.View(func(st *State) error {
		pool, ok, err := st.StakingPoolGet(testPool)
		require.NoError(t, err)
		require.True(t, ok)
		require.Zero(t, pool.TotalStaked)
		bal, err := st.Balance("native", "alice")
		require.NoError(t, err)
		require.Equal(t, uint64(10_000), bal)
		return nil
	}))
}

func TestViewRejectsWrites(t *testing.T) {
	store := NewStore(NewMemDB())
	err := store.View(func(st *State) error {
		return st.SetBalance("native", "alice", 5)
	})
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestStoreRunsLedgerScenario(t *testing.T) {
	store := NewStore(NewMemDB())
	seed(t, store)
	ctx := context.Background()

	require.NoError(t, store.Update(func(st *State) error {
		stk, _, _ := engines(st)
		_, err := stk.Stake(ctx, "alice", testPool, "alice", 1000, staking.Lock1)
		return err
	}))
	require.NoError(t, store.Update(func(st *State) error {
		_, rev, _ := engines(st)
		_, err := rev.DistributeDirect(ctx, "admin", testPool, 2000, revenue.DefaultPercentages)
		return err
	}))

	var claimed uint64
	require.NoError(t, store.Update(func(st *State) error {
		stk, _, _ := engines(st)
		var err error
		claimed, err = stk.Claim(ctx, "alice", testPool, "alice")
		return err
	}))
	require.Equal(t, uint64(100), claimed)

	require.NoError(t, store.View(func(st *State) error {
		pools, err := st.StakingPools()
		require.NoError(t, err)
		require.Len(t, pools, 1)
		require.Equal(t, "100000000000", pools[0].AccRewardPerWeight.Dec())
		ledger, ok, err := st.RevenueLedgerGet(testPool)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(1000), ledger.TotalFunds)
		bal, err := st.Balance("native", "alice")
		require.NoError(t, err)
		require.Equal(t, uint64(10_000-1000+100), bal)
		return nil
	}))
}

func TestSetBalanceZeroDeletes(t *testing.T) {
	store := NewStore(NewMemDB())
	require.NoError(t, store.Update(func(st *State) error {
		return st.SetBalance("native", "bob", 7)
	}))
	require.NoError(t, store.Update(func(st *State) error {
		return st.SetBalance("native", "bob", 0)
	}))
	_, err := store.db.Get([]byte(prefixBalance + "native|bob"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	db, err := NewLevelDB(path)
	require.NoError(t, err)
	store := NewStore(db)
	seed(t, store)
	require.NoError(t, store.Update(func(st *State) error {
		stk, _, _ := engines(st)
		_, err := stk.Stake(context.Background(), "alice", testPool, "alice", 500, staking.Lock12)
		return err
	}))
	store.Close()

	db, err = NewLevelDB(path)
	require.NoError(t, err)
	store = NewStore(db)
	defer store.Close()
	require.NoError(t, store.View(func(st *State) error {
		pos, ok, err := st.StakePositionGet(testPool, "alice")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(500), pos.StakedAmount)
		require.Equal(t, uint64(1000), pos.Weight.Uint64())
		require.Equal(t, staking.Lock12, pos.LockDuration)
		return nil
	}))
}

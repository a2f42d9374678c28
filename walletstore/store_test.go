package walletstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keyhaven-io/wallet-agent/types"
)

func id(b byte) types.AccountID {
	var out types.AccountID
	out[0] = b
	return out
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	path := t.TempDir()
	store, err := NewBadgerStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Save("app1", []types.AccountID{id(1), id(2)}))
	require.NoError(t, store.Save("app2", []types.AccountID{id(3)}))

	grants, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, []types.AccountID{id(1), id(2)}, grants["app1"])
	require.Equal(t, []types.AccountID{id(3)}, grants["app2"])

	t.Run("save overwrites the app record", func(t *testing.T) {
		require.NoError(t, store.Save("app1", []types.AccountID{id(1)}))
		grants, err := store.Load()
		require.NoError(t, err)
		require.Equal(t, []types.AccountID{id(1)}, grants["app1"])
	})

	t.Run("grants survive a reopen", func(t *testing.T) {
		require.NoError(t, store.Close())
		store, err = NewBadgerStore(path)
		require.NoError(t, err)

		grants, err := store.Load()
		require.NoError(t, err)
		require.Equal(t, []types.AccountID{id(1)}, grants["app1"])
		require.Equal(t, []types.AccountID{id(3)}, grants["app2"])
	})

	require.NoError(t, store.Close())
}

func TestBadgerStoreDelete(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck

	require.NoError(t, store.Save("app1", []types.AccountID{id(1)}))
	require.NoError(t, store.Delete("app1"))

	grants, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, grants)

	// deleting twice is fine
	require.NoError(t, store.Delete("app1"))
}

func testAccount(addr string, chain types.ChainID) *types.Account {
	return &types.Account{
		Address:   []byte(addr),
		PublicKey: []byte("pk-" + addr),
		Chain:     chain,
	}
}

func TestBadgerStoreAccounts(t *testing.T) {
	path := t.TempDir()
	store, err := NewBadgerStore(path)
	require.NoError(t, err)

	accA := testAccount("addr-a", "eip155:1")
	accB := testAccount("addr-b", "solana:mainnet")
	// write out of key order; Seq is what must drive load order
	require.NoError(t, store.SaveAccount(&AccountRecord{Seq: 1, Account: accB}))
	require.NoError(t, store.SaveAccount(&AccountRecord{Seq: 0, Account: accA}))

	records, err := store.LoadAccounts()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, accA.Address, records[0].Account.Address)
	require.Equal(t, accB.Address, records[1].Account.Address)

	t.Run("accounts survive a reopen", func(t *testing.T) {
		require.NoError(t, store.Close())
		store, err = NewBadgerStore(path)
		require.NoError(t, err)

		records, err := store.LoadAccounts()
		require.NoError(t, err)
		require.Len(t, records, 2)
		require.Equal(t, accA.ID(), records[0].Account.ID())
		require.Equal(t, types.ChainID("solana:mainnet"), records[1].Account.Chain)
	})

	t.Run("save overwrites in place", func(t *testing.T) {
		relabelled := *accA
		relabelled.Label = "savings"
		require.NoError(t, store.SaveAccount(&AccountRecord{Seq: 0, Account: &relabelled}))

		records, err := store.LoadAccounts()
		require.NoError(t, err)
		require.Len(t, records, 2)
		require.Equal(t, "savings", records[0].Account.Label)
	})

	t.Run("delete removes the record", func(t *testing.T) {
		require.NoError(t, store.DeleteAccount(accA.ID()))
		records, err := store.LoadAccounts()
		require.NoError(t, err)
		require.Len(t, records, 1)
		require.Equal(t, accB.ID(), records[0].Account.ID())
	})

	require.NoError(t, store.Close())
}

func TestMemStore(t *testing.T) {
	store := NewMemStore()
	require.NoError(t, store.Save("app1", []types.AccountID{id(1)}))

	grants, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, []types.AccountID{id(1)}, grants["app1"])

	// Load hands out copies, not the live slice
	grants["app1"][0] = id(9)
	grants, err = store.Load()
	require.NoError(t, err)
	require.Equal(t, []types.AccountID{id(1)}, grants["app1"])

	store.SetFail(true)
	require.Error(t, store.Save("app1", []types.AccountID{id(2)}))
	require.Error(t, store.Delete("app1"))
}

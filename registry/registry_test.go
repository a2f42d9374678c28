package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keyhaven-io/wallet-agent/capability"
	"github.com/keyhaven-io/wallet-agent/events"
	"github.com/keyhaven-io/wallet-agent/types"
	"github.com/keyhaven-io/wallet-agent/walletstore"
)

func testAccount(addr string, chain types.ChainID, featureNames ...string) *types.Account {
	features := make(map[string]*capability.Descriptor, len(featureNames))
	for _, name := range featureNames {
		features[name] = &capability.Descriptor{Name: name, Version: "1.0.0"}
	}
	return &types.Account{
		Address:   []byte(addr),
		PublicKey: []byte("pk-" + addr),
		Chain:     chain,
		Features:  features,
	}
}

func addresses(accounts []*types.Account) []string {
	out := make([]string, len(accounts))
	for i, acc := range accounts {
		out[i] = string(acc.Address)
	}
	return out
}

func TestRegistryOrdering(t *testing.T) {
	reg := NewRegistry(events.NewBus())
	accA := testAccount("addr-a", "eip155:1", "standard:signMessage")
	accB := testAccount("addr-b", "solana:mainnet", "standard:signMessage")
	accC := testAccount("addr-c", "eip155:1")
	require.NoError(t, reg.Add(accA))
	require.NoError(t, reg.Add(accB))
	require.NoError(t, reg.Add(accC))

	t.Run("list preserves insertion order", func(t *testing.T) {
		accounts, err := reg.List(nil, nil)
		require.NoError(t, err)
		require.Equal(t, []string{"addr-a", "addr-b", "addr-c"}, addresses(accounts))
	})

	t.Run("removal keeps the remainder in order", func(t *testing.T) {
		require.NoError(t, reg.Remove(accB.ID()))
		accounts, err := reg.List(nil, nil)
		require.NoError(t, err)
		require.Equal(t, []string{"addr-a", "addr-c"}, addresses(accounts))

		// re-adding appends at the end
		require.NoError(t, reg.Add(accB))
		accounts, err = reg.List(nil, nil)
		require.NoError(t, err)
		require.Equal(t, []string{"addr-a", "addr-c", "addr-b"}, addresses(accounts))
	})
}

func TestRegistryFilters(t *testing.T) {
	reg := NewRegistry(events.NewBus())
	require.NoError(t, reg.Add(testAccount("addr-a", "eip155:1", "standard:signMessage", "standard:signTransaction")))
	require.NoError(t, reg.Add(testAccount("addr-b", "eip155:1", "standard:signMessage")))
	require.NoError(t, reg.Add(testAccount("addr-c", "solana:mainnet", "standard:signMessage")))

	t.Run("chain filter", func(t *testing.T) {
		accounts, err := reg.List([]types.ChainID{"eip155:1"}, nil)
		require.NoError(t, err)
		require.Equal(t, []string{"addr-a", "addr-b"}, addresses(accounts))
	})

	t.Run("feature filter is a subset predicate", func(t *testing.T) {
		accounts, err := reg.List(nil, []string{"standard:signMessage", "standard:signTransaction"})
		require.NoError(t, err)
		require.Equal(t, []string{"addr-a"}, addresses(accounts))
	})

	t.Run("unknown feature matches nothing", func(t *testing.T) {
		accounts, err := reg.List(nil, []string{"standard:decrypt"})
		require.NoError(t, err)
		require.Empty(t, accounts)
	})

	t.Run("filters combine", func(t *testing.T) {
		accounts, err := reg.List([]types.ChainID{"solana:mainnet"}, []string{"standard:signMessage"})
		require.NoError(t, err)
		require.Equal(t, []string{"addr-c"}, addresses(accounts))
	})
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(events.NewBus())
	acc := testAccount("addr-a", "eip155:1")
	require.NoError(t, reg.Add(acc))

	got, err := reg.Get(acc.ID())
	require.NoError(t, err)
	require.Equal(t, acc.Address, got.Address)

	has, err := reg.Has(acc.ID())
	require.NoError(t, err)
	require.True(t, has)

	_, err = reg.Get(testAccount("addr-x", "eip155:1").ID())
	require.ErrorIs(t, err, types.ErrAccountNotFound)

	t.Run("lookup by address", func(t *testing.T) {
		got, err := reg.GetByAddress([]byte("addr-a"))
		require.NoError(t, err)
		require.Equal(t, acc.ID(), got.ID())

		_, err = reg.GetByAddress([]byte("addr-x"))
		require.ErrorIs(t, err, types.ErrAccountNotFound)
	})
}

func TestRegistryRejectsDuplicatesAndInvalid(t *testing.T) {
	reg := NewRegistry(events.NewBus())
	acc := testAccount("addr-a", "eip155:1")
	require.NoError(t, reg.Add(acc))
	require.Error(t, reg.Add(acc))

	require.Error(t, reg.Add(&types.Account{Address: []byte("x")}))
	require.Error(t, reg.Add(testAccount("addr-b", "not-a-chain")))
}

func TestRegistryChains(t *testing.T) {
	bus := events.NewBus()
	reg := NewRegistry(bus)

	var mu sync.Mutex
	var chainEvents []*events.ChainsChangedPayload
	bus.On(events.ChainsChanged, func(payload interface{}) {
		mu.Lock()
		defer mu.Unlock()
		chainEvents = append(chainEvents, payload.(*events.ChainsChangedPayload))
	})

	accA := testAccount("addr-a", "eip155:1")
	accB := testAccount("addr-b", "eip155:1")
	accC := testAccount("addr-c", "solana:mainnet")
	require.NoError(t, reg.Add(accA))
	require.NoError(t, reg.Add(accB))
	require.NoError(t, reg.Add(accC))

	chains, err := reg.Chains()
	require.NoError(t, err)
	require.Equal(t, []types.ChainID{"eip155:1", "solana:mainnet"}, chains)

	// only union changes publish chainsChanged: adds of accA and accC
	mu.Lock()
	require.Len(t, chainEvents, 2)
	mu.Unlock()

	t.Run("union shrinks when the last account of a chain goes", func(t *testing.T) {
		require.NoError(t, reg.Remove(accC.ID()))
		chains, err := reg.Chains()
		require.NoError(t, err)
		require.Equal(t, []types.ChainID{"eip155:1"}, chains)

		mu.Lock()
		require.Len(t, chainEvents, 3)
		mu.Unlock()
	})
}

func TestRegistryEvents(t *testing.T) {
	bus := events.NewBus()
	reg := NewRegistry(bus)

	var mu sync.Mutex
	var changes []*events.AccountsChangedPayload
	bus.On(events.AccountsChanged, func(payload interface{}) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, payload.(*events.AccountsChangedPayload))
	})

	acc := testAccount("addr-a", "eip155:1")
	require.NoError(t, reg.Add(acc))
	require.NoError(t, reg.Remove(acc.ID()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 2)
	require.Equal(t, []string{acc.ID().String()}, changes[0].Added)
	require.Equal(t, []string{acc.ID().String()}, changes[1].Removed)
}

func TestRegistrySetLabel(t *testing.T) {
	reg := NewRegistry(events.NewBus())
	acc := testAccount("addr-a", "eip155:1")
	id := acc.ID()
	require.NoError(t, reg.Add(acc))

	require.NoError(t, reg.SetLabel(id, "savings"))
	got, err := reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, "savings", got.Label)

	// the label is not part of the identity
	require.Equal(t, id, got.ID())

	require.ErrorIs(t, reg.SetLabel(testAccount("addr-x", "eip155:1").ID(), "x"), types.ErrAccountNotFound)
}

func TestPersistentRegistry(t *testing.T) {
	store := walletstore.NewMemStore()
	reg, err := NewPersistentRegistry(events.NewBus(), store)
	require.NoError(t, err)

	accA := testAccount("addr-a", "eip155:1", "standard:signMessage")
	accB := testAccount("addr-b", "solana:mainnet")
	accC := testAccount("addr-c", "eip155:1")
	require.NoError(t, reg.Add(accA))
	require.NoError(t, reg.Add(accB))
	require.NoError(t, reg.Add(accC))
	require.NoError(t, reg.Remove(accB.ID()))
	require.NoError(t, reg.SetLabel(accC.ID(), "savings"))

	t.Run("rebuild reproduces accounts and order", func(t *testing.T) {
		reopened, err := NewPersistentRegistry(events.NewBus(), store)
		require.NoError(t, err)

		accounts, err := reopened.List(nil, nil)
		require.NoError(t, err)
		require.Equal(t, []string{"addr-a", "addr-c"}, addresses(accounts))
		require.Equal(t, "savings", accounts[1].Label)
		require.Contains(t, accounts[0].Features, "standard:signMessage")
	})

	t.Run("additions after a rebuild keep appending", func(t *testing.T) {
		reopened, err := NewPersistentRegistry(events.NewBus(), store)
		require.NoError(t, err)
		require.NoError(t, reopened.Add(accB))

		again, err := NewPersistentRegistry(events.NewBus(), store)
		require.NoError(t, err)
		accounts, err := again.List(nil, nil)
		require.NoError(t, err)
		require.Equal(t, []string{"addr-a", "addr-c", "addr-b"}, addresses(accounts))
	})

	t.Run("failed persist keeps the account out", func(t *testing.T) {
		store := walletstore.NewMemStore()
		reg, err := NewPersistentRegistry(events.NewBus(), store)
		require.NoError(t, err)

		store.SetFail(true)
		require.Error(t, reg.Add(testAccount("addr-d", "eip155:1")))
		accounts, err := reg.List(nil, nil)
		require.NoError(t, err)
		require.Empty(t, accounts)
	})
}

func TestRegistryFaultMode(t *testing.T) {
	reg := NewRegistry(events.NewBus())
	acc := testAccount("addr-a", "eip155:1")
	require.NoError(t, reg.Add(acc))

	reg.SetFail(true)
	_, err := reg.List(nil, nil)
	require.ErrorIs(t, err, types.ErrRegistryFault)
	_, err = reg.Get(acc.ID())
	require.ErrorIs(t, err, types.ErrRegistryFault)
	require.ErrorIs(t, reg.Remove(acc.ID()), types.ErrRegistryFault)

	reg.SetFail(false)
	accounts, err := reg.List(nil, nil)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
}

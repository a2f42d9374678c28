package types

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keyhaven-io/wallet-agent/capability"
)

func TestChainIDValid(t *testing.T) {
	require.True(t, ChainID("eip155:1").Valid())
	require.True(t, ChainID("solana:mainnet").Valid())
	require.False(t, ChainID("").Valid())
	require.False(t, ChainID("eip155").Valid())
	require.False(t, ChainID(":1").Valid())
	require.False(t, ChainID("eip155:").Valid())
}

func TestAccountID(t *testing.T) {
	acc := &Account{
		Address:   []byte("addr"),
		PublicKey: []byte("pubkey"),
		Chain:     "eip155:1",
	}

	t.Run("stable across calls", func(t *testing.T) {
		require.Equal(t, acc.ID(), acc.ID())
	})

	t.Run("label does not change the identity", func(t *testing.T) {
		labelled := *acc
		labelled.Label = "savings"
		require.Equal(t, acc.ID(), labelled.ID())
	})

	t.Run("chain is part of the identity", func(t *testing.T) {
		other := *acc
		other.Chain = "eip155:5"
		require.NotEqual(t, acc.ID(), other.ID())
	})

	t.Run("key and chain do not blur together", func(t *testing.T) {
		// both concatenate to "abcd:e" without a field separator
		a := &Account{PublicKey: []byte("abc"), Chain: "d:e"}
		b := &Account{PublicKey: []byte("ab"), Chain: "cd:e"}
		require.NotEqual(t, a.ID(), b.ID())
	})

	t.Run("hex round trip", func(t *testing.T) {
		id := acc.ID()
		parsed, err := ParseAccountID(id.String())
		require.NoError(t, err)
		require.Equal(t, id, parsed)
	})

	t.Run("malformed ids rejected", func(t *testing.T) {
		_, err := ParseAccountID("zz")
		require.Error(t, err)
		_, err = ParseAccountID("abcd")
		require.Error(t, err)
	})
}

func TestAccountValidate(t *testing.T) {
	valid := func() *Account {
		return &Account{
			Address:   []byte("addr"),
			PublicKey: []byte("pubkey"),
			Chain:     "eip155:1",
			Features: map[string]*capability.Descriptor{
				"standard:signMessage": {Name: "standard:signMessage", Version: "1.0.0"},
			},
		}
	}
	require.NoError(t, valid().Validate())

	t.Run("missing key material", func(t *testing.T) {
		acc := valid()
		acc.PublicKey = nil
		require.Error(t, acc.Validate())

		acc = valid()
		acc.Address = nil
		require.Error(t, acc.Validate())
	})

	t.Run("bad chain", func(t *testing.T) {
		acc := valid()
		acc.Chain = "mainnet"
		require.Error(t, acc.Validate())
	})

	t.Run("feature key must match descriptor name", func(t *testing.T) {
		acc := valid()
		acc.Features["standard:decrypt"] = &capability.Descriptor{Name: "standard:signTransaction"}
		require.Error(t, acc.Validate())
	})

	t.Run("descriptor must validate", func(t *testing.T) {
		acc := valid()
		acc.Features["standard:decrypt"] = &capability.Descriptor{Name: "standard:decrypt", Version: "x"}
		require.Error(t, acc.Validate())
	})
}

func TestHasFeatures(t *testing.T) {
	acc := &Account{
		Features: map[string]*capability.Descriptor{
			"standard:signMessage": {Name: "standard:signMessage"},
			"standard:decrypt":     {Name: "standard:decrypt"},
		},
	}
	require.True(t, acc.HasFeatures(nil))
	require.True(t, acc.HasFeatures([]string{"standard:decrypt"}))
	require.True(t, acc.HasFeatures([]string{"standard:decrypt", "standard:signMessage"}))
	require.False(t, acc.HasFeatures([]string{"standard:signTransaction"}))
}

func TestProject(t *testing.T) {
	acc := &Account{
		Address:   []byte("addr"),
		PublicKey: []byte("pubkey"),
		Chain:     "eip155:1",
		Ciphers:   []Cipher{"x25519-xsalsa20-poly1305"},
		Features: map[string]*capability.Descriptor{
			"standard:signMessage": {Name: "standard:signMessage"},
			"standard:decrypt":     {Name: "standard:decrypt"},
		},
		Label: "savings",
	}

	t.Run("nil request keeps the full view", func(t *testing.T) {
		out := Project(acc, nil)
		require.Len(t, out.Features, 2)
		require.Equal(t, acc.Address, out.Address)
		require.Equal(t, acc.Chain, out.Chain)
		require.Equal(t, acc.Label, out.Label)
	})

	t.Run("request narrows to the intersection", func(t *testing.T) {
		out := Project(acc, []string{"standard:decrypt", "standard:signTransaction"})
		require.Len(t, out.Features, 1)
		require.Contains(t, out.Features, "standard:decrypt")
	})

	t.Run("empty request empties the view", func(t *testing.T) {
		out := Project(acc, []string{})
		require.Empty(t, out.Features)
	})
}

func TestAddressesContain(t *testing.T) {
	addrs := [][]byte{[]byte("a"), []byte("b")}
	require.True(t, AddressesContain(addrs, []byte("a")))
	require.False(t, AddressesContain(addrs, []byte("c")))
	require.False(t, AddressesContain(nil, []byte("a")))
}

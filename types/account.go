package types

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/keyhaven-io/wallet-agent/capability"
)

// ChainID is a namespaced chain identifier, "namespace:reference",
// e.g. "eip155:1" or "solana:mainnet".
type ChainID string

// Valid reports whether the chain identifier has the namespace:reference shape.
func (c ChainID) Valid() bool {
	ns, ref, ok := strings.Cut(string(c), ":")
	return ok && len(ns) > 0 && len(ref) > 0
}

// Cipher identifies an encryption scheme an account supports.
type Cipher string

// AccountID is the identity digest of an account: blake3 over the
// public key and the chain identifier. Address and public key never
// change after creation, so the ID is stable for the account's lifetime.
type AccountID [32]byte

func (id AccountID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseAccountID decodes the hex form produced by AccountID.String.
func ParseAccountID(s string) (AccountID, error) {
	var id AccountID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("account id %q: %w", s, err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("account id %q: want %d bytes, got %d", s, len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// Account is a wallet-managed account. The wallet owns these; apps only
// ever see the ConnectedAccount projection returned by connect.
type Account struct {
	// Address is the raw identity bytes used on-chain. May equal
	// PublicKey on some chains and differ on others.
	Address   []byte
	PublicKey []byte
	Chain     ChainID
	Ciphers   []Cipher
	Features  map[string]*capability.Descriptor
	Label     string
}

// ID derives the account identity from (PublicKey, Chain). The key is
// length-prefixed so the field boundary is unambiguous in the digest.
func (a *Account) ID() AccountID {
	h := blake3.New()
	var keyLen [8]byte
	binary.BigEndian.PutUint64(keyLen[:], uint64(len(a.PublicKey)))
	_, _ = h.Write(keyLen[:])
	_, _ = h.Write(a.PublicKey)
	_, _ = h.Write([]byte(a.Chain))
	var id AccountID
	copy(id[:], h.Sum(nil))
	return id
}

// Validate checks the account is well-formed enough to enter the registry.
func (a *Account) Validate() error {
	if len(a.PublicKey) == 0 {
		return fmt.Errorf("account missing public key")
	}
	if len(a.Address) == 0 {
		return fmt.Errorf("account missing address")
	}
	if !a.Chain.Valid() {
		return fmt.Errorf("invalid chain identifier %q", a.Chain)
	}
	for name, desc := range a.Features {
		if desc == nil {
			return fmt.Errorf("capability %s has no descriptor", name)
		}
		if name != desc.Name {
			return fmt.Errorf("capability key %s does not match descriptor name %s", name, desc.Name)
		}
		if err := desc.Validate(); err != nil {
			return fmt.Errorf("capability %s: %w", name, err)
		}
	}
	return nil
}

// FeatureNames returns the account's capability names, unordered.
func (a *Account) FeatureNames() []string {
	names := make([]string, 0, len(a.Features))
	for name := range a.Features {
		names = append(names, name)
	}
	return names
}

// HasFeatures reports whether every requested capability name is present.
func (a *Account) HasFeatures(names []string) bool {
	for _, name := range names {
		if _, ok := a.Features[name]; !ok {
			return false
		}
	}
	return true
}

// ConnectedAccount is the per-call projection of an Account returned to
// an app: Features reduced to the intersection with the requested set,
// Chain passed through unchanged. Values are ephemeral and never stored.
type ConnectedAccount struct {
	Address   []byte
	PublicKey []byte
	Chain     ChainID
	Ciphers   []Cipher
	Features  map[string]*capability.Descriptor
	Label     string
}

// Project narrows an account to the requested capability set. A nil
// request keeps the account's own feature map; requesting a capability
// the account lacks simply leaves it out.
func Project(acc *Account, features []string) *ConnectedAccount {
	out := &ConnectedAccount{
		Address:   acc.Address,
		PublicKey: acc.PublicKey,
		Chain:     acc.Chain,
		Ciphers:   acc.Ciphers,
		Label:     acc.Label,
	}
	if features == nil {
		out.Features = acc.Features
		return out
	}
	out.Features = make(map[string]*capability.Descriptor, len(features))
	for _, name := range features {
		if desc, ok := acc.Features[name]; ok {
			out.Features[name] = desc
		}
	}
	return out
}

// AddressesContain reports whether addr is one of the requested raw addresses.
func AddressesContain(addrs [][]byte, addr []byte) bool {
	for _, a := range addrs {
		if bytes.Equal(a, addr) {
			return true
		}
	}
	return false
}

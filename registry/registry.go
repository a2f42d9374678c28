// Package registry holds the wallet's authoritative account list,
// independent of any app's authorization. All mutation is wallet
// internal (key import, derivation, deletion) and publishes the
// matching change event as part of the mutating call.
package registry

import (
	"bytes"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/keyhaven-io/wallet-agent/events"
	"github.com/keyhaven-io/wallet-agent/types"
	"github.com/keyhaven-io/wallet-agent/walletstore"
)

var log = logging.Logger("account_registry")

// AccountRegistry is the read surface the negotiator resolves against.
type AccountRegistry interface {
	// List returns accounts passing the filter, in stable insertion
	// order. An account passes iff (no chain filter or its chain is in
	// the filter) and (no feature filter or the filter is a subset of
	// its capability names).
	List(chains []types.ChainID, features []string) ([]*types.Account, error)
	Get(id types.AccountID) (*types.Account, error)
	GetByAddress(addr []byte) (*types.Account, error)
	Has(id types.AccountID) (bool, error)
	// Chains returns the union of chains across all accounts, in first
	// appearance order.
	Chains() ([]types.ChainID, error)
}

var _ AccountRegistry = (*Registry)(nil)

type entry struct {
	account *types.Account
	id      types.AccountID
	seq     uint64
}

// Registry is the authoritative account store. Reads are safe without
// caller-side synchronization; mutation happens on the wallet side only
// and writes through to the backing store before becoming visible.
type Registry struct {
	lk      sync.Mutex
	entries []entry
	byID    map[types.AccountID]int
	nextSeq uint64

	store walletstore.AccountStore
	bus   *events.Bus
	fail  bool
}

// NewRegistry builds an ephemeral registry with no backing store.
func NewRegistry(bus *events.Bus) *Registry {
	return &Registry{
		byID: make(map[types.AccountID]int),
		bus:  bus,
	}
}

// NewPersistentRegistry rebuilds the registry from the store, in the
// order the accounts were originally added, and writes every later
// mutation through to it.
func NewPersistentRegistry(bus *events.Bus, store walletstore.AccountStore) (*Registry, error) {
	records, err := store.LoadAccounts()
	if err != nil {
		return nil, err
	}

	r := &Registry{
		byID:  make(map[types.AccountID]int, len(records)),
		store: store,
		bus:   bus,
	}
	for _, rec := range records {
		id := rec.Account.ID()
		r.byID[id] = len(r.entries)
		r.entries = append(r.entries, entry{account: rec.Account, id: id, seq: rec.Seq})
		if rec.Seq >= r.nextSeq {
			r.nextSeq = rec.Seq + 1
		}
	}
	log.Infof("registry restored with %d accounts", len(r.entries))
	return r, nil
}

// SetFail makes every subsequent call report a registry fault. Stands in
// for a broken hardware bridge or storage backend in tests.
func (r *Registry) SetFail(fail bool) {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.fail = fail
}

func (r *Registry) List(chains []types.ChainID, features []string) ([]*types.Account, error) {
	r.lk.Lock()
	defer r.lk.Unlock()
	if r.fail {
		return nil, errors.Wrap(types.ErrRegistryFault, "list accounts")
	}

	var out []*types.Account
	for _, e := range r.entries {
		if !matchChains(e.account, chains) {
			continue
		}
		if !e.account.HasFeatures(features) {
			continue
		}
		out = append(out, e.account)
	}
	return out, nil
}

func (r *Registry) Get(id types.AccountID) (*types.Account, error) {
	r.lk.Lock()
	defer r.lk.Unlock()
	if r.fail {
		return nil, errors.Wrap(types.ErrRegistryFault, "get account")
	}

	idx, ok := r.byID[id]
	if !ok {
		return nil, errors.Wrapf(types.ErrAccountNotFound, "account %s", id)
	}
	return r.entries[idx].account, nil
}

// GetByAddress returns the first account carrying addr. Addresses are
// unique per chain but not across chains; identity lookups go by ID.
func (r *Registry) GetByAddress(addr []byte) (*types.Account, error) {
	r.lk.Lock()
	defer r.lk.Unlock()
	if r.fail {
		return nil, errors.Wrap(types.ErrRegistryFault, "get account by address")
	}

	for _, e := range r.entries {
		if bytes.Equal(e.account.Address, addr) {
			return e.account, nil
		}
	}
	return nil, errors.Wrapf(types.ErrAccountNotFound, "address %x", addr)
}

func (r *Registry) Has(id types.AccountID) (bool, error) {
	r.lk.Lock()
	defer r.lk.Unlock()
	if r.fail {
		return false, errors.Wrap(types.ErrRegistryFault, "has account")
	}

	_, ok := r.byID[id]
	return ok, nil
}

func (r *Registry) Chains() ([]types.ChainID, error) {
	r.lk.Lock()
	defer r.lk.Unlock()
	if r.fail {
		return nil, errors.Wrap(types.ErrRegistryFault, "list chains")
	}
	return r.chainUnion(), nil
}

// Add inserts a new account at the end of the ordering and publishes
// accountsChanged, plus chainsChanged when the chain union grew. The
// event fires within the Add call, so the mutation is never externally
// visible without its notification.
func (r *Registry) Add(acc *types.Account) error {
	if err := acc.Validate(); err != nil {
		return err
	}

	r.lk.Lock()
	if r.fail {
		r.lk.Unlock()
		return errors.Wrap(types.ErrRegistryFault, "add account")
	}

	id := acc.ID()
	if _, ok := r.byID[id]; ok {
		r.lk.Unlock()
		return fmt.Errorf("account %s already registered", id)
	}
	seq := r.nextSeq
	if r.store != nil {
		// durable before visible, like session grants
		if err := r.store.SaveAccount(&walletstore.AccountRecord{Seq: seq, Account: acc}); err != nil {
			r.lk.Unlock()
			return fmt.Errorf("persist account %s: %w", id, err)
		}
	}
	chainsBefore := len(r.chainUnion())
	r.nextSeq = seq + 1
	r.byID[id] = len(r.entries)
	r.entries = append(r.entries, entry{account: acc, id: id, seq: seq})
	chainUnion := r.chainUnion()
	r.lk.Unlock()

	log.Infow("account added", "id", id.String(), "chain", acc.Chain, "label", acc.Label)
	r.bus.Emit(events.AccountsChanged, &events.AccountsChangedPayload{Added: []string{id.String()}})
	if len(chainUnion) != chainsBefore {
		r.bus.Emit(events.ChainsChanged, &events.ChainsChangedPayload{Chains: chainStrings(chainUnion)})
	}
	return nil
}

// Remove deletes an account, preserving the order of the remainder.
func (r *Registry) Remove(id types.AccountID) error {
	r.lk.Lock()
	if r.fail {
		r.lk.Unlock()
		return errors.Wrap(types.ErrRegistryFault, "remove account")
	}

	idx, ok := r.byID[id]
	if !ok {
		r.lk.Unlock()
		return errors.Wrapf(types.ErrAccountNotFound, "account %s", id)
	}
	if r.store != nil {
		if err := r.store.DeleteAccount(id); err != nil {
			r.lk.Unlock()
			return fmt.Errorf("delete persisted account %s: %w", id, err)
		}
	}
	chainsBefore := len(r.chainUnion())
	r.entries = append(r.entries[:idx:idx], r.entries[idx+1:]...)
	delete(r.byID, id)
	for i := idx; i < len(r.entries); i++ {
		r.byID[r.entries[i].id] = i
	}
	chainUnion := r.chainUnion()
	r.lk.Unlock()

	log.Infof("account %s removed", id)
	r.bus.Emit(events.AccountsChanged, &events.AccountsChangedPayload{Removed: []string{id.String()}})
	if len(chainUnion) != chainsBefore {
		r.bus.Emit(events.ChainsChanged, &events.ChainsChangedPayload{Chains: chainStrings(chainUnion)})
	}
	return nil
}

// SetLabel updates the display label. Identity fields are immutable;
// this is the only in-place mutation the registry allows.
func (r *Registry) SetLabel(id types.AccountID, label string) error {
	r.lk.Lock()
	if r.fail {
		r.lk.Unlock()
		return errors.Wrap(types.ErrRegistryFault, "set label")
	}

	idx, ok := r.byID[id]
	if !ok {
		r.lk.Unlock()
		return errors.Wrapf(types.ErrAccountNotFound, "account %s", id)
	}
	if r.store != nil {
		relabelled := *r.entries[idx].account
		relabelled.Label = label
		err := r.store.SaveAccount(&walletstore.AccountRecord{Seq: r.entries[idx].seq, Account: &relabelled})
		if err != nil {
			r.lk.Unlock()
			return fmt.Errorf("persist label for account %s: %w", id, err)
		}
	}
	r.entries[idx].account.Label = label
	r.lk.Unlock()

	r.bus.Emit(events.AccountsChanged, &events.AccountsChangedPayload{})
	return nil
}

// chainUnion must be called with the lock held.
func (r *Registry) chainUnion() []types.ChainID {
	var chains []types.ChainID
	seen := make(map[types.ChainID]struct{})
	for _, e := range r.entries {
		if _, ok := seen[e.account.Chain]; !ok {
			seen[e.account.Chain] = struct{}{}
			chains = append(chains, e.account.Chain)
		}
	}
	return chains
}

func matchChains(acc *types.Account, chains []types.ChainID) bool {
	if len(chains) == 0 {
		return true
	}
	for _, chain := range chains {
		if acc.Chain == chain {
			return true
		}
	}
	return false
}

func chainStrings(chains []types.ChainID) []string {
	out := make([]string, len(chains))
	for i, chain := range chains {
		out[i] = string(chain)
	}
	return out
}

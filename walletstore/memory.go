package walletstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/keyhaven-io/wallet-agent/types"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store for tests and ephemeral agents.
type MemStore struct {
	lk       sync.Mutex
	grants   map[string][]types.AccountID
	accounts map[types.AccountID]*AccountRecord
	fail     bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		grants:   make(map[string][]types.AccountID),
		accounts: make(map[types.AccountID]*AccountRecord),
	}
}

// SetFail makes subsequent writes fail, for commit-atomicity tests.
func (s *MemStore) SetFail(fail bool) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.fail = fail
}

func (s *MemStore) Load() (map[string][]types.AccountID, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	out := make(map[string][]types.AccountID, len(s.grants))
	for app, ids := range s.grants {
		out[app] = append([]types.AccountID{}, ids...)
	}
	return out, nil
}

func (s *MemStore) Save(appID string, granted []types.AccountID) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.fail {
		return fmt.Errorf("mock grant store error")
	}
	s.grants[appID] = append([]types.AccountID{}, granted...)
	return nil
}

func (s *MemStore) Delete(appID string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.fail {
		return fmt.Errorf("mock grant store error")
	}
	delete(s.grants, appID)
	return nil
}

func (s *MemStore) LoadAccounts() ([]*AccountRecord, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	out := make([]*AccountRecord, 0, len(s.accounts))
	for _, rec := range s.accounts {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemStore) SaveAccount(rec *AccountRecord) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.fail {
		return fmt.Errorf("mock account store error")
	}
	s.accounts[rec.Account.ID()] = rec
	return nil
}

func (s *MemStore) DeleteAccount(id types.AccountID) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.fail {
		return fmt.Errorf("mock account store error")
	}
	delete(s.accounts, id)
	return nil
}

func (s *MemStore) Close() error { return nil }

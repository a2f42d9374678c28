// Package walletstore persists the agent's durable state: the account
// registry and per-app authorization grants. Both are rebuilt from it at
// startup, accounts first so restored grants can be validated against
// the real account set rather than an empty one.
package walletstore

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	logging "github.com/ipfs/go-log/v2"

	"github.com/keyhaven-io/wallet-agent/types"
)

var log = logging.Logger("grant_store")

var (
	prefixGrant   = []byte("g/")
	prefixAccount = []byte("a/")
)

// Record is the durable form of one app's authorized set. Granted
// preserves grant order so session ordering survives restarts.
type Record struct {
	AppID     string
	Granted   [][]byte
	UpdatedAt time.Time
}

// AccountRecord is the durable form of one registry account. Seq
// preserves registry insertion order across restarts.
type AccountRecord struct {
	Seq     uint64
	Account *types.Account
}

// GrantStore is the persistence surface the session manager writes
// through. Save must be atomic per app: a failed save leaves the prior
// record intact.
type GrantStore interface {
	Load() (map[string][]types.AccountID, error)
	Save(appID string, granted []types.AccountID) error
	Delete(appID string) error
	Close() error
}

// AccountStore is the persistence surface of the account registry.
// LoadAccounts returns records ordered by Seq.
type AccountStore interface {
	LoadAccounts() ([]*AccountRecord, error)
	SaveAccount(rec *AccountRecord) error
	DeleteAccount(id types.AccountID) error
}

// Store is the full durable surface the daemon opens once and shares
// between the registry and the session manager.
type Store interface {
	GrantStore
	AccountStore
}

var _ Store = (*BadgerStore)(nil)

// BadgerStore keeps one CBOR-encoded Record per app under "g/<appID>"
// and one AccountRecord per account under "a/<id>".
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logging is too chatty here

	db, err := badger.Open(opts)
	if err != nil {
		if strings.Contains(err.Error(), "Cannot acquire directory lock") {
			return nil, fmt.Errorf("grant store at %s is locked by another process: %w", path, err)
		}
		return nil, fmt.Errorf("open grant store at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func grantKey(appID string) []byte {
	return append(append([]byte{}, prefixGrant...), appID...)
}

func (s *BadgerStore) Load() (map[string][]types.AccountID, error) {
	grants := make(map[string][]types.AccountID)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixGrant
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec Record
			if err := cbor.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("decode grant record %s: %w", item.Key(), err)
			}
			ids := make([]types.AccountID, 0, len(rec.Granted))
			for _, raw := range rec.Granted {
				if len(raw) != len(types.AccountID{}) {
					log.Warnf("skipping malformed grant for app %s", rec.AppID)
					continue
				}
				var id types.AccountID
				copy(id[:], raw)
				ids = append(ids, id)
			}
			grants[rec.AppID] = ids
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	return grants, nil
}

func (s *BadgerStore) Save(appID string, granted []types.AccountID) error {
	rec := Record{
		AppID:     appID,
		Granted:   make([][]byte, len(granted)),
		UpdatedAt: time.Now().UTC(),
	}
	for i, id := range granted {
		rec.Granted[i] = append([]byte{}, id[:]...)
	}
	data, err := cbor.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode grant record for %s: %w", appID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(grantKey(appID), data)
	})
	if err != nil {
		return fmt.Errorf("save grants for %s: %w", appID, err)
	}
	return nil
}

func (s *BadgerStore) Delete(appID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(grantKey(appID))
	})
	if err != nil {
		return fmt.Errorf("delete grants for %s: %w", appID, err)
	}
	return nil
}

func accountKey(id types.AccountID) []byte {
	return append(append([]byte{}, prefixAccount...), id[:]...)
}

func (s *BadgerStore) LoadAccounts() ([]*AccountRecord, error) {
	var records []*AccountRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAccount
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec AccountRecord
			if err := cbor.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("decode account record %x: %w", item.Key(), err)
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	// badger iterates in key order; insertion order is what callers need
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	return records, nil
}

func (s *BadgerStore) SaveAccount(rec *AccountRecord) error {
	data, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode account record: %w", err)
	}
	id := rec.Account.ID()
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(accountKey(id), data)
	})
	if err != nil {
		return fmt.Errorf("save account %s: %w", id, err)
	}
	return nil
}

func (s *BadgerStore) DeleteAccount(id types.AccountID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(accountKey(id))
	})
	if err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

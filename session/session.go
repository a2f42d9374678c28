// Package session tracks per-app authorization state: which account
// identities an app holds approval for, and the filter context its last
// hasMoreAccounts answer was computed under. A session begins on the
// first successful connect and ends on disconnect or wallet-side
// revocation; grants only ever shrink through registry deletion or
// explicit revocation, never through a grant.
package session

import (
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/keyhaven-io/wallet-agent/types"
	"github.com/keyhaven-io/wallet-agent/walletstore"
)

var log = logging.Logger("auth_session")

type sessionInfo struct {
	appID      string
	authorized []types.AccountID
	member     map[types.AccountID]struct{}

	lastFilter  *types.FilterContext
	lastHasMore bool
}

func newSessionInfo(appID string) *sessionInfo {
	return &sessionInfo{
		appID:  appID,
		member: make(map[types.AccountID]struct{}),
	}
}

// ISessionMgr is the authorization-state surface the negotiator and the
// operator API work against.
type ISessionMgr interface {
	IsAuthorized(appID string, id types.AccountID) bool
	Authorized(appID string) []types.AccountID
	Grant(appID string, ids []types.AccountID) error
	Revoke(appID string) error
	PruneAccount(id types.AccountID) ([]string, error)
	RecordFilter(appID string, filter *types.FilterContext, hasMore bool)
	LastFilter(appID string) (*types.FilterContext, bool, bool)
	UpdateHasMore(appID string, hasMore bool)
	Apps() []string

	ListSessionInfo() []*types.SessionDetail
	ListSessionInfoByApp(appID string) (*types.SessionDetail, error)
}

var _ ISessionMgr = (*SessionMgr)(nil)

type SessionMgr struct {
	lk       sync.Mutex
	sessions map[string]*sessionInfo
	store    walletstore.GrantStore
}

func NewSessionMgr(store walletstore.GrantStore) *SessionMgr {
	return &SessionMgr{
		sessions: make(map[string]*sessionInfo),
		store:    store,
	}
}

// Restore rebuilds sessions from persisted grants, dropping identities
// the registry no longer knows. Called once at startup before the agent
// serves requests.
func (m *SessionMgr) Restore(stillPresent func(types.AccountID) bool) error {
	grants, err := m.store.Load()
	if err != nil {
		return err
	}

	m.lk.Lock()
	defer m.lk.Unlock()
	for appID, ids := range grants {
		info := newSessionInfo(appID)
		for _, id := range ids {
			if !stillPresent(id) {
				log.Infof("dropping stale grant %s for app %s", id, appID)
				continue
			}
			if _, ok := info.member[id]; ok {
				continue
			}
			info.member[id] = struct{}{}
			info.authorized = append(info.authorized, id)
		}
		m.sessions[appID] = info
		log.Infow("session restored", "app", appID, "accounts", len(info.authorized))
	}
	return nil
}

func (m *SessionMgr) IsAuthorized(appID string, id types.AccountID) bool {
	m.lk.Lock()
	defer m.lk.Unlock()

	info, ok := m.sessions[appID]
	if !ok {
		return false
	}
	_, ok = info.member[id]
	return ok
}

func (m *SessionMgr) Authorized(appID string) []types.AccountID {
	m.lk.Lock()
	defer m.lk.Unlock()

	info, ok := m.sessions[appID]
	if !ok {
		return nil
	}
	return append([]types.AccountID{}, info.authorized...)
}

// Grant atomically adds ids to the app's authorized set, creating the
// session on first grant. The durable record is written before memory is
// touched: a failed save leaves the session exactly as it was.
func (m *SessionMgr) Grant(appID string, ids []types.AccountID) error {
	if len(ids) == 0 {
		return nil
	}

	m.lk.Lock()
	defer m.lk.Unlock()

	info, ok := m.sessions[appID]
	if !ok {
		info = newSessionInfo(appID)
	}

	merged := append([]types.AccountID{}, info.authorized...)
	added := 0
	for _, id := range ids {
		if _, ok := info.member[id]; ok {
			continue
		}
		merged = append(merged, id)
		added++
	}
	if added == 0 {
		return nil
	}

	if err := m.store.Save(appID, merged); err != nil {
		return fmt.Errorf("persist grants for %s: %w", appID, err)
	}

	for _, id := range merged[len(info.authorized):] {
		info.member[id] = struct{}{}
	}
	info.authorized = merged
	m.sessions[appID] = info

	log.Infow("grants added", "app", appID, "added", added, "total", len(merged))
	return nil
}

// Revoke ends the app's session and deletes its persisted grants.
func (m *SessionMgr) Revoke(appID string) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	if _, ok := m.sessions[appID]; !ok {
		return nil
	}
	if err := m.store.Delete(appID); err != nil {
		return fmt.Errorf("delete grants for %s: %w", appID, err)
	}
	delete(m.sessions, appID)
	log.Infof("session for app %s revoked", appID)
	return nil
}

// PruneAccount removes a deleted account's identity from every session
// and returns the apps whose authorized set shrank.
func (m *SessionMgr) PruneAccount(id types.AccountID) ([]string, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	var touched []string
	for appID, info := range m.sessions {
		if _, ok := info.member[id]; !ok {
			continue
		}
		kept := make([]types.AccountID, 0, len(info.authorized)-1)
		for _, a := range info.authorized {
			if a != id {
				kept = append(kept, a)
			}
		}
		if err := m.store.Save(appID, kept); err != nil {
			return touched, fmt.Errorf("persist pruned grants for %s: %w", appID, err)
		}
		delete(info.member, id)
		info.authorized = kept
		touched = append(touched, appID)
		log.Infof("pruned account %s from app %s", id, appID)
	}
	return touched, nil
}

// RecordFilter remembers the filter context and hasMoreAccounts value of
// the app's latest connect, creating the session record if needed so a
// hasMoreAccountsChanged flip can be detected before any grant exists.
func (m *SessionMgr) RecordFilter(appID string, filter *types.FilterContext, hasMore bool) {
	m.lk.Lock()
	defer m.lk.Unlock()

	info, ok := m.sessions[appID]
	if !ok {
		info = newSessionInfo(appID)
		m.sessions[appID] = info
	}
	info.lastFilter = filter
	info.lastHasMore = hasMore
}

// LastFilter returns the app's last filter context and hasMoreAccounts
// value. The final bool reports whether any connect was recorded.
func (m *SessionMgr) LastFilter(appID string) (*types.FilterContext, bool, bool) {
	m.lk.Lock()
	defer m.lk.Unlock()

	info, ok := m.sessions[appID]
	if !ok || info.lastFilter == nil {
		return nil, false, false
	}
	return info.lastFilter, info.lastHasMore, true
}

// UpdateHasMore overwrites the stored hasMoreAccounts value after an
// out-of-band recomputation.
func (m *SessionMgr) UpdateHasMore(appID string, hasMore bool) {
	m.lk.Lock()
	defer m.lk.Unlock()

	if info, ok := m.sessions[appID]; ok {
		info.lastHasMore = hasMore
	}
}

func (m *SessionMgr) Apps() []string {
	m.lk.Lock()
	defer m.lk.Unlock()

	apps := make([]string, 0, len(m.sessions))
	for appID := range m.sessions {
		apps = append(apps, appID)
	}
	return apps
}

func (m *SessionMgr) ListSessionInfo() []*types.SessionDetail {
	m.lk.Lock()
	defer m.lk.Unlock()

	var details []*types.SessionDetail
	for _, info := range m.sessions {
		details = append(details, detailOf(info))
	}
	return details
}

func (m *SessionMgr) ListSessionInfoByApp(appID string) (*types.SessionDetail, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	info, ok := m.sessions[appID]
	if !ok {
		return nil, fmt.Errorf("no session for app %s", appID)
	}
	return detailOf(info), nil
}

func detailOf(info *sessionInfo) *types.SessionDetail {
	return &types.SessionDetail{
		AppID:           info.appID,
		Authorized:      append([]types.AccountID{}, info.authorized...),
		LastFilter:      info.lastFilter,
		HasMoreAccounts: info.lastHasMore,
	}
}

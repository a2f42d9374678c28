// Package connect implements the authorization negotiation between an
// app and the wallet: resolving a connect request against the account
// registry and the app's session, suspending on a user prompt when new
// grants are needed, and committing approvals atomically.
package connect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"

	"github.com/keyhaven-io/wallet-agent/events"
	"github.com/keyhaven-io/wallet-agent/metrics"
	"github.com/keyhaven-io/wallet-agent/prompt"
	"github.com/keyhaven-io/wallet-agent/registry"
	"github.com/keyhaven-io/wallet-agent/session"
	"github.com/keyhaven-io/wallet-agent/types"
)

var log = logging.Logger("connect")

// RequestAuthorization is the prompt method issued to the attached UI.
const RequestAuthorization = "RequestAuthorization"

// AgentInfo is the static display metadata of the wallet descriptor.
type AgentInfo struct {
	Name    string
	Icon    string
	Version string
}

// pendingPrompt tracks one in-flight authorization prompt for a
// session. A second interactive connect whose ungranted candidates are
// covered by Requested coalesces onto it instead of prompting again.
type pendingPrompt struct {
	requested map[types.AccountID]struct{}
	done      chan struct{}
	err       error
}

func (p *pendingPrompt) covers(ids []types.AccountID) bool {
	for _, id := range ids {
		if _, ok := p.requested[id]; !ok {
			return false
		}
	}
	return true
}

// Negotiator drives the connect contract for every app session.
type Negotiator struct {
	registry registry.AccountRegistry
	sessions session.ISessionMgr
	prompts  *prompt.Stream
	bus      *events.Bus
	info     AgentInfo

	promptLk sync.Mutex
	pending  map[string]*pendingPrompt
}

func NewNegotiator(reg registry.AccountRegistry, sessions session.ISessionMgr, prompts *prompt.Stream, bus *events.Bus, info AgentInfo) *Negotiator {
	n := &Negotiator{
		registry: reg,
		sessions: sessions,
		prompts:  prompts,
		bus:      bus,
		info:     info,
		pending:  make(map[string]*pendingPrompt),
	}

	// Registry mutations arrive here out-of-band: prune sessions for
	// removed accounts and re-evaluate every app's hasMoreAccounts flag.
	bus.On(events.AccountsChanged, func(payload interface{}) {
		changed, ok := payload.(*events.AccountsChangedPayload)
		if !ok {
			return
		}
		n.onAccountsChanged(changed)
	})

	return n
}

// Connect resolves one negotiation. The only suspension point is the
// interactive prompt; everything else completes without blocking.
func (n *Negotiator) Connect(ctx context.Context, params *types.ConnectParams) (*types.ConnectResult, error) {
	appID, ok := types.CtxGetApp(ctx)
	if !ok {
		return nil, fmt.Errorf("unable to get app identity in method Connect request")
	}
	if params == nil {
		params = &types.ConnectParams{}
	}

	start := time.Now()
	defer func() {
		ctx, _ := tag.New(ctx, tag.Upsert(metrics.AppIDKey, appID))
		stats.Record(ctx, metrics.ConnectCall.M(metrics.SinceInMilliseconds(start)))
	}()

	result, err := n.resolve(ctx, appID, params)
	if err != nil {
		return nil, err
	}

	n.sessions.RecordFilter(appID, &types.FilterContext{
		Chains:   params.Chains,
		Features: params.Features,
	}, result.HasMoreAccounts)

	return result, nil
}

func (n *Negotiator) resolve(ctx context.Context, appID string, params *types.ConnectParams) (*types.ConnectResult, error) {
	// Step 1: candidate selection. The feature filter is a projection
	// filter for connect: it never excludes an account, so candidates
	// are selected by chain (and address) only.
	candidates, err := n.candidates(params)
	if err != nil {
		return nil, err
	}

	granted, ungranted := n.partition(appID, candidates)

	// Step 2: fast path, nothing new to authorize.
	if len(ungranted) == 0 {
		return n.finish(appID, granted, params)
	}

	// Step 3: silent mode never prompts and never mutates the
	// authorized set.
	if params.Silent {
		return n.finish(appID, granted, params)
	}

	// Step 4: interactive resolution, serialized per session.
	if err := n.authorize(ctx, appID, params); err != nil {
		return nil, err
	}

	// Re-partition against the (possibly grown) authorized set. The
	// prompt snapshot may also have lost candidates to a concurrent
	// registry removal; re-selecting drops those.
	candidates, err = n.candidates(params)
	if err != nil {
		return nil, err
	}
	granted, _ = n.partition(appID, candidates)
	return n.finish(appID, granted, params)
}

// candidates returns the registry accounts eligible for this request,
// in registry order.
func (n *Negotiator) candidates(params *types.ConnectParams) ([]*types.Account, error) {
	accounts, err := n.registry.List(params.Chains, nil)
	if err != nil {
		return nil, err
	}
	if len(params.Addresses) == 0 {
		return accounts, nil
	}
	var out []*types.Account
	for _, acc := range accounts {
		if types.AddressesContain(params.Addresses, acc.Address) {
			out = append(out, acc)
		}
	}
	// Addresses naming no registry account shrink the result rather
	// than failing it; refusals get the same treatment in authorize.
	return out, nil
}

func (n *Negotiator) partition(appID string, candidates []*types.Account) (granted, ungranted []*types.Account) {
	for _, acc := range candidates {
		if n.sessions.IsAuthorized(appID, acc.ID()) {
			granted = append(granted, acc)
		} else {
			ungranted = append(ungranted, acc)
		}
	}
	return granted, ungranted
}

// authorize runs or joins the session's prompt for the ungranted
// candidates. On return the session holds every grant the user approved;
// a decline, cancellation or abandoned prompt leaves it untouched.
func (n *Negotiator) authorize(ctx context.Context, appID string, params *types.ConnectParams) error {
	for {
		// Re-select on every pass: a prompt that just resolved may have
		// granted some of our candidates, and those must not be asked
		// for again.
		candidates, err := n.candidates(params)
		if err != nil {
			return err
		}
		granted, ungranted := n.partition(appID, candidates)
		if len(ungranted) == 0 {
			return nil
		}
		ids := make([]types.AccountID, len(ungranted))
		for i, acc := range ungranted {
			ids[i] = acc.ID()
		}

		n.promptLk.Lock()
		if p := n.pending[appID]; p != nil {
			joinable := p.covers(ids)
			n.promptLk.Unlock()
			select {
			case <-p.done:
			case <-ctx.Done():
				return nil // cancellation is a reduced result, not an error
			}
			if joinable {
				return p.err
			}
			continue // outstanding prompt answered; retry with a fresh snapshot
		}

		p := &pendingPrompt{
			requested: make(map[types.AccountID]struct{}, len(ids)),
			done:      make(chan struct{}),
		}
		for _, id := range ids {
			p.requested[id] = struct{}{}
		}
		n.pending[appID] = p
		n.promptLk.Unlock()

		p.err = n.runPrompt(ctx, appID, granted, ungranted)

		n.promptLk.Lock()
		delete(n.pending, appID)
		n.promptLk.Unlock()
		close(p.done)
		return p.err
	}
}

func (n *Negotiator) runPrompt(ctx context.Context, appID string, granted, ungranted []*types.Account) error {
	payload, err := json.Marshal(&types.AuthorizationPrompt{
		AppID:      appID,
		Granted:    granted,
		Candidates: ungranted,
	})
	if err != nil {
		return err
	}

	mctx, _ := tag.New(ctx, tag.Upsert(metrics.AppIDKey, appID))
	stats.Record(mctx, metrics.PromptShown.M(1))

	var approval types.ApprovalResult
	err = n.prompts.SendRequest(ctx, RequestAuthorization, payload, &approval)
	switch {
	case err == nil:
	case errors.Is(err, prompt.ErrRequestExpired),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		// User walked away or the app gave up: same as declining.
		log.Infof("authorization prompt for app %s abandoned: %v", appID, err)
		stats.Record(mctx, metrics.PromptDeclined.M(1))
		return nil
	default:
		return err
	}

	approved := n.filterApproved(ungranted, approval.Approved)
	if len(approved) == 0 {
		log.Infof("app %s authorization declined by user", appID)
		stats.Record(mctx, metrics.PromptDeclined.M(1))
		return nil
	}

	// Re-validate the snapshot before committing: accounts removed from
	// the registry mid-prompt are dropped silently.
	commit := make([]types.AccountID, 0, len(approved))
	for _, id := range approved {
		has, err := n.registry.Has(id)
		if err != nil {
			return err
		}
		if !has {
			log.Warnf("approved account %s vanished during prompt, dropping from commit", id)
			continue
		}
		commit = append(commit, id)
	}

	if err := n.sessions.Grant(appID, commit); err != nil {
		return err
	}
	stats.Record(mctx, metrics.PromptApproved.M(1))
	log.Infow("authorization granted", "app", appID, "accounts", len(commit))

	if len(commit) > 0 {
		added := make([]string, len(commit))
		for i, id := range commit {
			added[i] = id.String()
		}
		n.bus.Emit(events.AccountsChanged, &events.AccountsChangedPayload{Added: added})
	}
	return nil
}

// filterApproved keeps the approval order but discards anything the UI
// answered with that was never a candidate.
func (n *Negotiator) filterApproved(ungranted []*types.Account, approved []types.AccountID) []types.AccountID {
	candidateSet := make(map[types.AccountID]struct{}, len(ungranted))
	for _, acc := range ungranted {
		candidateSet[acc.ID()] = struct{}{}
	}
	var out []types.AccountID
	for _, id := range approved {
		if _, ok := candidateSet[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// finish projects the returned accounts (step 5) and computes
// hasMoreAccounts (step 6).
func (n *Negotiator) finish(appID string, accounts []*types.Account, params *types.ConnectParams) (*types.ConnectResult, error) {
	result := &types.ConnectResult{
		Accounts: make([]*types.ConnectedAccount, len(accounts)),
	}
	for i, acc := range accounts {
		result.Accounts[i] = types.Project(acc, params.Features)
	}

	hasMore, err := n.hasMore(accounts, params.Chains, params.Features)
	if err != nil {
		return nil, err
	}
	result.HasMoreAccounts = hasMore
	return result, nil
}

// hasMore reports whether the registry, filtered by chains/features and
// ignoring any address restriction, holds an account absent from the
// returned set.
func (n *Negotiator) hasMore(returned []*types.Account, chains []types.ChainID, features []string) (bool, error) {
	matching, err := n.registry.List(chains, features)
	if err != nil {
		return false, err
	}
	returnedSet := make(map[types.AccountID]struct{}, len(returned))
	for _, acc := range returned {
		returnedSet[acc.ID()] = struct{}{}
	}
	for _, acc := range matching {
		if _, ok := returnedSet[acc.ID()]; !ok {
			return true, nil
		}
	}
	return false, nil
}

// Disconnect ends the calling app's session and forgets its grants.
func (n *Negotiator) Disconnect(ctx context.Context) error {
	appID, ok := types.CtxGetApp(ctx)
	if !ok {
		return fmt.Errorf("unable to get app identity in method Disconnect request")
	}
	if err := n.sessions.Revoke(appID); err != nil {
		return err
	}
	n.bus.Emit(events.AccountsChanged, &events.AccountsChangedPayload{})
	return nil
}

// WalletInfo materializes the calling app's current authorized view.
func (n *Negotiator) WalletInfo(ctx context.Context) (*types.WalletInfo, error) {
	appID, ok := types.CtxGetApp(ctx)
	if !ok {
		return nil, fmt.Errorf("unable to get app identity in method WalletInfo request")
	}

	all, err := n.registry.List(nil, nil)
	if err != nil {
		return nil, err
	}

	info := &types.WalletInfo{
		Version: n.info.Version,
		Name:    n.info.Name,
		Icon:    n.info.Icon,
	}

	seenChain := make(map[types.ChainID]struct{})
	seenCipher := make(map[types.Cipher]struct{})
	featureSeen := make(map[string]struct{})
	for _, acc := range all {
		if !n.sessions.IsAuthorized(appID, acc.ID()) {
			info.HasMoreAccounts = true
			continue
		}
		info.Accounts = append(info.Accounts, types.Project(acc, nil))
		if _, ok := seenChain[acc.Chain]; !ok {
			seenChain[acc.Chain] = struct{}{}
			info.Chains = append(info.Chains, acc.Chain)
		}
		for _, cipher := range acc.Ciphers {
			if _, ok := seenCipher[cipher]; !ok {
				seenCipher[cipher] = struct{}{}
				info.Ciphers = append(info.Ciphers, cipher)
			}
		}
		for name := range acc.Features {
			if _, ok := featureSeen[name]; !ok {
				featureSeen[name] = struct{}{}
				info.Features = append(info.Features, name)
			}
		}
	}
	return info, nil
}

// onAccountsChanged reacts to registry mutations: removed accounts are
// pruned from every session, then each app's hasMoreAccounts flag is
// recomputed under its last-used filter context and a flip is announced.
func (n *Negotiator) onAccountsChanged(changed *events.AccountsChangedPayload) {
	for _, raw := range changed.Removed {
		id, err := types.ParseAccountID(raw)
		if err != nil {
			log.Warnf("malformed account id in change event: %v", err)
			continue
		}
		if _, err := n.sessions.PruneAccount(id); err != nil {
			log.Errorf("prune account %s: %v", id, err)
		}
	}

	for _, appID := range n.sessions.Apps() {
		filter, lastHasMore, ok := n.sessions.LastFilter(appID)
		if !ok {
			continue
		}
		authorized := n.authorizedAccounts(appID, filter.Chains)
		hasMore, err := n.hasMore(authorized, filter.Chains, filter.Features)
		if err != nil {
			log.Warnf("recompute hasMoreAccounts for app %s: %v", appID, err)
			continue
		}
		if hasMore != lastHasMore {
			n.sessions.UpdateHasMore(appID, hasMore)
			n.bus.Emit(events.HasMoreAccountsChanged, &events.HasMoreAccountsChangedPayload{
				AppID:           appID,
				HasMoreAccounts: hasMore,
			})
		}
	}
}

// authorizedAccounts approximates the app's last returned set: its
// authorized accounts under the last chain filter.
func (n *Negotiator) authorizedAccounts(appID string, chains []types.ChainID) []*types.Account {
	accounts, err := n.registry.List(chains, nil)
	if err != nil {
		return nil
	}
	var out []*types.Account
	for _, acc := range accounts {
		if n.sessions.IsAuthorized(appID, acc.ID()) {
			out = append(out, acc)
		}
	}
	return out
}

// ListSessionInfo exposes per-app authorization state to operators.
func (n *Negotiator) ListSessionInfo(ctx context.Context) ([]*types.SessionDetail, error) {
	return n.sessions.ListSessionInfo(), nil
}

func (n *Negotiator) ListSessionInfoByApp(ctx context.Context, appID string) (*types.SessionDetail, error) {
	return n.sessions.ListSessionInfoByApp(appID)
}

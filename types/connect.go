package types

import (
	"encoding/json"
)

// ConnectParams is the input to a connect negotiation. All fields are
// optional; the zero value asks for every account interactively.
type ConnectParams struct {
	// Chains restricts candidates to accounts on these chains.
	Chains []ChainID
	// Features narrows the capability view of returned accounts. It is a
	// projection filter, not a selection predicate: accounts lacking a
	// requested capability are still eligible.
	Features []string
	// Addresses requests specific accounts by their on-chain address.
	// Unknown or refused entries shrink the result, they never fail it.
	Addresses [][]byte
	// Silent forbids prompting: only already-granted accounts come back.
	Silent bool
}

// FilterContext is the (chains, features) pair under which a result's
// HasMoreAccounts was computed. The session remembers the last one so
// the flag can be re-evaluated when the registry changes out-of-band.
type FilterContext struct {
	Chains   []ChainID
	Features []string
}

// ConnectResult is the outcome of one connect call.
type ConnectResult struct {
	Accounts []*ConnectedAccount
	// HasMoreAccounts is true iff the registry, filtered by the request's
	// chains/features (ignoring Addresses), holds at least one account
	// not present in Accounts.
	HasMoreAccounts bool
}

// WalletInfo is the descriptor an app sees for its authorized view.
// Chains, Features and Ciphers are unions across authorized accounts;
// the wallet-level Features union is advisory, per-account capability
// discovery goes through each account's own Features map.
type WalletInfo struct {
	Version string
	Name    string
	Icon    string

	Accounts        []*ConnectedAccount
	HasMoreAccounts bool
	Chains          []ChainID
	Features        []string
	Ciphers         []Cipher
}

// AgentEvent is one change notification as delivered to a subscribed
// app: the event name and its JSON-encoded payload.
type AgentEvent struct {
	Event   string
	Payload json.RawMessage
}

// SessionDetail describes one app's authorization state for operators.
type SessionDetail struct {
	AppID           string
	Authorized      []AccountID
	LastFilter      *FilterContext
	HasMoreAccounts bool
}

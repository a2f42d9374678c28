package types

import (
	"fmt"
)

// Error kinds surfaced by the negotiation core. The default policy
// favors reduced results over failures: a silent connect never fails
// for lack of authorization, only for genuine faults.
var (
	// ErrAccountNotFound reports an explicitly addressed account missing
	// from the registry under a fail-fast policy. The negotiator runs a
	// reduced-subset policy instead, so it never returns this; it exists
	// for callers layering a stricter policy on top.
	ErrAccountNotFound = fmt.Errorf("account not found in registry")

	// ErrAuthorizationDenied reports an explicit user refusal under a
	// fail-fast policy. Under the subset policy a refusal is a reduced
	// result, not an error.
	ErrAuthorizationDenied = fmt.Errorf("authorization denied by user")

	// ErrPromptUnavailable means interactive resolution was required but
	// no UI channel is attached. Fatal for the call.
	ErrPromptUnavailable = fmt.Errorf("no prompt channel available")

	// ErrRegistryFault is an underlying storage or hardware failure.
	// Fatal for the call, session left untouched.
	ErrRegistryFault = fmt.Errorf("account registry fault")
)

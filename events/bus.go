// Package events carries the change notifications an app uses to stay
// in sync with the wallet: after accountsChanged or chainsChanged it
// re-issues a silent connect and reconciles the result.
package events

import (
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("event_bus")

// Event names delivered by the bus.
const (
	AccountsChanged        = "accountsChanged"
	ChainsChanged          = "chainsChanged"
	HasMoreAccountsChanged = "hasMoreAccountsChanged"
)

// AccountsChangedPayload reports a registry or authorized-set mutation.
type AccountsChangedPayload struct {
	// Added and Removed hold the identities involved, hex encoded.
	Added   []string
	Removed []string
}

// ChainsChangedPayload reports a change of the wallet's chain union.
type ChainsChangedPayload struct {
	Chains []string
}

// HasMoreAccountsChangedPayload reports a flip of the hasMoreAccounts
// flag for one app's last-used filter context.
type HasMoreAccountsChangedPayload struct {
	AppID           string
	HasMoreAccounts bool
}

// Listener receives one event dispatch. Payload is one of the types above.
type Listener func(payload interface{})

type subscription struct {
	id       uint64
	listener Listener
}

// Bus is a listener registry with FIFO dispatch per event name. A
// listener that panics is isolated: remaining listeners for the event
// still run in the same dispatch. No ordering holds across different
// event names.
type Bus struct {
	lk     sync.Mutex
	nextID uint64
	subs   map[string][]subscription
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[string][]subscription),
	}
}

// On registers a listener for the named event and returns its
// unsubscribe function. Unsubscribing twice is harmless.
func (b *Bus) On(event string, listener Listener) func() {
	b.lk.Lock()
	defer b.lk.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], subscription{id: id, listener: listener})

	return func() {
		b.lk.Lock()
		defer b.lk.Unlock()
		subs := b.subs[event]
		for i, sub := range subs {
			if sub.id == id {
				b.subs[event] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Emit dispatches the payload to the event's listeners in registration
// order. Emit never reports an error to the emitting side.
func (b *Bus) Emit(event string, payload interface{}) {
	b.lk.Lock()
	subs := make([]subscription, len(b.subs[event]))
	copy(subs, b.subs[event])
	b.lk.Unlock()

	for _, sub := range subs {
		b.dispatch(event, sub, payload)
	}
}

func (b *Bus) dispatch(event string, sub subscription, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("listener %d for %s panicked: %v", sub.id, event, r)
		}
	}()
	sub.listener(payload)
}

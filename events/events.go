// Package events provides the pub/sub bus the settlement engine announces
// intent lifecycle transitions on. The portal and every prover publish here;
// solvers, relayers, and tests subscribe.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/intentlane/intentlane/types"
)

// Type identifies the kind of event published on the bus.
type Type string

// Intent lifecycle events.
const (
	IntentPublished        Type = "intent.published"
	IntentFunded           Type = "intent.funded"
	IntentFulfilled        Type = "intent.fulfilled"
	IntentProven           Type = "intent.proven"
	IntentAlreadyProven    Type = "intent.alreadyProven"
	IntentWithdrawn        Type = "intent.withdrawn"
	IntentRefunded         Type = "intent.refunded"
	IntentProofInvalidated Type = "intent.proofInvalidated"
	ProofSkipped           Type = "proof.skippedZeroClaimant"
	ProofDispatched        Type = "proof.dispatched"
)

// Event is a message published on the bus. Hash is the intent hash the
// event concerns; Claimant and Destination are filled where meaningful.
type Event struct {
	Type        Type
	Hash        types.Hash
	Claimant    types.Address
	Destination uint64
	Timestamp   time.Time
}

// Subscription receives events matching a set of types.
type Subscription struct {
	id     uint64
	types  map[Type]struct{}
	ch     chan Event
	bus    *Bus
	closed atomic.Bool
}

// Chan returns the receive channel of the subscription.
func (s *Subscription) Chan() <-chan Event { return s.ch }

// Unsubscribe removes the subscription from the bus and closes its channel.
// Safe to call multiple times.
func (s *Subscription) Unsubscribe() {
	if s.bus != nil {
		s.bus.unsubscribe(s)
	}
}

// Bus is a publish/subscribe fan-out for lifecycle events. All methods are
// safe for concurrent use. Emit never blocks: a subscriber whose buffer is
// full misses the event, matching the engine's stance that events are
// advisory and all state is independently re-checkable.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
}

// NewBus creates a Bus whose subscriptions buffer up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer < 1 {
		buffer = 16
	}
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers interest in the given event types. With no types, the
// subscription receives every event.
func (b *Bus) Subscribe(kinds ...Type) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	var set map[Type]struct{}
	if len(kinds) > 0 {
		set = make(map[Type]struct{}, len(kinds))
		for _, k := range kinds {
			set[k] = struct{}{}
		}
	}
	sub := &Subscription{
		id:    b.nextID,
		types: set,
		ch:    make(chan Event, b.buffer),
		bus:   b,
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	if !sub.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()
	close(sub.ch)
}

// Emit publishes an event to all matching subscribers without blocking.
func (b *Bus) Emit(ev Event) {
	if b == nil {
		return
	}
	ev.Timestamp = time.Now()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.closed.Load() {
			continue
		}
		if sub.types != nil {
			if _, ok := sub.types[ev.Type]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- ev:
		default:
			// Subscriber lagging; drop.
		}
	}
}

// Recorder is a Bus helper that captures every event it sees, in order.
// Used by tests and by offline indexers that want a replayable log.
type Recorder struct {
	mu  sync.Mutex
	log []Event
}

// Attach subscribes the recorder to all events on the bus and starts the
// capture goroutine. The returned stop function unsubscribes and waits for
// the capture loop to drain.
func (r *Recorder) Attach(b *Bus) (stop func()) {
	sub := b.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.Chan() {
			r.mu.Lock()
			r.log = append(r.log, ev)
			r.mu.Unlock()
		}
	}()
	return func() {
		sub.Unsubscribe()
		<-done
	}
}

// Events returns a copy of the captured event log.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.log))
	copy(out, r.log)
	return out
}

// Count returns how many captured events have the given type.
func (r *Recorder) Count(kind Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.log {
		if ev.Type == kind {
			n++
		}
	}
	return n
}

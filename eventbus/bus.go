// Package eventbus implements C9: a lightweight, best-effort publish/
// subscribe channel for diagnostic events (request/response/error/fault/
// connection/lifecycle), shared by the client, mock server, bridge and
// script engine (spec §4.9).
package eventbus

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Kind tags the category of an Event.
type Kind string

const (
	KindRequest       Kind = "request"
	KindResponse      Kind = "response"
	KindError         Kind = "error"
	KindFaultInjected Kind = "fault_injected"
	KindConnection    Kind = "connection"
	KindLifecycle     Kind = "lifecycle"
)

// Event is the structured payload delivered to subscribers.
type Event struct {
	Kind      Kind
	At        time.Time
	Source    string
	Payload   map[string]interface{}
}

// defaultQueueDepth bounds each subscriber's private queue; once full, the
// oldest pending event is dropped to make room (spec §4.9 overflow policy).
const defaultQueueDepth = 256

// Subscription is returned by Subscribe; read Events() for delivered
// events and call Unsubscribe when done.
type Subscription struct {
	bus     *Bus
	id      uint64
	ch      chan Event
	dropped *atomic.Uint64
}

// Events returns the channel events are delivered on, in arrival order.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events have been dropped for this subscriber
// because its queue was full when a new event arrived.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Unsubscribe stops delivery and releases the subscriber's queue.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// Bus is an in-process broadcast channel. The zero value is not usable;
// construct with New.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
}

// New returns an empty event bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a new observer with a bounded private queue.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		bus:     b,
		id:      b.nextID,
		ch:      make(chan Event, defaultQueueDepth),
		dropped: atomic.NewUint64(0),
	}
	b.subs[sub.id] = sub

	return sub
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Publish delivers ev to every current subscriber in arrival order.
// Delivery is best-effort: a subscriber whose queue is full has its oldest
// pending event dropped to make room, rather than back-pressuring the
// producer (spec §4.9).
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		deliver(sub, ev)
	}
}

func deliver(sub *Subscription, ev Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}

	// queue is full: drop the oldest pending event to make room for the
	// newest one, then count the drop.
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- ev:
	default:
		// lost a race with another publisher; give up rather than loop.
	}
	sub.dropped.Add(1)
}

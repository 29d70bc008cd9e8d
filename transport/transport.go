// Package transport implements C2: a uniform asynchronous byte channel over
// TCP or serial, exposing open/close/send/receive-frame plus an event
// stream, a read-only passive wrapper, and a fast-fail configuration knob
// for the prober (spec §4.2).
package transport

import (
	"time"

	"github.com/modbus-toolkit/umdt/frame"
)

// EventKind tags an observable transport-level occurrence.
type EventKind string

const (
	EventOpened EventKind = "opened"
	EventClosed EventKind = "closed"
	EventError  EventKind = "error"
)

// Event is published on the transport's event channel for every
// opened/closed/error occurrence (spec §4.2).
type Event struct {
	Kind EventKind
	Err  error
	At   time.Time
}

// Kind identifies the wire medium a Transport runs over.
type Kind string

const (
	KindTCP    Kind = "tcp"
	KindSerial Kind = "serial"
)

// Transport is the contract every medium (TCP, serial, and the passive
// wrapper around either) implements. Higher layers (bus coordinator,
// client, mock server, bridge) only ever see this interface.
type Transport interface {
	// Open establishes the underlying connection.
	Open() error
	// Close tears down the underlying connection.
	Close() error
	// Send writes a fully framed ADU (RTU) or MBAP frame (TCP) to the wire.
	Send(buf []byte) error
	// ReceiveFrame waits up to timeout for a complete frame and decodes it
	// permissively: malformed frames are returned, not discarded.
	ReceiveFrame(timeout time.Duration) (*frame.Frame, error)
	// Events returns the channel new lifecycle events are published on.
	Events() <-chan Event
	// Kind reports which medium this transport runs over.
	Kind() Kind
}

// eventPublisher is embedded by each concrete transport to provide a
// shared, best-effort (non-blocking) event channel.
type eventPublisher struct {
	ch chan Event
}

func newEventPublisher() eventPublisher {
	// buffered so a slow observer doesn't stall the transport; transports
	// are lower-volume emitters than the main event bus (C9), so a modest
	// buffer with drop-on-full is enough.
	return eventPublisher{ch: make(chan Event, 32)}
}

func (p *eventPublisher) Events() <-chan Event {
	return p.ch
}

func (p *eventPublisher) publish(kind EventKind, err error) {
	select {
	case p.ch <- Event{Kind: kind, Err: err, At: time.Now()}:
	default:
		// drop silently; transport events are a diagnostic convenience,
		// not a delivery guarantee.
	}
}

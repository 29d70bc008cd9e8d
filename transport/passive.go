package transport

import (
	"time"

	"github.com/modbus-toolkit/umdt/frame"
	"github.com/modbus-toolkit/umdt/internal/umdterr"
)

// Passive decorates any Transport so that Send always fails, guaranteeing
// electrical passivity for sniffer mode (spec §4.2).
type Passive struct {
	inner Transport
}

// NewPassive wraps t so it can never transmit.
func NewPassive(t Transport) *Passive {
	return &Passive{inner: t}
}

func (p *Passive) Open() error  { return p.inner.Open() }
func (p *Passive) Close() error { return p.inner.Close() }
func (p *Passive) Kind() Kind   { return p.inner.Kind() }

func (p *Passive) Send([]byte) error {
	return &umdterr.Error{Kind: umdterr.KindInvalidArgument, Cause: errForbidden{}}
}

func (p *Passive) ReceiveFrame(timeout time.Duration) (*frame.Frame, error) {
	return p.inner.ReceiveFrame(timeout)
}

func (p *Passive) Events() <-chan Event {
	return p.inner.Events()
}

type errForbidden struct{}

func (errForbidden) Error() string { return "forbidden: transport is passive (read-only)" }

// Package buscoord implements C3: per-transport mutual exclusion between
// low-priority scanner tasks and high-priority operator tasks, with
// preemption at frame boundaries rather than mid-frame (spec §4.3).
//
// The coordinator is implemented as explicit message-passing over channels
// rather than a blanket mutex held across suspension points, per the design
// notes in spec §9 ("async coordination without language-specific
// primitives").
package buscoord

import (
	"context"
	"sync"

	"github.com/modbus-toolkit/umdt/internal/umdterr"
)

// Priority distinguishes foreground operator requests from background
// scanner tasks. Operators always win contention; scanners only run when
// no operator wants the bus.
type Priority int

const (
	PriorityScanner Priority = iota
	PriorityOperator
)

// Coordinator guards exclusive access to a single transport.
type Coordinator struct {
	mu sync.Mutex

	held   bool
	holder Priority

	operatorQ []*waiter
	scannerQ  []*waiter

	// yield is closed to signal the current scanner holder that an
	// operator is now waiting and it should release at the next frame
	// boundary. Recreated on every new scanner grant.
	yield chan struct{}
}

type waiter struct {
	grant chan struct{}
}

// New returns a Coordinator for one transport.
func New() *Coordinator {
	return &Coordinator{}
}

// Guard represents held access to the bus; release it (directly or via
// Close) as soon as the exchange completes.
type Guard struct {
	c        *Coordinator
	priority Priority
	yield    chan struct{}
	released bool
}

// Yield returns a channel that closes when a waiting operator wants this
// scanner guard to release at the next frame boundary. Operator guards
// always return a nil channel (never asked to yield).
func (g *Guard) Yield() <-chan struct{} {
	return g.yield
}

// Release gives up the bus, granting it to the next waiter (operators
// before scanners, FIFO within each priority).
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.c.release()
}

// Close is an alias for Release so Guard can be used with defer in the
// idiom `defer guard.Close()`.
func (g *Guard) Close() error {
	g.Release()
	return nil
}

// Acquire blocks until the bus is granted at the given priority, or ctx is
// cancelled. Operators are served FIFO among themselves and always
// preempt an in-progress scanner at its next yield point; scanners are
// likewise served FIFO among themselves.
func (c *Coordinator) Acquire(ctx context.Context, priority Priority) (*Guard, error) {
	c.mu.Lock()

	if !c.held {
		c.held = true
		c.holder = priority
		var y chan struct{}
		if priority == PriorityScanner {
			c.yield = make(chan struct{})
			y = c.yield
		}
		c.mu.Unlock()
		return &Guard{c: c, priority: priority, yield: y}, nil
	}

	w := &waiter{grant: make(chan struct{})}
	if priority == PriorityOperator {
		c.operatorQ = append(c.operatorQ, w)
		if c.holder == PriorityScanner && c.yield != nil {
			select {
			case <-c.yield:
			default:
				close(c.yield)
			}
		}
	} else {
		c.scannerQ = append(c.scannerQ, w)
	}
	c.mu.Unlock()

	select {
	case <-w.grant:
		var y chan struct{}
		if priority == PriorityScanner {
			c.mu.Lock()
			y = c.yield
			c.mu.Unlock()
		}
		return &Guard{c: c, priority: priority, yield: y}, nil
	case <-ctx.Done():
		c.removeWaiter(priority, w)
		return nil, umdterr.Cancelled()
	}
}

// removeWaiter drops w from its queue if Acquire's caller gave up before
// being granted.
func (c *Coordinator) removeWaiter(priority Priority, w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := &c.scannerQ
	if priority == PriorityOperator {
		q = &c.operatorQ
	}
	for i, cand := range *q {
		if cand == w {
			*q = append((*q)[:i], (*q)[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case len(c.operatorQ) > 0:
		next := c.operatorQ[0]
		c.operatorQ = c.operatorQ[1:]
		c.holder = PriorityOperator
		c.yield = nil
		close(next.grant)
	case len(c.scannerQ) > 0:
		next := c.scannerQ[0]
		c.scannerQ = c.scannerQ[1:]
		c.holder = PriorityScanner
		c.yield = make(chan struct{})
		close(next.grant)
	default:
		c.held = false
		c.yield = nil
	}
}

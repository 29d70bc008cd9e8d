package scripting

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/modbus-toolkit/umdt/eventbus"
	"github.com/modbus-toolkit/umdt/frame"
	"github.com/modbus-toolkit/umdt/internal/obslog"
)

// Engine owns one Table of registered hooks and the Context hooks run
// against. The active Table is held behind an atomic pointer so Reload can
// swap it in between requests without a lock on the hot path, and so no
// in-flight invocation ever observes half of an old table and half of a new
// one (spec §4.7 "hooks may be hot-reloaded ... never mid-request").
type Engine struct {
	table *atomic.Pointer[Table]
	ctx   *Context

	log *obslog.Logger
	bus *eventbus.Bus

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds an Engine with an empty hook table. store may be nil (bridge
// contexts with no local register state).
func New(log *obslog.Logger, bus *eventbus.Bus, store RegisterAccess) *Engine {
	stopCh := make(chan struct{})
	e := &Engine{
		table:  atomic.NewPointer(&Table{}),
		log:    log,
		bus:    bus,
		stopCh: stopCh,
	}
	e.ctx = NewContext(log, bus, store, stopCh)
	return e
}

// Reload atomically swaps in a new hook table. In-flight invocations
// finish against whichever table they started with; the next invocation
// sees the new one in full.
func (e *Engine) Reload(t Table) {
	e.table.Store(&t)
}

func (e *Engine) current() *Table {
	return e.table.Load()
}

// Start runs every registered on_start hook, then launches the periodic
// scheduler if periodicInterval is positive.
func (e *Engine) Start(periodicInterval time.Duration) {
	for _, h := range e.current().OnStart {
		e.invokeLifecycle(h)
	}
	if periodicInterval <= 0 {
		return
	}
	e.wg.Add(1)
	go e.runPeriodic(periodicInterval)
}

// Stop runs every registered on_stop hook and halts the periodic scheduler.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
	for _, h := range e.current().OnStop {
		e.invokeLifecycle(h)
	}
}

func (e *Engine) runPeriodic(interval time.Duration) {
	defer e.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-t.C:
			for _, h := range e.current().OnPeriodic {
				e.invokeLifecycle(LifecycleHook(h))
			}
		}
	}
}

// RunRequestHooks runs on_request against req in registration order,
// stopping at the first hook that doesn't return OutcomeContinue. A
// panicking hook is treated as OutcomeContinue with the request unchanged,
// so one broken script can't halt the pipeline (spec §4.7 invariant).
func (e *Engine) RunRequestHooks(req *frame.Request) RequestResult {
	return e.runRequestChain(e.current().OnRequest, req)
}

// RunIngressHooks runs the bridge's ingress_hook chain.
func (e *Engine) RunIngressHooks(req *frame.Request) RequestResult {
	return e.runRequestChain(e.current().IngressHook, req)
}

// RunEgressHooks runs the bridge's egress_hook chain.
func (e *Engine) RunEgressHooks(req *frame.Request) RequestResult {
	return e.runRequestChain(e.current().EgressHook, req)
}

func (e *Engine) runRequestChain(hooks []RequestHook, req *frame.Request) RequestResult {
	current := req
	for _, h := range hooks {
		result := e.invokeRequest(h, current)
		switch result.Outcome {
		case OutcomeContinue:
			if result.Request != nil {
				current = result.Request
			}
			continue
		case OutcomeException, OutcomeDrop:
			return result
		}
	}
	return RequestResult{Outcome: OutcomeContinue, Request: current}
}

func (e *Engine) invokeRequest(h RequestHook, req *frame.Request) (result RequestResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("script hook panicked, passing request through unchanged", "panic", r)
			result = RequestResult{Outcome: OutcomeContinue, Request: req}
		}
	}()
	return h(req, e.ctx)
}

// RunResponseHooks runs on_response against resp in order; any hook may
// replace the response or drop it entirely by returning nil.
func (e *Engine) RunResponseHooks(resp *frame.Response) *frame.Response {
	return e.runResponseChain(e.current().OnResponse, resp)
}

// RunResponseChainHooks runs the bridge's response_hook chain.
func (e *Engine) RunResponseChainHooks(resp *frame.Response) *frame.Response {
	return e.runResponseChain(e.current().ResponseHookChain, resp)
}

// RunUpstreamResponseHooks runs the bridge's upstream_response_hook chain.
func (e *Engine) RunUpstreamResponseHooks(resp *frame.Response) *frame.Response {
	return e.runResponseChain(e.current().UpstreamResponseHook, resp)
}

func (e *Engine) runResponseChain(hooks []ResponseHook, resp *frame.Response) *frame.Response {
	current := resp
	for _, h := range hooks {
		if current == nil {
			return nil
		}
		current = e.invokeResponse(h, current)
	}
	return current
}

func (e *Engine) invokeResponse(h ResponseHook, resp *frame.Response) (out *frame.Response) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("script hook panicked, passing response through unchanged", "panic", r)
			out = resp
		}
	}()
	return h(resp, e.ctx)
}

// RunWriteHooks fires every on_write observer; write hooks cannot fail the
// pipeline so panics are simply logged and swallowed.
func (e *Engine) RunWriteHooks(unitID uint8, address, value uint16) {
	for _, h := range e.current().OnWrite {
		e.invokeWrite(h, unitID, address, value)
	}
}

func (e *Engine) invokeWrite(h WriteHook, unitID uint8, address, value uint16) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("on_write hook panicked", "panic", r)
		}
	}()
	h(unitID, address, value, e.ctx)
}

func (e *Engine) invokeLifecycle(h LifecycleHook) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("lifecycle hook panicked", "panic", r)
		}
	}()
	h(e.ctx)
}

package scripting

import (
	"testing"
	"time"

	"github.com/modbus-toolkit/umdt/frame"
	"github.com/modbus-toolkit/umdt/internal/obslog"
)

func TestRunRequestHooksShortCircuitsOnException(t *testing.T) {
	e := New(obslog.Nop(), nil, nil)
	e.Reload(Table{
		OnRequest: []RequestHook{
			func(req *frame.Request, ctx *Context) RequestResult {
				return RequestResult{Outcome: OutcomeContinue, Request: req}
			},
			func(req *frame.Request, ctx *Context) RequestResult {
				return RequestResult{
					Outcome:  OutcomeException,
					Response: ctx.MakeResponseException(req, 0x02),
				}
			},
			func(req *frame.Request, ctx *Context) RequestResult {
				t.Fatalf("third hook should not run after an exception outcome")
				return RequestResult{}
			},
		},
	})

	result := e.RunRequestHooks(&frame.Request{UnitID: 1, FunctionCode: 0x03})
	if result.Outcome != OutcomeException {
		t.Fatalf("expected OutcomeException, got %v", result.Outcome)
	}
	if result.Response.ExceptionCode != 0x02 {
		t.Fatalf("expected exception code 0x02, got %#x", result.Response.ExceptionCode)
	}
}

func TestRunRequestHooksPanicPassesThrough(t *testing.T) {
	e := New(obslog.Nop(), nil, nil)
	e.Reload(Table{
		OnRequest: []RequestHook{
			func(req *frame.Request, ctx *Context) RequestResult {
				panic("broken script")
			},
		},
	})

	req := &frame.Request{UnitID: 1, FunctionCode: 0x03, StartAddress: 100}
	result := e.RunRequestHooks(req)
	if result.Outcome != OutcomeContinue {
		t.Fatalf("expected a panicking hook to degrade to OutcomeContinue, got %v", result.Outcome)
	}
	if result.Request != req {
		t.Fatalf("expected the original request to pass through unchanged")
	}
}

func TestReloadSwapIsAtomic(t *testing.T) {
	e := New(obslog.Nop(), nil, nil)
	e.Reload(Table{
		OnRequest: []RequestHook{
			func(req *frame.Request, ctx *Context) RequestResult {
				return RequestResult{Outcome: OutcomeDrop}
			},
		},
	})

	first := e.RunRequestHooks(&frame.Request{})
	if first.Outcome != OutcomeDrop {
		t.Fatalf("expected first table to drop, got %v", first.Outcome)
	}

	e.Reload(Table{})

	second := e.RunRequestHooks(&frame.Request{})
	if second.Outcome != OutcomeContinue {
		t.Fatalf("expected reloaded empty table to continue, got %v", second.Outcome)
	}
}

func TestResponseHookChainDrop(t *testing.T) {
	e := New(obslog.Nop(), nil, nil)
	e.Reload(Table{
		OnResponse: []ResponseHook{
			func(resp *frame.Response, ctx *Context) *frame.Response {
				return nil
			},
		},
	})

	out := e.RunResponseHooks(&frame.Response{UnitID: 1})
	if out != nil {
		t.Fatalf("expected response to be dropped, got %+v", out)
	}
}

func TestContextStateRoundTrip(t *testing.T) {
	e := New(obslog.Nop(), nil, nil)
	e.ctx.Put("count", 1)
	v, ok := e.ctx.Get("count")
	if !ok || v.(int) != 1 {
		t.Fatalf("expected state round trip, got %v, %v", v, ok)
	}
}

func TestStartStopRunsLifecycleHooks(t *testing.T) {
	e := New(obslog.Nop(), nil, nil)
	var started, stopped bool
	e.Reload(Table{
		OnStart: []LifecycleHook{func(ctx *Context) { started = true }},
		OnStop:  []LifecycleHook{func(ctx *Context) { stopped = true }},
	})

	e.Start(0)
	e.Stop()

	if !started || !stopped {
		t.Fatalf("expected both lifecycle hooks to run: started=%v stopped=%v", started, stopped)
	}
}

func TestPeriodicHookFiresAndStops(t *testing.T) {
	e := New(obslog.Nop(), nil, nil)
	ticks := make(chan struct{}, 8)
	e.Reload(Table{
		OnPeriodic: []PeriodicHook{func(ctx *Context) {
			select {
			case ticks <- struct{}{}:
			default:
			}
		}},
	})

	e.Start(5 * time.Millisecond)
	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatalf("expected at least one periodic tick")
	}
	e.Stop()
}

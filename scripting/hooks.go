// Package scripting implements C7: the hookable execution model shared by
// the mock server and the bridge (spec §4.7). Scripts are native Go
// functions registered against well-known hook points rather than an
// embedded interpreter — there is no scripting/expression library
// anywhere in the retrieved reference pack, and the teacher's own
// extension idiom (simonvetter-modbus's user-supplied RequestHandler)
// is exactly this shape: caller code implementing a small interface,
// generalized here to a registry of typed hook functions per point.
package scripting

import "github.com/modbus-toolkit/umdt/frame"

// Outcome is what a request-shaped hook decided to do with the exchange.
type Outcome int

const (
	// OutcomeContinue passes Request on to the next stage, possibly
	// modified.
	OutcomeContinue Outcome = iota
	// OutcomeException short-circuits the pipeline with Response.
	OutcomeException
	// OutcomeDrop silently discards the exchange; no reply is sent.
	OutcomeDrop
)

// RequestResult is what a RequestHook (on_request, ingress_hook,
// egress_hook) returns (spec §4.6 step 2, §4.7).
type RequestResult struct {
	Outcome  Outcome
	Request  *frame.Request
	Response *frame.Response
}

// RequestHook intercepts a request before it reaches the store/downstream
// transport.
type RequestHook func(req *frame.Request, ctx *Context) RequestResult

// ResponseHook intercepts a response before it's sent, and may replace it
// or drop it (return nil) (spec §4.6 steps 6-7, §4.7 on_response).
type ResponseHook func(resp *frame.Response, ctx *Context) *frame.Response

// WriteHook observes a completed write (spec §4.7 on_write); it cannot
// alter the outcome, only react to it (e.g. for counters, alerting).
type WriteHook func(unitID uint8, address uint16, value uint16, ctx *Context)

// LifecycleHook runs on_start/on_stop.
type LifecycleHook func(ctx *Context)

// PeriodicHook runs on_periodic at the configured interval.
type PeriodicHook func(ctx *Context)

// Table is the full set of registered hooks for one engine instance.
// Reload swaps a Table in atomically, never mid-request (spec §4.7
// "hooks may be hot-reloaded ... never mid-request").
type Table struct {
	OnRequest  []RequestHook
	OnResponse []ResponseHook
	OnWrite    []WriteHook
	OnStart    []LifecycleHook
	OnStop     []LifecycleHook
	OnPeriodic []PeriodicHook

	// Bridge-side hook points (spec §4.6); unused by the mock server.
	IngressHook          []RequestHook
	EgressHook           []RequestHook
	ResponseHookChain    []ResponseHook
	UpstreamResponseHook []ResponseHook
}

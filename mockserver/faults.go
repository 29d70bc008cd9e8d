package mockserver

import (
	"math/rand"
	"sync"
	"time"
)

// FaultProfile is the mock server's tunable diagnostics profile (spec §3
// "Fault profile" / §4.5). Rates are fractions in [0,1], not percentages.
type FaultProfile struct {
	LatencyMS        int
	LatencyJitterPct float64

	DropRate float64

	BitFlipRate float64

	// ForcedException, when set, short-circuits every request to an
	// exception response carrying this code (spec §3).
	ForcedException *uint8

	RandomSeed int64
}

// faultInjector applies FaultProfile decisions using its own rand source,
// mirroring the original DiagnosticsManager's private random.Random so a
// configured RandomSeed reproduces a run deterministically. A mutex guards
// the rng since multiple sessions may each have an in-flight request
// simultaneously (spec §4.5 "Concurrency"), and *rand.Rand is not safe for
// concurrent use on its own.
type faultInjector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newFaultInjector(seed int64) *faultInjector {
	src := rand.NewSource(seed)
	if seed == 0 {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &faultInjector{rng: rand.New(src)}
}

// latencyDelay returns how long to sleep before serving a request, with
// jitter applied symmetrically around the configured base latency.
func (f *faultInjector) latencyDelay(p FaultProfile) time.Duration {
	if p.LatencyMS <= 0 {
		return 0
	}
	f.mu.Lock()
	roll := f.rng.Float64()
	f.mu.Unlock()

	jitter := float64(p.LatencyMS) * (p.LatencyJitterPct / 100.0)
	delta := (roll - 0.5) * 2 * jitter
	ms := float64(p.LatencyMS) + delta
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// shouldDrop reports whether this request should be silently discarded.
func (f *faultInjector) shouldDrop(p FaultProfile) bool {
	if p.DropRate <= 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Float64() < p.DropRate
}

// bitFlipPayload XORs a single random bit into each byte of the outgoing
// response payload with probability p.BitFlipRate, applied uniformly to
// every response (spec §4.5 step 7 "apply bit_flip_rate to the outgoing
// payload"), not just register reads.
func (f *faultInjector) bitFlipPayload(p FaultProfile, payload []byte) []byte {
	if p.BitFlipRate <= 0 {
		return payload
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]byte, len(payload))
	for i, v := range payload {
		if f.rng.Float64() < p.BitFlipRate {
			bit := byte(1) << uint(f.rng.Intn(8))
			v ^= bit
		}
		out[i] = v
	}
	return out
}

// UpdateFaults atomically replaces the fault profile in effect.
func (d *Device) UpdateFaults(p FaultProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profile = p
	d.injector = newFaultInjector(p.RandomSeed)
}

// Faults returns the currently configured fault profile.
func (d *Device) Faults() FaultProfile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.profile
}

// currentInjector returns the injector in effect, synchronized against a
// concurrent UpdateFaults swap.
func (d *Device) currentInjector() *faultInjector {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.injector
}

package client

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/modbus-toolkit/umdt/buscoord"
	"github.com/modbus-toolkit/umdt/internal/umdterr"
)

// ProbeEndpoint is one candidate connection string plus the line settings
// needed to open it (serial endpoints carry their own baud/parity; TCP
// endpoints ignore them).
type ProbeEndpoint struct {
	URL      string
	Baud     int
	DataBits int
	StopBits int
	Parity   string
}

// ProbeParams is one point in the Cartesian product a Probe run sweeps
// over (spec §4.4): an endpoint plus the unit id / register to try.
type ProbeParams struct {
	Endpoint ProbeEndpoint
	UnitID   uint8
	DataType DataType
	Address  uint16
}

// ProbeResult reports whether one combination answered.
type ProbeResult struct {
	Params ProbeParams
	Alive  bool
	Err    error
}

// ProbeConfig bounds a probe sweep's concurrency and per-attempt timeout.
type ProbeConfig struct {
	FastFailTimeout time.Duration
	MaxConcurrency  int

	// SharedCoordinators lets the caller pass one buscoord.Coordinator per
	// endpoint, keyed by ProbeEndpoint.URL (e.g. "rtu:///dev/ttyUSB0", not
	// the bare device path), so concurrent probes of the same physical bus
	// still serialize through C3 rather than colliding on the wire (spec
	// §4.4: "within a single serial endpoint the underlying bus
	// coordinator serializes access").
	SharedCoordinators map[string]*buscoord.Coordinator
}

// Probe attempts every endpoint x param combination concurrently, bounded
// by cfg.MaxConcurrency, and reports which replied — with either data or
// an exception — within the fast-fail timeout. Anything else (transport
// error, timeout, framing error) counts as not alive (spec §4.4).
func Probe(ctx context.Context, combos []ProbeParams, cfg ProbeConfig) []ProbeResult {
	if cfg.FastFailTimeout == 0 {
		cfg.FastFailTimeout = 200 * time.Millisecond
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}

	p := pool.NewWithResults[ProbeResult]().WithMaxGoroutines(cfg.MaxConcurrency)

	for _, combo := range combos {
		combo := combo
		p.Go(func() ProbeResult {
			return probeOne(ctx, combo, cfg)
		})
	}

	return p.Wait()
}

func probeOne(ctx context.Context, combo ProbeParams, cfg ProbeConfig) ProbeResult {
	conf := Config{
		URL:      combo.Endpoint.URL,
		Baud:     combo.Endpoint.Baud,
		DataBits: combo.Endpoint.DataBits,
		StopBits: combo.Endpoint.StopBits,
		Parity:   combo.Endpoint.Parity,
		Timeout:  cfg.FastFailTimeout,
	}
	if coord, ok := cfg.SharedCoordinators[combo.Endpoint.URL]; ok {
		conf.Coordinator = coord
	}

	c, err := New(conf)
	if err != nil {
		return ProbeResult{Params: combo, Alive: false, Err: err}
	}

	if err := c.Open(); err != nil {
		return ProbeResult{Params: combo, Alive: false, Err: err}
	}
	defer c.Close()

	_, err = c.Read(ctx, ReadParams{
		UnitID:   combo.UnitID,
		DataType: combo.DataType,
		Address:  combo.Address,
		Count:    1,
		Timeout:  cfg.FastFailTimeout,
	})

	if err == nil {
		return ProbeResult{Params: combo, Alive: true}
	}

	// a Modbus exception is still a reply from a live device.
	if e, ok := umdterr.As(err); ok && e.Kind == umdterr.KindModbusException {
		return ProbeResult{Params: combo, Alive: true}
	}

	return ProbeResult{Params: combo, Alive: false, Err: err}
}

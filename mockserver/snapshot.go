package mockserver

import (
	"github.com/modbus-toolkit/umdt/client"
	"github.com/modbus-toolkit/umdt/eventbus"
)

// Snapshot is the full state dump the State API returns (spec §4.5 "State
// API" snapshot), generalizing the original implementation's
// MockDevice.snapshot (which returns bare register lists) into a
// diagnostics-complete view: per-group contents, access stats, installed
// rules and the active fault profile.
type Snapshot struct {
	Groups map[client.DataType][]GroupSnapshot
	Rules  map[RuleKey]Rule
	Faults FaultProfile
}

// GroupSnapshot is one group's current contents plus its access counters.
type GroupSnapshot struct {
	Group Group
	Regs  []uint16
	Bits  []bool
	Stats GroupStats
}

// Snapshot returns a consistent point-in-time view of every store.
func (d *Device) Snapshot() Snapshot {
	d.mu.RLock()
	stores := make(map[client.DataType]*store, len(d.stores))
	for dt, s := range d.stores {
		stores[dt] = s
	}
	rules := d.rulesLocked()
	faults := d.profile
	d.mu.RUnlock()

	out := Snapshot{Groups: make(map[client.DataType][]GroupSnapshot, len(stores)), Rules: rules, Faults: faults}
	for dt, s := range stores {
		s.mu.RLock()
		offset := 0
		for _, g := range s.groups {
			gs := GroupSnapshot{Group: g}
			if isBitType(dt) {
				gs.Bits = append([]bool(nil), s.bits[offset:offset+int(g.Length)]...)
			} else {
				gs.Regs = append([]uint16(nil), s.regs[offset:offset+int(g.Length)]...)
			}
			if st, ok := s.stats[g.Name]; ok {
				gs.Stats = *st
			}
			offset += int(g.Length)
			out.Groups[dt] = append(out.Groups[dt], gs)
		}
		s.mu.RUnlock()
	}
	return out
}

// rulesLocked returns a snapshot of installed rules; caller must already
// hold d.mu.
func (d *Device) rulesLocked() map[RuleKey]Rule {
	out := make(map[RuleKey]Rule, len(d.rules))
	for k, v := range d.rules {
		out[k] = v
	}
	return out
}

// SetEventBus attaches the bus Subscribe delegates to. The mock server's
// Server wires this automatically; a Device used standalone (e.g. in a
// script or test) may leave it nil, in which case Subscribe returns nil.
func (d *Device) SetEventBus(bus *eventbus.Bus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bus = bus
}

// Subscribe registers an observer on the device's event stream (spec §4.5
// "State API" subscribe).
func (d *Device) Subscribe() *eventbus.Subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.bus == nil {
		return nil
	}
	return d.bus.Subscribe()
}

package mockserver

import "github.com/modbus-toolkit/umdt/client"

// ResponseMode selects how a ruled address behaves, mirroring the
// original implementation's ResponseMode enum (spec §4.5).
type ResponseMode string

const (
	ModeNormal      ResponseMode = "normal"
	ModeException   ResponseMode = "exception"
	ModeIgnoreWrite ResponseMode = "ignore-write"
	ModeFrozenValue ResponseMode = "frozen-value"
)

// Rule overrides the default store behavior for one (data_type, address)
// pair (spec §4.5).
type Rule struct {
	Mode          ResponseMode
	ForcedValue   uint16
	ExceptionCode uint8
}

// AddRule installs rule for (dataType, address), replacing any existing
// rule there. Rule updates swap atomically: a request mid-flight sees
// either the old or the new rule, never a partially applied one (spec
// §4.5 "Concurrency").
func (d *Device) AddRule(dataType client.DataType, address uint16, rule Rule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules[RuleKey{dataType, address}] = rule
}

// RemoveRule drops any rule installed at (dataType, address).
func (d *Device) RemoveRule(dataType client.DataType, address uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rules, RuleKey{dataType, address})
}

// Rules returns a snapshot of every installed rule.
func (d *Device) Rules() map[RuleKey]Rule {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[RuleKey]Rule, len(d.rules))
	for k, v := range d.rules {
		out[k] = v
	}
	return out
}

func (d *Device) ruleFor(dataType client.DataType, address uint16) (Rule, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rules[RuleKey{dataType, address}]
	return r, ok
}

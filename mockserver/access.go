package mockserver

import (
	"github.com/modbus-toolkit/umdt/client"
	"github.com/modbus-toolkit/umdt/internal/umdterr"
)

// ReadRegisters serves count consecutive 16-bit values starting at
// address from dataType's store, applying per-address rule overrides
// (exception short-circuits, frozen-value substitutes the stored value)
// exactly as the reference mock device's read loop does. An address not
// covered by any configured group yields IllegalDataAddress (spec §4.5
// step 4).
func (d *Device) ReadRegisters(dataType client.DataType, address, count uint16) ([]uint16, error) {
	d.mu.RLock()
	s, ok := d.stores[dataType]
	d.mu.RUnlock()
	if !ok {
		return nil, umdterr.ModbusException(0x02)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]uint16, count)
	for i := uint16(0); i < count; i++ {
		addr := address + i
		idx, group, found := s.resolveIndex(addr)
		if !found {
			return nil, umdterr.ModbusException(0x02)
		}

		if rule, ok := d.ruleFor(dataType, addr); ok {
			if rule.Mode == ModeException {
				return nil, umdterr.ModbusException(nonZeroOr(rule.ExceptionCode, 0x02))
			}
		}

		value := s.regs[idx]
		if rule, ok := d.ruleFor(dataType, addr); ok && rule.Mode == ModeFrozenValue {
			value = rule.ForcedValue
		}

		out[i] = value
		s.stats[group.Name].Reads++
	}

	return out, nil
}

// ReadBits serves count consecutive coil/discrete-input values.
func (d *Device) ReadBits(dataType client.DataType, address, count uint16) ([]bool, error) {
	d.mu.RLock()
	s, ok := d.stores[dataType]
	d.mu.RUnlock()
	if !ok {
		return nil, umdterr.ModbusException(0x02)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]bool, count)
	for i := uint16(0); i < count; i++ {
		addr := address + i
		idx, group, found := s.resolveIndex(addr)
		if !found {
			return nil, umdterr.ModbusException(0x02)
		}
		if rule, ok := d.ruleFor(dataType, addr); ok && rule.Mode == ModeException {
			return nil, umdterr.ModbusException(nonZeroOr(rule.ExceptionCode, 0x02))
		}
		out[i] = s.bits[idx]
		s.stats[group.Name].Reads++
	}

	return out, nil
}

// WriteRegisters applies values starting at address. A rule in
// ModeFrozenValue or ModeIgnoreWrite suppresses the store update but
// still reports success to the caller, matching the reference
// implementation; an exception rule or a write outside any writable
// group fails the whole request (spec §4.5 step 5).
func (d *Device) WriteRegisters(dataType client.DataType, address uint16, values []uint16) error {
	d.mu.RLock()
	s, ok := d.stores[dataType]
	d.mu.RUnlock()
	if !ok {
		return umdterr.ModbusException(0x02)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, v := range values {
		addr := address + uint16(i)
		idx, group, found := s.resolveIndex(addr)
		if !found || !group.Writable {
			return umdterr.ModbusException(0x02)
		}

		rule, hasRule := d.ruleFor(dataType, addr)
		if hasRule && rule.Mode == ModeException {
			return umdterr.ModbusException(nonZeroOr(rule.ExceptionCode, 0x02))
		}
		if hasRule && (rule.Mode == ModeIgnoreWrite || rule.Mode == ModeFrozenValue) {
			s.stats[group.Name].Writes++
			continue
		}

		s.regs[idx] = v
		s.stats[group.Name].Writes++
	}

	return nil
}

// WriteBits applies coil values starting at address.
func (d *Device) WriteBits(dataType client.DataType, address uint16, values []bool) error {
	d.mu.RLock()
	s, ok := d.stores[dataType]
	d.mu.RUnlock()
	if !ok {
		return umdterr.ModbusException(0x02)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, v := range values {
		addr := address + uint16(i)
		idx, group, found := s.resolveIndex(addr)
		if !found || !group.Writable {
			return umdterr.ModbusException(0x02)
		}

		rule, hasRule := d.ruleFor(dataType, addr)
		if hasRule && rule.Mode == ModeException {
			return umdterr.ModbusException(nonZeroOr(rule.ExceptionCode, 0x02))
		}
		if hasRule && (rule.Mode == ModeIgnoreWrite || rule.Mode == ModeFrozenValue) {
			s.stats[group.Name].Writes++
			continue
		}

		s.bits[idx] = v
		s.stats[group.Name].Writes++
	}

	return nil
}

// Get reads a single value via the State API (spec §4.5).
func (d *Device) Get(dataType client.DataType, address uint16) (uint16, error) {
	if isBitType(dataType) {
		bits, err := d.ReadBits(dataType, address, 1)
		if err != nil {
			return 0, err
		}
		if bits[0] {
			return 1, nil
		}
		return 0, nil
	}
	regs, err := d.ReadRegisters(dataType, address, 1)
	if err != nil {
		return 0, err
	}
	return regs[0], nil
}

// Set writes a single value via the State API, bypassing rule
// suppression — an operator using the state API directly always wins.
func (d *Device) Set(dataType client.DataType, address uint16, value uint16) error {
	d.mu.RLock()
	s, ok := d.stores[dataType]
	d.mu.RUnlock()
	if !ok {
		return umdterr.ModbusException(0x02)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, _, found := s.resolveIndex(address)
	if !found {
		return umdterr.ModbusException(0x02)
	}
	if isBitType(dataType) {
		s.bits[idx] = value != 0
	} else {
		s.regs[idx] = value
	}
	return nil
}

func nonZeroOr(v uint8, fallback uint8) uint8 {
	if v == 0 {
		return fallback
	}
	return v
}

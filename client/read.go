package client

import (
	"context"
	"time"

	"github.com/modbus-toolkit/umdt/buscoord"
	"github.com/modbus-toolkit/umdt/frame"
	"github.com/modbus-toolkit/umdt/internal/umdterr"
)

// Numeric holds every interpretation a single logical value can be
// rendered as; which fields are meaningful depends on the caller's
// requested DataType and Long flag (spec §4.4, "numeric interpretations").
type Numeric struct {
	Hex     string
	Uint16  uint16
	Int16   int16
	Uint32  uint32
	Int32   int32
	Float16 float32
	Float32 float32

	// Endian is which 32-bit permutation produced this value; only set
	// when the caller asked for Endian32All.
	Endian Endian32
}

// ReadParams configures a read operation.
type ReadParams struct {
	UnitID   uint8
	DataType DataType
	Address  uint16
	Count    uint16 // number of logical values
	Long     bool   // each logical value spans 2 registers
	Endian   Endian32
	Timeout  time.Duration
}

// Read performs one read operation, decoding the raw register/coil payload
// into every numeric interpretation spec §4.4 calls for (spec invariant:
// endian=all with a single value returns all four 32-bit permutations).
func (c *Client) Read(ctx context.Context, p ReadParams) ([]Numeric, error) {
	if p.Count == 0 {
		return nil, umdterr.InvalidArgument("count must be > 0")
	}

	regsPerValue := uint16(1)
	if p.Long {
		regsPerValue = 2
	}
	wireCount := p.Count * regsPerValue
	if wireCount > maxRegistersPerRequest {
		return nil, umdterr.InvalidArgument("request spans %d registers, exceeds the %d-register limit", wireCount, maxRegistersPerRequest)
	}
	if uint32(p.Address)+uint32(wireCount)-1 > 0xffff {
		return nil, umdterr.InvalidArgument("end address %d exceeds 0xffff", uint32(p.Address)+uint32(wireCount)-1)
	}

	g, err := c.acquirePriority(ctx, buscoord.PriorityOperator)
	if err != nil {
		return nil, err
	}
	defer releaseGuard(g)

	unitID := c.unitID
	if p.UnitID != 0 {
		unitID = p.UnitID
	}

	switch p.DataType {
	case DataTypeCoil:
		return c.readBits(unitID, frame.FCReadCoils, p)
	case DataTypeDiscreteInput:
		return c.readBits(unitID, frame.FCReadDiscreteInputs, p)
	case DataTypeHoldingRegister:
		return c.readRegs(unitID, frame.FCReadHoldingRegisters, p)
	case DataTypeInputRegister:
		return c.readRegs(unitID, frame.FCReadInputRegisters, p)
	default:
		return nil, umdterr.InvalidArgument("unknown data type %q", p.DataType)
	}
}

func (c *Client) readBits(unitID uint8, fc uint8, p ReadParams) ([]Numeric, error) {
	payload := encode16(Endian16Big, p.Address)
	payload = append(payload, encode16(Endian16Big, p.Count)...)

	f, err := c.exchange(frame.PDU{UnitID: unitID, FunctionCode: fc, Payload: payload}, p.Timeout)
	if err != nil {
		return nil, err
	}

	if len(f.Payload) < 1 {
		return nil, umdterr.Frame(f.Reason, f.RawBytes)
	}
	bits := f.Payload[1:]

	out := make([]Numeric, p.Count)
	for i := uint16(0); i < p.Count; i++ {
		byteIdx, bitIdx := i/8, i%8
		if int(byteIdx) >= len(bits) {
			break
		}
		v := (bits[byteIdx] >> bitIdx) & 0x01
		out[i] = Numeric{Hex: hexByte(v), Uint16: uint16(v)}
	}
	return out, nil
}

func (c *Client) readRegs(unitID uint8, fc uint8, p ReadParams) ([]Numeric, error) {
	regsPerValue := uint16(1)
	if p.Long {
		regsPerValue = 2
	}
	wireCount := p.Count * regsPerValue

	payload := encode16(Endian16Big, p.Address)
	payload = append(payload, encode16(Endian16Big, wireCount)...)

	f, err := c.exchange(frame.PDU{UnitID: unitID, FunctionCode: fc, Payload: payload}, p.Timeout)
	if err != nil {
		return nil, err
	}

	if len(f.Payload) < 1 || len(f.Payload) != 1+2*int(wireCount) {
		return nil, umdterr.Frame(f.Reason, f.RawBytes)
	}
	regsBytes := f.Payload[1:]

	regs := make([]uint16, wireCount)
	for i := range regs {
		regs[i] = decode16(c.endian16, regsBytes[2*i:2*i+2])
	}

	out := make([]Numeric, p.Count)
	for i := uint16(0); i < p.Count; i++ {
		if !p.Long {
			v := regs[i]
			out[i] = decode16Numeric(v)
			continue
		}

		hi, lo := regs[2*i], regs[2*i+1]
		if p.Endian == Endian32All && p.Count == 1 {
			// caller asked for every 32-bit permutation of the single value
			perms := make([]Numeric, len(all32))
			for j, mode := range all32 {
				perms[j] = decode32Numeric(mode, hi, lo)
			}
			return perms, nil
		}

		mode := p.Endian
		if mode == "" || mode == Endian32All {
			mode = Endian32Big
		}
		out[i] = decode32Numeric(mode, hi, lo)
	}
	return out, nil
}

func decode16Numeric(v uint16) Numeric {
	return Numeric{
		Hex:     hexUint16(v),
		Uint16:  v,
		Int16:   int16(v),
		Float16: float16FromBits(v),
	}
}

func decode32Numeric(mode Endian32, hi, lo uint16) Numeric {
	u32 := decode32(mode, hi, lo)
	return Numeric{
		Hex:     hexUint32(u32),
		Uint32:  u32,
		Int32:   int32(u32),
		Float32: float32FromBits(mode, hi, lo),
		Endian:  mode,
	}
}

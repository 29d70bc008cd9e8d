package client

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/modbus-toolkit/umdt/buscoord"
	"github.com/modbus-toolkit/umdt/eventbus"
	"github.com/modbus-toolkit/umdt/frame"
	"github.com/modbus-toolkit/umdt/internal/umdterr"
)

// WriteParams configures a write operation. Input is parsed as an integer
// (0 or 1 for a coil), a float16 or a float32, chosen by DataType/Float/Long.
type WriteParams struct {
	UnitID   uint8
	DataType DataType
	Address  uint16
	Endian   Endian32

	// Input, as the caller typed it: decimal or 0x-prefixed hex for
	// integers. Hex is rejected for float inputs (spec §4.4, "input
	// normalization").
	Input string

	Long   bool
	Signed bool
	Float  bool

	Timeout time.Duration
}

// parsedInt normalizes Input per spec §4.4: decimal or 0x-hex, with a
// negative literal implying Signed regardless of the caller's flag.
func (p *WriteParams) parsedInt() (int64, bool, error) {
	s := strings.TrimSpace(p.Input)
	if p.Float {
		return 0, false, umdterr.InvalidArgument("hex/decimal parsing requested for a float write")
	}

	signed := p.Signed
	neg := strings.HasPrefix(s, "-")
	if neg {
		signed = true
	}

	trimmed := strings.TrimPrefix(s, "-")
	var v int64
	var err error
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if neg {
			return 0, false, umdterr.InvalidArgument("hex input %q cannot be negative", p.Input)
		}
		u, perr := strconv.ParseUint(trimmed[2:], 16, 64)
		if perr != nil {
			return 0, false, umdterr.InvalidArgument("invalid hex input %q: %v", p.Input, perr)
		}
		v = int64(u)
	} else {
		v, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false, umdterr.InvalidArgument("invalid decimal input %q: %v", p.Input, err)
		}
	}

	return v, signed, nil
}

func (p *WriteParams) parsedFloat() (float64, error) {
	s := strings.TrimSpace(p.Input)
	digits := strings.TrimLeft(s, "+-")
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		return 0, umdterr.InvalidArgument("hex input %q is not accepted for a float write", p.Input)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, umdterr.InvalidArgument("invalid float input %q: %v", p.Input, err)
	}
	return f, nil
}

// Write performs one write operation: FC 05 for a coil, FC 06 for a
// single register, FC 16 for multi-register or 32-bit values (spec §4.4).
// A coil write always targets a single coil; FC 15 (write multiple coils)
// is never sent.
func (c *Client) Write(ctx context.Context, p WriteParams) error {
	g, err := c.acquirePriority(ctx, buscoord.PriorityOperator)
	if err != nil {
		return err
	}
	defer releaseGuard(g)

	unitID := c.unitID
	if p.UnitID != 0 {
		unitID = p.UnitID
	}

	if p.DataType == DataTypeCoil {
		return c.writeCoil(unitID, p)
	}

	return c.writeRegister(unitID, p)
}

func (c *Client) writeCoil(unitID uint8, p WriteParams) error {
	v, _, err := p.parsedInt()
	if err != nil {
		return err
	}
	if v != 0 && v != 1 {
		return umdterr.InvalidArgument("coil value must be 0 or 1, got %d", v)
	}

	coilValue := uint16(0x0000)
	if v == 1 {
		coilValue = 0xff00
	}

	c.preflight(p.Address, 1, bytesPerRegisterFor(p), hexUint16(coilValue))

	payload := encode16(Endian16Big, p.Address)
	payload = append(payload, encode16(Endian16Big, coilValue)...)

	f, err := c.exchange(frame.PDU{UnitID: unitID, FunctionCode: frame.FCWriteSingleCoil, Payload: payload}, p.Timeout)
	if err != nil {
		return err
	}
	if len(f.Payload) != 4 {
		return umdterr.Frame(f.Reason, f.RawBytes)
	}
	return nil
}

func (c *Client) writeRegister(unitID uint8, p WriteParams) error {
	var regs []uint16

	switch {
	case p.Float && p.Long:
		f, err := p.parsedFloat()
		if err != nil {
			return err
		}
		mode := p.Endian
		if mode == "" {
			mode = Endian32Big
		}
		hi, lo := float32Bits(mode, float32(f))
		regs = []uint16{hi, lo}

	case p.Float:
		f, err := p.parsedFloat()
		if err != nil {
			return err
		}
		regs = []uint16{float16Bits(float32(f))}

	case p.Long:
		v, signed, err := p.parsedInt()
		if err != nil {
			return err
		}
		if err := boundsCheck32(v, signed); err != nil {
			return err
		}
		mode := p.Endian
		if mode == "" {
			mode = Endian32Big
		}
		abcd := encode32(mode, uint32(v))
		regs = []uint16{
			uint16(abcd[0])<<8 | uint16(abcd[1]),
			uint16(abcd[2])<<8 | uint16(abcd[3]),
		}

	default:
		v, signed, err := p.parsedInt()
		if err != nil {
			return err
		}
		if err := boundsCheck16(v, signed); err != nil {
			return err
		}
		regs = []uint16{uint16(v)}
	}

	c.preflight(p.Address, len(regs), bytesPerRegisterFor(p), hexRegs(regs))

	if len(regs) == 1 {
		payload := encode16(Endian16Big, p.Address)
		payload = append(payload, encode16(c.endian16, regs[0])...)
		f, err := c.exchange(frame.PDU{UnitID: unitID, FunctionCode: frame.FCWriteSingleRegister, Payload: payload}, p.Timeout)
		if err != nil {
			return err
		}
		if len(f.Payload) != 4 {
			return umdterr.Frame(f.Reason, f.RawBytes)
		}
		return nil
	}

	payload := encode16(Endian16Big, p.Address)
	payload = append(payload, encode16(Endian16Big, uint16(len(regs)))...)
	payload = append(payload, byte(2*len(regs)))
	for _, r := range regs {
		payload = append(payload, encode16(c.endian16, r)...)
	}

	f, err := c.exchange(frame.PDU{UnitID: unitID, FunctionCode: frame.FCWriteMultipleRegisters, Payload: payload}, p.Timeout)
	if err != nil {
		return err
	}
	if len(f.Payload) != 4 {
		return umdterr.Frame(f.Reason, f.RawBytes)
	}
	return nil
}

// preflight emits the summary event spec §4.4 requires before the frame is
// sent: address index, bytes per register, and the numeric interpretation.
func (c *Client) preflight(address uint16, regCount, bytesPerReg int, interpretation string) {
	c.publish(eventbus.KindRequest, map[string]interface{}{
		"phase":           "preflight",
		"address":         address,
		"register_count":  regCount,
		"bytes_per_reg":   bytesPerReg,
		"interpretation":  interpretation,
	})
}

func bytesPerRegisterFor(p WriteParams) int {
	if p.Long {
		return 4
	}
	return 2
}

func hexRegs(regs []uint16) string {
	s := ""
	for i, r := range regs {
		if i > 0 {
			s += " "
		}
		s += hexUint16(r)
	}
	return s
}

func boundsCheck16(v int64, signed bool) error {
	if signed {
		if v < math.MinInt16 || v > math.MaxInt16 {
			return umdterr.InvalidArgument("value %d out of int16 range", v)
		}
	} else {
		if v < 0 || v > math.MaxUint16 {
			return umdterr.InvalidArgument("value %d out of uint16 range", v)
		}
	}
	return nil
}

func boundsCheck32(v int64, signed bool) error {
	if signed {
		if v < math.MinInt32 || v > math.MaxInt32 {
			return umdterr.InvalidArgument("value %d out of int32 range", v)
		}
	} else {
		if v < 0 || v > math.MaxUint32 {
			return umdterr.InvalidArgument("value %d out of uint32 range", v)
		}
	}
	return nil
}

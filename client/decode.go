package client

import "fmt"

func hexByte(v uint8) string    { return fmt.Sprintf("0x%02x", v) }
func hexUint16(v uint16) string { return fmt.Sprintf("0x%04x", v) }
func hexUint32(v uint32) string { return fmt.Sprintf("0x%08x", v) }

// DecodeRow is one line of the decode table the "decode" CLI surface
// prints: a single endian permutation and every numeric reading of it
// (spec §6, "decode").
type DecodeRow struct {
	Endian16 Endian16
	Endian32 Endian32
	Value    Numeric
}

// DecodeRegisters is the standalone decoding entry point behind the
// client's "decode" surface: given one register it produces the Big/
// Little 16-bit table; given two it produces the four 32-bit permutation
// rows (spec §6, acceptance scenario S3).
func DecodeRegisters(regs ...uint16) []DecodeRow {
	switch len(regs) {
	case 1:
		return []DecodeRow{
			{Endian16: Endian16Big, Value: decode16Numeric(regs[0])},
			{Endian16: Endian16Little, Value: decode16Numeric(swapBytes(regs[0]))},
		}
	case 2:
		rows := make([]DecodeRow, 0, len(all32))
		for _, mode := range all32 {
			rows = append(rows, DecodeRow{Endian32: mode, Value: decode32Numeric(mode, regs[0], regs[1])})
		}
		return rows
	default:
		return nil
	}
}

func swapBytes(v uint16) uint16 {
	return v<<8 | v>>8
}

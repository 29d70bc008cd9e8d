package frame

import (
	"github.com/modbus-toolkit/umdt/internal/crc"
	"github.com/modbus-toolkit/umdt/internal/umdterr"
)

// EncodeRTU turns a PDU into an RTU ADU: unit ‖ function ‖ payload ‖
// crc_lo ‖ crc_hi (spec §4.1).
func EncodeRTU(p PDU) []byte {
	adu := make([]byte, 0, 4+len(p.Payload))
	adu = append(adu, p.UnitID, p.FunctionCode)
	adu = append(adu, p.Payload...)

	c := crc.Of(adu)
	b := c.Bytes()
	adu = append(adu, b[0], b[1])

	return adu
}

// DecodeRTU permissively decodes a complete RTU frame once the transport
// has declared a boundary (spec §4.1, point 2). It never returns an error:
// malformed frames come back with Valid=false and a reason, carrying
// whatever fields could be parsed, so a diagnostic tool can still present
// them.
func DecodeRTU(buf []byte) *Frame {
	f := &Frame{RawBytes: append([]byte(nil), buf...)}

	if len(buf) < 4 {
		f.Reason = umdterr.ReasonTruncated
		return f
	}

	f.UnitID = buf[0]
	f.FunctionCode = buf[1]
	f.Payload = append([]byte(nil), buf[2:len(buf)-2]...)

	expected := crc.Of(buf[:len(buf)-2])
	lo, hi := buf[len(buf)-2], buf[len(buf)-1]

	if expected.Equal(lo, hi) {
		f.Valid = true
	} else {
		f.Reason = umdterr.ReasonCRC
	}

	return f
}

// HintPayloadLength predicts, from a function code and (for variable-length
// replies) a byte-count field, how many further bytes remain to be read
// after the 2-byte unit+function header, not counting the trailing 2-byte
// CRC. ok is false when the function code is unrecognized: the RTU
// transport then returns an unknown_function frame, and the Reassembler
// gives up on that start offset.
func HintPayloadLength(functionCode uint8, byteCountHint uint8) (n int, ok bool) {
	if IsException(functionCode) {
		return 1, true
	}

	switch functionCode {
	case FCReadCoils, FCReadDiscreteInputs, FCReadHoldingRegisters,
		FCReadInputRegisters:
		// 1 byte count field + that many data bytes
		return 1 + int(byteCountHint), true
	case FCWriteSingleCoil, FCWriteSingleRegister,
		FCWriteMultipleCoils, FCWriteMultipleRegisters:
		return 4, true
	default:
		return 0, false
	}
}

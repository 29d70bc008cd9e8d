package frame

import "encoding/binary"

// MBAPHeaderLength is the fixed 7-byte prefix on every TCP Modbus frame:
// transaction id (2) + protocol id (2) + length (2) + unit id (1).
const MBAPHeaderLength = 7

// MaxTCPFrameLength bounds a single MBAP frame (header + PDU) to guard
// against a corrupt length field driving an unbounded read.
const MaxTCPFrameLength = 260

// EncodeTCP renders an MBAP frame: txn_hi ‖ txn_lo ‖ 00 00 ‖ len_hi ‖
// len_lo ‖ unit ‖ function ‖ payload, where length = 1 (unit) + 1
// (function) + len(payload) (spec §4.1).
func EncodeTCP(txnID uint16, p PDU) []byte {
	length := uint16(2 + len(p.Payload))

	buf := make([]byte, 0, MBAPHeaderLength+len(p.Payload))
	buf = binary.BigEndian.AppendUint16(buf, txnID)
	buf = binary.BigEndian.AppendUint16(buf, 0x0000) // protocol id
	buf = binary.BigEndian.AppendUint16(buf, length)
	buf = append(buf, p.UnitID, p.FunctionCode)
	buf = append(buf, p.Payload...)

	return buf
}

// DecodeMBAPHeader parses the fixed 7-byte MBAP header and reports how many
// further bytes (unit id + function code + payload) the caller must read
// to complete the frame. It only ever fails on a structurally invalid
// header (wrong length); the caller is responsible for turning a short
// read into a truncated Frame.
func DecodeMBAPHeader(hdr []byte) (txnID, protocolID uint16, remaining int, unitID uint8, ok bool) {
	if len(hdr) != MBAPHeaderLength {
		return 0, 0, 0, 0, false
	}

	txnID = binary.BigEndian.Uint16(hdr[0:2])
	protocolID = binary.BigEndian.Uint16(hdr[2:4])
	length := binary.BigEndian.Uint16(hdr[4:6])
	unitID = hdr[6]

	// length includes the unit id byte we already have.
	remaining = int(length) - 1

	return txnID, protocolID, remaining, unitID, true
}

// DecodeTCPBody assembles the final Frame once the header and the
// remaining body bytes (function code + payload) have both been read.
func DecodeTCPBody(txnID uint16, unitID uint8, body []byte) *Frame {
	raw := make([]byte, 0, MBAPHeaderLength+len(body))
	raw = binary.BigEndian.AppendUint16(raw, txnID)
	raw = binary.BigEndian.AppendUint16(raw, 0)
	raw = binary.BigEndian.AppendUint16(raw, uint16(1+len(body)))
	raw = append(raw, unitID)
	raw = append(raw, body...)

	return &Frame{
		PDU: PDU{
			UnitID:       unitID,
			FunctionCode: body[0],
			Payload:      body[1:],
		},
		Valid:    true,
		RawBytes: raw,
	}
}

// Package frame implements the Modbus frame codec: PDU encoding, RTU
// framing with CRC-16/Modbus, TCP/MBAP framing, and permissive decoding of
// malformed frames (spec §4.1). Frame boundaries are well defined by the
// transport layer for the client and mock server paths; the sliding-window
// reassembler in reassemble.go exists only for passive sniffing.
package frame

import (
	"encoding/binary"

	"github.com/modbus-toolkit/umdt/internal/umdterr"
)

// PDU is the medium-independent protocol data unit: function code plus
// payload, addressed to a unit id. It is the shared currency between the
// transport layer and every engine built on top of it.
type PDU struct {
	UnitID       uint8
	FunctionCode uint8
	Payload      []byte
}

// Frame wraps a decoded PDU with the metadata every received frame carries
// per spec §3: whether the CRC (RTU) or framing (TCP) was sound, and why
// not when it wasn't. Malformed frames are never discarded — they travel
// with Valid=false and a RawBytes capture for diagnostics.
type Frame struct {
	PDU

	Valid    bool
	Reason   umdterr.FrameErrorReason
	RawBytes []byte
}

// Request is the semantic view of an incoming PDU used by the mock server
// and bridge: either a read/write of a register range, or a raw payload
// for function codes that don't fit that shape (spec §3).
type Request struct {
	UnitID       uint8
	FunctionCode uint8
	StartAddress uint16
	Quantity     uint16
	Values       []byte
	RawBytes     []byte
}

// Response is the semantic view of an outgoing/received PDU.
type Response struct {
	UnitID        uint8
	FunctionCode  uint8
	Payload       []byte
	IsException   bool
	ExceptionCode uint8
	RawBytes      []byte
}

// ExceptionResponse builds a Response carrying a Modbus exception code for
// the given request's function code, mirroring
// ctx.make_response_exception from spec §4.7.
func ExceptionResponse(req *Request, code uint8) *Response {
	return &Response{
		UnitID:        req.UnitID,
		FunctionCode:  req.FunctionCode | ExceptionBit,
		Payload:       []byte{code},
		IsException:   true,
		ExceptionCode: code,
	}
}

// ToPDU renders a Request back into a raw PDU for relaying (e.g. the bridge
// forwarding downstream). The payload is a copy of RawBytes with the current
// StartAddress (and, for reads and multiple writes, Quantity) written over
// its first four bytes, so a hook's rewrite of those fields is forwarded.
func (r *Request) ToPDU() PDU {
	payload := append([]byte(nil), r.RawBytes...)
	if len(payload) >= 4 {
		switch r.FunctionCode {
		case FCReadCoils, FCReadDiscreteInputs, FCReadHoldingRegisters, FCReadInputRegisters,
			FCWriteMultipleCoils, FCWriteMultipleRegisters:
			binary.BigEndian.PutUint16(payload[0:2], r.StartAddress)
			binary.BigEndian.PutUint16(payload[2:4], r.Quantity)
		case FCWriteSingleCoil, FCWriteSingleRegister:
			binary.BigEndian.PutUint16(payload[0:2], r.StartAddress)
		}
	}
	return PDU{UnitID: r.UnitID, FunctionCode: r.FunctionCode, Payload: payload}
}

// ToPDU renders a Response into a raw PDU for encoding onto the wire.
func (r *Response) ToPDU() PDU {
	return PDU{UnitID: r.UnitID, FunctionCode: r.FunctionCode, Payload: r.Payload}
}

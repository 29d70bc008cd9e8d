package frame

import "encoding/binary"

// DecodeRequest builds the semantic view of a decoded Frame's PDU: the
// address/quantity pair every read and write function code shares, plus
// the raw value bytes for writes. Shared by the mock server and the
// bridge so both hand the same shape to script hooks (spec §4.5, §4.6).
func DecodeRequest(f *Frame) *Request {
	req := &Request{UnitID: f.UnitID, FunctionCode: f.FunctionCode, RawBytes: f.Payload}

	switch f.FunctionCode {
	case FCReadCoils, FCReadDiscreteInputs,
		FCReadHoldingRegisters, FCReadInputRegisters:
		if len(f.Payload) >= 4 {
			req.StartAddress = binary.BigEndian.Uint16(f.Payload[0:2])
			req.Quantity = binary.BigEndian.Uint16(f.Payload[2:4])
		}
	case FCWriteSingleCoil, FCWriteSingleRegister:
		if len(f.Payload) >= 4 {
			req.StartAddress = binary.BigEndian.Uint16(f.Payload[0:2])
			req.Quantity = binary.BigEndian.Uint16(f.Payload[2:4]) // reused as the single value
			req.Values = f.Payload[2:4]
		}
	case FCWriteMultipleCoils, FCWriteMultipleRegisters:
		if len(f.Payload) >= 5 {
			req.StartAddress = binary.BigEndian.Uint16(f.Payload[0:2])
			req.Quantity = binary.BigEndian.Uint16(f.Payload[2:4])
			byteCount := f.Payload[4]
			if len(f.Payload) >= int(5+byteCount) {
				req.Values = f.Payload[5 : 5+int(byteCount)]
			}
		}
	}

	return req
}

// DecodeResponse builds the semantic Response view of a decoded downstream
// reply Frame, for components (the bridge) that relay a response onward
// without the mock server's per-function-code response builders.
func DecodeResponse(f *Frame) *Response {
	resp := &Response{UnitID: f.UnitID, FunctionCode: f.FunctionCode, Payload: f.Payload, RawBytes: f.RawBytes}
	if IsException(f.FunctionCode) {
		resp.IsException = true
		if len(f.Payload) > 0 {
			resp.ExceptionCode = f.Payload[0]
		}
	}
	return resp
}

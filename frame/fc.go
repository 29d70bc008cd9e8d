package frame

// Function codes from the minimum required table in spec §4.1. Exception
// responses set the high bit (FuncCode | 0x80).
const (
	FCReadCoils                  uint8 = 0x01
	FCReadDiscreteInputs         uint8 = 0x02
	FCReadHoldingRegisters       uint8 = 0x03
	FCReadInputRegisters         uint8 = 0x04
	FCWriteSingleCoil            uint8 = 0x05
	FCWriteSingleRegister        uint8 = 0x06
	FCWriteMultipleCoils         uint8 = 0x0f
	FCWriteMultipleRegisters     uint8 = 0x10
	FCReadWriteMultipleRegisters uint8 = 0x17
	FCReadDeviceIdentification   uint8 = 0x2b
)

// ExceptionBit, OR-ed into the request's function code to mark a response
// as a Modbus exception.
const ExceptionBit uint8 = 0x80

// Exception codes, single byte, valid range {1..11}.
const (
	ExIllegalFunction        uint8 = 0x01
	ExIllegalDataAddress     uint8 = 0x02
	ExIllegalDataValue       uint8 = 0x03
	ExServerDeviceFailure    uint8 = 0x04
	ExAcknowledge            uint8 = 0x05
	ExServerDeviceBusy       uint8 = 0x06
	ExMemoryParityError      uint8 = 0x08
	ExGWPathUnavailable      uint8 = 0x0a
	ExGWTargetFailedToRespond uint8 = 0x0b
)

// IsException reports whether functionCode carries the exception bit.
func IsException(functionCode uint8) bool {
	return functionCode&ExceptionBit != 0
}

// fixedResponseLength returns the number of bytes that follow the function
// code for function codes whose reply has a known, fixed length. Nothing in
// the module calls it: HintPayloadLength (rtu.go), which RTU length-hinting
// (§4.1) and the sliding-window reassembler use, repeats these lengths.
// ok is false for variable-length replies (reads), where the caller must
// consult the byte-count field instead.
func fixedResponseLength(functionCode uint8) (n int, ok bool) {
	switch functionCode {
	case FCWriteSingleCoil, FCWriteSingleRegister,
		FCWriteMultipleCoils, FCWriteMultipleRegisters:
		return 4, true
	default:
		if IsException(functionCode) {
			return 1, true
		}
		return 0, false
	}
}

package mockserver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modbus-toolkit/umdt/client"
	"github.com/modbus-toolkit/umdt/frame"
)

func readHoldingPDU(address, quantity uint16) frame.PDU {
	payload := make([]byte, 0, 4)
	payload = appendU16(payload, address)
	payload = appendU16(payload, quantity)
	return frame.PDU{UnitID: 1, FunctionCode: frame.FCReadHoldingRegisters, Payload: payload}
}

func appendU16(buf []byte, v uint16) []byte {
	return append(buf, byte(v>>8), byte(v))
}

func TestServerDropRateOneSuppressesEveryResponse(t *testing.T) {
	device := NewDevice()
	device.AddGroup(Group{Name: "holding", DataType: client.DataTypeHoldingRegister, Start: 0, Length: 10, Writable: true})
	device.UpdateFaults(FaultProfile{DropRate: 1.0, RandomSeed: 1})

	addr, stop := newTestServer(t, device)
	defer stop()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(frame.EncodeTCP(1, readHoldingPDU(0, 1)))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 16)
	_, err = conn.Read(buf)
	require.Error(t, err, "expected no reply for a 100%% drop rate")
}

func TestServerLatencyDelaysResponse(t *testing.T) {
	device := NewDevice()
	device.AddGroup(Group{Name: "holding", DataType: client.DataTypeHoldingRegister, Start: 0, Length: 10, Writable: true})
	device.UpdateFaults(FaultProfile{LatencyMS: 150, RandomSeed: 1})

	addr, stop := newTestServer(t, device)
	defer stop()

	start := time.Now()
	resp := dialAndExchange(t, addr, 1, readHoldingPDU(0, 1))
	elapsed := time.Since(start)

	require.False(t, frame.IsException(resp.FunctionCode))
	require.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "expected configured latency to delay the response")
}

func TestServerBitFlipRateOneCorruptsPayload(t *testing.T) {
	device := NewDevice()
	device.AddGroup(Group{Name: "holding", DataType: client.DataTypeHoldingRegister, Start: 0, Length: 10, Writable: true})
	device.Set(client.DataTypeHoldingRegister, 0, 0x0000)
	device.UpdateFaults(FaultProfile{BitFlipRate: 1.0, RandomSeed: 1})

	addr, stop := newTestServer(t, device)
	defer stop()

	resp := dialAndExchange(t, addr, 2, readHoldingPDU(0, 1))
	require.False(t, frame.IsException(resp.FunctionCode))

	flipped := false
	for _, b := range resp.Payload {
		if b != 0 {
			flipped = true
			break
		}
	}
	require.True(t, flipped, "expected bit_flip_rate=1.0 to corrupt the outgoing payload")

	v, err := device.Get(client.DataTypeHoldingRegister, 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, v, "bit-flip must not corrupt the stored value, only the outgoing wire payload")
}

func TestServerForcedExceptionShortCircuitsEveryRequest(t *testing.T) {
	device := NewDevice()
	device.AddGroup(Group{Name: "holding", DataType: client.DataTypeHoldingRegister, Start: 0, Length: 10, Writable: true})
	code := frame.ExServerDeviceFailure
	device.UpdateFaults(FaultProfile{ForcedException: &code})

	addr, stop := newTestServer(t, device)
	defer stop()

	resp := dialAndExchange(t, addr, 3, readHoldingPDU(0, 1))
	require.True(t, frame.IsException(resp.FunctionCode))
	require.Equal(t, code, resp.Payload[0])
}

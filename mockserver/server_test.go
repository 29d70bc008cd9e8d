package mockserver

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/modbus-toolkit/umdt/client"
	"github.com/modbus-toolkit/umdt/frame"
	"github.com/modbus-toolkit/umdt/internal/obslog"
)

func newTestServer(t *testing.T, device *Device) (addr string, stop func()) {
	t.Helper()

	srv := NewServer(ServerConfig{URL: "tcp://127.0.0.1:0", Log: obslog.Nop()}, device)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	// Start binds the server's own listener from conf.URL; since we need the
	// ephemeral port up front, reuse this probe listener's address and let
	// the server bind its own socket on it after closing the probe.
	addr = ln.Addr().String()
	ln.Close()

	srv.conf.URL = "tcp://" + addr
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	return addr, func() { srv.Stop() }
}

func dialAndExchange(t *testing.T, addr string, txnID uint16, pdu frame.PDU) *frame.Frame {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(frame.EncodeTCP(txnID, pdu)); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	hdr := make([]byte, frame.MBAPHeaderLength)
	if _, err := readFull(conn, hdr); err != nil {
		t.Fatalf("read header: %v", err)
	}
	gotTxnID, _, remaining, unitID, ok := frame.DecodeMBAPHeader(hdr)
	if !ok {
		t.Fatalf("bad MBAP header")
	}
	body := make([]byte, remaining)
	if _, err := readFull(conn, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if gotTxnID != txnID {
		t.Fatalf("expected txn id %d echoed back, got %d", txnID, gotTxnID)
	}
	return frame.DecodeTCPBody(gotTxnID, unitID, body)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestServerReadHoldingRegisters(t *testing.T) {
	device := NewDevice()
	device.AddGroup(Group{Name: "holding", DataType: client.DataTypeHoldingRegister, Start: 0, Length: 10, Writable: true})
	device.Set(client.DataTypeHoldingRegister, 5, 1234)

	addr, stop := newTestServer(t, device)
	defer stop()

	payload := make([]byte, 0, 4)
	payload = binary.BigEndian.AppendUint16(payload, 5)
	payload = binary.BigEndian.AppendUint16(payload, 1)

	resp := dialAndExchange(t, addr, 7, frame.PDU{UnitID: 1, FunctionCode: frame.FCReadHoldingRegisters, Payload: payload})
	if resp.FunctionCode != frame.FCReadHoldingRegisters {
		t.Fatalf("unexpected function code %#x", resp.FunctionCode)
	}
	if len(resp.Payload) != 3 || resp.Payload[0] != 2 {
		t.Fatalf("unexpected payload %v", resp.Payload)
	}
	got := binary.BigEndian.Uint16(resp.Payload[1:3])
	if got != 1234 {
		t.Fatalf("expected 1234, got %d", got)
	}
}

func TestServerReadOutsideGroupReturnsIllegalDataAddress(t *testing.T) {
	device := NewDevice()
	device.AddGroup(Group{Name: "holding", DataType: client.DataTypeHoldingRegister, Start: 0, Length: 10, Writable: true})

	addr, stop := newTestServer(t, device)
	defer stop()

	payload := make([]byte, 0, 4)
	payload = binary.BigEndian.AppendUint16(payload, 100)
	payload = binary.BigEndian.AppendUint16(payload, 1)

	resp := dialAndExchange(t, addr, 1, frame.PDU{UnitID: 1, FunctionCode: frame.FCReadHoldingRegisters, Payload: payload})
	if !frame.IsException(resp.FunctionCode) || resp.Payload[0] != frame.ExIllegalDataAddress {
		t.Fatalf("expected IllegalDataAddress, got %+v", resp)
	}
}

func TestServerWriteSingleRegisterThenRead(t *testing.T) {
	device := NewDevice()
	device.AddGroup(Group{Name: "holding", DataType: client.DataTypeHoldingRegister, Start: 0, Length: 10, Writable: true})

	addr, stop := newTestServer(t, device)
	defer stop()

	writePayload := make([]byte, 0, 4)
	writePayload = binary.BigEndian.AppendUint16(writePayload, 3)
	writePayload = binary.BigEndian.AppendUint16(writePayload, 999)

	resp := dialAndExchange(t, addr, 2, frame.PDU{UnitID: 1, FunctionCode: frame.FCWriteSingleRegister, Payload: writePayload})
	if frame.IsException(resp.FunctionCode) {
		t.Fatalf("unexpected exception: %+v", resp)
	}

	v, err := device.Get(client.DataTypeHoldingRegister, 3)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != 999 {
		t.Fatalf("expected 999, got %d", v)
	}
}

func TestServerExceptionRule(t *testing.T) {
	device := NewDevice()
	device.AddGroup(Group{Name: "holding", DataType: client.DataTypeHoldingRegister, Start: 0, Length: 10, Writable: true})
	device.AddRule(client.DataTypeHoldingRegister, 2, Rule{Mode: ModeException, ExceptionCode: frame.ExServerDeviceFailure})

	addr, stop := newTestServer(t, device)
	defer stop()

	payload := make([]byte, 0, 4)
	payload = binary.BigEndian.AppendUint16(payload, 2)
	payload = binary.BigEndian.AppendUint16(payload, 1)

	resp := dialAndExchange(t, addr, 3, frame.PDU{UnitID: 1, FunctionCode: frame.FCReadHoldingRegisters, Payload: payload})
	if !frame.IsException(resp.FunctionCode) || resp.Payload[0] != frame.ExServerDeviceFailure {
		t.Fatalf("expected forced exception, got %+v", resp)
	}
}

func TestServerFrozenValueRule(t *testing.T) {
	device := NewDevice()
	device.AddGroup(Group{Name: "holding", DataType: client.DataTypeHoldingRegister, Start: 0, Length: 10, Writable: true})
	device.AddRule(client.DataTypeHoldingRegister, 4, Rule{Mode: ModeFrozenValue, ForcedValue: 42})

	addr, stop := newTestServer(t, device)
	defer stop()

	payload := make([]byte, 0, 4)
	payload = binary.BigEndian.AppendUint16(payload, 4)
	payload = binary.BigEndian.AppendUint16(payload, 1)

	resp := dialAndExchange(t, addr, 4, frame.PDU{UnitID: 1, FunctionCode: frame.FCReadHoldingRegisters, Payload: payload})
	got := binary.BigEndian.Uint16(resp.Payload[1:3])
	if got != 42 {
		t.Fatalf("expected frozen value 42, got %d", got)
	}
}

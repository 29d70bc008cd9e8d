package transport

import (
	"net"
	"testing"
	"time"

	"github.com/modbus-toolkit/umdt/frame"
)

func TestTCPTransportRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, frame.MBAPHeaderLength+5)
		if _, err := readFull(conn, buf); err != nil {
			return
		}
		// echo back a holding-register read response for whatever
		// transaction id the client used.
		txnID, _, _, unitID, _ := frame.DecodeMBAPHeader(buf[:frame.MBAPHeaderLength])
		resp := frame.PDU{
			UnitID:       unitID,
			FunctionCode: frame.FCReadHoldingRegisters,
			Payload:      []byte{0x02, 0x00, 0x0a},
		}
		conn.Write(encodeTCPForTest(txnID, resp))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr := NewTCP(TCPConfig{Host: "127.0.0.1", Port: addr.Port, DialTimeout: time.Second})
	if err := tr.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tr.Close()

	req := frame.PDU{UnitID: 1, FunctionCode: frame.FCReadHoldingRegisters, Payload: []byte{0x00, 0x00, 0x00, 0x01}}
	if err := tr.Send(encodeTCPForTest(9, req)); err != nil {
		t.Fatalf("send: %v", err)
	}

	f, err := tr.ReceiveFrame(time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !f.Valid {
		t.Fatalf("expected valid frame, reason=%v", f.Reason)
	}
	if len(f.Payload) != 3 || f.Payload[0] != 0x02 {
		t.Fatalf("unexpected payload: % x", f.Payload)
	}

	<-serverDone
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

func encodeTCPForTest(txnID uint16, p frame.PDU) []byte {
	return frame.EncodeTCP(txnID, p)
}

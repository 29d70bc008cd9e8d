package client

import (
	"context"
	"testing"
	"time"

	"github.com/modbus-toolkit/umdt/frame"
	"github.com/modbus-toolkit/umdt/transport"
)

// fakeTransport is an in-memory transport.Transport used to exercise the
// client's read/write/exchange logic without a real socket or serial port.
type fakeTransport struct {
	kind    transport.Kind
	sent    [][]byte
	replies []*frame.Frame
	events  chan transport.Event
}

func newFakeTransport(kind transport.Kind) *fakeTransport {
	return &fakeTransport{kind: kind, events: make(chan transport.Event, 1)}
}

func (f *fakeTransport) Open() error  { return nil }
func (f *fakeTransport) Close() error { return nil }
func (f *fakeTransport) Send(buf []byte) error {
	f.sent = append(f.sent, append([]byte(nil), buf...))
	return nil
}
func (f *fakeTransport) ReceiveFrame(time.Duration) (*frame.Frame, error) {
	if len(f.replies) == 0 {
		return nil, nil
	}
	fr := f.replies[0]
	f.replies = f.replies[1:]
	return fr, nil
}
func (f *fakeTransport) Events() <-chan transport.Event { return f.events }
func (f *fakeTransport) Kind() transport.Kind            { return f.kind }

func newTestClient(tr *fakeTransport) *Client {
	c, _ := New(Config{URL: "tcp://127.0.0.1:502"})
	c.transport = tr
	return c
}

func TestReadHoldingRegisters(t *testing.T) {
	tr := newFakeTransport(transport.KindTCP)
	tr.replies = []*frame.Frame{{
		PDU:   frame.PDU{UnitID: 1, FunctionCode: frame.FCReadHoldingRegisters, Payload: []byte{2, 0x00, 0x2a}},
		Valid: true,
	}}
	c := newTestClient(tr)

	values, err := c.Read(context.Background(), ReadParams{DataType: DataTypeHoldingRegister, Address: 100, Count: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(values) != 1 || values[0].Uint16 != 42 {
		t.Fatalf("expected a single value of 42, got %+v", values)
	}
}

func TestReadSurfacesModbusException(t *testing.T) {
	tr := newFakeTransport(transport.KindTCP)
	tr.replies = []*frame.Frame{{
		PDU:   frame.PDU{UnitID: 1, FunctionCode: frame.FCReadHoldingRegisters | frame.ExceptionBit, Payload: []byte{0x02}},
		Valid: true,
	}}
	c := newTestClient(tr)

	_, err := c.Read(context.Background(), ReadParams{DataType: DataTypeHoldingRegister, Address: 100, Count: 1})
	if err == nil {
		t.Fatalf("expected an exception error")
	}
}

func TestReadRejectsOverLimitCount(t *testing.T) {
	tr := newFakeTransport(transport.KindTCP)
	c := newTestClient(tr)

	_, err := c.Read(context.Background(), ReadParams{DataType: DataTypeHoldingRegister, Address: 0, Count: 200})
	if err == nil {
		t.Fatalf("expected an invalid-argument error for a 200-register request")
	}
}

func TestWriteSingleRegister(t *testing.T) {
	tr := newFakeTransport(transport.KindTCP)
	tr.replies = []*frame.Frame{{
		PDU:   frame.PDU{UnitID: 1, FunctionCode: frame.FCWriteSingleRegister, Payload: []byte{0x00, 0x64, 0x00, 0x2a}},
		Valid: true,
	}}
	c := newTestClient(tr)

	err := c.Write(context.Background(), WriteParams{DataType: DataTypeHoldingRegister, Address: 100, Input: "42"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("expected one frame to be sent")
	}
}

package frame

import "testing"

func TestReassemblerFindsFrameAfterGarbage(t *testing.T) {
	good := EncodeRTU(PDU{UnitID: 1, FunctionCode: FCReadHoldingRegisters, Payload: []byte{0x00, 0x00, 0x00, 0x0a}})

	r := NewReassembler()
	noise := []byte{0x55, 0xaa, 0x00}
	frames := r.Feed(append(append([]byte{}, noise...), good...))

	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if !frames[0].Valid {
		t.Fatalf("expected valid frame")
	}
}

func TestReassemblerWaitsForMoreData(t *testing.T) {
	r := NewReassembler()
	frames := r.Feed([]byte{0x01, 0x03, 0x04})
	if len(frames) != 0 {
		t.Fatalf("expected no frames yet, got %d", len(frames))
	}
}

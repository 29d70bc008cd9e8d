package frame

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRTURoundTrip(t *testing.T) {
	p := PDU{
		UnitID:       1,
		FunctionCode: FCReadHoldingRegisters,
		Payload:      []byte{0x00, 0x00, 0x00, 0x0a},
	}

	adu := EncodeRTU(p)
	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0a, 0xc5, 0xcd}
	if !bytes.Equal(adu, want) {
		t.Fatalf("encode mismatch: got % x, want % x", adu, want)
	}

	f := DecodeRTU(adu)
	if !f.Valid {
		t.Fatalf("expected valid frame, reason=%v", f.Reason)
	}
	if f.UnitID != 1 || f.FunctionCode != FCReadHoldingRegisters {
		t.Fatalf("unexpected header: %+v", f.PDU)
	}
	if !bytes.Equal(f.Payload, p.Payload) {
		t.Fatalf("payload mismatch: got % x, want % x", f.Payload, p.Payload)
	}
}

func TestDecodeRTUBadCRCPreservesFields(t *testing.T) {
	adu := EncodeRTU(PDU{UnitID: 1, FunctionCode: FCReadHoldingRegisters, Payload: []byte{0x00, 0x00, 0x00, 0x0a}})
	adu[2] ^= 0x01 // flip a payload bit

	f := DecodeRTU(adu)
	if f.Valid {
		t.Fatalf("expected invalid frame after bit flip")
	}
	if f.UnitID != 1 || f.FunctionCode != FCReadHoldingRegisters {
		t.Fatalf("fields should still be parsed: %+v", f.PDU)
	}
}

func TestDecodeRTUTruncated(t *testing.T) {
	f := DecodeRTU([]byte{0x01, 0x03})
	if f.Valid {
		t.Fatalf("expected invalid frame")
	}
	if f.Reason != "truncated" {
		t.Fatalf("expected truncated reason, got %v", f.Reason)
	}
}

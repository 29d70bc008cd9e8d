package client

import "testing"

func TestParsedIntHexAndDecimal(t *testing.T) {
	p := WriteParams{Input: "0x2a"}
	v, signed, err := p.parsedInt()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 || signed {
		t.Fatalf("got v=%d signed=%v", v, signed)
	}

	p = WriteParams{Input: "-5"}
	v, signed, err = p.parsedInt()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != -5 || !signed {
		t.Fatalf("negative decimal should imply signed, got v=%d signed=%v", v, signed)
	}
}

func TestParsedIntRejectsNegativeHex(t *testing.T) {
	p := WriteParams{Input: "-0x5"}
	if _, _, err := p.parsedInt(); err == nil {
		t.Fatalf("expected an error for negative hex input")
	}
}

func TestParsedIntRejectsHexForFloat(t *testing.T) {
	p := WriteParams{Input: "0x2a", Float: true}
	if _, _, err := p.parsedInt(); err == nil {
		t.Fatalf("expected hex to be rejected when Float is set")
	}
}

func TestBoundsCheck16(t *testing.T) {
	if err := boundsCheck16(70000, false); err == nil {
		t.Fatalf("expected out-of-range uint16 to fail")
	}
	if err := boundsCheck16(-1, false); err == nil {
		t.Fatalf("expected negative unsigned value to fail")
	}
	if err := boundsCheck16(32767, true); err != nil {
		t.Fatalf("expected max int16 to pass: %v", err)
	}
}

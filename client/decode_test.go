package client

import "testing"

func TestDecodeRegistersAllPermutations(t *testing.T) {
	rows := DecodeRegisters(0x4120, 0x0000)
	if len(rows) != 4 {
		t.Fatalf("expected 4 permutation rows, got %d", len(rows))
	}

	var big *DecodeRow
	for i := range rows {
		if rows[i].Endian32 == Endian32Big {
			big = &rows[i]
		}
	}
	if big == nil {
		t.Fatalf("missing big-endian row")
	}
	if big.Value.Float32 != 10.0 {
		t.Fatalf("expected big-endian float32 10.0, got %v", big.Value.Float32)
	}
}

func TestDecodeRegistersSingleRegisterTable(t *testing.T) {
	rows := DecodeRegisters(0x0001)
	if len(rows) != 2 {
		t.Fatalf("expected big+little rows, got %d", len(rows))
	}
	if rows[0].Value.Uint16 != 1 {
		t.Fatalf("expected big-endian reading of 1, got %v", rows[0].Value.Uint16)
	}
	if rows[1].Value.Uint16 != 0x0100 {
		t.Fatalf("expected little-endian reading of 0x0100, got %#x", rows[1].Value.Uint16)
	}
}

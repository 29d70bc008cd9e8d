package pcap

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteAndGlobalHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.pcap")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := w.Write(time.Now(), DirectionInbound, ProtocolModbusRTU, []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0a, 0xc5, 0xcd}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(buf) < 24 {
		t.Fatalf("file too short for a global header")
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != magicLittleEndian {
		t.Fatalf("bad magic")
	}
	if binary.LittleEndian.Uint32(buf[20:24]) != DLTUser0 {
		t.Fatalf("expected DLT_USER0 link type")
	}

	// record header + 4-byte UMDT prefix + frame bytes
	recBody := buf[24+16:]
	if recBody[0] != byte(DirectionInbound) {
		t.Fatalf("expected direction inbound in metadata")
	}
	if recBody[1] != byte(ProtocolModbusRTU) {
		t.Fatalf("expected protocol hint modbus-rtu in metadata")
	}
}

func TestTimestampsNeverRegress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.pcap")
	w, _ := Create(path)
	defer w.Close()

	now := time.Now()
	w.Write(now, DirectionOutbound, ProtocolModbusTCP, []byte{0x00})
	w.Write(now.Add(-time.Hour), DirectionOutbound, ProtocolModbusTCP, []byte{0x00})

	if w.lastTS.Before(now) {
		t.Fatalf("writer allowed a timestamp regression")
	}
}

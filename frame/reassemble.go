package frame

import "github.com/modbus-toolkit/umdt/internal/crc"

// Reassembler implements the heuristic sliding-window scanner described in
// spec §4.1 for passive RS-485 sniffing, where there is no transport-level
// silence detection to anchor frame boundaries (the client and mock server
// paths never need this — their transports already know where a frame
// starts and ends). Feed() is called with newly observed bytes; each call
// returns any frames the scanner was able to carve out of the buffer.
type Reassembler struct {
	buf []byte
}

// NewReassembler returns an empty sliding-window reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed appends newly observed bytes to the internal buffer and attempts to
// carve complete, CRC-valid frames out of it starting from every candidate
// position, advancing by one byte on failure (spec §4.1, "heuristic
// reassembly").
func (r *Reassembler) Feed(b []byte) []*Frame {
	r.buf = append(r.buf, b...)

	var out []*Frame

	for {
		f, consumed := r.tryOne()
		if f == nil {
			break
		}
		out = append(out, f)
		r.buf = r.buf[consumed:]
	}

	return out
}

// tryOne scans candidate start positions in r.buf looking for the first
// that yields a length-predictable, CRC-valid frame. It returns the frame
// and how many leading bytes of r.buf it consumed, or (nil, 0) if no
// candidate in the current buffer succeeds yet (more bytes may be needed).
func (r *Reassembler) tryOne() (*Frame, int) {
	for start := 0; start < len(r.buf); start++ {
		window := r.buf[start:]
		if len(window) < 4 {
			// not enough bytes left to even try; wait for more data.
			return nil, 0
		}

		functionCode := window[1]

		var need int
		var ok bool
		if len(window) >= 3 {
			need, ok = HintPayloadLength(functionCode, window[2])
		}
		if !ok {
			// unrecognized function code at this candidate start: advance by
			// one and keep scanning within the same Feed call.
			continue
		}

		total := 2 + need + 2 // unit+function, payload, crc
		if len(window) < total {
			// plausible candidate, but we don't have enough bytes yet to
			// verify it; wait for more data rather than discard it.
			return nil, 0
		}

		candidate := window[:total]
		expected := crc.Of(candidate[:total-2])
		if expected.Equal(candidate[total-2], candidate[total-1]) {
			f := DecodeRTU(candidate)
			return f, start + total
		}
		// CRC mismatch: this start position was a false positive, advance by
		// one byte and keep scanning.
	}

	return nil, 0
}

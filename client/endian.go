package client

import (
	"encoding/binary"
	"math"
)

// Endian16 is the byte order within a single 16-bit register.
type Endian16 string

const (
	Endian16Big    Endian16 = "big"
	Endian16Little Endian16 = "little"
)

// Endian32 is the byte/word order across a pair of 16-bit registers
// forming a 32-bit value (spec §3, "Endian mode"). "all" is only valid as
// a decode request meaning "produce every permutation".
type Endian32 string

const (
	Endian32Big       Endian32 = "big"        // ABCD
	Endian32Little    Endian32 = "little"     // DCBA
	Endian32MidBig    Endian32 = "mid-big"    // CDAB
	Endian32MidLittle Endian32 = "mid-little" // BADC
	Endian32All       Endian32 = "all"
)

// all32 lists the four concrete (non-"all") 32-bit permutations, in the
// order the decode table (spec §8, S3) presents them.
var all32 = []Endian32{Endian32Big, Endian32Little, Endian32MidBig, Endian32MidLittle}

func encode16(e Endian16, v uint16) []byte {
	out := make([]byte, 2)
	switch e {
	case Endian16Little:
		binary.LittleEndian.PutUint16(out, v)
	default:
		binary.BigEndian.PutUint16(out, v)
	}
	return out
}

func decode16(e Endian16, b []byte) uint16 {
	switch e {
	case Endian16Little:
		return binary.LittleEndian.Uint16(b)
	default:
		return binary.BigEndian.Uint16(b)
	}
}

// reorder32 rewrites a 4-byte big-endian-register-order buffer (the two
// registers as received on the wire, register[0] then register[1], each
// itself big-endian: A B C D) into the byte order matching mode.
func reorder32(mode Endian32, abcd [4]byte) [4]byte {
	switch mode {
	case Endian32Big:
		return abcd
	case Endian32Little:
		return [4]byte{abcd[3], abcd[2], abcd[1], abcd[0]}
	case Endian32MidBig:
		return [4]byte{abcd[2], abcd[3], abcd[0], abcd[1]}
	case Endian32MidLittle:
		return [4]byte{abcd[1], abcd[0], abcd[3], abcd[2]}
	default:
		return abcd
	}
}

// wordsToABCD packs two register values (as read off the wire, already
// big-endian within each register) into the canonical ABCD byte order that
// reorder32 expects.
func wordsToABCD(hi, lo uint16) [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint16(b[0:2], hi)
	binary.BigEndian.PutUint16(b[2:4], lo)
	return b
}

func encode32(mode Endian32, v uint32) [4]byte {
	var abcd [4]byte
	binary.BigEndian.PutUint32(abcd[:], v)
	return reorder32(mode, abcd)
}

func decode32(mode Endian32, hi, lo uint16) uint32 {
	abcd := wordsToABCD(hi, lo)
	reordered := reorder32(mode, abcd)
	return binary.BigEndian.Uint32(reordered[:])
}

// float16FromBits decodes an IEEE 754 half-precision float stored in a
// single register.
func float16FromBits(bits uint16) float32 {
	sign := uint32(bits>>15) & 0x1
	exp := uint32(bits>>10) & 0x1f
	frac := uint32(bits) & 0x3ff

	var f32bits uint32
	switch {
	case exp == 0 && frac == 0:
		f32bits = sign << 31
	case exp == 0x1f:
		f32bits = (sign << 31) | 0xff<<23 | (frac << 13)
	case exp == 0:
		// subnormal half -> normalize into a normal float32
		e := 0
		m := frac
		for m&0x400 == 0 {
			m <<= 1
			e--
		}
		m &= 0x3ff
		f32bits = (sign << 31) | uint32(e+127-15+1)<<23 | (m << 13)
	default:
		f32bits = (sign << 31) | (exp-15+127)<<23 | (frac << 13)
	}

	return math.Float32frombits(f32bits)
}

// float16Bits encodes v as an IEEE 754 half-precision float, saturating to
// +/-Inf on overflow rather than producing NaN from a silent wraparound.
func float16Bits(v float32) uint16 {
	bits := math.Float32bits(v)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23)&0xff - 127 + 15
	frac := bits & 0x7fffff

	switch {
	case exp <= 0:
		return sign
	case exp >= 0x1f:
		return sign | 0x7c00
	default:
		return sign | uint16(exp)<<10 | uint16(frac>>13)
	}
}

func float32FromBits(mode Endian32, hi, lo uint16) float32 {
	return math.Float32frombits(decode32(mode, hi, lo))
}

func float32Bits(mode Endian32, v float32) (hi, lo uint16) {
	abcd := encode32(mode, math.Float32bits(v))
	return binary.BigEndian.Uint16(abcd[0:2]), binary.BigEndian.Uint16(abcd[2:4])
}

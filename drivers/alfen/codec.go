package alfen

import (
	"encoding/binary"
	"math"
	"strings"
)

// Wire codec for the Alfen register map: big-endian byte order, big-endian
// word order (high word first), ASCII packed two chars per register. The
// codec is total: malformed or NaN input decodes to zero values.

// RegsFromBytes converts a big-endian Modbus PDU payload to 16-bit registers.
func RegsFromBytes(b []byte) []uint16 {
	regs := make([]uint16, len(b)/2)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	return regs
}

// BytesFromRegs is the inverse of RegsFromBytes.
func BytesFromRegs(regs []uint16) []byte {
	b := make([]byte, 2*len(regs))
	for i, r := range regs {
		binary.BigEndian.PutUint16(b[2*i:], r)
	}
	return b
}

// DecodeFloat32 decodes two registers as an IEEE 754 float32. NaN and short
// input decode to 0.
func DecodeFloat32(regs []uint16) float32 {
	if len(regs) < 2 {
		return 0
	}
	bits := uint32(regs[0])<<16 | uint32(regs[1])
	f := math.Float32frombits(bits)
	if f != f { // NaN
		return 0
	}
	return f
}

// DecodeFloat64 decodes four registers as an IEEE 754 float64. NaN and short
// input decode to 0.
func DecodeFloat64(regs []uint16) float64 {
	if len(regs) < 4 {
		return 0
	}
	bits := uint64(regs[0])<<48 | uint64(regs[1])<<32 | uint64(regs[2])<<16 | uint64(regs[3])
	f := math.Float64frombits(bits)
	if math.IsNaN(f) {
		return 0
	}
	return f
}

// DecodeFloat32Array decodes n consecutive float32 values.
func DecodeFloat32Array(regs []uint16, n int) []float32 {
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		if 2*i+2 <= len(regs) {
			out[i] = DecodeFloat32(regs[2*i : 2*i+2])
		}
	}
	return out
}

// EncodeFloat32 encodes a float32 into two registers, high word first.
func EncodeFloat32(v float32) []uint16 {
	bits := math.Float32bits(v)
	return []uint16{uint16(bits >> 16), uint16(bits & 0xFFFF)}
}

// DecodeString unpacks ASCII two chars per register, high byte first,
// trimming trailing NULs and spaces and dropping non-printable bytes.
func DecodeString(regs []uint16) string {
	var b strings.Builder
	b.Grow(2 * len(regs))
	for _, r := range regs {
		for _, c := range [2]byte{byte(r >> 8), byte(r)} {
			if c >= 0x20 && c < 0x7F {
				b.WriteByte(c)
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

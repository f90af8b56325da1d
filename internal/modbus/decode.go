package modbus

import (
	"math"

	"github.com/wmind/edge-gateway/internal/catalog"
)

const (
	sanityClampAbs  = 1e6
	nearZeroEpsilon = 1e-3
)

// Decode reads one register's value out of a range's word window. offset is
// the register's position relative to the window's start address. It
// reports ok=false when the window is too short for the register's declared
// length, in which case no point should be emitted.
func Decode(window []uint16, offset int, reg catalog.Register, endian catalog.Endianness) (float64, bool) {
	if offset < 0 || offset+reg.Length > len(window) {
		return 0, false
	}

	switch reg.DataType {
	case catalog.DataTypeFloat32:
		return decodeFloat32(window[offset], window[offset+1], reg, endian), true
	default: // u16 and anything unrecognised decodes as a raw scaled word
		return float64(window[offset]) * reg.Scale, true
	}
}

func decodeFloat32(r1, r2 uint16, reg catalog.Register, endian catalog.Endianness) float64 {
	var buf [4]byte
	if !reg.WordSwap {
		putWord(buf[0:2], r1)
		putWord(buf[2:4], r2)
	} else {
		putWord(buf[0:2], r2)
		putWord(buf[2:4], r1)
	}

	// The buffer above is assembled MSB-first. A little-endian device is
	// reporting that same 32-bit quantity byte-reversed on the wire, so the
	// reversed buffer must be read back LSB-first to recover it.
	var bits uint32
	if endian == catalog.LittleEndian {
		reverse(buf[:])
		bits = uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	} else {
		bits = uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	}
	raw := float64(math.Float32frombits(bits))

	if math.IsNaN(raw) || math.IsInf(raw, 0) || math.Abs(raw) > sanityClampAbs {
		return 0
	}
	if (r1 == 0 && r2 == 0) || math.Abs(raw) < nearZeroEpsilon {
		// Mirrors an observed quirk in the source encoder: near-zero or
		// all-zero register pairs fall back to the first word scaled raw.
		return float64(r1) * reg.Scale
	}

	return raw
}

func putWord(b []byte, w uint16) {
	b[0] = byte(w >> 8)
	b[1] = byte(w)
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

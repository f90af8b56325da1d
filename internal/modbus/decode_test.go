package modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wmind/edge-gateway/internal/catalog"
)

func TestDecode_U16Scaled(t *testing.T) {
	reg := catalog.Register{DataType: catalog.DataTypeU16, Length: 1, Scale: 0.1}
	value, ok := Decode([]uint16{0x00C8}, 0, reg, catalog.BigEndian)
	assert.True(t, ok)
	assert.InDelta(t, 20.0, value, 1e-9)
}

func TestDecode_Float32BigEndianNoSwap(t *testing.T) {
	reg := catalog.Register{DataType: catalog.DataTypeFloat32, Length: 2, Scale: 1.0}
	value, ok := Decode([]uint16{0x41C8, 0x0000}, 0, reg, catalog.BigEndian)
	assert.True(t, ok)
	assert.InDelta(t, 25.0, value, 1e-6)
}

func TestDecode_Float32WordSwapLittleEndian(t *testing.T) {
	reg := catalog.Register{DataType: catalog.DataTypeFloat32, Length: 2, Scale: 1.0, WordSwap: true}
	value, ok := Decode([]uint16{0x0000, 0x41C8}, 0, reg, catalog.LittleEndian)
	assert.True(t, ok)
	assert.InDelta(t, 25.0, value, 1e-6)
}

func TestDecode_OutOfWindowSkipsEmission(t *testing.T) {
	reg := catalog.Register{DataType: catalog.DataTypeFloat32, Length: 2, Scale: 1.0}
	_, ok := Decode([]uint16{0x41C8}, 0, reg, catalog.BigEndian)
	assert.False(t, ok)
}

func TestDecode_SanityClampOnOverflow(t *testing.T) {
	reg := catalog.Register{DataType: catalog.DataTypeFloat32, Length: 2, Scale: 1.0}
	// 0x4CA00000 ~ 83886080.0, well above the 1e6 clamp threshold.
	value, ok := Decode([]uint16{0x4CA0, 0x0000}, 0, reg, catalog.BigEndian)
	assert.True(t, ok)
	assert.Equal(t, 0.0, value)
}

func TestDecode_ZeroFallbackUsesFirstWordScaled(t *testing.T) {
	reg := catalog.Register{DataType: catalog.DataTypeFloat32, Length: 2, Scale: 2.0}
	value, ok := Decode([]uint16{5, 0}, 0, reg, catalog.BigEndian)
	assert.True(t, ok)
	assert.InDelta(t, 10.0, value, 1e-9) // r1=5 * scale=2.0, since both words are near zero as a float
}

package opcua

import (
	"testing"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
)

func TestCoerceDouble_NilVariant(t *testing.T) {
	v, ok := coerceDouble(nil)
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestCoerceDouble_NumericTypes(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want float64
	}{
		{"int16", int16(-42), -42},
		{"uint16", uint16(42), 42},
		{"int32", int32(1000), 1000},
		{"uint32", uint32(1000), 1000},
		{"float32", float32(3.5), 3.5},
		{"float64", float64(3.25), 3.25},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := coerceDouble(ua.MustVariant(tc.in))
			assert.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCoerceDouble_Bool(t *testing.T) {
	v, ok := coerceDouble(ua.MustVariant(true))
	assert.True(t, ok)
	assert.Equal(t, float64(1), v)

	v, ok = coerceDouble(ua.MustVariant(false))
	assert.True(t, ok)
	assert.Equal(t, float64(0), v)
}

func TestCoerceDouble_UnsupportedType(t *testing.T) {
	_, ok := coerceDouble(ua.MustVariant("not a number"))
	assert.False(t, ok)
}

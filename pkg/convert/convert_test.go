package convert

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToFloat64(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected float64
		ok       bool
	}{
		{"float64", 3.14, 3.14, true},
		{"float32", float32(2.5), 2.5, true},
		{"int", 42, 42.0, true},
		{"int64", int64(99), 99.0, true},
		{"uint32", uint32(25), 25.0, true},

		{"string decimal", "3.14", 3.14, true},
		{"string padded", " 40000 ", 40000, true},
		{"string scientific", "1.5e-3", 0.0015, true},

		{"string invalid", "hello", 0, false},
		{"string empty", "", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToFloat64(tt.input)
			assert.Equal(t, tt.ok, ok, "ok mismatch")
			if ok {
				assert.InDelta(t, tt.expected, got, 0.0001, "value mismatch")
			}
		})
	}

	t.Run("string Inf", func(t *testing.T) {
		got, ok := ToFloat64("Inf")
		assert.True(t, ok)
		assert.True(t, math.IsInf(got, 1))
	})
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected int64
		ok       bool
	}{
		{"int64", int64(99), 99, true},
		{"int", 42, 42, true},
		{"whole float", 3.0, 3, true},
		{"fractional float", 3.7, 0, false},
		{"string integer", "-10", -10, true},
		{"string whole float", "12.0", 12, true},
		{"string fractional", "3.7", 0, false},
		{"string invalid", "hello", 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToInt64(tt.input)
			assert.Equal(t, tt.ok, ok, "ok mismatch")
			if ok {
				assert.Equal(t, tt.expected, got, "value mismatch")
			}
		})
	}
}

func TestToBoolAndString(t *testing.T) {
	b, ok := ToBool("Yes")
	assert.True(t, ok)
	assert.True(t, b)

	_, ok = ToBool("maybe")
	assert.False(t, ok)

	assert.Equal(t, "2.5", ToString(2.5))
	assert.Equal(t, "7", ToString(int64(7)))
	assert.Equal(t, "F", ToString("F"))
	assert.Equal(t, "", ToString(nil))
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name   string
		a, b   any
		domain Domain
		want   int
		ok     bool
	}{
		{"numeric less", 9, "10", Numeric, -1, true},
		{"numeric equal mixed", int64(5), 5.0, Numeric, 0, true},
		{"text orders lexically", "9", "10", Text, 1, true},
		{"text equal", "F", "F", Text, 0, true},
		{"text nil", nil, "F", Text, 0, false},
		{"numeric unparsable", "abc", 1, Numeric, 0, false},
		{"boolean", false, "true", Boolean, -1, true},
		{"boolean unparsable", "x", true, Boolean, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Compare(tt.a, tt.b, tt.domain)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func BenchmarkCompareNumeric(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Compare(int64(40000), "35000", Numeric)
	}
}

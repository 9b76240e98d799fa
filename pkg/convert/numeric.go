// Package convert coerces attribute values to the declared attribute type and
// compares them.
//
// Attribute values arrive from several places: YAML fixtures (int, float64,
// string, bool), JSON documents decoded by the Badger store (float64,
// string, bool) and pattern literals (always strings). This package folds all
// of them onto the three comparison domains the pattern engine knows:
// numbers, strings and booleans.
//
// All conversion functions return a success boolean so callers can treat a
// failed conversion as "value does not satisfy" instead of an error.
//
// Example:
//
//	if f, ok := convert.ToFloat64("3.5"); ok {
//		// f == 3.5
//	}
//	c, ok := convert.Compare(int64(40000), "35000", true) // 1, true
package convert

import (
	"fmt"
	"strconv"
	"strings"
)

// ToFloat64 converts numeric types and numeric strings to float64.
// Returns (0, false) when v is not a number.
//
// Supported types:
//   - float64, float32
//   - int, int32, int64, uint, uint32, uint64
//   - string (decimal or scientific notation, surrounding blanks ignored)
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case uint32:
		return float64(val), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// ToInt64 converts numeric types and integer strings to int64.
// Floats are accepted only when they carry no fractional part, so that an
// int attribute never silently absorbs 3.7.
func ToInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case uint:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		return int64(val), true
	case float64:
		if val == float64(int64(val)) {
			return int64(val), true
		}
	case float32:
		if val == float32(int64(val)) {
			return int64(val), true
		}
	case string:
		s := strings.TrimSpace(val)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
			return int64(f), true
		}
	}
	return 0, false
}

// ToBool converts bools and the usual textual spellings to bool.
func ToBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "t", "1", "yes":
			return true, true
		case "false", "f", "0", "no":
			return false, true
		}
	}
	return false, false
}

// ToString renders any scalar as a string. Strings are returned unchanged.
func ToString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	}
	return fmt.Sprint(v)
}

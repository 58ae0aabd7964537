package graph

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	intPrefix   = regexp.MustCompile(`^[+-]?\d+`)
	floatPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)
)

// ParseInt reads an integer the lenient way form input arrives: numbers are
// truncated, strings are read up to the first non-digit ("12px" is 12).
// ok is false when no integer can be read.
func ParseInt(v Value) (int64, bool) {
	switch val := v.(type) {
	case Int:
		return int64(val), true
	case Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return int64(f), true
	case String:
		m := intPrefix.FindString(strings.TrimSpace(string(val)))
		if m == "" {
			return 0, false
		}
		i, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

// ParseFloat is the floating point counterpart of ParseInt.
func ParseFloat(v Value) (float64, bool) {
	switch val := v.(type) {
	case Int:
		return float64(val), true
	case Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case String:
		m := floatPrefix.FindString(strings.TrimSpace(string(val)))
		if m == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// IntOrZero is ParseInt with 0 for unreadable input.
func IntOrZero(v Value) int64 {
	i, _ := ParseInt(v)
	return i
}

// FloatOrZero is ParseFloat with 0 for unreadable input.
func FloatOrZero(v Value) float64 {
	f, _ := ParseFloat(v)
	return f
}

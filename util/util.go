// Package util contains misc internal utilities.
package util

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Limiter is a software limit on a value, usually an axis position
type Limiter struct {
	// Min is the minimum allowed value
	Min float64 `json:"min" yaml:"Min"`

	// Max is the maximum allowed value
	Max float64 `json:"max" yaml:"Max"`
}

// Check returns true if min <= f <= max
func (l Limiter) Check(f float64) bool {
	return f >= l.Min && f <= l.Max
}

// Clamp restricts input to low <= input <= high
func Clamp(input, low, high float64) float64 {
	if input < low {
		return low
	}
	if input > high {
		return high
	}
	return input
}

// AllElementsNumbers returns true if every rune in s is a digit or a period
func AllElementsNumbers(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' {
			return false
		}
	}
	return true
}

// SecsToDuration converts a floating point number of seconds to a duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs * 1e9)
}

// FirstFloat scans the whitespace separated fields of s and returns the
// first that parses as a float
func FirstFloat(s string) (float64, bool) {
	for _, field := range strings.Fields(s) {
		f, err := strconv.ParseFloat(field, 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}

// FirstInt scans the whitespace separated fields of s and returns the
// first that parses as an int
func FirstInt(s string) (int, bool) {
	for _, field := range strings.Fields(s) {
		i, err := strconv.Atoi(field)
		if err == nil {
			return i, true
		}
	}
	return 0, false
}

// Package timerange splits an absolute [earliest, latest] interval into
// contiguous calendar-aligned windows.
package timerange

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidRangeSpec is wrapped by every RangeSpec parse failure.
var ErrInvalidRangeSpec = errors.New("invalid time range")

// Unit is the calendar unit a RangeSpec counts in.
type Unit rune

const (
	UnitDay   Unit = 'd'
	UnitMonth Unit = 'm'
	UnitYear  Unit = 'y'
)

func (u Unit) String() string {
	switch u {
	case UnitDay:
		return "day"
	case UnitMonth:
		return "month"
	case UnitYear:
		return "year"
	default:
		return fmt.Sprintf("unit(%c)", rune(u))
	}
}

// RangeSpec is a window size such as "1m" (one month) or "7d" (seven days).
type RangeSpec struct {
	Count int
	Unit  Unit
}

var rangeSpecPattern = regexp.MustCompile(`^(\d+)([A-Za-z]+)$`)

// ParseRangeSpec parses "<count><unit>". Only the first letter of the unit
// token matters, so "1m", "1M" and "1month" are equivalent.
func ParseRangeSpec(s string) (RangeSpec, error) {
	match := rangeSpecPattern.FindStringSubmatch(strings.TrimSpace(s))
	if match == nil {
		return RangeSpec{}, fmt.Errorf("%w: could not parse %q: should be in format 2d|1m|6m|1y", ErrInvalidRangeSpec, s)
	}

	count, err := strconv.Atoi(match[1])
	if err != nil {
		return RangeSpec{}, fmt.Errorf("%w: %q: %v", ErrInvalidRangeSpec, s, err)
	}
	if count < 1 {
		return RangeSpec{}, fmt.Errorf("%w: prefix cannot be zero: %q", ErrInvalidRangeSpec, s)
	}

	unit := Unit(strings.ToLower(match[2])[0])
	switch unit {
	case UnitDay, UnitMonth, UnitYear:
	default:
		return RangeSpec{}, fmt.Errorf("%w: %q: unrecognized time unit %q", ErrInvalidRangeSpec, s, match[2])
	}

	return RangeSpec{Count: count, Unit: unit}, nil
}

// MustParseRangeSpec is ParseRangeSpec for constants; it panics on error.
func MustParseRangeSpec(s string) RangeSpec {
	spec, err := ParseRangeSpec(s)
	if err != nil {
		panic(err)
	}
	return spec
}

func (s RangeSpec) valid() bool {
	switch s.Unit {
	case UnitDay, UnitMonth, UnitYear:
		return s.Count >= 1
	default:
		return false
	}
}

func (s RangeSpec) String() string {
	if s.Count == 0 {
		return ""
	}
	return strconv.Itoa(s.Count) + string(rune(s.Unit))
}

// Set implements flag.Value.
func (s *RangeSpec) Set(value string) error {
	parsed, err := ParseRangeSpec(value)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Type implements pflag.Value.
func (s *RangeSpec) Type() string {
	return "range"
}

func (s *RangeSpec) UnmarshalText(text []byte) error {
	return s.Set(string(text))
}

func (s RangeSpec) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

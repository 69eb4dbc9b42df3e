package quant

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"tradecore/pkg/safe"
)

const (
	// FixedPrecision is the number of decimal places carried by every raw value.
	FixedPrecision = 9
	// FixedScalar is 10^FixedPrecision.
	FixedScalar = 1_000_000_000
	// MaxPrecision is the largest declared precision a Price or Quantity may carry.
	MaxPrecision = FixedPrecision
)

var (
	ErrInvalidNumber = errors.New("invalid fixed-point number")
	ErrPrecision     = errors.New("precision exceeds maximum")
)

// UnixNanos represents a Unix timestamp in nanoseconds.
type UnixNanos uint64

// Time converts to a UTC time.Time.
func (t UnixNanos) Time() time.Time {
	return time.Unix(0, int64(t)).UTC()
}

// Sub returns t-o as a duration; negative when o is later.
func (t UnixNanos) Sub(o UnixNanos) time.Duration {
	return time.Duration(int64(t) - int64(o))
}

// Add returns t shifted by d.
func (t UnixNanos) Add(d time.Duration) UnixNanos {
	return UnixNanos(int64(t) + int64(d))
}

// FromTime converts a time.Time to UnixNanos.
func FromTime(t time.Time) UnixNanos {
	return UnixNanos(t.UnixNano())
}

// ParseTimeStamp converts a millisecond string (venue format) to UnixNanos.
func ParseTimeStamp(s string) (UnixNanos, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return 0, fmt.Errorf("negative timestamp %d: %w", ms, ErrInvalidNumber)
	}
	ns, err := safe.CheckedMul(ms, int64(time.Millisecond))
	if err != nil {
		return 0, fmt.Errorf("timestamp %d: %w", ms, err)
	}
	return UnixNanos(ns), nil
}

// NextSeq generates the next sequence number atomically.
func NextSeq(ptr *uint64) uint64 {
	return atomic.AddUint64(ptr, 1)
}

// parseFixed parses a numeric string into a raw value scaled by FixedScalar without using float64.
// It also returns the number of decimals present in s, which becomes the declared precision.
// E.g., parseFixed("1.23") -> 1_230_000_000, 2.
func parseFixed(s string) (int64, uint8, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, ErrInvalidNumber
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if intPart == "" && fracPart == "" {
		return 0, 0, ErrInvalidNumber
	}
	if hasDot && strings.Contains(fracPart, ".") {
		return 0, 0, fmt.Errorf("%q: multiple dots: %w", s, ErrInvalidNumber)
	}
	if len(fracPart) > MaxPrecision {
		return 0, 0, fmt.Errorf("%q has %d decimals: %w", s, len(fracPart), ErrPrecision)
	}
	for _, r := range intPart + fracPart {
		if r < '0' || r > '9' {
			return 0, 0, fmt.Errorf("%q: %w", s, ErrInvalidNumber)
		}
	}

	var intVal int64
	if intPart != "" {
		v, err := strconv.ParseInt(intPart, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%q: %w", s, ErrInvalidNumber)
		}
		intVal = v
	}

	// Pad fraction to the fixed precision
	var fracVal int64
	if fracPart != "" {
		v, err := strconv.ParseInt(fracPart+strings.Repeat("0", FixedPrecision-len(fracPart)), 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%q: %w", s, ErrInvalidNumber)
		}
		fracVal = v
	}

	scaled, err := safe.CheckedMul(intVal, FixedScalar)
	if err != nil {
		return 0, 0, fmt.Errorf("%q: %w", s, err)
	}
	raw, err := safe.CheckedAdd(scaled, fracVal)
	if err != nil {
		return 0, 0, fmt.Errorf("%q: %w", s, err)
	}
	if neg {
		raw = -raw
	}
	return raw, uint8(len(fracPart)), nil
}

// formatFixed renders a raw value with the given number of decimals.
func formatFixed(raw int64, precision uint8) string {
	sign := ""
	u := uint64(raw)
	if raw < 0 {
		sign = "-"
		u = uint64(-raw)
	}
	intPart := u / FixedScalar
	frac := u % FixedScalar
	if precision == 0 {
		return sign + strconv.FormatUint(intPart, 10)
	}
	fs := fmt.Sprintf("%09d", frac)[:precision]
	return sign + strconv.FormatUint(intPart, 10) + "." + fs
}

// rescale rounds raw half away from zero so it carries no digits beyond precision.
func rescale(raw int64, precision uint8) int64 {
	if precision >= FixedPrecision {
		return raw
	}
	unit := safe.Pow10(FixedPrecision - int(precision))
	rem := raw % unit
	raw -= rem
	if rem*2 >= unit {
		raw += unit
	} else if rem*2 <= -unit {
		raw -= unit
	}
	return raw
}

func checkPrecision(precision uint8) error {
	if precision > MaxPrecision {
		return fmt.Errorf("precision %d: %w", precision, ErrPrecision)
	}
	return nil
}

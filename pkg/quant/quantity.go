package quant

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tradecore/pkg/safe"
)

var ErrNegativeQuantity = errors.New("quantity cannot be negative")

// Quantity is a non-negative fixed-point amount scaled by FixedScalar.
type Quantity struct {
	Raw       int64
	Precision uint8
}

// QuantityFromRaw panics when raw is negative.
func QuantityFromRaw(raw int64, precision uint8) Quantity {
	if raw < 0 {
		panic(fmt.Sprintf("CORE_QUANTITY_NEGATIVE: %d", raw))
	}
	if precision > MaxPrecision {
		panic(fmt.Sprintf("CORE_QUANTITY_PRECISION: %d", precision))
	}
	return Quantity{Raw: raw, Precision: precision}
}

// QuantityFromInt builds a whole-unit quantity.
func QuantityFromInt(n int64, precision uint8) Quantity {
	return QuantityFromRaw(safe.Mul(n, FixedScalar), precision)
}

// ParseQuantity parses a non-negative decimal string.
func ParseQuantity(s string) (Quantity, error) {
	raw, prec, err := parseFixed(s)
	if err != nil {
		return Quantity{}, fmt.Errorf("failed to parse quantity: %w", err)
	}
	if raw < 0 {
		return Quantity{}, fmt.Errorf("failed to parse quantity %q: %w", s, ErrNegativeQuantity)
	}
	return Quantity{Raw: raw, Precision: prec}, nil
}

// MustQty is ParseQuantity for literals; it panics on error.
func MustQty(s string) Quantity {
	q, err := ParseQuantity(s)
	if err != nil {
		panic(err)
	}
	return q
}

// QuantityFromDecimal rounds d to precision.
func QuantityFromDecimal(d decimal.Decimal, precision uint8) (Quantity, error) {
	if d.IsNegative() {
		return Quantity{}, fmt.Errorf("quantity %s: %w", d, ErrNegativeQuantity)
	}
	p, err := PriceFromDecimal(d, precision)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity(p), nil
}

func (q Quantity) Decimal() decimal.Decimal {
	return decimal.New(q.Raw, -FixedPrecision)
}

func (q Quantity) String() string {
	return formatFixed(q.Raw, q.Precision)
}

func (q Quantity) IsZero() bool     { return q.Raw == 0 }
func (q Quantity) IsPositive() bool { return q.Raw > 0 }

func (q Quantity) Cmp(o Quantity) int {
	switch {
	case q.Raw < o.Raw:
		return -1
	case q.Raw > o.Raw:
		return 1
	}
	return 0
}

func (q Quantity) Equal(o Quantity) bool { return q.Raw == o.Raw }

// Add keeps the wider of the two precisions; overflow panics.
func (q Quantity) Add(o Quantity) Quantity {
	return Quantity{Raw: safe.Add(q.Raw, o.Raw), Precision: max(q.Precision, o.Precision)}
}

// CheckedSub returns ErrNegativeQuantity instead of going below zero.
func (q Quantity) CheckedSub(o Quantity) (Quantity, error) {
	raw := safe.Sub(q.Raw, o.Raw)
	if raw < 0 {
		return Quantity{}, fmt.Errorf("%s - %s: %w", q, o, ErrNegativeQuantity)
	}
	return Quantity{Raw: raw, Precision: max(q.Precision, o.Precision)}, nil
}

// Sub panics when the result would be negative.
func (q Quantity) Sub(o Quantity) Quantity {
	r, err := q.CheckedSub(o)
	if err != nil {
		panic(fmt.Sprintf("CORE_QUANTITY_NEGATIVE: %v", err))
	}
	return r
}

func MinQty(a, b Quantity) Quantity {
	if a.Raw <= b.Raw {
		return a
	}
	return b
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.String())
}

func (q *Quantity) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseQuantity(s)
	if err != nil {
		return err
	}
	*q = v
	return nil
}

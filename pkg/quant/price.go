package quant

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"tradecore/pkg/safe"
)

// Price is a fixed-point price: Raw is scaled by FixedScalar, Precision is the declared
// number of decimals. Prices may be negative (spreads, some derivatives).
type Price struct {
	Raw       int64
	Precision uint8
}

// PriceFromRaw builds a price from an already scaled value.
func PriceFromRaw(raw int64, precision uint8) Price {
	if precision > MaxPrecision {
		panic(fmt.Sprintf("CORE_PRICE_PRECISION: %d", precision))
	}
	return Price{Raw: raw, Precision: precision}
}

// ParsePrice parses a decimal string. The declared precision is the number of decimals in s.
func ParsePrice(s string) (Price, error) {
	raw, prec, err := parseFixed(s)
	if err != nil {
		return Price{}, fmt.Errorf("failed to parse price: %w", err)
	}
	return Price{Raw: raw, Precision: prec}, nil
}

// MustPrice is ParsePrice for literals; it panics on error.
func MustPrice(s string) Price {
	p, err := ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PriceFromDecimal rounds d to precision.
func PriceFromDecimal(d decimal.Decimal, precision uint8) (Price, error) {
	if err := checkPrecision(precision); err != nil {
		return Price{}, err
	}
	scaled := d.Round(int32(precision)).Shift(FixedPrecision)
	if !scaled.IsInteger() {
		return Price{}, fmt.Errorf("price %s: %w", d, ErrInvalidNumber)
	}
	big := scaled.BigInt()
	if !big.IsInt64() {
		return Price{}, fmt.Errorf("price %s: %w", d, safe.ErrOverflow)
	}
	return Price{Raw: big.Int64(), Precision: precision}, nil
}

// PriceFromFloat converts a float at the boundary only (venue feeds, tests).
func PriceFromFloat(f float64, precision uint8) Price {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		panic("CORE_PRICE_NOT_FINITE")
	}
	raw := int64(math.Round(f * FixedScalar))
	return Price{Raw: rescale(raw, precision), Precision: precision}
}

// Decimal returns the exact decimal value.
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(p.Raw, -FixedPrecision)
}

func (p Price) String() string {
	return formatFixed(p.Raw, p.Precision)
}

func (p Price) IsZero() bool     { return p.Raw == 0 }
func (p Price) IsPositive() bool { return p.Raw > 0 }

// Cmp compares on raw values; precision does not participate.
func (p Price) Cmp(o Price) int {
	switch {
	case p.Raw < o.Raw:
		return -1
	case p.Raw > o.Raw:
		return 1
	}
	return 0
}

func (p Price) Equal(o Price) bool { return p.Raw == o.Raw }
func (p Price) Less(o Price) bool  { return p.Raw < o.Raw }

// Add panics on precision mismatch or overflow.
func (p Price) Add(o Price) Price {
	mustMatch("CORE_PRICE_PRECISION_MISMATCH", p.Precision, o.Precision)
	return Price{Raw: safe.Add(p.Raw, o.Raw), Precision: p.Precision}
}

// Sub panics on precision mismatch or overflow.
func (p Price) Sub(o Price) Price {
	mustMatch("CORE_PRICE_PRECISION_MISMATCH", p.Precision, o.Precision)
	return Price{Raw: safe.Sub(p.Raw, o.Raw), Precision: p.Precision}
}

func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Price) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParsePrice(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func mustMatch(code string, a, b uint8) {
	if a != b {
		panic(fmt.Sprintf("%s: %d != %d", code, a, b))
	}
}

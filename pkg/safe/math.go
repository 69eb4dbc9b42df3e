// Package safe provides overflow-checked int64 arithmetic for fixed-point values.
package safe

import (
	"errors"
	"math"
)

// ErrOverflow is returned by the checked operations when the result does not fit in an int64.
var ErrOverflow = errors.New("int64 overflow")

// ErrDivByZero is returned by CheckedDiv for a zero divisor.
var ErrDivByZero = errors.New("division by zero")

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// CheckedSub returns a-b or ErrOverflow.
func CheckedSub(a, b int64) (int64, error) {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// CheckedMul returns a*b or ErrOverflow.
func CheckedMul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, ErrOverflow
	}
	r := a * b
	if r/b != a {
		return 0, ErrOverflow
	}
	return r, nil
}

// CheckedDiv returns a/b, ErrDivByZero or ErrOverflow (MinInt64 / -1).
func CheckedDiv(a, b int64) (int64, error) {
	if b == 0 {
		return 0, ErrDivByZero
	}
	if a == math.MinInt64 && b == -1 {
		return 0, ErrOverflow
	}
	return a / b, nil
}

// Add performs int64 addition and panics on overflow/underflow.
func Add(a, b int64) int64 {
	r, err := CheckedAdd(a, b)
	if err != nil {
		panic("CORE_SAFE_ADD_OVERFLOW")
	}
	return r
}

// Sub performs int64 subtraction and panics on overflow/underflow.
func Sub(a, b int64) int64 {
	r, err := CheckedSub(a, b)
	if err != nil {
		panic("CORE_SAFE_SUB_OVERFLOW")
	}
	return r
}

// Mul performs int64 multiplication and panics on overflow/underflow.
func Mul(a, b int64) int64 {
	r, err := CheckedMul(a, b)
	if err != nil {
		panic("CORE_SAFE_MUL_OVERFLOW")
	}
	return r
}

// Div performs int64 division and panics on division by zero or overflow.
func Div(a, b int64) int64 {
	r, err := CheckedDiv(a, b)
	if errors.Is(err, ErrDivByZero) {
		panic("CORE_SAFE_DIV_BY_ZERO")
	}
	if err != nil {
		panic("CORE_SAFE_DIV_OVERFLOW")
	}
	return r
}

// Pow10 returns 10^n for 0 <= n <= 18.
func Pow10(n int) int64 {
	if n < 0 || n > 18 {
		panic("CORE_SAFE_POW10_RANGE")
	}
	r := int64(1)
	for i := 0; i < n; i++ {
		r *= 10
	}
	return r
}

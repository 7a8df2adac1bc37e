// Package checked implements overflow-checked u64 arithmetic and a 256-bit
// intermediate for multiply-then-divide chains.
package checked

import (
	"errors"
	"math/bits"

	"github.com/holiman/uint256"
)

// Arithmetic errors.
var (
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrDivisionByZero = errors.New("division by zero")
)

// Add returns a+b or ErrOverflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b or ErrOverflow when b > a.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return diff, nil
}

// Mul returns a*b or ErrOverflow.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// Div returns a/b or ErrDivisionByZero.
func Div(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	return a / b, nil
}

// Pow10 returns 10^exp or ErrOverflow (exp > 19).
func Pow10(exp uint8) (uint64, error) {
	result := uint64(1)
	for i := uint8(0); i < exp; i++ {
		var err error
		if result, err = Mul(result, 10); err != nil {
			return 0, err
		}
	}
	return result, nil
}

// AddI64 adds a non-negative offset to a timestamp with overflow detection.
func AddI64(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Wide is a 256-bit accumulator. The first failing step sticks and is
// reported by Uint64.
type Wide struct {
	v   uint256.Int
	err error
}

// From starts a wide computation at x.
func From(x uint64) *Wide {
	w := &Wide{}
	w.v.SetUint64(x)
	return w
}

// Mul multiplies by x.
func (w *Wide) Mul(x uint64) *Wide {
	if w.err != nil {
		return w
	}
	var y uint256.Int
	y.SetUint64(x)
	if _, overflow := w.v.MulOverflow(&w.v, &y); overflow {
		w.err = ErrOverflow
	}
	return w
}

// Div divides by x, truncating.
func (w *Wide) Div(x uint64) *Wide {
	if w.err != nil {
		return w
	}
	if x == 0 {
		w.err = ErrDivisionByZero
		return w
	}
	var y uint256.Int
	y.SetUint64(x)
	w.v.Div(&w.v, &y)
	return w
}

// Err returns the first error hit.
func (w *Wide) Err() error {
	return w.err
}

// Uint64 narrows the result, failing with ErrOverflow if it does not fit.
func (w *Wide) Uint64() (uint64, error) {
	if w.err != nil {
		return 0, w.err
	}
	if !w.v.IsUint64() {
		return 0, ErrOverflow
	}
	return w.v.Uint64(), nil
}

// MulDiv returns a*b/c with a 256-bit intermediate.
func MulDiv(a, b, c uint64) (uint64, error) {
	return From(a).Mul(b).Div(c).Uint64()
}

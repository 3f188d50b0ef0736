// SPDX-License-Identifier: MIT
/*
Package filter implements the real-time weighting filter applied to captured
sample blocks before their level is measured.

The filter is a fixed-order recursive (IIR) filter in direct form:

	y[n] = ( sum_{j=0}^{order-1} b[j]*x[n-j] - sum_{j=1}^{order-1} a[j]*y[n-j] ) / a[0]

Input and output history live in one caller-owned delay line of length
2*order, indexed circularly. The filter keeps its memory across blocks and is
only cleared by Reset.

Thread Safety:
- An IIR is owned by exactly one goroutine (the capture context).
- Process performs no allocations.
*/
package filter

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrOrderMismatch   = errors.New("filter: numerator and denominator lengths differ")
	ErrDelaySize       = errors.New("filter: delay line must hold 2*order values")
	ErrNormalization   = errors.New("filter: denominator[0] must be non-zero")
	ErrUnsupportedRate = errors.New("filter: no weighting coefficients for sample rate")
)

// IIR is a direct-form recursive filter with a circular delay line.
// A nil *IIR, or one of order 0, passes samples through unchanged.
type IIR struct {
	num []float64
	den []float64
	in  []float64 // input history, first half of the delay storage
	out []float64 // output history, second half of the delay storage
	k   int       // circular write index in [0, order)
}

// New binds coefficients and delay storage into a filter. The coefficients
// are copied; delay is used in place and zeroed.
func New(num, den, delay []float64) (*IIR, error) {
	if len(num) != len(den) {
		return nil, fmt.Errorf("%w: %d != %d", ErrOrderMismatch, len(num), len(den))
	}
	order := len(num)
	if len(delay) != 2*order {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDelaySize, len(delay), 2*order)
	}
	if order > 0 && (den[0] == 0 || math.IsNaN(den[0])) {
		return nil, ErrNormalization
	}

	f := &IIR{
		num: append([]float64(nil), num...),
		den: append([]float64(nil), den...),
		in:  delay[:order:order],
		out: delay[order:],
	}
	f.Reset()
	return f, nil
}

// Order returns the number of coefficients per polynomial.
func (f *IIR) Order() int {
	if f == nil {
		return 0
	}
	return len(f.num)
}

// Reset zeroes the delay line and rewinds the circular index.
func (f *IIR) Reset() {
	if f == nil {
		return
	}
	clear(f.in)
	clear(f.out)
	f.k = 0
}

// Step feeds one sample through the filter and returns the unclamped output.
func (f *IIR) Step(x float64) float64 {
	order := len(f.num)
	k := f.k
	f.in[k] = x

	var acc float64
	for j := 0; j < order; j++ {
		idx := k - j
		if idx < 0 {
			idx += order
		}
		acc += f.num[j] * f.in[idx]
		if j == 0 {
			continue
		}
		acc -= f.den[j] * f.out[idx]
	}
	y := acc / f.den[0]

	f.out[k] = y
	k++
	if k == order {
		k = 0
	}
	f.k = k
	return y
}

// Process filters src into dst sample by sample and returns the block energy,
// the sum of squared outputs before they are clamped to 16 bits. With order 0
// dst receives a copy of src and the energy is the sum of squared inputs.
// dst and src may be the same slice; len(dst) must be >= len(src).
func (f *IIR) Process(dst, src []int16) float64 {
	if f.Order() == 0 {
		copy(dst, src)
		return SumSquares(src)
	}

	if len(src) == 0 {
		return 0
	}
	_ = dst[len(src)-1] // bounds check hint

	var energy float64
	for i, s := range src {
		y := f.Step(float64(s))
		energy += y * y
		dst[i] = Clamp16(y)
	}
	return energy
}

// SumSquares returns the sum of squared sample values.
func SumSquares(samples []int16) float64 {
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return sum
}

// Clamp16 truncates y toward zero and saturates it to the int16 range.
// NaN maps to 0.
func Clamp16(y float64) int16 {
	switch {
	case y != y:
		return 0
	case y >= math.MaxInt16:
		return math.MaxInt16
	case y <= math.MinInt16:
		return math.MinInt16
	}
	return int16(y)
}

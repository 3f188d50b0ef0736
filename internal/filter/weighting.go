// SPDX-License-Identifier: MIT
package filter

import (
	"fmt"
	"slices"
	"strings"
)

// Weighting selects the frequency weighting applied before level measurement.
type Weighting int

const (
	WeightingZ Weighting = iota // Flat, no filtering.
	WeightingA                  // A-weighting, perceptual loudness.
)

// WeightingOrder is the order of the built-in weighting filters.
const WeightingOrder = 7

func (w Weighting) String() string {
	switch w {
	case WeightingZ:
		return "Z"
	case WeightingA:
		return "A"
	default:
		return fmt.Sprintf("Weighting(%d)", int(w))
	}
}

// ParseWeighting converts "Z" or "A" (case-insensitive) to a Weighting.
func ParseWeighting(s string) (Weighting, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "Z", "NONE":
		return WeightingZ, nil
	case "A":
		return WeightingA, nil
	}
	return WeightingZ, fmt.Errorf("filter: unknown weighting %q", s)
}

// Coefficients holds one numerator/denominator pair of equal length.
type Coefficients struct {
	Numerator   []float64
	Denominator []float64
}

// aWeighting holds order-7 A-weighting designs for the PDM output rates.
var aWeighting = map[int]Coefficients{
	15625: {
		Numerator:   []float64{0.536908, -1.073816, -0.536908, 2.147633, -0.536908, -1.073816, 0.536908},
		Denominator: []float64{1.000000, -2.841551, 2.143248, 0.528427, -0.996429, 0.042748, 0.123558},
	},
	16125: {
		Numerator:   []float64{0.529694, -1.059387, -0.529694, 2.118774, -0.529694, -1.059387, 0.529694},
		Denominator: []float64{1.000000, -2.876451, 2.246874, 0.430778, -0.978683, 0.060160, 0.117324},
	},
	16667: {
		Numerator:   []float64{0.521916, -1.043833, -0.521916, 2.087665, -0.521916, -1.043833, 0.521916},
		Denominator: []float64{1.000000, -2.913209, 2.357231, 0.324500, -0.956804, 0.077554, 0.110728},
	},
	19230: {
		Numerator:   []float64{0.486127, -0.972253, -0.486127, 1.944506, -0.486127, -0.972253, 0.486127},
		Denominator: []float64{1.000000, -3.073682, 2.853185, -0.180343, -0.821755, 0.140404, 0.082191},
	},
	20000: {
		Numerator:   []float64{0.475780, -0.951561, -0.475780, 1.903122, -0.475780, -0.951561, 0.475780},
		Denominator: []float64{1.000000, -3.118098, 2.994414, -0.331733, -0.772673, 0.153549, 0.074541},
	},
	20833: {
		Numerator:   []float64{0.464830, -0.929660, -0.464830, 1.859320, -0.464830, -0.929660, 0.464830},
		Denominator: []float64{1.000000, -3.164411, 3.143447, -0.494923, -0.715944, 0.165071, 0.066760},
	},
	31250: {
		Numerator:   []float64{0.350218, -0.700437, -0.350218, 1.400874, -0.350218, -0.700437, 0.350218},
		Denominator: []float64{1.000000, -3.629240, 4.733415, -2.428182, 0.181725, 0.133668, 0.008613},
	},
	41667: {
		Numerator:   []float64{0.270584, -0.541169, -0.270584, 1.082338, -0.270584, -0.541169, 0.270584},
		Denominator: []float64{1.000000, -3.956266, 5.946282, -4.100522, 1.188815, -0.079852, 0.001543},
	},
	50000: {
		Numerator:   []float64{0.224311, -0.448623, -0.224311, 0.897245, -0.224311, -0.448623, 0.224311},
		Denominator: []float64{1.000000, -4.157553, 6.728306, -5.253969, 1.968919, -0.301380, 0.015678},
	},
	62500: {
		Numerator:   []float64{0.173995, -0.347990, -0.173995, 0.695980, -0.173995, -0.347990, 0.173995},
		Denominator: []float64{1.000000, -4.393512, 7.677703, -6.724061, 3.041738, -0.654542, 0.052674},
	},
}

// SupportedRates returns the sample rates with built-in A-weighting designs,
// in ascending order.
func SupportedRates() []int {
	rates := make([]int, 0, len(aWeighting))
	for r := range aWeighting {
		rates = append(rates, r)
	}
	slices.Sort(rates)
	return rates
}

// Design returns a copy of the coefficients for w at sampleRate. WeightingZ
// yields empty coefficients (order 0).
func Design(w Weighting, sampleRate int) (Coefficients, error) {
	switch w {
	case WeightingZ:
		return Coefficients{}, nil
	case WeightingA:
		c, ok := aWeighting[sampleRate]
		if !ok {
			return Coefficients{}, fmt.Errorf("%w: %d Hz", ErrUnsupportedRate, sampleRate)
		}
		return Coefficients{
			Numerator:   slices.Clone(c.Numerator),
			Denominator: slices.Clone(c.Denominator),
		}, nil
	}
	return Coefficients{}, fmt.Errorf("filter: unknown weighting %v", w)
}

// Order returns the filter order implied by the coefficients.
func (c Coefficients) Order() int {
	return len(c.Numerator)
}

// DelayLine allocates delay storage sized for c.
func (c Coefficients) DelayLine() []float64 {
	return make([]float64, 2*c.Order())
}

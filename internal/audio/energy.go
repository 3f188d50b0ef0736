// SPDX-License-Identifier: MIT
package audio

import (
	"math"

	"pdmstream/internal/filter"
)

const (
	// MinDBFS is the floor reported for silence.
	MinDBFS = -96.0
	// FullScale is the magnitude of the most negative 16-bit sample.
	FullScale = 32768.0
)

// Level is the pull-style readout of the most recent block.
type Level struct {
	Energy float64 // Sum of squared (filtered) samples.
	RMS    float64 // sqrt(Energy / N).
}

// DBFS returns the RMS level relative to 16-bit full scale.
func (l Level) DBFS() float64 { return DBFS(l.RMS) }

// BlockEnergy returns the sum of squared samples of a raw block.
func BlockEnergy(samples []int16) float64 {
	return filter.SumSquares(samples)
}

// RMS converts a block energy over n samples to a root-mean-square value.
func RMS(energy float64, n int) float64 {
	if n <= 0 || energy <= 0 {
		return 0
	}
	return math.Sqrt(energy / float64(n))
}

// DBFS converts an RMS sample value to decibels relative to full scale,
// floored at MinDBFS.
func DBFS(rms float64) float64 {
	if rms <= 0 {
		return MinDBFS
	}
	return max(20*math.Log10(rms/FullScale), MinDBFS)
}

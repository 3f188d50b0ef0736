// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"sync/atomic"
)

// Gate passes frames whose peak amplitude exceeds a threshold. It is used to
// skip silent frames when recording. Safe for concurrent use.
type Gate struct {
	enabled   atomic.Bool
	threshold atomic.Int32 // Absolute amplitude (0-32767).
}

// NewGate returns an enabled gate with the threshold given as a ratio of
// full scale.
func NewGate(ratio float64) *Gate {
	g := &Gate{}
	g.SetThreshold(ratio)
	g.Enable()
	return g
}

func (g *Gate) Enable()  { g.enabled.Store(true) }
func (g *Gate) Disable() { g.enabled.Store(false) }

// Enabled reports whether the gate filters frames.
func (g *Gate) Enabled() bool { return g.enabled.Load() }

// SetThreshold adjusts the gate threshold. The value is in the range
// 0.0-1.0 where 0=always open, 1=always closed.
func (g *Gate) SetThreshold(ratio float64) {
	ratio = min(max(ratio, 0), 1)
	g.threshold.Store(int32(ratio * math.MaxInt16))
}

// Threshold returns the threshold as a ratio of full scale.
func (g *Gate) Threshold() float64 {
	return float64(g.threshold.Load()) / math.MaxInt16
}

// Open reports whether samples pass the gate. A nil or disabled gate is
// always open.
func (g *Gate) Open(samples []int16) bool {
	if g == nil || !g.enabled.Load() {
		return true
	}
	return Peak(samples) > g.threshold.Load()
}

// Peak returns the largest absolute sample value without branching.
func Peak(samples []int16) int32 {
	var peak int32
	for _, s := range samples {
		v := int32(s)
		mask := v >> 31
		amplitude := (v ^ mask) - mask
		diff := amplitude - peak
		peak += diff &^ (diff >> 31)
	}
	return peak
}

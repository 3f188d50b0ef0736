// SPDX-License-Identifier: MIT
package analysis

import (
	"pdmstream/internal/audio"
	applog "pdmstream/internal/log"
	"pdmstream/internal/transport"
)

// OnsetEvent is the event name sent for a detected onset.
const OnsetEvent = "onset"

// Onset detects sudden level increases. A frame is an onset when its RMS
// exceeds Sensitivity times the running average of previous frames, its
// level is above FloorDBFS, and at least Cooldown frames have passed since
// the last onset.
type Onset struct {
	Sensitivity float64
	FloorDBFS   float64
	Cooldown    int

	transport transport.Transport
	average   float64
	primed    bool
	sinceLast int
	count     uint64
}

var _ FrameProcessor = (*Onset)(nil)

// averageWeight is the weight of the newest frame in the running average.
const averageWeight = 0.1

// NewOnset creates an onset detector. t may be nil.
func NewOnset(sensitivity float64, t transport.Transport) *Onset {
	if sensitivity <= 1 {
		sensitivity = 1.5
	}
	applog.Infof("Analysis: Initializing Onset detector (Sensitivity: %.2f)", sensitivity)
	return &Onset{
		Sensitivity: sensitivity,
		FloorDBFS:   -60,
		Cooldown:    4,
		transport:   t,
		sinceLast:   1 << 30,
	}
}

// Detect feeds one frame level and reports whether it is an onset.
func (o *Onset) Detect(rms float64) bool {
	o.sinceLast++
	if !o.primed {
		o.average = rms
		o.primed = true
		return false
	}
	hit := rms > o.average*o.Sensitivity &&
		audio.DBFS(rms) > o.FloorDBFS &&
		o.sinceLast > o.Cooldown
	o.average += averageWeight * (rms - o.average)
	if hit {
		o.sinceLast = 0
		o.count++
	}
	return hit
}

// Count returns the number of onsets detected so far.
func (o *Onset) Count() uint64 { return o.count }

// Reset forgets the running average.
func (o *Onset) Reset() {
	o.average = 0
	o.primed = false
	o.sinceLast = 1 << 30
}

// Process runs Detect on the frame RMS and sends an event on onset.
func (o *Onset) Process(f audio.Frame) {
	rms := f.RMS()
	if !o.Detect(rms) || o.transport == nil {
		return
	}
	msg := transport.EventMessage{Type: transport.TypeEvent, Name: OnsetEvent, Seq: f.Seq, DBFS: audio.DBFS(rms)}
	if err := o.transport.Send(msg); err != nil {
		applog.Debugf("Onset: Error sending event: %v", err)
	}
}

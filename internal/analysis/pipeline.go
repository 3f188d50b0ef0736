// SPDX-License-Identifier: MIT
package analysis

import (
	"time"

	"pdmstream/internal/audio"
	applog "pdmstream/internal/log"
	"pdmstream/internal/transport"
)

// Pipeline sends a LevelMessage for each frame and then runs its processors
// in order. Consume has the audio.FrameFunc signature.
type Pipeline struct {
	transport  transport.Transport
	processors []FrameProcessor
	now        func() time.Time
}

// NewPipeline creates a pipeline. t may be nil, in which case only the
// processors run.
func NewPipeline(t transport.Transport, processors ...FrameProcessor) *Pipeline {
	return &Pipeline{transport: t, processors: processors, now: time.Now}
}

// Consume handles one frame.
func (p *Pipeline) Consume(f audio.Frame) {
	if p.transport != nil {
		rms := f.RMS()
		msg := transport.LevelMessage{
			Type:     transport.TypeLevel,
			Seq:      f.Seq,
			Energy:   f.Energy,
			RMS:      rms,
			DBFS:     audio.DBFS(rms),
			Weighted: f.Filtered,
			Time:     p.now(),
		}
		if err := p.transport.Send(msg); err != nil {
			applog.Debugf("Pipeline: Error sending level: %v", err)
		}
	}
	for _, proc := range p.processors {
		proc.Process(f)
	}
}

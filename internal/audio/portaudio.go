// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"pdmstream/internal/filter"
)

// PortAudioConfig selects the host input that stands in for the PDM
// microphone.
type PortAudioConfig struct {
	DeviceID        int     // DefaultDevice for the host default.
	SampleRate      float64 // Hz.
	Channels        int     // 1 (mono) or 2 (stereo, interleaved).
	FramesPerBuffer int     // Host callback size; independent of the block length.
	LowLatency      bool
	LeftGainDB      float64 // Software gain applied to channel 0.
	RightGainDB     float64 // Software gain applied to channel 1.
}

// PortAudioPeripheral captures from a PortAudio input stream and slices the
// interleaved samples into the blocks handed out by the session.
type PortAudioPeripheral struct {
	cfg     PortAudioConfig
	device  *portaudio.DeviceInfo
	latency time.Duration
	gain    [2]float64

	mu      sync.Mutex // Held by the stream callback while it fills blocks.
	stream  *portaudio.Stream
	handler Handler
	target  []int16
	fill    int
	running atomic.Bool
}

// NewPortAudioPeripheral resolves the input device. PortAudio must already
// be initialized.
func NewPortAudioPeripheral(cfg PortAudioConfig) (*PortAudioPeripheral, error) {
	if cfg.Channels != 1 && cfg.Channels != 2 {
		return nil, fmt.Errorf("%w: %d channels", FaultNotSupported, cfg.Channels)
	}
	device, err := InputDevice(cfg.DeviceID)
	if err != nil {
		return nil, err
	}

	p := &PortAudioPeripheral{
		cfg:    cfg,
		device: device,
		gain:   [2]float64{dbToLinear(cfg.LeftGainDB), dbToLinear(cfg.RightGainDB)},
	}
	if cfg.LowLatency {
		p.latency = device.DefaultLowInputLatency
	} else {
		p.latency = device.DefaultHighInputLatency
	}
	return p, nil
}

func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// Start opens the input stream and fills first. A stream left open after
// the handler ended capture must be stopped first.
func (p *PortAudioPeripheral) Start(first []int16, h Handler) error {
	if p.running.Load() || p.stream != nil {
		return FaultBusy
	}
	if len(first) == 0 || len(first)%p.cfg.Channels != 0 {
		return fmt.Errorf("%w: block of %d samples for %d channels", FaultInvalidLength, len(first), p.cfg.Channels)
	}

	p.mu.Lock()
	p.handler, p.target, p.fill = h, first, 0
	p.mu.Unlock()

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   p.device,
			Channels: p.cfg.Channels,
			Latency:  p.latency,
		},
		FramesPerBuffer: p.cfg.FramesPerBuffer,
		SampleRate:      p.cfg.SampleRate,
	}
	stream, err := portaudio.OpenStream(params, p.process)
	if err != nil {
		return errors.Join(FaultInternal, err)
	}

	p.running.Store(true)
	if err := stream.Start(); err != nil {
		p.running.Store(false)
		stream.Close()
		return errors.Join(FaultInvalidState, err)
	}
	p.stream = stream
	return nil
}

// Stop halts the stream. PortAudio does not return from Stop while the
// callback runs, so no handler call is in flight afterwards.
func (p *PortAudioPeripheral) Stop() error {
	if p.stream == nil {
		return nil
	}
	p.running.Store(false)
	stopErr := p.stream.Stop()
	closeErr := p.stream.Close()
	p.stream = nil

	p.mu.Lock()
	p.handler, p.target, p.fill = nil, nil, 0
	p.mu.Unlock()
	return errors.Join(stopErr, closeErr)
}

// Close stops the stream if it is running.
func (p *PortAudioPeripheral) Close() error {
	return p.Stop()
}

// process is the PortAudio stream callback. Performance critical:
// - Runs on the PortAudio thread
// - Copies into the armed block only; no allocations
func (p *PortAudioPeripheral) process(in []int16) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if !p.running.Load() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(in) > 0 && p.target != nil {
		dst := p.target[p.fill:]
		n := min(len(dst), len(in))
		p.applyGain(dst[:n], in[:n])
		in = in[n:]
		p.fill += n

		if p.fill == len(p.target) {
			p.target = p.handler(p.target)
			p.fill = 0
		}
	}
	if p.target == nil {
		p.running.Store(false)
	}
}

// applyGain copies src to dst scaling each channel. dst starts at p.fill,
// which is always a multiple of the channel count.
func (p *PortAudioPeripheral) applyGain(dst, src []int16) {
	if p.gain[0] == 1 && p.gain[1] == 1 {
		copy(dst, src)
		return
	}
	ch := p.cfg.Channels
	for i, s := range src {
		dst[i] = filter.Clamp16(float64(s) * p.gain[i%ch])
	}
}

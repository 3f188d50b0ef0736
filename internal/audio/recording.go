// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	applog "pdmstream/internal/log"
)

// ErrRecording is returned when starting a recorder that is already running.
var ErrRecording = errors.New("already recording")

// Recorder writes delivered frames to a 16-bit PCM WAV file. Register its
// Consume method as the session consumer, preferably with deferred dispatch
// since file writes may block.
type Recorder struct {
	sampleRate int
	channels   int
	gate       *Gate

	mu        sync.Mutex
	file      *os.File
	encoder   *wav.Encoder
	sampleBuf *audio.IntBuffer // Reused for int16 to int conversion.

	recording atomic.Bool
	written   atomic.Uint64
	skipped   atomic.Uint64
}

// NewRecorder returns a recorder for blocks of blockLen interleaved samples.
// gate may be nil to keep every frame.
func NewRecorder(sampleRate, channels, blockLen int, gate *Gate) *Recorder {
	return &Recorder{
		sampleRate: sampleRate,
		channels:   channels,
		gate:       gate,
		sampleBuf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: channels,
				SampleRate:  sampleRate,
			},
			Data:           make([]int, blockLen),
			SourceBitDepth: 16,
		},
	}
}

// Filename returns a timestamped WAV path inside dir.
func Filename(dir string, t time.Time) string {
	return filepath.Join(dir, "pdm-"+t.Format("20060102-150405")+".wav")
}

// Start opens filename and begins writing frames.
func (r *Recorder) Start(filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording.Load() {
		return ErrRecording
	}
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	r.file = file
	r.encoder = wav.NewEncoder(file, r.sampleRate, 16, r.channels, 1)
	r.written.Store(0)
	r.skipped.Store(0)
	r.recording.Store(true)
	applog.Infof("Recorder: writing %s", filename)
	return nil
}

// Stop finalizes the WAV header and closes the file. Stopping an idle
// recorder is a no-op.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording.Swap(false) {
		return nil
	}
	encErr := r.encoder.Close()
	fileErr := r.file.Close()
	r.encoder, r.file = nil, nil
	applog.Infof("Recorder: stopped (%d frames written, %d gated)", r.written.Load(), r.skipped.Load())
	return errors.Join(encErr, fileErr)
}

// Recording reports whether frames are being written.
func (r *Recorder) Recording() bool { return r.recording.Load() }

// Frames returns how many frames were written and how many the gate
// skipped since Start.
func (r *Recorder) Frames() (written, skipped uint64) {
	return r.written.Load(), r.skipped.Load()
}

// Consume writes f if recording and the gate is open.
func (r *Recorder) Consume(f Frame) {
	if !r.recording.Load() {
		return
	}
	if !r.gate.Open(f.Samples) {
		r.skipped.Add(1)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.encoder == nil {
		return
	}

	n := min(len(f.Samples), cap(r.sampleBuf.Data))
	r.sampleBuf.Data = r.sampleBuf.Data[:n]
	for i, s := range f.Samples[:n] {
		r.sampleBuf.Data[i] = int(s)
	}
	if err := r.encoder.Write(r.sampleBuf); err != nil {
		applog.Errorf("Recorder: write frame %d: %v", f.Seq, err)
		return
	}
	r.written.Add(1)
}

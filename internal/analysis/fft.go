// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
	"math/cmplx"
	"strings"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"pdmstream/internal/audio"
	applog "pdmstream/internal/log"
	"pdmstream/pkg/bitint"
)

// WindowFunc selects the window applied before the FFT.
type WindowFunc int

const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

var windowNames = [...]string{
	BartlettHann:    "bartletthann",
	Blackman:        "blackman",
	BlackmanNuttall: "blackmannuttall",
	Hann:            "hann",
	Hamming:         "hamming",
	Lanczos:         "lanczos",
	Nuttall:         "nuttall",
}

func (w WindowFunc) String() string {
	if w < 0 || int(w) >= len(windowNames) {
		return fmt.Sprintf("WindowFunc(%d)", int(w))
	}
	return windowNames[w]
}

// ErrSizeMismatch is returned by MagnitudesInto for a wrongly sized slice.
var ErrSizeMismatch = errors.New("destination slice length does not match bin count")

// Spectrum computes the magnitude spectrum of channel 0 of each frame.
// Samples are normalized to [-1, 1) before windowing; a block shorter than
// the FFT size is zero padded and a longer one is truncated.
type Spectrum struct {
	fft        *fourier.FFT
	fftSize    int
	sampleRate float64
	channels   int

	input  []float64    // Windowed input, written by Process only.
	coeffs []complex128 // FFT output, written by Process only.
	window []float64

	mu        sync.RWMutex // Protects magnitude and seq.
	magnitude []float64
	seq       uint64
}

var (
	_ FrameProcessor   = (*Spectrum)(nil)
	_ SpectrumProvider = (*Spectrum)(nil)
)

// NewSpectrum creates a spectrum analyzer. fftSize must be a power of two
// and channels the interleave factor of the frames it will see.
func NewSpectrum(fftSize int, sampleRate float64, channels int, w WindowFunc) (*Spectrum, error) {
	if !bitint.IsPowerOfTwo(fftSize) {
		return nil, fmt.Errorf("fft size must be a power of 2, got %d", fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}
	if channels < 1 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}

	win := make([]float64, fftSize)
	applyWindow(win, w)
	bins := fftSize/2 + 1

	applog.Infof("Analysis: Initializing Spectrum (Size: %d, SampleRate: %.1f Hz, Window: %v)", fftSize, sampleRate, w)

	return &Spectrum{
		fft:        fourier.NewFFT(fftSize),
		fftSize:    fftSize,
		sampleRate: sampleRate,
		channels:   channels,
		input:      make([]float64, fftSize),
		coeffs:     make([]complex128, bins),
		window:     win,
		magnitude:  make([]float64, bins),
	}, nil
}

// Process windows the frame, runs the FFT and publishes the magnitudes.
// It must not be called concurrently with itself.
func (s *Spectrum) Process(f audio.Frame) {
	const norm = 1.0 / audio.FullScale
	frames := len(f.Samples) / s.channels
	for i := range s.fftSize {
		if i < frames {
			s.input[i] = float64(f.Samples[i*s.channels]) * norm * s.window[i]
		} else {
			s.input[i] = 0
		}
	}
	s.fft.Coefficients(s.coeffs, s.input)

	s.mu.Lock()
	for i, c := range s.coeffs {
		s.magnitude[i] = cmplx.Abs(c)
	}
	s.seq = f.Seq
	s.mu.Unlock()
}

// Seq returns the sequence number of the frame behind the current spectrum.
func (s *Spectrum) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Magnitudes returns a copy of the latest magnitudes. It allocates; use
// MagnitudesInto on hot paths.
func (s *Spectrum) Magnitudes() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]float64, len(s.magnitude))
	copy(out, s.magnitude)
	return out
}

// MagnitudesInto copies the latest magnitudes into dst, which must have
// Bins() elements.
func (s *Spectrum) MagnitudesInto(dst []float64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(dst) != len(s.magnitude) {
		return fmt.Errorf("%w: got %d, want %d", ErrSizeMismatch, len(dst), len(s.magnitude))
	}
	copy(dst, s.magnitude)
	return nil
}

// Bins returns fftSize/2 + 1.
func (s *Spectrum) Bins() int { return len(s.magnitude) }

// FrequencyForBin returns binIndex * sampleRate / fftSize, or 0 when the
// index is out of range.
func (s *Spectrum) FrequencyForBin(binIndex int) float64 {
	if binIndex < 0 || binIndex >= len(s.magnitude) {
		return 0
	}
	return float64(binIndex) * s.sampleRate / float64(s.fftSize)
}

// BinForFrequency returns the bin closest to hz, clamped to the valid range.
func (s *Spectrum) BinForFrequency(hz float64) int {
	bin := int(hz*float64(s.fftSize)/s.sampleRate + 0.5)
	return max(0, min(bin, len(s.magnitude)-1))
}

func (s *Spectrum) FFTSize() int        { return s.fftSize }
func (s *Spectrum) SampleRate() float64 { return s.sampleRate }

// ParseWindowFunc converts a case-insensitive name to a WindowFunc. Unknown
// names return Hann and an error.
func ParseWindowFunc(name string) (WindowFunc, error) {
	n := strings.ToLower(name)
	if n == "hanning" {
		return Hann, nil
	}
	for w, s := range windowNames {
		if s == n {
			return WindowFunc(w), nil
		}
	}
	return Hann, fmt.Errorf("unknown FFT window function name: '%s'", name)
}

// applyWindow fills coeffs with the selected window, defaulting to Hann.
func applyWindow(coeffs []float64, w WindowFunc) {
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch w {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		applog.Warnf("Analysis: Unknown window function type %d, defaulting to Hann", int(w))
		window.Hann(coeffs)
	}
}

// PeakBin returns the index of the largest magnitude in [startBin, endBin].
// The range is clamped to the slice.
func PeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}
	startBin = max(0, min(startBin, len(magnitudes)-1))
	endBin = min(endBin, len(magnitudes)-1)

	peak := startBin
	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > magnitudes[peak] {
			peak = bin
		}
	}
	return peak
}

// PeakFrequency returns the center frequency of the strongest bin above DC.
func (s *Spectrum) PeakFrequency() float64 {
	s.mu.RLock()
	bin := PeakBin(s.magnitude, 1, len(s.magnitude)-1)
	s.mu.RUnlock()
	return s.FrequencyForBin(bin)
}

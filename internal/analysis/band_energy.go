// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
	"math"

	"pdmstream/internal/audio"
	applog "pdmstream/internal/log"
	"pdmstream/internal/transport"
)

// MinBandHz is the lower edge of the lowest band.
const MinBandHz = 20.0

// FrequencyBand is a half-open frequency range [LowHz, HighHz).
type FrequencyBand struct {
	Name   string
	LowHz  float64
	HighHz float64
}

// LogBands splits [MinBandHz, nyquist) into n logarithmically spaced bands.
func LogBands(n int, sampleRate float64) ([]FrequencyBand, error) {
	nyquist := sampleRate / 2
	if n < 1 {
		return nil, fmt.Errorf("band count must be positive, got %d", n)
	}
	if nyquist <= MinBandHz {
		return nil, fmt.Errorf("sample rate %.0f Hz too low for band analysis", sampleRate)
	}
	ratio := math.Pow(nyquist/MinBandHz, 1/float64(n))
	bands := make([]FrequencyBand, n)
	lo := MinBandHz
	for i := range bands {
		hi := lo * ratio
		if i == n-1 {
			hi = nyquist
		}
		bands[i] = FrequencyBand{Name: bandName(lo, hi), LowHz: lo, HighHz: hi}
		lo = hi
	}
	return bands, nil
}

func bandName(lo, hi float64) string {
	if hi >= 1000 {
		return fmt.Sprintf("%.1fk", (lo+hi)/2000)
	}
	return fmt.Sprintf("%.0f", (lo+hi)/2)
}

// BandEnergy reduces the spectrum to per-band levels in [0, 1] and sends a
// BandMessage for every frame.
type BandEnergy struct {
	transport transport.Transport
	provider  SpectrumProvider
	bands     []FrequencyBand
	names     []string
	binBand   []int // Band index per bin, -1 when outside every band.
	sums      []float64
	counts    []int
	mags      []float64
	scale     float64
}

var _ FrameProcessor = (*BandEnergy)(nil)

// NewBandEnergy creates a band processor reading provider.
func NewBandEnergy(t transport.Transport, provider SpectrumProvider, bands []FrequencyBand) (*BandEnergy, error) {
	if provider == nil {
		return nil, errors.New("band energy requires a spectrum provider")
	}
	if len(bands) == 0 {
		return nil, errors.New("band energy requires at least one band")
	}

	p := &BandEnergy{
		transport: t,
		provider:  provider,
		bands:     bands,
		names:     make([]string, len(bands)),
		binBand:   make([]int, provider.Bins()),
		sums:      make([]float64, len(bands)),
		counts:    make([]int, len(bands)),
		mags:      make([]float64, provider.Bins()),
		// A full-scale sine under a Hann window peaks at about fftSize/4.
		scale: 4 / float64(provider.FFTSize()),
	}
	for i, b := range bands {
		p.names[i] = b.Name
	}
	for bin := range p.binBand {
		p.binBand[bin] = -1
		freq := provider.FrequencyForBin(bin)
		for i, b := range bands {
			if freq >= b.LowHz && freq < b.HighHz {
				p.binBand[bin] = i
				break
			}
		}
	}
	applog.Infof("Analysis: Initializing BandEnergy with %d bands.", len(bands))
	return p, nil
}

// Bands returns the configured bands.
func (p *BandEnergy) Bands() []FrequencyBand { return p.bands }

// Values computes the current per-band levels into dst, which must have one
// element per band. Each level is the RMS magnitude of the band's bins,
// scaled so a full-scale tone reads close to 1, clamped to [0, 1].
func (p *BandEnergy) Values(dst []float64) error {
	if len(dst) != len(p.bands) {
		return fmt.Errorf("%w: got %d, want %d", ErrSizeMismatch, len(dst), len(p.bands))
	}
	if err := p.provider.MagnitudesInto(p.mags); err != nil {
		return err
	}
	clear(p.sums)
	clear(p.counts)
	for bin, m := range p.mags {
		if i := p.binBand[bin]; i >= 0 {
			p.sums[i] += m * m
			p.counts[i]++
		}
	}
	for i := range dst {
		v := 0.0
		if p.counts[i] > 0 {
			v = math.Sqrt(p.sums[i]/float64(p.counts[i])) * p.scale
		}
		dst[i] = min(1, v)
	}
	return nil
}

// Process sends the band levels for f. The spectrum provider must already
// have processed f.
func (p *BandEnergy) Process(f audio.Frame) {
	if p.transport == nil {
		return
	}
	values := make([]float64, len(p.bands))
	if err := p.Values(values); err != nil {
		applog.Errorf("BandEnergy: %v", err)
		return
	}
	msg := transport.BandMessage{Type: transport.TypeBands, Seq: f.Seq, Names: p.names, Values: values}
	if err := p.transport.Send(msg); err != nil {
		applog.Debugf("BandEnergy: Error sending band data: %v", err)
	}
}

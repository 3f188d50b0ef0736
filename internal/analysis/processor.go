// SPDX-License-Identifier: MIT
package analysis

import "pdmstream/internal/audio"

// FrameProcessor analyzes delivered frames. Process is called from the frame
// consumer, never from the capture context, and must not retain f.Samples.
type FrameProcessor interface {
	Process(f audio.Frame)
}

// SpectrumProvider exposes the latest magnitude spectrum. It decouples band
// and publisher consumers from the FFT implementation.
type SpectrumProvider interface {
	Magnitudes() []float64                // Magnitudes returns a copy of the latest spectrum.
	MagnitudesInto(dst []float64) error   // MagnitudesInto copies the latest spectrum without allocating.
	Bins() int                            // Bins returns the number of magnitude bins (fftSize/2 + 1).
	FrequencyForBin(binIndex int) float64 // FrequencyForBin returns the center frequency (Hz) of a bin.
	FFTSize() int
	SampleRate() float64
}

// SPDX-License-Identifier: MIT
package audiotest

import "math"

// Sine returns n samples of a sine wave at freq Hz with the given peak
// amplitude, sampled at rate Hz.
func Sine(n int, rate, freq, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		t := float64(i) / rate
		out[i] = int16(math.Round(amp * math.Sin(2*math.Pi*freq*t)))
	}
	return out
}

// Constant returns n samples of v.
func Constant(n int, v int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Impulse returns n samples with a single sample of amplitude v at index 0.
func Impulse(n int, v int16) []int16 {
	out := make([]int16, n)
	if n > 0 {
		out[0] = v
	}
	return out
}

// Blocks splits samples into consecutive blocks of n samples. A short tail
// is dropped.
func Blocks(samples []int16, n int) [][]int16 {
	var out [][]int16
	for len(samples) >= n && n > 0 {
		out = append(out, samples[:n:n])
		samples = samples[n:]
	}
	return out
}

// Chord returns n samples of equal-amplitude sines at each of freqs, scaled
// so the sum peaks at no more than amp.
func Chord(n int, rate, amp float64, freqs ...float64) []int16 {
	out := make([]int16, n)
	if len(freqs) == 0 {
		return out
	}
	each := amp / float64(len(freqs))
	for i := range out {
		t := float64(i) / rate
		var v float64
		for _, f := range freqs {
			v += each * math.Sin(2*math.Pi*f*t)
		}
		out[i] = int16(math.Round(v))
	}
	return out
}

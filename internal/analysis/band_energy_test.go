// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"

	"pdmstream/internal/audio"
	"pdmstream/internal/audiotest"
	"pdmstream/internal/transport"
)

func TestLogBands(t *testing.T) {
	bands, err := LogBands(8, testRate)
	if err != nil {
		t.Fatalf("LogBands: %v", err)
	}
	if len(bands) != 8 || bands[0].LowHz != MinBandHz || bands[7].HighHz != testRate/2 {
		t.Fatalf("bands = %+v", bands)
	}
	for i := 1; i < len(bands); i++ {
		if bands[i].LowHz != bands[i-1].HighHz {
			t.Errorf("gap between band %d and %d", i-1, i)
		}
		r0 := bands[i-1].HighHz / bands[i-1].LowHz
		r1 := bands[i].HighHz / bands[i].LowHz
		if math.Abs(r0-r1) > 1e-9 {
			t.Errorf("band %d ratio %v != %v", i, r1, r0)
		}
	}

	if _, err := LogBands(0, testRate); err == nil {
		t.Error("zero bands accepted")
	}
	if _, err := LogBands(4, 30); err == nil {
		t.Error("rate below band floor accepted")
	}
}

func TestBandEnergyLoudestBandHoldsTone(t *testing.T) {
	s := newTestSpectrum(t, 1)
	bands, _ := LogBands(8, testRate)
	be, err := NewBandEnergy(nil, s, bands)
	if err != nil {
		t.Fatalf("NewBandEnergy: %v", err)
	}

	s.Process(audio.Frame{Samples: audiotest.Sine(testSize, testRate, testTone, 32000)})
	values := make([]float64, len(bands))
	if err := be.Values(values); err != nil {
		t.Fatalf("Values: %v", err)
	}

	loudest := floats.MaxIdx(values)
	b := bands[loudest]
	if testTone < b.LowHz || testTone >= b.HighHz {
		t.Errorf("loudest band %+v does not contain %v Hz", b, testTone)
	}
	for i, v := range values {
		if v < 0 || v > 1 {
			t.Errorf("band %d value %v out of range", i, v)
		}
	}
	if err := be.Values(make([]float64, 2)); err == nil {
		t.Error("wrong size accepted")
	}
}

func TestBandEnergySendsMessage(t *testing.T) {
	s := newTestSpectrum(t, 1)
	bands, _ := LogBands(4, testRate)
	tr := &audiotest.Transport{}
	be, err := NewBandEnergy(tr, s, bands)
	if err != nil {
		t.Fatal(err)
	}
	f := audio.Frame{Seq: 3, Samples: audiotest.Sine(testSize, testRate, testTone, 8000)}
	s.Process(f)
	be.Process(f)

	msgs := tr.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	m, ok := msgs[0].(transport.BandMessage)
	if !ok || m.Type != transport.TypeBands || m.Seq != 3 || len(m.Values) != 4 || len(m.Names) != 4 {
		t.Errorf("message = %#v", msgs[0])
	}
}

func TestNewBandEnergyValidation(t *testing.T) {
	if _, err := NewBandEnergy(nil, nil, []FrequencyBand{{LowHz: 1, HighHz: 2}}); err == nil {
		t.Error("nil provider accepted")
	}
	if _, err := NewBandEnergy(nil, newTestSpectrum(t, 1), nil); err == nil {
		t.Error("no bands accepted")
	}
}

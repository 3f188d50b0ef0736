// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"pdmstream/internal/audiotest"
	"pdmstream/internal/filter"
	"pdmstream/internal/observe"
)

const testRate = 16125

// errSink collects errors reported by a session.
type errSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errSink) report(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *errSink) count(target error) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, err := range s.errs {
		if errors.Is(err, target) {
			n++
		}
	}
	return n
}

// recorder keeps copies of delivered frames.
type recorder struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *recorder) consume(f Frame) {
	f.Samples = slices.Clone(f.Samples)
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.frames)
}

type fixture struct {
	s    *Session
	p    *audiotest.ManualPeripheral
	a, b []int16
	errs *errSink
}

func newFixture(t *testing.T, n int, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		p:    audiotest.NewManualPeripheral(),
		a:    make([]int16, n),
		b:    make([]int16, n),
		errs: &errSink{},
	}
	opts = append([]Option{WithErrorHandler(f.errs.report)}, opts...)
	f.s = NewSession(f.p, opts...)
	if err := f.s.Init(f.a, f.b); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = f.s.Close() })
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func configureWeighting(t *testing.T, s *Session) filter.Coefficients {
	t.Helper()
	c, err := filter.Design(filter.WeightingA, testRate)
	if err != nil {
		t.Fatalf("Design: %v", err)
	}
	if err := s.ConfigureFilter(c.Numerator, c.Denominator, c.DelayLine()); err != nil {
		t.Fatalf("ConfigureFilter: %v", err)
	}
	return c
}

func TestInitValidation(t *testing.T) {
	backing := make([]int16, 8)
	tests := []struct {
		name string
		a, b []int16
	}{
		{"empty", nil, make([]int16, 4)},
		{"length mismatch", make([]int16, 4), make([]int16, 5)},
		{"shared storage", backing[:4], backing[:4]},
		{"overlapping", backing[0:4], backing[2:6]},
		{"overlapping reversed", backing[3:7], backing[0:4]},
		{"overlapping by one sample", backing[0:4], backing[3:7]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(audiotest.NewManualPeripheral())
			err := s.Init(tt.a, tt.b)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) || !errors.Is(err, ErrConfig) {
				t.Fatalf("Init error = %v, want ConfigError", err)
			}
			if s.State() != StateUninitialized {
				t.Errorf("state = %s, want uninitialized", s.State())
			}
		})
	}

	t.Run("adjacent halves", func(t *testing.T) {
		s := NewSession(audiotest.NewManualPeripheral())
		if err := s.Init(backing[:4], backing[4:]); err != nil {
			t.Fatalf("Init: %v", err)
		}
		if err := s.Init(backing[:4], backing[4:]); !errors.Is(err, ErrState) {
			t.Errorf("second Init error = %v, want ErrState", err)
		}
	})
}

func TestStartBeforeInit(t *testing.T) {
	s := NewSession(audiotest.NewManualPeripheral())
	if err := s.Start(); !errors.Is(err, ErrState) {
		t.Errorf("Start error = %v, want ErrState", err)
	}
}

func TestRawBlockEnergy(t *testing.T) {
	f := newFixture(t, 4)
	rec := &recorder{}
	f.s.OnBlockReady(rec.consume)
	f.start(t)

	f.p.Capture([]int16{3, -4, 0, 5})

	frames := rec.snapshot()
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	fr := frames[0]
	if fr.Energy != 50 {
		t.Errorf("energy = %v, want 50", fr.Energy)
	}
	if math.Abs(fr.RMS()-3.5355339) > 1e-6 {
		t.Errorf("RMS = %v, want 3.5355", fr.RMS())
	}
	if fr.Block != BlockA || fr.Seq != 1 || fr.Filtered {
		t.Errorf("frame = %+v", fr)
	}
	if !slices.Equal(fr.Samples, []int16{3, -4, 0, 5}) {
		t.Errorf("samples = %v", fr.Samples)
	}

	lvl := f.s.LatestLevel()
	if lvl.Energy != 50 || math.Abs(lvl.RMS-fr.RMS()) > 1e-12 {
		t.Errorf("LatestLevel = %+v", lvl)
	}
}

func TestStrictAlternation(t *testing.T) {
	f := newFixture(t, 8)
	rec := &recorder{}
	f.s.OnBlockReady(rec.consume)
	f.start(t)

	const k = 9
	for i := range k {
		f.p.Capture(audiotest.Constant(8, int16(i)))
	}

	frames := rec.snapshot()
	if len(frames) != k {
		t.Fatalf("got %d frames, want %d", len(frames), k)
	}
	for i, fr := range frames {
		want := BlockA
		if i%2 == 1 {
			want = BlockB
		}
		if fr.Block != want {
			t.Errorf("frame %d block = %s, want %s", i, fr.Block, want)
		}
		if fr.Seq != uint64(i+1) {
			t.Errorf("frame %d seq = %d", i, fr.Seq)
		}
		if fr.Samples[0] != int16(i) {
			t.Errorf("frame %d carries samples of another block", i)
		}
	}
	if got := f.s.Stats().Blocks; got != k {
		t.Errorf("Stats().Blocks = %d, want %d", got, k)
	}
}

func TestFilteredFramesMatchFilter(t *testing.T) {
	const n = 64
	f := newFixture(t, n)
	c := configureWeighting(t, f.s)
	rec := &recorder{}
	f.s.OnBlockReady(rec.consume)
	f.start(t)

	ref, err := filter.New(c.Numerator, c.Denominator, c.DelayLine())
	if err != nil {
		t.Fatalf("filter.New: %v", err)
	}

	input := audiotest.Blocks(audiotest.Sine(4*n, testRate, 1000, 8000), n)
	var want []Frame
	for _, blk := range input {
		f.p.Capture(blk)
		out := make([]int16, n)
		want = append(want, Frame{Samples: out, Energy: ref.Process(out, blk)})
	}

	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d", len(got), len(want))
	}
	for i := range got {
		if !got[i].Filtered {
			t.Errorf("frame %d not marked filtered", i)
		}
		if got[i].Energy != want[i].Energy {
			t.Errorf("frame %d energy = %v, want %v", i, got[i].Energy, want[i].Energy)
		}
		if !slices.Equal(got[i].Samples, want[i].Samples) {
			t.Errorf("frame %d samples differ from the standalone filter", i)
		}
	}
}

func TestFilterResetOnStart(t *testing.T) {
	const n = 32
	f := newFixture(t, n)
	configureWeighting(t, f.s)
	rec := &recorder{}
	f.s.OnBlockReady(rec.consume)

	blk := audiotest.Sine(n, testRate, 500, 12000)

	f.start(t)
	f.p.Capture(blk)
	f.p.Capture(blk)
	if err := f.s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	f.start(t)
	f.p.Capture(blk)

	frames := rec.snapshot()
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	if frames[2].Energy != frames[0].Energy || !slices.Equal(frames[2].Samples, frames[0].Samples) {
		t.Error("first block after restart differs: filter memory leaked across sessions")
	}
	if frames[1].Energy == frames[0].Energy {
		t.Error("second block equals first: filter memory not kept within a session")
	}
	if frames[2].Seq != 3 {
		t.Errorf("seq after restart = %d, want 3", frames[2].Seq)
	}
	if frames[2].Block != BlockA {
		t.Errorf("restart armed %s, want A", frames[2].Block)
	}
}

func TestConfigureFilterErrors(t *testing.T) {
	f := newFixture(t, 16)
	c := configureWeighting(t, f.s)

	badDen := slices.Clone(c.Denominator)
	badDen[0] = 0

	tests := []struct {
		name     string
		num, den []float64
		delay    []float64
		want     error
	}{
		{"length mismatch", c.Numerator, c.Denominator[:3], make([]float64, 14), filter.ErrOrderMismatch},
		{"delay size", c.Numerator, c.Denominator, make([]float64, 7), filter.ErrDelaySize},
		{"zero normalization", c.Numerator, badDen, make([]float64, 14), filter.ErrNormalization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.s.ConfigureFilter(tt.num, tt.den, tt.delay)
			if !errors.Is(err, ErrConfig) || !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want ConfigError wrapping %v", err, tt.want)
			}
		})
	}

	rec := &recorder{}
	f.s.OnBlockReady(rec.consume)
	f.start(t)
	f.p.Capture(audiotest.Constant(16, 100))
	if frames := rec.snapshot(); len(frames) != 1 || !frames[0].Filtered {
		t.Error("previous filter was not kept after rejected configurations")
	}

	err := f.s.ConfigureFilter(c.Numerator, c.Denominator, c.DelayLine())
	if !errors.Is(err, ErrConfig) || !errors.Is(err, ErrState) {
		t.Errorf("ConfigureFilter while capturing error = %v", err)
	}
}

func TestDisableFilter(t *testing.T) {
	f := newFixture(t, 4)
	configureWeighting(t, f.s)
	if err := f.s.ConfigureFilter(nil, nil, nil); err != nil {
		t.Fatalf("ConfigureFilter(nil): %v", err)
	}
	rec := &recorder{}
	f.s.OnBlockReady(rec.consume)
	f.start(t)
	f.p.Capture([]int16{3, -4, 0, 5})

	if fr := rec.snapshot()[0]; fr.Filtered || fr.Energy != 50 {
		t.Errorf("frame = %+v, want raw energy 50", fr)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t, 4)
	if err := f.s.Stop(); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
	f.start(t)
	for i := range 2 {
		if err := f.s.Stop(); err != nil {
			t.Errorf("Stop #%d: %v", i+1, err)
		}
	}
	if _, stops, _ := f.p.Calls(); stops != 1 {
		t.Errorf("peripheral stopped %d times, want 1", stops)
	}
	if f.s.State() != StateConfigured {
		t.Errorf("state = %s, want configured", f.s.State())
	}
	if f.p.Capture(audiotest.Constant(4, 1)) {
		t.Error("peripheral still captures after Stop")
	}
}

func TestStopCompletesInFlightBlock(t *testing.T) {
	f := newFixture(t, 4)
	entered := make(chan struct{})
	release := make(chan struct{})
	var delivered Frame
	f.s.OnBlockReady(func(fr Frame) {
		close(entered)
		<-release
		delivered = fr
		delivered.Samples = slices.Clone(fr.Samples)
	})
	f.start(t)

	captured := make(chan struct{})
	go func() {
		f.p.Capture([]int16{1, 2, 3, 4})
		close(captured)
	}()
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- f.s.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a block was being delivered")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-captured
	if err := <-stopped; err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !slices.Equal(delivered.Samples, []int16{1, 2, 3, 4}) {
		t.Errorf("torn frame delivered: %v", delivered.Samples)
	}
	if f.s.State() != StateConfigured {
		t.Errorf("state = %s, want configured", f.s.State())
	}
}

func TestPeripheralStartFailure(t *testing.T) {
	f := newFixture(t, 4)
	f.p.StartErr = FaultBusy

	err := f.s.Start()
	var perr *PeripheralError
	if !errors.As(err, &perr) || !errors.Is(err, ErrPeripheral) || !errors.Is(err, FaultBusy) {
		t.Fatalf("Start error = %v, want PeripheralError wrapping FaultBusy", err)
	}
	if f.s.State() != StateConfigured {
		t.Errorf("state = %s, want configured", f.s.State())
	}
	if f.errs.count(ErrPeripheral) != 1 || f.s.Stats().Faults != 1 {
		t.Error("peripheral fault was not reported")
	}

	f.p.StartErr = nil
	f.start(t)
	if f.s.State() != StateArmed {
		t.Errorf("state after retry = %s, want armed", f.s.State())
	}
}

func TestPeripheralStopFailure(t *testing.T) {
	f := newFixture(t, 4)
	f.start(t)
	f.p.StopErr = FaultInvalidState

	err := f.s.Stop()
	if !errors.Is(err, ErrPeripheral) || !errors.Is(err, FaultInvalidState) {
		t.Errorf("Stop error = %v", err)
	}
	if f.s.State() != StateConfigured {
		t.Errorf("state = %s, want configured", f.s.State())
	}
}

func TestWrongBlockReleased(t *testing.T) {
	f := newFixture(t, 4)
	f.start(t)

	if next := f.p.Release(f.b); next != nil {
		t.Error("handler handed out a block after an ownership violation")
	}
	if f.errs.count(ErrState) != 1 {
		t.Error("ownership violation was not reported")
	}
	if err := f.s.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if f.s.State() != StateConfigured {
		t.Errorf("state = %s, want configured", f.s.State())
	}
}

func TestNoFreeFrameSlotStopsCapture(t *testing.T) {
	f := newFixture(t, 4)
	var rec recorder
	f.s.OnBlockReady(rec.consume)
	f.start(t)

	// Both output slots held means the slot bookkeeping is broken.
	for i := range f.s.disp.slots {
		f.s.disp.slots[i].state = slotFilling
	}
	f.p.Capture([]int16{1, 2, 3, 4})

	if f.p.Armed() != nil {
		t.Error("handler handed out a block with no free output slot")
	}
	if f.errs.count(ErrState) != 1 {
		t.Error("exhausted output slots were not reported")
	}
	if len(rec.snapshot()) != 0 {
		t.Error("frame delivered without an output slot")
	}
	if err := f.s.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if f.s.State() != StateConfigured {
		t.Errorf("state = %s, want configured", f.s.State())
	}
}

func TestDeferredOverrunOncePerViolation(t *testing.T) {
	f := newFixture(t, 4, WithDispatchMode(DispatchDeferred))

	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	var mu sync.Mutex
	var seqs []uint64
	f.s.OnBlockReady(func(fr Frame) {
		if fr.Seq == 1 {
			entered <- struct{}{}
			<-release
		}
		mu.Lock()
		seqs = append(seqs, fr.Seq)
		mu.Unlock()
	})
	f.start(t)

	f.p.Capture(audiotest.Constant(4, 1))
	<-entered
	// Block 1 is with the consumer; block 2 waits; block 3 replaces it.
	f.p.Capture(audiotest.Constant(4, 2))
	if n := f.errs.count(ErrOverrun); n != 0 {
		t.Fatalf("overrun reported with one block outstanding (%d)", n)
	}
	f.p.Capture(audiotest.Constant(4, 3))

	if n := f.errs.count(ErrOverrun); n != 1 {
		t.Fatalf("overruns = %d, want 1", n)
	}
	f.errs.mu.Lock()
	var oe *OverrunError
	for _, err := range f.errs.errs {
		if errors.As(err, &oe) {
			break
		}
	}
	f.errs.mu.Unlock()
	if oe == nil || oe.Seq != 3 || oe.DroppedSeq != 2 || oe.Dropped != BlockB {
		t.Errorf("overrun error = %+v", oe)
	}

	close(release)
	if err := f.s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(seqs, []uint64{1, 3}) {
		t.Errorf("delivered seqs = %v, want [1 3]", seqs)
	}
	if st := f.s.Stats(); st.Overruns != 1 || st.Faults != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestFramesNeverTornOrAliased(t *testing.T) {
	for _, mode := range []DispatchMode{DispatchInline, DispatchDeferred} {
		t.Run(mode.String(), func(t *testing.T) {
			const n, blocks = 32, 200
			f := newFixture(t, n, WithDispatchMode(mode))

			var mu sync.Mutex
			var torn, aliased, delivered int
			f.s.OnBlockReady(func(fr Frame) {
				bad := false
				for _, v := range fr.Samples {
					if v != int16(fr.Seq) {
						bad = true
					}
				}
				mu.Lock()
				delivered++
				if bad {
					torn++
				}
				if &fr.Samples[0] == &f.a[0] || &fr.Samples[0] == &f.b[0] {
					aliased++
				}
				mu.Unlock()
			})
			f.start(t)

			for i := 1; i <= blocks; i++ {
				f.p.Capture(audiotest.Constant(n, int16(i)))
			}
			if err := f.s.Stop(); err != nil {
				t.Fatalf("Stop: %v", err)
			}

			mu.Lock()
			defer mu.Unlock()
			if torn != 0 || aliased != 0 {
				t.Errorf("torn = %d, aliased = %d", torn, aliased)
			}
			if got := uint64(delivered) + f.s.Stats().Overruns; got != blocks {
				t.Errorf("delivered + dropped = %d, want %d", got, blocks)
			}
		})
	}
}

func TestCloseStopsCallbacks(t *testing.T) {
	f := newFixture(t, 4)
	calls := 0
	f.s.OnBlockReady(func(Frame) { calls++ })
	f.start(t)
	f.p.Capture(audiotest.Constant(4, 1))

	if err := f.s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if f.p.Capture(audiotest.Constant(4, 1)) || calls != 1 {
		t.Errorf("callback ran after Close (calls = %d)", calls)
	}
	if f.s.State() != StateUninitialized {
		t.Errorf("state = %s, want uninitialized", f.s.State())
	}
	if err := f.s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, _, closes := f.p.Calls(); closes != 1 {
		t.Errorf("peripheral closed %d times, want 1", closes)
	}
	if err := f.s.Start(); !errors.Is(err, ErrState) {
		t.Errorf("Start after Close error = %v, want ErrState", err)
	}
}

func TestResetClearsLevel(t *testing.T) {
	f := newFixture(t, 4)
	f.start(t)
	f.p.Capture([]int16{3, -4, 0, 5})

	if err := f.s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if lvl := f.s.LatestLevel(); lvl.Energy != 0 || lvl.RMS != 0 {
		t.Errorf("LatestLevel after Reset = %+v", lvl)
	}
	if f.s.State() != StateConfigured {
		t.Errorf("state = %s, want configured", f.s.State())
	}
}

func TestNoConsumer(t *testing.T) {
	f := newFixture(t, 4, WithDispatchMode(DispatchDeferred))
	f.start(t)
	f.p.Capture([]int16{3, -4, 0, 5})
	if err := f.s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if f.s.LatestLevel().Energy != 50 {
		t.Errorf("energy = %v, want 50", f.s.LatestLevel().Energy)
	}
}

func TestOnBlockReadyReplaces(t *testing.T) {
	f := newFixture(t, 4)
	var first, second int
	f.s.OnBlockReady(func(Frame) { first++ })
	f.s.OnBlockReady(func(Frame) { second++ })
	f.start(t)
	f.p.Capture(audiotest.Constant(4, 1))

	f.s.OnBlockReady(nil)
	f.p.Capture(audiotest.Constant(4, 1))

	if first != 0 || second != 1 {
		t.Errorf("first = %d, second = %d; want 0, 1", first, second)
	}
}

func TestSessionMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := newFixture(t, 4, WithMetrics(m))
	f.p.StartErr = FaultBusy
	_ = f.s.Start()
	f.p.StartErr = nil
	f.start(t)
	for range 3 {
		f.p.Capture(audiotest.Constant(4, 100))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if s, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[md.Name] += dp.Value
				}
			}
		}
	}
	if sums["pdm.blocks"] != 3 || sums["pdm.faults"] != 1 {
		t.Errorf("metric sums = %v", sums)
	}
}

func TestHandlerNoAllocs(t *testing.T) {
	const n = 256
	f := newFixture(t, n)
	configureWeighting(t, f.s)
	var energy float64
	f.s.OnBlockReady(func(fr Frame) { energy += fr.Energy })
	f.start(t)

	blk := audiotest.Sine(n, testRate, 1000, 8000)
	allocs := testing.AllocsPerRun(100, func() {
		f.p.Capture(blk)
	})
	if allocs != 0 {
		t.Errorf("capture handler allocated %.1f times per block", allocs)
	}
}

func BenchmarkHandleBlock(b *testing.B) {
	const n = 256
	p := audiotest.NewManualPeripheral()
	s := NewSession(p)
	if err := s.Init(make([]int16, n), make([]int16, n)); err != nil {
		b.Fatal(err)
	}
	c, _ := filter.Design(filter.WeightingA, testRate)
	if err := s.ConfigureFilter(c.Numerator, c.Denominator, c.DelayLine()); err != nil {
		b.Fatal(err)
	}
	s.OnBlockReady(func(Frame) {})
	if err := s.Start(); err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	blk := audiotest.Sine(n, testRate, 1000, 8000)
	b.ReportAllocs()
	for b.Loop() {
		p.Capture(blk)
	}
}

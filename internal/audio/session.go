// SPDX-License-Identifier: MIT
/*
Package audio implements the streaming frame pipeline of a PDM microphone:
- Double-buffered capture with strict ownership handoff between the
  hardware and the processing pipeline
- Optional IIR weighting filter applied to each captured block
- Per-block energy and RMS level computation
- Frame dispatch to a single consumer, inline or through a worker

Thread Safety:
- The capture handler never blocks and never takes the lifecycle lock
- Output slots and the filter delay line are pre-allocated; the hot path
  does not allocate
- The latest level is published atomically for polling readers
*/
package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pdmstream/internal/filter"
	applog "pdmstream/internal/log"
	"pdmstream/internal/observe"
)

// Stats are cumulative counters for a Session.
type Stats struct {
	Blocks   uint64 // Blocks captured and processed.
	Overruns uint64 // Frames dropped because the consumer fell behind.
	Faults   uint64 // Peripheral and state errors reported.
}

type options struct {
	mode    DispatchMode
	onError func(error)
	metrics *observe.Metrics
}

// Option configures a Session.
type Option func(*options)

// WithDispatchMode selects inline or deferred frame delivery.
func WithDispatchMode(m DispatchMode) Option {
	return func(o *options) { o.mode = m }
}

// WithErrorHandler sets the sink for asynchronous errors (overruns and
// faults raised in the capture context). It must not block.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		if fn != nil {
			o.onError = fn
		}
	}
}

// WithMetrics records pipeline metrics into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Session owns one capture pipeline: its buffer pair, filter state and
// consumer. Independent sessions share nothing.
type Session struct {
	periph Peripheral
	opts   options
	ctx    context.Context

	mu        sync.Mutex // Serialises lifecycle calls.
	capturing bool
	arb       arbiter
	disp      *dispatcher
	filter    *filter.IIR

	consumer atomic.Pointer[FrameFunc]
	latest   atomic.Uint64 // math.Float64bits of the last block energy.
	blockLen atomic.Int64
	seq      uint64 // Capture context only.

	blocks   atomic.Uint64
	overruns atomic.Uint64
	faults   atomic.Uint64
}

// NewSession creates an uninitialized session driving p.
func NewSession(p Peripheral, opts ...Option) *Session {
	o := options{mode: DispatchInline, onError: logError}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &Session{periph: p, opts: o, ctx: context.Background()}
}

// Init binds the two capture blocks. They must be non-empty, of equal
// length and distinct.
func (s *Session) Init(a, b []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.arb.current(); st != StateUninitialized {
		return &ConfigError{Op: "init", Err: fmt.Errorf("%w: session is %s", ErrState, st)}
	}
	pair, err := newBufferPair(a, b)
	if err != nil {
		return &ConfigError{Op: "init", Err: err}
	}

	s.blockLen.Store(int64(pair.Len()))
	s.disp = newDispatcher(s.opts.mode, pair.Len(), &s.consumer)
	s.arb.bind(pair)
	applog.Debugf("Session: initialized (block length %d, dispatch %s)", pair.Len(), s.opts.mode)
	return nil
}

// ConfigureFilter binds a weighting filter. num and den must have the same
// length and delay must hold twice that many values; den[0] must be
// non-zero. Empty arguments disable filtering. The previous filter is kept
// if the configuration is rejected.
func (s *Session) ConfigureFilter(num, den, delay []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capturing {
		return &ConfigError{Op: "configure filter", Err: fmt.Errorf("%w: capture is running", ErrState)}
	}
	f, err := filter.New(num, den, delay)
	if err != nil {
		return &ConfigError{Op: "configure filter", Err: err}
	}
	if f.Order() == 0 {
		f = nil
	}
	s.filter = f
	applog.Debugf("Session: filter configured (order %d)", f.Order())
	return nil
}

// OnBlockReady registers the consumer, replacing any previous one. A nil fn
// unregisters it; blocks are still processed.
func (s *Session) OnBlockReady(fn FrameFunc) {
	if fn == nil {
		s.consumer.Store(nil)
		return
	}
	s.consumer.Store(&fn)
}

// Start zeroes the filter memory and begins capture.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capturing {
		return fmt.Errorf("%w: capture already running", ErrState)
	}
	first, err := s.arb.arm()
	if err != nil {
		return err
	}
	s.filter.Reset()

	if err := s.periph.Start(first, s.handleBlock); err != nil {
		s.arb.finishStop()
		perr := &PeripheralError{Op: "start", Err: err}
		s.report(perr)
		return perr
	}
	s.capturing = true
	applog.Infof("Session: capture started")
	return nil
}

// Stop halts capture after any in-flight block has been delivered. Stopping
// a stopped session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Session) stopLocked() error {
	if !s.capturing {
		return nil
	}

	s.arb.beginStop()
	err := s.periph.Stop()
	s.arb.finishStop()
	s.capturing = false
	s.disp.flush()

	if err != nil {
		perr := &PeripheralError{Op: "stop", Err: err}
		s.report(perr)
		return perr
	}
	applog.Infof("Session: capture stopped after %d blocks", s.blocks.Load())
	return nil
}

// Reset stops capture and clears the filter memory and the latest level.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.stopLocked()
	s.filter.Reset()
	s.latest.Store(0)
	return err
}

// Close stops capture, releases the blocks, the filter and the consumer,
// and closes the peripheral. No callback runs after Close returns.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.arb.current() == StateUninitialized {
		return nil
	}

	errs := []error{s.stopLocked()}
	s.disp.close()
	s.disp = nil
	s.arb.release()
	s.filter = nil
	s.consumer.Store(nil)
	s.latest.Store(0)
	s.blockLen.Store(0)

	if err := s.periph.Close(); err != nil {
		perr := &PeripheralError{Op: "close", Err: err}
		s.report(perr)
		errs = append(errs, perr)
	}
	return errors.Join(errs...)
}

// State returns the current capture state.
func (s *Session) State() State { return s.arb.current() }

// LatestLevel returns the level of the most recently processed block. It is
// safe to call from any goroutine, including the consumer.
func (s *Session) LatestLevel() Level {
	energy := math.Float64frombits(s.latest.Load())
	return Level{Energy: energy, RMS: RMS(energy, int(s.blockLen.Load()))}
}

// Stats returns the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Blocks:   s.blocks.Load(),
		Overruns: s.overruns.Load(),
		Faults:   s.faults.Load(),
	}
}

// handleBlock is the capture notification. Performance critical:
// - Arbiter swap first so the hardware is never starved
// - Filter and energy run over the filled block into a pre-allocated slot
// - No allocations, no blocking
func (s *Session) handleBlock(filled []int16) []int16 {
	start := time.Now()

	id, next, err := s.arb.swap(filled)
	if err != nil {
		s.report(err)
		return nil
	}
	s.seq++

	idx, dropped, overrun := s.disp.acquire()
	if overrun {
		s.overruns.Add(1)
		s.report(&OverrunError{Seq: s.seq, Dropped: dropped.Block, DroppedSeq: dropped.Seq})
	}
	if idx < 0 {
		s.arb.complete()
		s.report(fmt.Errorf("%w: no free frame slot for block %s", ErrState, id))
		return nil
	}

	energy := s.filter.Process(s.disp.buffer(idx), filled)
	s.latest.Store(math.Float64bits(energy))
	s.blocks.Add(1)

	s.disp.publish(idx, Frame{
		Seq:      s.seq,
		Block:    id,
		Energy:   energy,
		Filtered: s.filter.Order() > 0,
	})
	s.arb.complete()

	if m := s.opts.metrics; m != nil {
		m.Blocks.Add(s.ctx, 1)
		m.ProcessDuration.Record(s.ctx, time.Since(start).Seconds())
		m.Level.Record(s.ctx, DBFS(RMS(energy, len(filled))))
	}
	return next
}

func (s *Session) report(err error) {
	if !errors.Is(err, ErrOverrun) {
		s.faults.Add(1)
	}
	if m := s.opts.metrics; m != nil {
		switch {
		case errors.Is(err, ErrOverrun):
			m.Overruns.Add(s.ctx, 1)
		default:
			m.Faults.Add(s.ctx, 1, metric.WithAttributes(attribute.String("kind", faultKind(err))))
		}
	}
	s.opts.onError(err)
}

func faultKind(err error) string {
	if errors.Is(err, ErrPeripheral) {
		return "peripheral"
	}
	return "state"
}

// logError is the default error sink.
func logError(err error) {
	if errors.Is(err, ErrOverrun) {
		applog.Warnf("Session: %v", err)
		return
	}
	applog.Errorf("Session: %v", err)
}

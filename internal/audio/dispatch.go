// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Frame is one processed block handed to the consumer.
type Frame struct {
	Seq      uint64  // 1-based capture order within the session.
	Block    BlockID // Physical block the samples were captured into.
	Samples  []int16 // Processed samples; valid only until the callback returns.
	Energy   float64 // Sum of squares of Samples before clamping.
	Filtered bool    // Whether the weighting filter was applied.
}

// RMS returns the root-mean-square level of the frame.
func (f Frame) RMS() float64 { return RMS(f.Energy, len(f.Samples)) }

// FrameFunc consumes frames. It must not call Stop, Reset or Close.
type FrameFunc func(Frame)

// DispatchMode selects where the consumer runs.
type DispatchMode int

const (
	// DispatchInline runs the consumer inside the capture notification.
	DispatchInline DispatchMode = iota
	// DispatchDeferred hands frames to a worker goroutine through a
	// single pending slot that overwrites its oldest entry.
	DispatchDeferred
)

func (m DispatchMode) String() string {
	if m == DispatchDeferred {
		return "deferred"
	}
	return "inline"
}

// ParseDispatchMode converts "inline" or "deferred" to a DispatchMode.
func ParseDispatchMode(s string) (DispatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "inline":
		return DispatchInline, nil
	case "deferred":
		return DispatchDeferred, nil
	}
	return DispatchInline, fmt.Errorf("unknown dispatch mode %q", s)
}

type slotState uint8

const (
	slotFree slotState = iota
	slotFilling
	slotPending
	slotDelivering
)

type frameSlot struct {
	state   slotState
	frame   Frame
	samples []int16
}

// dispatcher owns the output slots frames are processed into. At most one
// slot is delivering and at most one is pending at any time.
type dispatcher struct {
	mode     DispatchMode
	consumer *atomic.Pointer[FrameFunc]

	mu      sync.Mutex
	idle    *sync.Cond
	slots   [2]frameSlot
	pending int // Index of the pending slot, -1 if none.

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func newDispatcher(mode DispatchMode, blockLen int, consumer *atomic.Pointer[FrameFunc]) *dispatcher {
	d := &dispatcher{
		mode:     mode,
		consumer: consumer,
		pending:  -1,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	d.idle = sync.NewCond(&d.mu)
	for i := range d.slots {
		d.slots[i].samples = make([]int16, blockLen)
	}

	if mode == DispatchDeferred {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// acquire reserves a slot for the next frame. If a frame is still pending
// it is dropped and returned with overrun set. idx is -1 when no slot is
// free.
func (d *dispatcher) acquire() (idx int, dropped Frame, overrun bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending >= 0 {
		slot := &d.slots[d.pending]
		dropped = slot.frame
		dropped.Samples = nil
		slot.state = slotFree
		d.pending = -1
		overrun = true
	}
	for i := range d.slots {
		if d.slots[i].state == slotFree {
			d.slots[i].state = slotFilling
			return i, dropped, overrun
		}
	}
	return -1, dropped, overrun
}

func (d *dispatcher) buffer(idx int) []int16 { return d.slots[idx].samples }

// publish completes the frame in slot idx. Inline dispatch delivers it
// before returning; deferred dispatch queues it for the worker.
func (d *dispatcher) publish(idx int, f Frame) {
	slot := &d.slots[idx]
	f.Samples = slot.samples

	if d.mode == DispatchInline {
		d.deliver(f)
		d.mu.Lock()
		slot.state = slotFree
		d.mu.Unlock()
		return
	}

	d.mu.Lock()
	slot.frame = f
	slot.state = slotPending
	d.pending = idx
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) deliver(f Frame) {
	if fn := d.consumer.Load(); fn != nil {
		(*fn)(f)
	}
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.wake:
			d.drain()
		case <-d.done:
			return
		}
	}
}

func (d *dispatcher) drain() {
	for {
		d.mu.Lock()
		idx := d.pending
		if idx < 0 {
			d.mu.Unlock()
			return
		}
		d.pending = -1
		slot := &d.slots[idx]
		slot.state = slotDelivering
		f := slot.frame
		d.mu.Unlock()

		d.deliver(f)

		d.mu.Lock()
		slot.state = slotFree
		d.idle.Broadcast()
		d.mu.Unlock()
	}
}

// flush blocks until no frame is pending or being delivered.
func (d *dispatcher) flush() {
	if d.mode == DispatchInline {
		return
	}
	d.mu.Lock()
	for d.pending >= 0 || d.busy() {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

func (d *dispatcher) busy() bool {
	for i := range d.slots {
		if d.slots[i].state == slotDelivering {
			return true
		}
	}
	return false
}

// close stops the worker. No frame is delivered after it returns.
func (d *dispatcher) close() {
	close(d.done)
	d.wg.Wait()
}

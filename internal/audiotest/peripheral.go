// SPDX-License-Identifier: MIT

// Package audiotest provides a capture peripheral test double that is driven
// synchronously by the test. It satisfies audio.Peripheral without importing
// the audio package.
package audiotest

import (
	"errors"
	"sync"
)

// ErrRunning is returned by Start when capture is already running.
var ErrRunning = errors.New("audiotest: peripheral already running")

// ManualPeripheral stands in for the capture hardware. Each call to Capture
// fills the armed block and runs the handler, exactly as a block-complete
// notification would. Handler calls hold the peripheral lock, so Stop waits
// for an in-flight call to return.
type ManualPeripheral struct {
	// StartErr, StopErr and CloseErr are returned by the matching method
	// when set. Clear StartErr to let a retried Start succeed.
	StartErr error
	StopErr  error
	CloseErr error

	mu      sync.Mutex
	handler func([]int16) []int16
	armed   []int16
	running bool

	starts, stops, closes int
}

// NewManualPeripheral returns a stopped peripheral.
func NewManualPeripheral() *ManualPeripheral {
	return &ManualPeripheral{}
}

// Start arms first and registers h.
func (p *ManualPeripheral) Start(first []int16, h func(filled []int16) (next []int16)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.starts++
	if p.StartErr != nil {
		return p.StartErr
	}
	if p.running {
		return ErrRunning
	}
	p.handler, p.armed, p.running = h, first, true
	return nil
}

// Stop ends capture. It blocks while a Capture call is running the handler.
func (p *ManualPeripheral) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stops++
	p.handler, p.armed, p.running = nil, nil, false
	return p.StopErr
}

// Close releases the peripheral.
func (p *ManualPeripheral) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closes++
	p.handler, p.armed, p.running = nil, nil, false
	return p.CloseErr
}

// Capture copies samples into the armed block, zero-padding a short input,
// and reports it to the handler. It returns false when nothing is armed.
func (p *ManualPeripheral) Capture(samples []int16) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.armed == nil {
		return false
	}
	n := copy(p.armed, samples)
	clear(p.armed[n:])
	p.next(p.armed)
	return true
}

// Release reports buf to the handler as if the hardware had filled it,
// whether or not it is the armed block. It returns the block the handler
// handed back.
func (p *ManualPeripheral) Release(buf []int16) []int16 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.next(buf)
	return p.armed
}

func (p *ManualPeripheral) next(filled []int16) {
	p.armed = p.handler(filled)
	if p.armed == nil {
		p.running = false
	}
}

// Armed returns the block the handler last handed back, nil if none.
func (p *ManualPeripheral) Armed() []int16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}

// Running reports whether capture is active.
func (p *ManualPeripheral) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Calls returns how many times Start, Stop and Close were called.
func (p *ManualPeripheral) Calls() (starts, stops, closes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts, p.stops, p.closes
}

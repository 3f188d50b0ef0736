// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"sync"
)

// State is the capture state of a Session.
type State int32

const (
	StateUninitialized State = iota
	StateConfigured
	StateArmed      // The hardware owns the armed block.
	StateBlockReady // A filled block is being processed; the other one is armed.
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateArmed:
		return "armed"
	case StateBlockReady:
		return "block-ready"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// arbiter decides which block the hardware writes next. The block it hands
// out is never the one being processed, and vice versa.
type arbiter struct {
	mu       sync.Mutex
	state    State
	pair     *BufferPair
	armed    BlockID
	ready    BlockID
	stopping bool
}

func (a *arbiter) current() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *arbiter) bind(p *BufferPair) {
	a.mu.Lock()
	a.pair = p
	a.state = StateConfigured
	a.mu.Unlock()
}

func (a *arbiter) release() {
	a.mu.Lock()
	a.pair = nil
	a.state = StateUninitialized
	a.stopping = false
	a.mu.Unlock()
}

// arm moves Configured to Armed and returns block A for the hardware.
func (a *arbiter) arm() ([]int16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateConfigured {
		return nil, fmt.Errorf("%w: cannot arm in state %s", ErrState, a.state)
	}
	a.state = StateArmed
	a.armed = BlockA
	a.stopping = false
	return a.pair.Block(BlockA), nil
}

// swap records that the hardware has filled buf. It returns the block to
// process and the block the hardware must write next, which is nil once a
// stop has been requested.
func (a *arbiter) swap(buf []int16) (BlockID, []int16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateArmed {
		return 0, nil, fmt.Errorf("%w: block released in state %s", ErrState, a.state)
	}
	id, ok := a.pair.identify(buf)
	if !ok || id != a.armed {
		return 0, nil, fmt.Errorf("%w: released buffer is not the armed block %s", ErrState, a.armed)
	}

	a.ready = id
	a.state = StateBlockReady
	if a.stopping {
		return id, nil, nil
	}
	a.armed = id.Other()
	return id, a.pair.Block(a.armed), nil
}

// complete ends processing of the ready block.
func (a *arbiter) complete() {
	a.mu.Lock()
	if a.state == StateBlockReady {
		if a.stopping {
			a.state = StateConfigured
		} else {
			a.state = StateArmed
		}
	}
	a.mu.Unlock()
}

// beginStop makes the next swap return no further block.
func (a *arbiter) beginStop() {
	a.mu.Lock()
	a.stopping = true
	a.mu.Unlock()
}

// finishStop returns to Configured once the hardware has drained.
func (a *arbiter) finishStop() {
	a.mu.Lock()
	if a.state != StateUninitialized {
		a.state = StateConfigured
	}
	a.stopping = false
	a.mu.Unlock()
}

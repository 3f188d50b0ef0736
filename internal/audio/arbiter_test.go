// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"testing"
)

func TestArbiterHandoff(t *testing.T) {
	pair := NewBufferPair(4)
	var arb arbiter

	if _, err := arb.arm(); !errors.Is(err, ErrState) {
		t.Fatalf("arm before bind error = %v, want ErrState", err)
	}
	arb.bind(pair)

	buf, err := arb.arm()
	if err != nil {
		t.Fatalf("arm: %v", err)
	}
	if &buf[0] != &pair.Block(BlockA)[0] {
		t.Fatal("first armed block is not A")
	}

	for i := range 6 {
		id, next, err := arb.swap(buf)
		if err != nil {
			t.Fatalf("swap %d: %v", i, err)
		}
		if arb.current() != StateBlockReady {
			t.Errorf("state during processing = %s", arb.current())
		}
		if &next[0] == &buf[0] {
			t.Fatalf("swap %d re-armed the block being processed", i)
		}
		if want := BlockID(i % 2); id != want {
			t.Errorf("swap %d reported %s, want %s", i, id, want)
		}
		arb.complete()
		if arb.current() != StateArmed {
			t.Errorf("state after complete = %s", arb.current())
		}
		buf = next
	}
}

func TestArbiterRejectsForeignBuffers(t *testing.T) {
	pair := NewBufferPair(4)
	var arb arbiter
	arb.bind(pair)
	if _, err := arb.arm(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		buf  []int16
	}{
		{"unarmed block", pair.Block(BlockB)},
		{"foreign buffer", make([]int16, 4)},
		{"short slice", pair.Block(BlockA)[:2]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := arb.swap(tt.buf); !errors.Is(err, ErrState) {
				t.Errorf("swap error = %v, want ErrState", err)
			}
			if arb.current() != StateArmed {
				t.Errorf("state = %s, want armed", arb.current())
			}
		})
	}
}

func TestArbiterStop(t *testing.T) {
	pair := NewBufferPair(4)
	var arb arbiter
	arb.bind(pair)
	buf, _ := arb.arm()

	arb.beginStop()
	id, next, err := arb.swap(buf)
	if err != nil || id != BlockA || next != nil {
		t.Fatalf("swap while stopping = %s, %v, %v", id, next, err)
	}
	arb.complete()
	if arb.current() != StateConfigured {
		t.Errorf("state = %s, want configured", arb.current())
	}
	arb.finishStop()

	if buf, err = arb.arm(); err != nil || &buf[0] != &pair.Block(BlockA)[0] {
		t.Errorf("re-arm = %v", err)
	}

	arb.release()
	if arb.current() != StateUninitialized {
		t.Errorf("state after release = %s", arb.current())
	}
	arb.finishStop()
	if arb.current() != StateUninitialized {
		t.Error("finishStop resurrected a released arbiter")
	}
}

func TestBufferPairIdentify(t *testing.T) {
	p := NewBufferPair(3)
	if p.Len() != 3 {
		t.Fatalf("Len = %d", p.Len())
	}
	for _, id := range []BlockID{BlockA, BlockB} {
		got, ok := p.identify(p.Block(id))
		if !ok || got != id {
			t.Errorf("identify(%s) = %s, %v", id, got, ok)
		}
		if id.Other() == id {
			t.Errorf("%s.Other() returned itself", id)
		}
	}
	// Appending to A must not spill into B.
	a := append(p.Block(BlockA), 9)
	if &a[0] == &p.Block(BlockA)[0] {
		t.Error("block A has spare capacity shared with block B")
	}
}

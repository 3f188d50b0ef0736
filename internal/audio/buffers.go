// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"unsafe"
)

// BlockID identifies one of the two physical sample blocks.
type BlockID uint8

const (
	BlockA BlockID = iota
	BlockB
)

// Other returns the opposite block of the pair.
func (b BlockID) Other() BlockID { return b ^ 1 }

func (b BlockID) String() string {
	if b == BlockA {
		return "A"
	}
	return "B"
}

// BufferPair holds the two equally sized blocks the hardware fills in
// alternation.
type BufferPair struct {
	blocks [2][]int16
}

// NewBufferPair allocates a pair of n-sample blocks.
func NewBufferPair(n int) *BufferPair {
	backing := make([]int16, 2*n)
	return &BufferPair{blocks: [2][]int16{backing[:n:n], backing[n:]}}
}

func newBufferPair(a, b []int16) (*BufferPair, error) {
	switch {
	case len(a) == 0 || len(b) == 0:
		return nil, errors.New("buffers must not be empty")
	case len(a) != len(b):
		return nil, errors.New("the two buffers must be of the same length")
	case overlap(a, b):
		return nil, errors.New("the two buffers must not share storage")
	}
	return &BufferPair{blocks: [2][]int16{a, b}}, nil
}

// overlap reports whether the storage of a and b intersects anywhere.
func overlap(a, b []int16) bool {
	const size = unsafe.Sizeof(int16(0))
	aStart := uintptr(unsafe.Pointer(unsafe.SliceData(a)))
	bStart := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	aEnd := aStart + uintptr(len(a))*size
	bEnd := bStart + uintptr(len(b))*size
	return aStart < bEnd && bStart < aEnd
}

// Len returns the number of samples per block.
func (p *BufferPair) Len() int { return len(p.blocks[0]) }

// Block returns the storage of block id.
func (p *BufferPair) Block(id BlockID) []int16 { return p.blocks[id] }

// identify maps a buffer handed back by the hardware to its block.
func (p *BufferPair) identify(buf []int16) (BlockID, bool) {
	if len(buf) != p.Len() {
		return 0, false
	}
	for id := BlockA; id <= BlockB; id++ {
		if &buf[0] == &p.blocks[id][0] {
			return id, true
		}
	}
	return 0, false
}

// SPDX-License-Identifier: MIT
package audio

// Handler is called by a Peripheral, from its capture context, each time the
// block it was writing is full. It returns the block to capture into next;
// nil means capture must end.
type Handler = func(filled []int16) (next []int16)

// Peripheral is the capture hardware driver seen by a Session.
//
// Calls to the Handler are serialised: the next one does not start before
// the previous one has returned. Stop must not return while a Handler call
// is in flight, and no Handler call may start after it has returned.
type Peripheral interface {
	// Start begins capturing into first and reports each filled block to h.
	Start(first []int16, h Handler) error
	// Stop halts capture. Calling it on a stopped peripheral is a no-op.
	Stop() error
	// Close releases the driver.
	Close() error
}

// SPDX-License-Identifier: MIT
package audiotest

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Transport.Send after Close.
var ErrClosed = errors.New("audiotest: transport closed")

// Transport records every message sent to it.
type Transport struct {
	mu       sync.Mutex
	messages []any
	closed   bool
}

// Send stores data for later inspection instead of transmitting.
func (t *Transport) Send(data any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.messages = append(t.messages, data)
	return nil
}

// Close marks the transport closed.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// Messages returns a copy of the recorded messages.
func (t *Transport) Messages() []any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]any(nil), t.messages...)
}

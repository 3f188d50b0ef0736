// SPDX-License-Identifier: MIT
package transport

import "time"

// Transport sends processed data or events to observers.
// Implementations must be safe for concurrent use and must not block the
// caller for long; frame consumers call Send once per block.
type Transport interface {
	Send(data any) error
	Close() error
}

// LevelMessage reports the level of one delivered frame.
type LevelMessage struct {
	Type     string    `json:"type"` // "level"
	Seq      uint64    `json:"seq"`
	Energy   float64   `json:"energy"`
	RMS      float64   `json:"rms"`
	DBFS     float64   `json:"dbfs"`
	Weighted bool      `json:"weighted"`
	Time     time.Time `json:"time"`
}

// BandMessage reports normalized per-band energy of one frame.
type BandMessage struct {
	Type   string    `json:"type"` // "bands"
	Seq    uint64    `json:"seq"`
	Names  []string  `json:"names"`
	Values []float64 `json:"values"` // 0-1 per band.
}

// EventMessage reports a detected event such as an onset.
type EventMessage struct {
	Type string  `json:"type"` // "event"
	Name string  `json:"name"`
	Seq  uint64  `json:"seq"`
	DBFS float64 `json:"dbfs"`
}

// Message type values.
const (
	TypeLevel = "level"
	TypeBands = "bands"
	TypeEvent = "event"
)

// Multi fans a message out to several transports.
type Multi []Transport

// Send delivers data to every transport and returns the first error.
func (m Multi) Send(data any) error {
	var first error
	for _, t := range m {
		if err := t.Send(data); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes every transport and returns the first error.
func (m Multi) Close() error {
	var first error
	for _, t := range m {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ Transport = Multi(nil)

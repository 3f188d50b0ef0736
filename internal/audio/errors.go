// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
)

var (
	ErrConfig     = errors.New("pdm: configuration error")
	ErrOverrun    = errors.New("pdm: overrun")
	ErrPeripheral = errors.New("pdm: peripheral error")
	ErrState      = errors.New("pdm: invalid state")
)

// ConfigError reports a rejected configuration. It is returned synchronously
// and leaves the previous configuration in place.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pdm: %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// OverrunError reports that a completed block arrived while an older one was
// still waiting for the consumer. The older block's delivery was dropped.
type OverrunError struct {
	Seq        uint64  // Sequence number of the block that caused the overrun.
	Dropped    BlockID // Physical block of the dropped frame.
	DroppedSeq uint64  // Sequence number of the dropped frame.
}

func (e *OverrunError) Error() string {
	return fmt.Sprintf("pdm: overrun at block %d: dropped frame %d (buffer %s)", e.Seq, e.DroppedSeq, e.Dropped)
}

func (e *OverrunError) Is(target error) bool { return target == ErrOverrun }

// PeripheralError wraps a fault reported by the capture hardware driver.
// The session is left Configured and Start must be retried by the caller.
type PeripheralError struct {
	Op  string
	Err error
}

func (e *PeripheralError) Error() string {
	return fmt.Sprintf("pdm: peripheral %s: %v", e.Op, e.Err)
}

func (e *PeripheralError) Unwrap() error { return e.Err }

func (e *PeripheralError) Is(target error) bool { return target == ErrPeripheral }

// Fault is a driver-level failure code a Peripheral may return.
type Fault int

const (
	FaultInternal Fault = iota + 1
	FaultNoMem
	FaultNotSupported
	FaultInvalidParam
	FaultInvalidState
	FaultInvalidLength
	FaultForbidden
	FaultNull
	FaultInvalidAddr
	FaultBusy
)

var faultMessages = map[Fault]string{
	FaultInternal:      "internal error",
	FaultNoMem:         "no memory for operation",
	FaultNotSupported:  "not supported",
	FaultInvalidParam:  "invalid parameter",
	FaultInvalidState:  "module already initialized",
	FaultInvalidLength: "invalid length",
	FaultForbidden:     "operation is forbidden",
	FaultNull:          "null pointer",
	FaultInvalidAddr:   "bad memory address",
	FaultBusy:          "busy",
}

func (f Fault) Error() string {
	if msg, ok := faultMessages[f]; ok {
		return msg
	}
	return fmt.Sprintf("fault %d", int(f))
}

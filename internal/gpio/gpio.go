// Package gpio provides digital output and input lines with hardware
// abstraction. The cdev driver uses the Linux GPIO character device, the
// periph driver uses periph.io host drivers, and the fake driver allows
// testing without hardware.
package gpio

import (
	"context"
	"errors"
	"fmt"
)

// Output is a digital output line. Levels are raw: true = high.
type Output interface {
	// Write drives the line to the given raw level.
	Write(high bool) error
	// Read returns the level the line is currently driven to.
	Read() (bool, error)
	// Close releases the line.
	Close() error
}

// Input is a digital input line with pull-down. true = high = pressed.
type Input interface {
	// Read samples the current raw level.
	Read() (bool, error)
	// WaitForRisingEdge blocks until a low-to-high transition occurs after the
	// call starts, or ctx is done.
	WaitForRisingEdge(ctx context.Context) error
	// Close releases the line.
	Close() error
}

// Driver opens lines on one GPIO controller.
type Driver interface {
	// Output configures pin as an output driven to the initial raw level.
	Output(pin int, initial bool) (Output, error)
	// Input configures pin as a pulled-down input with rising-edge detection.
	Input(pin int) (Input, error)
	// Close releases every line opened through the driver and the controller.
	Close() error
}

// ErrClosed is returned by operations on a released line.
var ErrClosed = errors.New("gpio: line closed")

// IOError reports a failed hardware read, write or configuration. Callers
// treat it as fatal.
type IOError struct {
	Op  string
	Pin int
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("gpio %s pin %d: %v", e.Op, e.Pin, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsIOError reports whether err is or wraps an *IOError.
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}

func ioErr(op string, pin int, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Pin: pin, Err: err}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

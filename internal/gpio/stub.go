//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: cdev driver requires Linux")

// CdevDriver is not available on non-Linux platforms.
type CdevDriver struct{}

// NewCdevDriver returns an error on non-Linux platforms.
func NewCdevDriver(string) (*CdevDriver, error) {
	return nil, errUnsupported
}

// Output is not implemented on non-Linux platforms.
func (d *CdevDriver) Output(int, bool) (Output, error) {
	return nil, errUnsupported
}

// Input is not implemented on non-Linux platforms.
func (d *CdevDriver) Input(int) (Input, error) {
	return nil, errUnsupported
}

// Close is a no-op on non-Linux platforms.
func (d *CdevDriver) Close() error {
	return nil
}

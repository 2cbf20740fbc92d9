package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// edgePoll bounds how long a periph edge wait blocks before rechecking ctx.
const edgePoll = 100 * time.Millisecond

// Pin naming schemes understood by PeriphDriver.
const (
	NamingBCM   = "bcm"
	NamingBoard = "board"
)

var errUnknownPin = errors.New("pin not found")

// PeriphDriver opens lines through periph.io host drivers. It accepts both
// BCM and physical header numbering.
type PeriphDriver struct {
	naming string

	mu   sync.Mutex
	pins []pgpio.PinIO
}

// NewPeriphDriver initialises the periph host and returns a driver using
// the given pin naming (NamingBCM or NamingBoard).
func NewPeriphDriver(naming string) (*PeriphDriver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}

	switch naming {
	case NamingBCM, NamingBoard:
	default:
		return nil, fmt.Errorf("unknown pin naming %q", naming)
	}

	return &PeriphDriver{naming: naming}, nil
}

// PinName maps a pin number to the periph registry name.
func PinName(naming string, pin int) string {
	if naming == NamingBoard {
		return fmt.Sprintf("P1_%d", pin)
	}
	return fmt.Sprintf("GPIO%d", pin)
}

func (d *PeriphDriver) lookup(pin int) (pgpio.PinIO, error) {
	p := gpioreg.ByName(PinName(d.naming, pin))
	if p == nil {
		return nil, ioErr("lookup", pin, errUnknownPin)
	}

	d.mu.Lock()
	d.pins = append(d.pins, p)
	d.mu.Unlock()

	return p, nil
}

// Output configures pin as an output at the initial level.
func (d *PeriphDriver) Output(pin int, initial bool) (Output, error) {
	p, err := d.lookup(pin)
	if err != nil {
		return nil, err
	}

	if err := p.Out(pgpio.Level(initial)); err != nil {
		return nil, ioErr("configure output", pin, err)
	}

	return &periphOutput{pin: pin, p: p, level: initial}, nil
}

// Input configures pin as a pulled-down input with rising-edge detection.
func (d *PeriphDriver) Input(pin int) (Input, error) {
	p, err := d.lookup(pin)
	if err != nil {
		return nil, err
	}

	if err := p.In(pgpio.PullDown, pgpio.RisingEdge); err != nil {
		return nil, ioErr("configure input", pin, err)
	}

	return &periphInput{pin: pin, p: p}, nil
}

// Close halts every pin the driver configured.
func (d *PeriphDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for _, p := range d.pins {
		if err := p.In(pgpio.PullDown, pgpio.NoEdge); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", p.Name(), err))
		}
		if err := p.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("halt %s: %w", p.Name(), err))
		}
	}
	d.pins = nil

	return errors.Join(errs...)
}

type periphOutput struct {
	pin int
	p   pgpio.PinIO

	mu    sync.Mutex
	level bool
}

func (o *periphOutput) Write(high bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.p.Out(pgpio.Level(high)); err != nil {
		return ioErr("write", o.pin, err)
	}
	o.level = high

	return nil
}

// Read returns the driven level; reading back an output pin is not
// reliable across periph drivers.
func (o *periphOutput) Read() (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.level, nil
}

func (o *periphOutput) Close() error {
	return nil
}

type periphInput struct {
	pin int
	p   pgpio.PinIO
}

func (in *periphInput) Read() (bool, error) {
	return in.p.Read() == pgpio.High, nil
}

func (in *periphInput) WaitForRisingEdge(ctx context.Context) error {
	// Drain an edge latched before the wait began.
	for in.p.WaitForEdge(0) {
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if in.p.WaitForEdge(edgePoll) {
			return nil
		}
	}
}

func (in *periphInput) Close() error {
	return nil
}

//go:build linux

package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// CdevDriver opens lines on a Linux GPIO character device. Pin numbers are
// line offsets, which on a Raspberry Pi equal BCM numbers.
type CdevDriver struct {
	chip *gpiocdev.Chip

	mu    sync.Mutex
	lines []*gpiocdev.Line
}

// NewCdevDriver opens the named chip, e.g. "gpiochip0".
func NewCdevDriver(chip string) (*CdevDriver, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	return &CdevDriver{chip: c}, nil
}

// Output requests pin as an output at the initial level.
func (d *CdevDriver) Output(pin int, initial bool) (Output, error) {
	line, err := d.chip.RequestLine(pin, gpiocdev.AsOutput(boolToInt(initial)))
	if err != nil {
		return nil, ioErr("configure output", pin, err)
	}
	d.track(line)

	return &cdevOutput{pin: pin, line: line}, nil
}

// Input requests pin as a pulled-down input delivering rising edges.
func (d *CdevDriver) Input(pin int) (Input, error) {
	in := &cdevInput{pin: pin, edges: make(chan struct{}, 1)}

	line, err := d.chip.RequestLine(pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(in.onEvent),
	)
	if err != nil {
		return nil, ioErr("configure input", pin, err)
	}
	in.line = line
	d.track(line)

	return in, nil
}

// Close reconfigures every line to an input with pull-down, matching the
// Pi boot defaults, then releases the lines and the chip.
func (d *CdevDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for _, line := range d.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure line: %w", err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
	}
	d.lines = nil

	if err := d.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}

	return errors.Join(errs...)
}

func (d *CdevDriver) track(line *gpiocdev.Line) {
	d.mu.Lock()
	d.lines = append(d.lines, line)
	d.mu.Unlock()
}

type cdevOutput struct {
	pin  int
	line *gpiocdev.Line
}

func (o *cdevOutput) Write(high bool) error {
	return ioErr("write", o.pin, o.line.SetValue(boolToInt(high)))
}

func (o *cdevOutput) Read() (bool, error) {
	v, err := o.line.Value()
	if err != nil {
		return false, ioErr("read", o.pin, err)
	}
	return v == 1, nil
}

// Close is a no-op; the driver owns line release.
func (o *cdevOutput) Close() error {
	return nil
}

type cdevInput struct {
	pin   int
	line  *gpiocdev.Line
	edges chan struct{}
}

// onEvent runs on the gpiocdev watcher goroutine; it must not block.
func (in *cdevInput) onEvent(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventRisingEdge {
		return
	}
	select {
	case in.edges <- struct{}{}:
	default:
	}
}

func (in *cdevInput) Read() (bool, error) {
	v, err := in.line.Value()
	if err != nil {
		return false, ioErr("read", in.pin, err)
	}
	return v == 1, nil
}

func (in *cdevInput) WaitForRisingEdge(ctx context.Context) error {
	// Edges seen before the wait started do not count.
	select {
	case <-in.edges:
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-in.edges:
		return nil
	}
}

func (in *cdevInput) Close() error {
	return nil
}

package gpio

import (
	"context"
	"sync"
)

// FakeDriver is a test double that hands out in-memory lines.
type FakeDriver struct {
	mu sync.Mutex

	outputs map[int]*FakeOutput
	inputs  map[int]*FakeInput

	// OutputError, if set, is returned by Output().
	OutputError error
	// InputError, if set, is returned by Input().
	InputError error

	closed bool
}

// NewFakeDriver creates an empty FakeDriver.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		outputs: make(map[int]*FakeOutput),
		inputs:  make(map[int]*FakeInput),
	}
}

// Output returns a new FakeOutput at the initial level.
func (d *FakeDriver) Output(pin int, initial bool) (Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.OutputError != nil {
		return nil, ioErr("configure output", pin, d.OutputError)
	}

	o := NewFakeOutput(pin, initial)
	d.outputs[pin] = o

	return o, nil
}

// Input returns the FakeInput registered for pin, creating one if needed.
func (d *FakeDriver) Input(pin int) (Input, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.InputError != nil {
		return nil, ioErr("configure input", pin, d.InputError)
	}

	in, ok := d.inputs[pin]
	if !ok {
		in = NewFakeInput(pin)
		d.inputs[pin] = in
	}

	return in, nil
}

// Close marks the driver and every line closed.
func (d *FakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, o := range d.outputs {
		_ = o.Close()
	}
	for _, in := range d.inputs {
		_ = in.Close()
	}
	d.closed = true

	return nil
}

// Closed reports whether Close was called.
func (d *FakeDriver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// OutputPin returns the FakeOutput opened on pin, or nil.
func (d *FakeDriver) OutputPin(pin int) *FakeOutput {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outputs[pin]
}

// InputPin returns the FakeInput for pin, creating one so tests can script
// it before the code under test opens it.
func (d *FakeDriver) InputPin(pin int) *FakeInput {
	d.mu.Lock()
	defer d.mu.Unlock()

	in, ok := d.inputs[pin]
	if !ok {
		in = NewFakeInput(pin)
		d.inputs[pin] = in
	}
	return in
}

// FakeOutput records every level written to it.
type FakeOutput struct {
	mu sync.Mutex

	pin    int
	level  bool
	writes []bool
	closed bool

	// WriteError, if set, is returned by Write().
	WriteError error
}

// NewFakeOutput creates a FakeOutput at the given level.
func NewFakeOutput(pin int, initial bool) *FakeOutput {
	return &FakeOutput{pin: pin, level: initial}
}

// Write records the level.
func (o *FakeOutput) Write(high bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ioErr("write", o.pin, ErrClosed)
	}
	if o.WriteError != nil {
		return ioErr("write", o.pin, o.WriteError)
	}

	o.level = high
	o.writes = append(o.writes, high)

	return nil
}

// SetWriteError makes subsequent writes fail; nil clears it.
func (o *FakeOutput) SetWriteError(err error) {
	o.mu.Lock()
	o.WriteError = err
	o.mu.Unlock()
}

// Read returns the last written level.
func (o *FakeOutput) Read() (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false, ioErr("read", o.pin, ErrClosed)
	}
	return o.level, nil
}

// Close marks the output closed.
func (o *FakeOutput) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

// Level returns the current raw level without error checking.
func (o *FakeOutput) Level() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.level
}

// Writes returns a copy of every level written so far.
func (o *FakeOutput) Writes() []bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]bool(nil), o.writes...)
}

// Closed reports whether Close was called.
func (o *FakeOutput) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// FakeInput returns scripted levels and delivers edges on demand.
type FakeInput struct {
	mu sync.Mutex

	pin     int
	samples []bool
	index   int
	reads   int
	waiting bool
	closed  bool

	// ReadError, if set, is returned by Read().
	ReadError error

	edges chan struct{}
	armed chan struct{}
}

// NewFakeInput creates a FakeInput that reads low.
func NewFakeInput(pin int) *FakeInput {
	return &FakeInput{
		pin:   pin,
		edges: make(chan struct{}, 1),
		armed: make(chan struct{}, 1),
	}
}

// SetSamples replaces the scripted levels. Each Read consumes the next
// sample; once exhausted the last one repeats. No samples reads low.
func (in *FakeInput) SetSamples(samples ...bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.samples = samples
	in.index = 0
}

// SetReadError makes subsequent reads fail.
func (in *FakeInput) SetReadError(err error) {
	in.mu.Lock()
	in.ReadError = err
	in.mu.Unlock()
}

// Read returns the next scripted sample.
func (in *FakeInput) Read() (bool, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.reads++

	if in.closed {
		return false, ioErr("read", in.pin, ErrClosed)
	}
	if in.ReadError != nil {
		return false, ioErr("read", in.pin, in.ReadError)
	}
	if len(in.samples) == 0 {
		return false, nil
	}

	sample := in.samples[in.index]
	if in.index < len(in.samples)-1 {
		in.index++
	}

	return sample, nil
}

// Reads returns how many times Read was called.
func (in *FakeInput) Reads() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.reads
}

// WaitForRisingEdge blocks until Edge is called or ctx is done.
func (in *FakeInput) WaitForRisingEdge(ctx context.Context) error {
	in.mu.Lock()
	select {
	case <-in.edges:
	default:
	}
	in.waiting = true
	in.mu.Unlock()

	defer func() {
		in.mu.Lock()
		in.waiting = false
		in.mu.Unlock()
	}()

	select {
	case in.armed <- struct{}{}:
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-in.edges:
		return nil
	}
}

// Armed is signalled each time a wait for an edge begins.
func (in *FakeInput) Armed() <-chan struct{} {
	return in.armed
}

// Edge delivers a rising edge to a pending wait. Edges while nobody is
// waiting are lost, as on real hardware; Edge reports whether it was taken.
func (in *FakeInput) Edge() bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.waiting {
		return false
	}

	select {
	case in.edges <- struct{}{}:
	default:
	}
	return true
}

// Close marks the input closed.
func (in *FakeInput) Close() error {
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (in *FakeInput) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

// Package device implements the intercom's physical devices on top of gpio
// lines: polarity-aware outputs with a blink activity, and a debounced
// push button.
package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/intercom/internal/gpio"
	"github.com/sweeney/intercom/internal/logger"
)

var errBadPeriod = errors.New("blink period must be positive")

// OutputConfig configures an Output.
type OutputConfig struct {
	// Name identifies the output in logs, e.g. "led_green".
	Name string
	// Invert drives the line low for logical on.
	Invert bool
	// OnFault receives hardware errors from the blink activity.
	OnFault func(error)
	// Logger defaults to the global logger.
	Logger *zap.SugaredLogger
}

// Output is a single digital actuator with optional polarity inversion and
// an asynchronous blink activity. While blinking, the blink goroutine owns
// the line; Set stops it before writing.
type Output struct {
	name    string
	line    gpio.Output
	invert  bool
	onFault func(error)
	log     *zap.SugaredLogger

	mu    sync.Mutex
	blink *blinker
}

type blinker struct {
	period time.Duration
	stop   chan struct{}
	done   chan struct{}
}

// NewOutput wraps an already configured line.
func NewOutput(line gpio.Output, cfg OutputConfig) *Output {
	log := cfg.Logger
	if log == nil {
		log = logger.Logger()
	}

	return &Output{
		name:    cfg.Name,
		line:    line,
		invert:  cfg.Invert,
		onFault: cfg.OnFault,
		log:     log.With("output", cfg.Name),
	}
}

// OpenOutput configures pin on d as logically off and wraps it.
func OpenOutput(d gpio.Driver, pin int, cfg OutputConfig) (*Output, error) {
	line, err := d.Output(pin, cfg.Invert)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Name, err)
	}

	return NewOutput(line, cfg), nil
}

// Name returns the configured name.
func (o *Output) Name() string {
	return o.name
}

// Set stops any blink activity, then drives the line to on XOR invert.
func (o *Output) Set(on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopBlinkLocked()

	return o.line.Write(on != o.invert)
}

// Get returns the logical state of the line.
func (o *Output) Get() (bool, error) {
	raw, err := o.line.Read()
	if err != nil {
		return false, err
	}
	return raw != o.invert, nil
}

// Toggle flips the raw line level. It is the blink step and does not
// coordinate with Set.
func (o *Output) Toggle() error {
	raw, err := o.line.Read()
	if err != nil {
		return err
	}
	return o.line.Write(!raw)
}

// StartBlinking starts toggling the line every period. If already blinking
// the activity is restarted with the new period.
func (o *Output) StartBlinking(period time.Duration) error {
	if period <= 0 {
		return errBadPeriod
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopBlinkLocked()

	b := &blinker{
		period: period,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	o.blink = b
	go o.runBlink(b)

	return nil
}

// StopBlinking stops the blink activity and returns once no further toggle
// can happen. The line keeps whatever level the last toggle left.
func (o *Output) StopBlinking() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopBlinkLocked()
}

// Blinking reports whether a blink activity is running.
func (o *Output) Blinking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.blink != nil
}

// Close stops blinking, turns the output off and releases the line.
func (o *Output) Close() error {
	setErr := o.Set(false)
	closeErr := o.line.Close()

	return errors.Join(setErr, closeErr)
}

func (o *Output) stopBlinkLocked() {
	if o.blink == nil {
		return
	}
	close(o.blink.stop)
	<-o.blink.done
	o.blink = nil
}

func (o *Output) runBlink(b *blinker) {
	defer close(b.done)

	ticker := time.NewTicker(b.period)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
		}

		// Stop wins over a tick that raced with it.
		select {
		case <-b.stop:
			return
		default:
		}

		if err := o.Toggle(); err != nil {
			o.log.Errorw("blink toggle failed", "error", err)
			o.fault(err)
			return
		}
	}
}

func (o *Output) fault(err error) {
	if o.onFault != nil {
		o.onFault(err)
	}
}

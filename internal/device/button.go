package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/intercom/internal/gpio"
	"github.com/sweeney/intercom/internal/logger"
	"github.com/sweeney/intercom/internal/logic"
)

// DefaultPollInterval is the button sampling period.
const DefaultPollInterval = 50 * time.Millisecond

var errAlreadyStarted = errors.New("button already started")

// ButtonConfig configures a Button.
type ButtonConfig struct {
	Name string
	// Interval is the sampling period; DefaultPollInterval when zero.
	Interval time.Duration
	// OnFault receives hardware errors; sampling stops after one.
	OnFault func(error)
	Logger  *zap.SugaredLogger
}

// Button turns a noisy input line into press events. The line is sampled
// until the debouncer sees it stably released, then a rising edge is
// awaited and reported as one press.
//
// The handler runs on its own goroutine, so a slow handler never delays
// sampling. A press detected while the handler is still running is queued
// once; further presses in that window are coalesced.
type Button struct {
	name     string
	line     gpio.Input
	handler  func()
	interval time.Duration
	onFault  func(error)
	log      *zap.SugaredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewButton creates a watcher for line that calls handler on every press.
func NewButton(line gpio.Input, handler func(), cfg ButtonConfig) *Button {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Logger()
	}

	return &Button{
		name:     cfg.Name,
		line:     line,
		handler:  handler,
		interval: interval,
		onFault:  cfg.OnFault,
		log:      log.With("button", cfg.Name),
	}
}

// OpenButton configures pin on d as an input and wraps it.
func OpenButton(d gpio.Driver, pin int, handler func(), cfg ButtonConfig) (*Button, error) {
	line, err := d.Input(pin)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Name, err)
	}

	return NewButton(line, handler, cfg), nil
}

// Start launches the sampling and dispatch goroutines. They run until Stop
// is called or ctx is done.
func (b *Button) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		return errAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	presses := make(chan struct{}, 1)

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.sample(ctx, presses)
	}()
	go func() {
		defer b.wg.Done()
		b.dispatch(ctx, presses)
	}()

	return nil
}

// Stop terminates both goroutines and waits for them. A handler call in
// progress is allowed to finish.
func (b *Button) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	b.wg.Wait()
}

// Close stops the watcher and releases the line.
func (b *Button) Close() error {
	b.Stop()
	return b.line.Close()
}

func (b *Button) sample(ctx context.Context, presses chan<- struct{}) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	var deb logic.Debouncer

	for {
		deb.Reset()

		for !deb.Armed() {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			pressed, err := b.line.Read()
			if err != nil {
				b.fail(err)
				return
			}
			deb.Process(pressed)
		}

		if err := b.line.WaitForRisingEdge(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.fail(err)
			return
		}

		b.log.Debug("press detected")

		select {
		case presses <- struct{}{}:
		default:
			b.log.Debug("press coalesced, handler busy")
		}
	}
}

func (b *Button) dispatch(ctx context.Context, presses <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-presses:
			b.handler()
		}
	}
}

func (b *Button) fail(err error) {
	b.log.Errorw("button sampling stopped", "error", err)
	if b.onFault != nil {
		b.onFault(err)
	}
}

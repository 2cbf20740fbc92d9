// Package intercom composes the door intercom: status LEDs, door relay and
// call button on one side, the call controller on the other, with status
// tracking and event publishing around them.
package intercom

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/intercom/internal/audio"
	"github.com/sweeney/intercom/internal/call"
	"github.com/sweeney/intercom/internal/config"
	"github.com/sweeney/intercom/internal/device"
	"github.com/sweeney/intercom/internal/gpio"
	"github.com/sweeney/intercom/internal/logger"
	"github.com/sweeney/intercom/internal/logic"
	"github.com/sweeney/intercom/internal/mqtt"
	"github.com/sweeney/intercom/internal/status"
	"github.com/sweeney/intercom/internal/telephony"
)

const (
	eventQueueSize = 64
	closeTimeout   = 5 * time.Second
)

var errBadDuration = errors.New("door duration must be positive")

// Options wires an Intercom. The Intercom takes ownership of Driver,
// Engine, Player, Bridge and Publisher and closes them in Close.
type Options struct {
	Target       string
	Listen       bool
	DoorDuration time.Duration
	BlinkPeriod  time.Duration
	PollInterval time.Duration
	Pins         config.GPIO

	Driver    gpio.Driver
	Engine    telephony.Engine
	Player    audio.Player
	Bridge    audio.Bridge
	Cues      audio.Cues
	Tracker   *status.Tracker
	Publisher mqtt.Publisher
	Logger    *zap.SugaredLogger
}

// Intercom is the orchestrator. All methods are safe for concurrent use.
type Intercom struct {
	target       string
	listen       bool
	doorDuration time.Duration
	blinkPeriod  time.Duration

	driver  gpio.Driver
	engine  telephony.Engine
	player  audio.Player
	bridge  audio.Bridge
	tracker *status.Tracker
	pub     mqtt.Publisher
	log     *zap.SugaredLogger

	red    *device.Output
	green  *device.Output
	door   *device.Output
	button *device.Button
	ctrl   *call.Controller

	faults chan error

	emitMu   sync.Mutex
	events   chan logic.Event
	stopped  bool
	pumpDone chan struct{}

	doorMu    sync.Mutex
	doorOpen  bool
	doorGen   uint64
	doorTimer *time.Timer

	closeOnce sync.Once
	closeErr  error
}

// New opens the devices and wires the controller. On error everything
// already opened, including the driver, is released.
func New(opts Options) (*Intercom, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Logger().Named("intercom")
	}

	tracker := opts.Tracker
	if tracker == nil {
		tracker = status.NewTracker(time.Now(), status.Config{Target: opts.Target})
	}

	i := &Intercom{
		target:       opts.Target,
		listen:       opts.Listen,
		doorDuration: opts.DoorDuration,
		blinkPeriod:  opts.BlinkPeriod,
		driver:       opts.Driver,
		engine:       opts.Engine,
		player:       opts.Player,
		bridge:       opts.Bridge,
		tracker:      tracker,
		pub:          opts.Publisher,
		log:          log,
		faults:       make(chan error, 1),
		events:       make(chan logic.Event, eventQueueSize),
		pumpDone:     make(chan struct{}),
	}

	if i.player == nil {
		i.player = audio.NopPlayer{}
	}
	if i.bridge == nil {
		i.bridge = audio.NopBridge{}
	}
	if i.blinkPeriod <= 0 {
		i.blinkPeriod = config.DefaultBlinkPeriod
	}
	if i.doorDuration <= 0 {
		i.doorDuration = config.DefaultDoorDuration
	}

	if err := i.openDevices(opts); err != nil {
		_ = opts.Driver.Close()
		return nil, err
	}

	i.ctrl = call.NewController(call.Config{
		Engine: opts.Engine,
		Player: i.player,
		Bridge: i.bridge,
		Cues:   opts.Cues,
		Hook:   i.onCallEvent,
		Logger: log.Named("call"),
	})

	go i.pump()

	return i, nil
}

func (i *Intercom) openDevices(opts Options) error {
	var err error

	ledCfg := func(name string) device.OutputConfig {
		return device.OutputConfig{Name: name, Invert: opts.Pins.InvertLeds, OnFault: i.fault, Logger: i.log}
	}

	if i.red, err = device.OpenOutput(opts.Driver, opts.Pins.LedRed, ledCfg("led_red")); err != nil {
		return err
	}
	if i.green, err = device.OpenOutput(opts.Driver, opts.Pins.LedGreen, ledCfg("led_green")); err != nil {
		return err
	}

	doorCfg := device.OutputConfig{Name: "door", Invert: opts.Pins.InvertDoor, OnFault: i.fault, Logger: i.log}
	if i.door, err = device.OpenOutput(opts.Driver, opts.Pins.Door, doorCfg); err != nil {
		return err
	}

	i.button, err = device.OpenButton(opts.Driver, opts.Pins.Button, i.Press, device.ButtonConfig{
		Name:     "call",
		Interval: opts.PollInterval,
		OnFault:  i.fault,
		Logger:   i.log,
	})

	return err
}

// Run starts the button watcher and the telephony server, announces
// startup and blocks until ctx is done or a hardware fault occurs. A fault
// is returned; a cancelled ctx returns nil.
func (i *Intercom) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := i.button.Start(ctx); err != nil {
		return fmt.Errorf("start button: %w", err)
	}

	accept := telephony.Acceptor(func(telephony.Session) telephony.Handler { return nil })
	if i.listen {
		accept = i.ctrl.Accept
	}

	served := make(chan error, 1)
	go func() { served <- i.engine.Serve(ctx, accept) }()

	i.Announce("STARTUP", "")
	i.log.Infow("intercom running", "target", i.target, "listen", i.listen)

	select {
	case <-ctx.Done():
		return nil
	case err := <-i.faults:
		i.log.Errorw("hardware fault", "error", err)
		return err
	case err := <-served:
		if err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}
}

// Call dials the configured target unless a call is in progress. The
// request is logged through the logger carried by ctx.
func (i *Intercom) Call(ctx context.Context) {
	logger.DebugKV(ctx, "call requested", "target", i.target)
	i.ctrl.Call(ctx, i.target)
}

// Cancel hangs up the current call, if any.
func (i *Intercom) Cancel(ctx context.Context) {
	logger.DebugKV(ctx, "hangup requested")
	i.ctrl.Cancel(ctx)
}

// Press handles a call button press: it answers a ringing inbound call
// and otherwise places a call.
func (i *Intercom) Press() {
	i.tracker.UpdateCounts(func(c *logic.Counts) { c.Presses++ })
	i.emit(logic.Event{Type: logic.EventButtonPressed})

	ctx := logger.WithKV(logger.ToContext(context.Background(), i.log), "source", "button")
	if i.ctrl.Snapshot().State == logic.CallRingingIn {
		if err := i.ctrl.Answer(ctx); err != nil {
			logger.WarnKV(ctx, "answer failed", "error", err)
		}
		return
	}

	i.Call(ctx)
}

// OpenDoor opens the door for the configured duration.
func (i *Intercom) OpenDoor() error {
	return i.OpenDoorFor(i.doorDuration)
}

// OpenDoorFor energises the relay and returns at once; a timer releases
// it after d. Opening an open door restarts the timer.
func (i *Intercom) OpenDoorFor(d time.Duration) error {
	if d <= 0 {
		return errBadDuration
	}

	i.doorMu.Lock()
	defer i.doorMu.Unlock()

	if err := i.door.Set(true); err != nil {
		i.fault(err)
		return err
	}

	if i.doorTimer != nil {
		i.doorTimer.Stop()
	}
	i.doorGen++
	gen := i.doorGen
	i.doorTimer = time.AfterFunc(d, func() { i.releaseDoor(gen) })

	if i.doorOpen {
		i.log.Debugw("door hold extended", "duration", d)
		return nil
	}

	i.doorOpen = true
	if err := i.red.Set(true); err != nil {
		i.fault(err)
	}
	i.tracker.SetDoorOpen(true)
	i.tracker.UpdateCounts(func(c *logic.Counts) { c.DoorOpens++ })
	i.emit(logic.Event{Type: logic.EventDoorOpened, Detail: d.String()})
	i.log.Infow("door opened", "duration", d)

	return nil
}

// releaseDoor closes the door unless a later open superseded gen.
func (i *Intercom) releaseDoor(gen uint64) {
	i.doorMu.Lock()
	defer i.doorMu.Unlock()

	if gen != i.doorGen || !i.doorOpen {
		return
	}
	i.closeDoorLocked()
}

func (i *Intercom) closeDoorLocked() {
	i.doorOpen = false
	i.doorTimer = nil

	if err := i.door.Set(false); err != nil {
		i.fault(err)
	}
	if err := i.red.Set(false); err != nil {
		i.fault(err)
	}
	i.tracker.SetDoorOpen(false)
	i.emit(logic.Event{Type: logic.EventDoorClosed})
	i.log.Info("door closed")
}

// DoorOpen reports whether the relay is energised.
func (i *Intercom) DoorOpen() bool {
	i.doorMu.Lock()
	defer i.doorMu.Unlock()
	return i.doorOpen
}

// CallSession returns the current call session.
func (i *Intercom) CallSession() call.Session {
	return i.ctrl.Snapshot()
}

// Status returns the tracked daemon state.
func (i *Intercom) Status() status.Snapshot {
	return i.tracker.Snapshot()
}

// Announce publishes a system event carrying the full status.
func (i *Intercom) Announce(event, reason string) {
	if i.pub == nil {
		return
	}

	snap := i.tracker.Snapshot()
	err := i.pub.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
		Retained:   true,
	})
	if err != nil {
		i.log.Warnw("system event not published", "event", event, "error", err)
	}
}

// onCallEvent runs under the controller lock; it only touches devices,
// the tracker and the event queue.
func (i *Intercom) onCallEvent(ev call.Event) {
	s := ev.Session

	if ev.Type == logic.EventCallFailed {
		i.tracker.UpdateCounts(func(c *logic.Counts) { c.CallsFailed++ })
		detail := ""
		if ev.Err != nil {
			detail = ev.Err.Error()
		}
		i.emit(logic.Event{Type: logic.EventCallFailed, State: logic.CallIdle, Target: s.Target, Detail: detail})
		return
	}

	i.tracker.UpdateCounts(func(c *logic.Counts) {
		switch s.State {
		case logic.CallRingingOut:
			c.CallsPlaced++
		case logic.CallRingingIn:
			c.CallsInbound++
		case logic.CallConnected:
			c.CallsConnected++
		}
	})
	i.tracker.SetCall(status.Call{
		ID:        s.ID,
		State:     s.State,
		Target:    s.Target,
		Direction: string(s.Direction),
		StartedAt: s.StartedAt,
	})

	i.setIndicator(logic.IndicatorFor(s.State))

	i.emit(logic.Event{Type: logic.EventCallState, State: s.State, Target: s.Target, CallID: s.ID})
}

func (i *Intercom) setIndicator(ind logic.Indicator) {
	var err error
	switch ind {
	case logic.IndicatorBlink:
		err = i.green.StartBlinking(i.blinkPeriod)
	case logic.IndicatorSolid:
		err = i.green.Set(true)
	default:
		err = i.green.Set(false)
	}
	if err != nil {
		i.fault(err)
	}
	i.tracker.SetGreen(ind)
}

// fault records the first hardware fault for Run to return.
func (i *Intercom) fault(err error) {
	select {
	case i.faults <- err:
	default:
	}
}

// emit queues an event for publishing, dropping it if the queue is full.
func (i *Intercom) emit(ev logic.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	i.emitMu.Lock()
	defer i.emitMu.Unlock()

	if i.stopped {
		return
	}

	select {
	case i.events <- ev:
	default:
		i.log.Warnw("event queue full, dropping event", "event", ev.Type)
	}
}

// pump publishes events in order until the queue is closed.
func (i *Intercom) pump() {
	defer close(i.pumpDone)

	for ev := range i.events {
		if i.pub == nil {
			continue
		}
		if err := i.pub.Publish(ev); err != nil {
			i.log.Warnw("event not published", "event", ev.Type, "error", err)
		}
	}
}

// Close tears everything down in order: the button stops, the call is
// hung up, the engine is released, the door is closed and every line is
// turned off, then queued events are flushed and the publisher closed.
func (i *Intercom) Close() error {
	i.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		var errs []error

		i.button.Stop()
		errs = append(errs, i.ctrl.Close(ctx))
		if i.engine != nil {
			errs = append(errs, i.engine.Close())
		}

		i.doorMu.Lock()
		if i.doorTimer != nil {
			i.doorTimer.Stop()
		}
		i.doorGen++
		if i.doorOpen {
			i.closeDoorLocked()
		}
		i.doorMu.Unlock()

		errs = append(errs,
			i.door.Close(),
			i.green.Close(),
			i.red.Close(),
			i.button.Close(),
			i.player.Close(),
			i.bridge.Close(),
			i.driver.Close(),
		)

		i.emitMu.Lock()
		i.stopped = true
		close(i.events)
		i.emitMu.Unlock()
		<-i.pumpDone

		if i.pub != nil {
			errs = append(errs, i.pub.Close())
		}

		i.closeErr = errors.Join(errs...)
	})

	return i.closeErr
}

// Package call owns the intercom's single call session. It places and
// accepts calls through a telephony engine and turns call state changes
// into ringback, cue and media routing side effects.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/intercom/internal/audio"
	"github.com/sweeney/intercom/internal/logger"
	"github.com/sweeney/intercom/internal/logic"
	"github.com/sweeney/intercom/internal/telephony"
)

var (
	// ErrNoCall is returned when there is no call to act on.
	ErrNoCall = errors.New("call: no active call")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("call: controller closed")
)

// Session is a snapshot of the call session.
type Session struct {
	ID        string
	Target    string
	Direction telephony.Direction
	State     logic.CallState
	StartedAt time.Time
}

// Event reports a call state change or a failed placement.
type Event struct {
	Type     logic.EventType
	Previous logic.CallState
	Session  Session
	// Err is set for logic.EventCallFailed.
	Err error
}

// Config wires a Controller to its collaborators.
type Config struct {
	Engine telephony.Engine
	Player audio.Player
	Bridge audio.Bridge
	Cues   audio.Cues
	// Hook observes every event. It runs with the controller locked and
	// must not call back into the controller.
	Hook   func(Event)
	Logger *zap.SugaredLogger
}

type active struct {
	sess telephony.Session
	info Session
}

// Controller serialises call requests and engine callbacks on one mutex.
// It implements telephony.Handler for every call it owns.
type Controller struct {
	engine telephony.Engine
	player audio.Player
	bridge audio.Bridge
	cues   audio.Cues
	hook   func(Event)
	log    *zap.SugaredLogger

	mu       sync.Mutex
	current  *active
	ringback audio.Clip
	closed   bool
}

// NewController creates an idle controller.
func NewController(cfg Config) *Controller {
	log := cfg.Logger
	if log == nil {
		log = logger.Logger().Named("call")
	}

	player := cfg.Player
	if player == nil {
		player = audio.NopPlayer{}
	}

	bridge := cfg.Bridge
	if bridge == nil {
		bridge = audio.NopBridge{}
	}

	return &Controller{
		engine: cfg.Engine,
		player: player,
		bridge: bridge,
		cues:   cfg.Cues,
		hook:   cfg.Hook,
		log:    log,
	}
}

// Call places a call to target unless a call is already in progress.
// Placement failures play the error cue and leave the controller idle;
// they are reported to the hook, never to the caller.
func (c *Controller) Call(ctx context.Context, target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	// current is cleared only once ENDED has been applied, so a call that
	// the engine already considers ended still blocks until its teardown runs.
	if c.current != nil {
		c.log.Debugw("call already in progress", "call_id", c.current.info.ID)
		return
	}

	sess, err := c.engine.PlaceCall(ctx, target, c)
	if err != nil {
		c.log.Warnw("call placement failed", "target", target, "error", err)
		c.playOnce(logic.CueError)
		c.notify(Event{
			Type:     logic.EventCallFailed,
			Previous: logic.CallIdle,
			Session:  Session{Target: target, Direction: telephony.Outbound, State: logic.CallIdle},
			Err:      err,
		})
		return
	}

	c.log.Infow("call placed", "call_id", sess.ID(), "target", target)

	c.current = &active{sess: sess, info: newSession(sess)}
	c.applyLocked(logic.CallRingingOut)
}

// Cancel asks the engine to hang up the current call. The call ends when
// the engine reports ENDED. A call that ended on its own meanwhile is not
// an error.
func (c *Controller) Cancel(ctx context.Context) {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()

	if cur == nil || !cur.sess.Valid() {
		return
	}

	err := c.engine.Hangup(ctx, cur.sess)
	switch {
	case err == nil:
		c.log.Infow("hangup requested", "call_id", cur.info.ID)
	case errors.Is(err, telephony.ErrSessionClosed):
		c.log.Debugw("call already ended", "call_id", cur.info.ID)
	default:
		c.log.Warnw("hangup failed", "call_id", cur.info.ID, "error", err)
	}
}

// Answer accepts the current call if it is ringing in.
func (c *Controller) Answer(ctx context.Context) error {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()

	if cur == nil || !cur.sess.Valid() {
		return ErrNoCall
	}

	if err := c.engine.Answer(ctx, cur.sess); err != nil {
		return err
	}
	c.log.Infow("answering call", "call_id", cur.info.ID, "caller", cur.info.Target)

	return nil
}

// Accept is the engine's acceptor for inbound calls: the call is taken if
// the controller is idle and rejected as busy otherwise.
func (c *Controller) Accept(sess telephony.Session) telephony.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.current != nil {
		c.log.Infow("rejecting inbound call", "caller", sess.Target())
		return nil
	}

	c.log.Infow("inbound call", "call_id", sess.ID(), "caller", sess.Target())
	c.current = &active{sess: sess, info: newSession(sess)}

	return c
}

// Snapshot returns the current session, or an idle one.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return Session{State: logic.CallIdle}
	}
	return c.current.info
}

// Close hangs up the current call and stops any ringback. Later calls are
// ignored.
func (c *Controller) Close(ctx context.Context) error {
	c.Cancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.stopRingbackLocked()

	return nil
}

// OnStateChanged implements telephony.Handler.
func (c *Controller) OnStateChanged(sess telephony.Session, state logic.CallState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.owns(sess) {
		c.log.Debugw("ignoring state of stale call", "call_id", sess.ID(), "state", state)
		return
	}

	c.applyLocked(state)
}

// OnMediaStateChanged implements telephony.Handler. Routing failures are
// logged and not retried; the call is usually being torn down anyway.
func (c *Controller) OnMediaStateChanged(sess telephony.Session, active bool) {
	id := sess.ID()

	if !active {
		if err := c.bridge.Disconnect(id); err != nil {
			c.log.Errorw("disconnect call audio failed", "call_id", id, "error", err)
		}
		return
	}

	c.mu.Lock()
	owned := c.owns(sess)
	c.mu.Unlock()

	if !owned {
		return
	}

	remote, local, err := c.engine.Media(sess)
	if err != nil {
		c.log.Errorw("call media unavailable", "call_id", id, "error", err)
		return
	}
	if err := c.bridge.Connect(id, remote, local); err != nil {
		c.log.Errorw("connect call audio failed", "call_id", id, "error", err)
	}
}

func (c *Controller) owns(sess telephony.Session) bool {
	return c.current != nil && sess != nil && c.current.sess.ID() == sess.ID()
}

// applyLocked moves the current call to state and runs the side effects.
// Entering ENDED releases the session and returns the controller to idle.
func (c *Controller) applyLocked(state logic.CallState) {
	from := c.current.info.State
	if from == state {
		return
	}

	effects := logic.Transition(from, state)
	if effects.StopRingback {
		c.stopRingbackLocked()
	}
	if effects.StartRingback {
		c.startRingbackLocked()
	}
	if effects.Cue != logic.CueNone {
		c.playOnce(effects.Cue)
	}

	c.current.info.State = state
	info := c.current.info

	c.log.Infow("call state", "call_id", info.ID, "from", from, "state", state)

	if state == logic.CallEnded {
		c.current = nil
	}

	c.notify(Event{Type: logic.EventCallState, Previous: from, Session: info})
}

func (c *Controller) startRingbackLocked() {
	if c.ringback != 0 {
		return
	}

	clip, err := c.player.PlayLoop(c.cues.Path(logic.CueRing))
	if err != nil {
		c.log.Warnw("ringback failed", "error", err)
		return
	}
	c.ringback = clip
}

func (c *Controller) stopRingbackLocked() {
	if c.ringback == 0 {
		return
	}

	if err := c.player.Stop(c.ringback); err != nil {
		c.log.Warnw("stop ringback failed", "error", err)
	}
	c.ringback = 0
}

// playOnce is fire-and-forget; one-shot cues may overlap.
func (c *Controller) playOnce(cue logic.Cue) {
	if err := c.player.PlayOnce(c.cues.Path(cue)); err != nil {
		c.log.Warnw("cue playback failed", "cue", cue, "error", err)
	}
}

func (c *Controller) notify(ev Event) {
	if c.hook != nil {
		c.hook(ev)
	}
}

func newSession(sess telephony.Session) Session {
	return Session{
		ID:        sess.ID(),
		Target:    sess.Target(),
		Direction: sess.Direction(),
		State:     logic.CallIdle,
		StartedAt: time.Now(),
	}
}

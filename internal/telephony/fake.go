package telephony

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sweeney/intercom/internal/logic"
)

// FakeSession is a Session driven by a FakeEngine.
type FakeSession struct {
	id     string
	target string
	dir    Direction
	h      Handler

	mu    sync.Mutex
	state logic.CallState
}

func (s *FakeSession) ID() string           { return s.id }
func (s *FakeSession) Target() string       { return s.target }
func (s *FakeSession) Direction() Direction { return s.dir }

func (s *FakeSession) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != logic.CallEnded
}

// State returns the last state delivered to the handler.
func (s *FakeSession) State() logic.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FakeEngine is a test double. Tests act as the engine's callback
// goroutine by calling Fire and FireMedia.
type FakeEngine struct {
	mu sync.Mutex

	placed   []*FakeSession
	hangups  []string
	answers  []string
	accept   Acceptor
	serving  chan struct{}
	next     int
	closed   bool
	received bytes.Buffer
	sent     bytes.Buffer

	// PlaceError, if set, is returned by PlaceCall.
	PlaceError error
}

// NewFakeEngine creates an idle FakeEngine.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{serving: make(chan struct{})}
}

func (f *FakeEngine) newSession(target string, dir Direction, h Handler) *FakeSession {
	f.next++
	return &FakeSession{
		id:     fmt.Sprintf("fake-%d", f.next),
		target: target,
		dir:    dir,
		h:      h,
		state:  logic.CallIdle,
	}
}

// PlaceCall records the call. No callback is delivered until Fire.
func (f *FakeEngine) PlaceCall(_ context.Context, target string, h Handler) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PlaceError != nil {
		return nil, &PlacementError{Target: target, Err: f.PlaceError}
	}

	s := f.newSession(target, Outbound, h)
	f.placed = append(f.placed, s)

	return s, nil
}

// Answer records the answer of a ringing inbound call.
func (f *FakeEngine) Answer(_ context.Context, sess Session) error {
	s, ok := sess.(*FakeSession)
	if !ok {
		return ErrUnknownSession
	}
	if s.Direction() != Inbound || s.State() != logic.CallRingingIn {
		return ErrNotRinging
	}

	f.mu.Lock()
	f.answers = append(f.answers, s.id)
	f.mu.Unlock()

	return nil
}

// Hangup records the request. The call only ends when the test fires ENDED.
func (f *FakeEngine) Hangup(_ context.Context, sess Session) error {
	s, ok := sess.(*FakeSession)
	if !ok {
		return ErrUnknownSession
	}
	if !s.Valid() {
		return ErrSessionClosed
	}

	f.mu.Lock()
	f.hangups = append(f.hangups, s.id)
	f.mu.Unlock()

	return nil
}

// Media returns in-memory streams.
func (f *FakeEngine) Media(sess Session) (io.Reader, io.Writer, error) {
	if sess == nil || !sess.Valid() {
		return nil, nil, ErrSessionClosed
	}
	return &f.received, &f.sent, nil
}

// Serve registers accept and blocks until ctx is done.
func (f *FakeEngine) Serve(ctx context.Context, accept Acceptor) error {
	f.mu.Lock()
	f.accept = accept
	close(f.serving)
	f.mu.Unlock()

	<-ctx.Done()

	return nil
}

// Serving is closed once Serve has been called.
func (f *FakeEngine) Serving() <-chan struct{} {
	return f.serving
}

// Close marks the engine closed.
func (f *FakeEngine) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeEngine) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Fire delivers a state change for s to its handler.
func (f *FakeEngine) Fire(s *FakeSession, state logic.CallState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.h.OnStateChanged(s, state)
}

// MarkEnded ends s without delivering the callback, as an engine does just
// before it reports ENDED. Fire delivers the callback later.
func (f *FakeEngine) MarkEnded(s *FakeSession) {
	s.mu.Lock()
	s.state = logic.CallEnded
	s.mu.Unlock()
}

// FireMedia delivers a media change for s to its handler.
func (f *FakeEngine) FireMedia(s *FakeSession, active bool) {
	s.h.OnMediaStateChanged(s, active)
}

// Incoming offers an inbound call from caller to the registered acceptor.
// It returns nil if the call was rejected. An accepted call is left in
// RINGING_IN with the state already delivered.
func (f *FakeEngine) Incoming(caller string) *FakeSession {
	f.mu.Lock()
	accept := f.accept
	s := f.newSession(caller, Inbound, nil)
	f.mu.Unlock()

	if accept == nil {
		return nil
	}

	h := accept(s)
	if h == nil {
		return nil
	}
	s.h = h

	f.Fire(s, logic.CallRingingIn)

	return s
}

// Placed returns every outbound session created so far.
func (f *FakeEngine) Placed() []*FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeSession(nil), f.placed...)
}

// Last returns the most recent outbound session, or nil.
func (f *FakeEngine) Last() *FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.placed) == 0 {
		return nil
	}
	return f.placed[len(f.placed)-1]
}

// Hangups returns the ids of hung-up sessions in order.
func (f *FakeEngine) Hangups() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.hangups...)
}

// Answers returns the ids of answered sessions in order.
func (f *FakeEngine) Answers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.answers...)
}

// SetPlaceError makes subsequent PlaceCall calls fail; nil clears it.
func (f *FakeEngine) SetPlaceError(err error) {
	f.mu.Lock()
	f.PlaceError = err
	f.mu.Unlock()
}

// Package telephony defines the call engine the intercom drives and a SIP
// implementation of it.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sweeney/intercom/internal/logic"
)

var (
	// ErrSessionClosed is returned when acting on a call that has ended.
	ErrSessionClosed = errors.New("telephony: session closed")
	// ErrNotRinging is returned when answering a call that is not ringing in.
	ErrNotRinging = errors.New("telephony: call is not ringing")
	// ErrNoMedia is returned when a call has no media streams yet.
	ErrNoMedia = errors.New("telephony: no media")
	// ErrUnknownSession is returned for a session the engine did not create.
	ErrUnknownSession = errors.New("telephony: unknown session")
)

// Direction tells outbound calls from inbound ones.
type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

// Session is one call handled by an Engine.
type Session interface {
	ID() string
	// Target is the remote address: the callee, or the caller for inbound calls.
	Target() string
	Direction() Direction
	// Valid reports whether the call has not yet ended.
	Valid() bool
}

// Handler receives call events. Events for one session are delivered in
// order from a single goroutine and never from inside an Engine method.
type Handler interface {
	OnStateChanged(s Session, state logic.CallState)
	OnMediaStateChanged(s Session, active bool)
}

// Acceptor is offered every inbound call. It returns the handler for the
// call, or nil to reject it as busy.
type Acceptor func(s Session) Handler

// Engine places, answers and tears down calls.
type Engine interface {
	// PlaceCall starts an outbound call to target. Progress is reported to h.
	PlaceCall(ctx context.Context, target string, h Handler) (Session, error)
	// Answer accepts a ringing inbound call.
	Answer(ctx context.Context, s Session) error
	// Hangup requests the call to end; ENDED is reported asynchronously.
	Hangup(ctx context.Context, s Session) error
	// Media returns the received and transmitted audio streams of a
	// connected call.
	Media(s Session) (io.Reader, io.Writer, error)
	// Serve handles inbound traffic until ctx is done.
	Serve(ctx context.Context, accept Acceptor) error
	// Close hangs up every call and releases the engine.
	Close() error
}

// PlacementError reports that a call could not be placed.
type PlacementError struct {
	Target string
	Err    error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("place call to %q: %v", e.Target, e.Err)
}

func (e *PlacementError) Unwrap() error {
	return e.Err
}

// IsPlacementError reports whether err is or wraps a *PlacementError.
func IsPlacementError(err error) bool {
	var pe *PlacementError
	return errors.As(err, &pe)
}

// Package logic contains the pure decision logic of the intercom: the
// debounce counter, call states and the mapping from call state to
// indicator and audio cue. This package has NO external dependencies
// (no GPIO, SIP, audio, OS, or time.Sleep).
package logic

import "time"

// CallState is the lifecycle state of the single call session.
type CallState string

const (
	CallIdle       CallState = "IDLE"
	CallRingingOut CallState = "RINGING_OUT"
	CallRingingIn  CallState = "RINGING_IN"
	CallConnected  CallState = "CONNECTED"
	CallEnded      CallState = "ENDED"
)

// Active reports whether a call in this state still occupies the line.
func (s CallState) Active() bool {
	switch s {
	case CallRingingOut, CallRingingIn, CallConnected:
		return true
	default:
		return false
	}
}

// Ringing reports whether the call is being established.
func (s CallState) Ringing() bool {
	return s == CallRingingOut || s == CallRingingIn
}

// Indicator is the display mode of the green status LED.
type Indicator string

const (
	IndicatorOff   Indicator = "OFF"
	IndicatorBlink Indicator = "BLINK"
	IndicatorSolid Indicator = "ON"
)

// Cue names an audio clip played on a call transition.
type Cue string

const (
	CueNone         Cue = ""
	CueRing         Cue = "ring"
	CueConnected    Cue = "connected"
	CueDisconnected Cue = "disconnected"
	CueError        Cue = "error"
)

// Effects lists the side effects of entering a call state.
type Effects struct {
	// StartRingback starts the looping ringback clip.
	StartRingback bool
	// StopRingback stops the looping ringback clip if it is playing.
	StopRingback bool
	// Cue is a one-shot clip to play after the ringback is stopped.
	Cue Cue
}

// EventType names an intercom event published to observers.
type EventType string

const (
	EventButtonPressed EventType = "BUTTON_PRESSED"
	EventCallState     EventType = "CALL_STATE"
	EventCallFailed    EventType = "CALL_FAILED"
	EventDoorOpened    EventType = "DOOR_OPENED"
	EventDoorClosed    EventType = "DOOR_CLOSED"
)

// Counts tracks intercom activity since startup.
type Counts struct {
	Presses        int
	CallsPlaced    int
	CallsFailed    int
	CallsConnected int
	CallsInbound   int
	DoorOpens      int
}

// Event is something observers of the intercom are told about.
type Event struct {
	Timestamp time.Time
	Type      EventType
	// State and Target describe the call for call events.
	State  CallState
	Target string
	CallID string
	// Detail carries the failure reason of CALL_FAILED.
	Detail string
}

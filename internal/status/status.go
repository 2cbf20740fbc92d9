// Package status provides a thread-safe status tracker for the intercom
// daemon. It is written by the orchestrator and read by HTTP handlers and
// MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/intercom/internal/logic"
)

// NetworkInfo describes the host network as reported by the system.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Target         string
	Driver         string
	PollMs         int64
	BlinkMs        int64
	DoorDurationMs int64
	Listen         bool
	Broker         string
	HTTPAddr       string
}

// Call describes the call session for display.
type Call struct {
	ID        string
	State     logic.CallState
	Target    string
	Direction string
	StartedAt time.Time
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Call          Call
	Green         logic.Indicator
	Red           bool
	DoorOpen      bool
	Counts        logic.Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Call:      Call{State: logic.CallIdle},
			Green:     logic.IndicatorOff,
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetCall records the current call session.
func (t *Tracker) SetCall(c Call) {
	t.mu.Lock()
	if c.State == logic.CallEnded {
		c = Call{State: logic.CallIdle}
	}
	t.snap.Call = c
	t.mu.Unlock()
}

// SetGreen records the green LED mode.
func (t *Tracker) SetGreen(green logic.Indicator) {
	t.mu.Lock()
	t.snap.Green = green
	t.mu.Unlock()
}

// SetDoorOpen records the relay state. The red LED mirrors it.
func (t *Tracker) SetDoorOpen(open bool) {
	t.mu.Lock()
	t.snap.DoorOpen = open
	t.snap.Red = open
	t.mu.Unlock()
}

// UpdateCounts applies fn to the activity counters.
func (t *Tracker) UpdateCounts(fn func(*logic.Counts)) {
	t.mu.Lock()
	fn(&t.snap.Counts)
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Call          CallJSON     `json:"call"`
	LEDs          LEDsJSON     `json:"leds"`
	Door          DoorJSON     `json:"door"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// CallJSON is the JSON representation of the call session.
type CallJSON struct {
	State     string `json:"state"`
	ID        string `json:"id,omitempty"`
	Target    string `json:"target,omitempty"`
	Direction string `json:"direction,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
}

// LEDsJSON reports the indicator modes.
type LEDsJSON struct {
	Green string `json:"green"`
	Red   string `json:"red"`
}

// DoorJSON reports the relay state.
type DoorJSON struct {
	Open bool `json:"open"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of activity counters.
type CountsJSON struct {
	Presses        int `json:"button_presses"`
	CallsPlaced    int `json:"calls_placed"`
	CallsFailed    int `json:"calls_failed"`
	CallsConnected int `json:"calls_connected"`
	CallsInbound   int `json:"calls_inbound"`
	DoorOpens      int `json:"door_opens"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Target         string `json:"target"`
	Driver         string `json:"gpio_driver"`
	PollMs         int64  `json:"poll_ms"`
	BlinkMs        int64  `json:"blink_ms"`
	DoorDurationMs int64  `json:"door_duration_ms"`
	Listen         bool   `json:"listen"`
	Broker         string `json:"broker"`
	HTTPAddr       string `json:"http_addr"`
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

// NewCallJSON returns the JSON representation of a call session.
func NewCallJSON(c Call) CallJSON {
	state := string(c.State)
	if state == "" {
		state = "UNKNOWN"
	}

	call := CallJSON{
		State:     state,
		ID:        c.ID,
		Target:    c.Target,
		Direction: c.Direction,
	}
	if !c.StartedAt.IsZero() {
		call.StartedAt = c.StartedAt.UTC().Format(time.RFC3339)
	}

	return call
}

func buildInner(snap Snapshot) StatusInner {
	inner := buildStatus(snap)
	if n := snap.Network; n != nil {
		inner.Network = &NetworkJSON{
			Type:       n.Type,
			IP:         n.IP,
			Status:     n.Status,
			Gateway:    n.Gateway,
			WifiStatus: n.WifiStatus,
			SSID:       n.SSID,
		}
	}
	return inner
}

func buildStatus(snap Snapshot) StatusInner {
	green := string(snap.Green)
	if green == "" {
		green = "UNKNOWN"
	}

	return StatusInner{
		Call:          NewCallJSON(snap.Call),
		LEDs:          LEDsJSON{Green: green, Red: onOff(snap.Red)},
		Door:          DoorJSON{Open: snap.DoorOpen},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Presses:        snap.Counts.Presses,
			CallsPlaced:    snap.Counts.CallsPlaced,
			CallsFailed:    snap.Counts.CallsFailed,
			CallsConnected: snap.Counts.CallsConnected,
			CallsInbound:   snap.Counts.CallsInbound,
			DoorOpens:      snap.Counts.DoorOpens,
		},
		Config: ConfigJSON{
			Target:         snap.Config.Target,
			Driver:         snap.Config.Driver,
			PollMs:         snap.Config.PollMs,
			BlinkMs:        snap.Config.BlinkMs,
			DoorDurationMs: snap.Config.DoorDurationMs,
			Listen:         snap.Config.Listen,
			Broker:         snap.Config.Broker,
			HTTPAddr:       snap.Config.HTTPAddr,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// Package mqtt publishes intercom events to an MQTT broker, with an
// in-memory fake for tests.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/intercom/internal/logic"
)

const (
	// DefaultTopicPrefix is used when no prefix is configured.
	DefaultTopicPrefix = "home/intercom"
	// EventsSuffix is appended to the prefix for intercom events.
	EventsSuffix = "events"
	// SystemSuffix is appended to the prefix for lifecycle events.
	SystemSuffix = "system"
)

// Topics holds the resolved topic names.
type Topics struct {
	Events string
	System string
}

// TopicsFor builds the topics under prefix.
func TopicsFor(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}

	return Topics{
		Events: prefix + "/" + EventsSuffix,
		System: prefix + "/" + SystemSuffix,
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends an intercom event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "OFFLINE"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Intercom IntercomPayload `json:"intercom"`
}

// IntercomPayload contains the event details.
type IntercomPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	State     string `json:"state,omitempty"`
	Target    string `json:"target,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// FormatPayload creates the JSON payload for an intercom event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Intercom: IntercomPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			State:     string(event.State),
			Target:    event.Target,
			CallID:    event.CallID,
			Detail:    event.Detail,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}

	return json.Marshal(SystemPayload{System: inner})
}

// Package mqtt publishes engine events and system lifecycle messages, with
// an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/ecu-trigger/internal/logic"
)

// Topic is the MQTT topic for engine events.
const Topic = "engine/ecu-trigger/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "engine/ecu-trigger/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends an engine event to the broker.
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

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Engine EnginePayload `json:"engine"`
}

// EnginePayload contains the engine event details.
type EnginePayload struct {
	Timestamp  string `json:"timestamp"`
	Event      string `json:"event"`
	State      string `json:"state"`
	Sync       string `json:"sync"`
	RPM        uint16 `json:"rpm"`
	Cranking   bool   `json:"cranking"`
	SyncLosses uint8  `json:"sync_losses"`
}

// FormatPayload creates the JSON payload for an engine event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Engine: EnginePayload{
			Timestamp:  event.Timestamp.UTC().Format(time.RFC3339),
			Event:      string(event.Type),
			State:      string(event.EngineState),
			Sync:       string(event.SyncState),
			RPM:        event.RPM,
			Cranking:   event.Cranking,
			SyncLosses: event.SyncLosses,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

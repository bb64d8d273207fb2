// Package logic turns main loop samples of the decoder into debounced
// engine events. It has no hardware, MQTT or OS dependencies; time is
// always injected through time.Time parameters.
package logic

import "time"

// State is the debounced state of one tracked condition.
type State string

const (
	StateRunning  State = "RUNNING"
	StateStopped  State = "STOPPED"
	StateSynced   State = "SYNCED"
	StateUnsynced State = "UNSYNCED"
)

// EventType is a debounced transition to be published.
type EventType string

const (
	EventEngineStart EventType = "ENGINE_START"
	EventEngineStop  EventType = "ENGINE_STOP"
	EventSyncGained  EventType = "SYNC_GAINED"
	EventSyncLost    EventType = "SYNC_LOST"
)

// Event is a transition together with the engine values seen with it.
type Event struct {
	Timestamp   time.Time
	Type        EventType
	EngineState State
	SyncState   State
	RPM         uint16
	Cranking    bool
	SyncLosses  uint8
}

// ChannelState tracks debounce state for a single condition.
type ChannelState struct {
	// Current stable (debounced) state
	Stable State
	// Pending state during debounce
	Pending State
	// Time when pending state was first observed
	PendingSince time.Time
	// Whether we have established a baseline
	Baselined bool
}

// Input is one main loop sample of the decoder.
type Input struct {
	Running    bool // a primary tooth was seen within the stall time
	Sync       bool // full sync, half sync counts as unsynced
	RPM        uint16
	Cranking   bool
	SyncLosses uint8
	Time       time.Time
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	EngineStart int
	EngineStop  int
	SyncGained  int
	SyncLost    int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}

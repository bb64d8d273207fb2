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
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	State         string     `json:"state"`
	Sync          string     `json:"sync"`
	Ready         bool       `json:"ready"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	Engine        EngineJSON `json:"engine"`
	MQTT          MQTTStatus `json:"mqtt"`
	Counts        CountsJSON `json:"event_counts"`
	Config        ConfigJSON `json:"config"`
}

// EngineJSON is the JSON representation of the decoder sample.
type EngineJSON struct {
	Pattern          string   `json:"pattern"`
	RPM              uint16   `json:"rpm"`
	CrankAngle       int      `json:"crank_angle"`
	HasSync          bool     `json:"has_sync"`
	HalfSync         bool     `json:"half_sync"`
	SyncStatus       string   `json:"sync_status"`
	Cranking         bool     `json:"cranking"`
	SyncLosses       uint8    `json:"sync_losses"`
	StartRevolutions uint32   `json:"start_revolutions"`
	RevolutionTimeUS uint32   `json:"revolution_time_us"`
	ToothCount       uint16   `json:"tooth_count"`
	ToothLogReady    bool     `json:"tooth_log_ready"`
	EndTeeth         []uint16 `json:"end_teeth,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Buffered  int    `json:"buffered"`
	Dropped   int    `json:"dropped"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	EngineStart int `json:"engine_start"`
	EngineStop  int `json:"engine_stop"`
	SyncGained  int `json:"sync_gained"`
	SyncLost    int `json:"sync_lost"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Pattern      string `json:"pattern"`
	TriggerTeeth uint16 `json:"trigger_teeth"`
	MissingTeeth uint16 `json:"missing_teeth"`
	TriggerAngle int16  `json:"trigger_angle"`
	Cylinders    uint8  `json:"cylinders"`
	Source       string `json:"source"`
	Outputs      string `json:"outputs"`
	PollMs       int64  `json:"poll_ms"`
	DebounceMs   int64  `json:"debounce_ms"`
	HeartbeatMs  int64  `json:"heartbeat_ms"`
	Broker       string `json:"broker"`
	HTTPPort     string `json:"http_port"`
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

func buildInner(snap Snapshot) StatusInner {
	e := snap.Engine
	c := snap.Config
	return StatusInner{
		State:         orUnknown(string(snap.EngineState)),
		Sync:          orUnknown(string(snap.SyncState)),
		Ready:         snap.Baselined,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Engine: EngineJSON{
			Pattern:          e.Pattern,
			RPM:              e.RPM,
			CrankAngle:       e.CrankAngle,
			HasSync:          e.HasSync,
			HalfSync:         e.HalfSync,
			SyncStatus:       e.SyncStatus,
			Cranking:         e.Cranking,
			SyncLosses:       e.SyncLosses,
			StartRevolutions: e.StartRevolutions,
			RevolutionTimeUS: e.RevolutionTime,
			ToothCount:       e.ToothCount,
			ToothLogReady:    e.ToothLogReady,
			EndTeeth:         e.EndTeeth,
		},
		MQTT: MQTTStatus{
			Connected: snap.MQTTConnected,
			Broker:    c.Broker,
			Buffered:  snap.MQTTBuffered,
			Dropped:   snap.MQTTDropped,
		},
		Counts: CountsJSON{
			EngineStart: snap.Counts.EngineStart,
			EngineStop:  snap.Counts.EngineStop,
			SyncGained:  snap.Counts.SyncGained,
			SyncLost:    snap.Counts.SyncLost,
		},
		Config: ConfigJSON{
			Pattern:      c.Pattern,
			TriggerTeeth: c.TriggerTeeth,
			MissingTeeth: c.MissingTeeth,
			TriggerAngle: c.TriggerAngle,
			Cylinders:    c.Cylinders,
			Source:       c.Source,
			Outputs:      c.Outputs,
			PollMs:       c.PollMs,
			DebounceMs:   c.DebounceMs,
			HeartbeatMs:  c.HeartbeatMs,
			Broker:       c.Broker,
			HTTPPort:     c.HTTPPort,
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

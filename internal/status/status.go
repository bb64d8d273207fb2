// Package status provides a thread-safe status tracker for the ecu-trigger
// daemon. It is read by the HTTP handlers and the MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/ecu-trigger/internal/logic"
)

// Engine is the decoder state sampled by the main loop. It is a local copy
// so that status does not depend on the decoder packages.
type Engine struct {
	Pattern          string
	RPM              uint16
	CrankAngle       int
	HasSync          bool
	HalfSync         bool
	SyncStatus       string
	Cranking         bool
	SyncLosses       uint8
	StartRevolutions uint32
	RevolutionTime   uint32
	ToothCount       uint16
	ToothLogReady    bool
	EndTeeth         []uint16
}

// Config contains daemon configuration for display.
type Config struct {
	Pattern      string
	TriggerTeeth uint16
	MissingTeeth uint16
	TriggerAngle int16
	Cylinders    uint8
	Source       string // "gpio" or the serial capture device
	Outputs      string // output backend
	PollMs       int64
	DebounceMs   int64
	HeartbeatMs  int64
	Broker       string
	HTTPPort     string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type: safe to use after the lock is released.
type Snapshot struct {
	EngineState   logic.State
	SyncState     logic.State
	Baselined     bool
	Counts        logic.EventCounts
	Engine        Engine
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	MQTTBuffered  int
	MQTTDropped   int
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
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets the debounced states, baseline status, and event counts.
// Called from runLoop on every tick.
func (t *Tracker) Update(engine, sync logic.State, baselined bool, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.EngineState = engine
	t.snap.SyncState = sync
	t.snap.Baselined = baselined
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetEngine stores the latest decoder sample. The end teeth are copied.
func (t *Tracker) SetEngine(e Engine) {
	e.EndTeeth = append([]uint16(nil), e.EndTeeth...)
	t.mu.Lock()
	t.snap.Engine = e
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetMQTTBuffer sets the offline buffer counters.
func (t *Tracker) SetMQTTBuffer(buffered, dropped int) {
	t.mu.Lock()
	t.snap.MQTTBuffered = buffered
	t.snap.MQTTDropped = dropped
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

package logic

import "time"

// Detector tracks engine state and detects debounced transitions.
type Detector struct {
	debounceDuration time.Duration
	engine           ChannelState
	sync             ChannelState
	baselined        bool
	startTime        time.Time
	eventCounts      EventCounts
	lastHeartbeat    time.Time
}

// NewDetector creates a new transition detector with the given debounce duration.
// The startTime is used for calculating uptime in heartbeat events.
func NewDetector(debounceDuration time.Duration, startTime time.Time) *Detector {
	return &Detector{
		debounceDuration: debounceDuration,
		startTime:        startTime,
		lastHeartbeat:    startTime,
	}
}

// Process takes a new input sample and returns any events that should be emitted.
// Events are only returned after baseline is established and on state transitions.
func (d *Detector) Process(input Input) []Event {
	engineTransition := processChannel(&d.engine, runningState(input.Running), input.Time, d.debounceDuration)
	syncTransition := processChannel(&d.sync, syncState(input.Sync), input.Time, d.debounceDuration)

	if !d.baselined {
		if d.engine.Baselined && d.sync.Baselined {
			d.baselined = true
		}
		return nil
	}

	var types []EventType
	// A start reports before the sync it brings, a loss of sync before the
	// stop it causes.
	if engineTransition && d.engine.Stable == StateRunning {
		types = append(types, EventEngineStart)
	}
	if syncTransition {
		if d.sync.Stable == StateSynced {
			types = append(types, EventSyncGained)
		} else {
			types = append(types, EventSyncLost)
		}
	}
	if engineTransition && d.engine.Stable == StateStopped {
		types = append(types, EventEngineStop)
	}

	events := make([]Event, 0, len(types))
	for _, typ := range types {
		events = append(events, Event{
			Timestamp:   input.Time,
			Type:        typ,
			EngineState: d.engine.Stable,
			SyncState:   d.sync.Stable,
			RPM:         input.RPM,
			Cranking:    input.Cranking,
			SyncLosses:  input.SyncLosses,
		})
		d.count(typ)
	}
	if len(events) == 0 {
		return nil
	}
	return events
}

func (d *Detector) count(typ EventType) {
	switch typ {
	case EventEngineStart:
		d.eventCounts.EngineStart++
	case EventEngineStop:
		d.eventCounts.EngineStop++
	case EventSyncGained:
		d.eventCounts.SyncGained++
	case EventSyncLost:
		d.eventCounts.SyncLost++
	}
}

// processChannel handles debounce logic for a single condition and reports
// whether its stable state changed.
func processChannel(ch *ChannelState, newState State, now time.Time, debounce time.Duration) bool {
	if !ch.Baselined {
		if ch.Pending != newState {
			ch.Pending = newState
			ch.PendingSince = now
			return false
		}
		if now.Sub(ch.PendingSince) >= debounce {
			ch.Stable = newState
			ch.Baselined = true
			ch.Pending = ""
		}
		return false
	}

	if newState == ch.Stable {
		ch.Pending = ""
		return false
	}

	if ch.Pending != newState {
		ch.Pending = newState
		ch.PendingSince = now
		// A zero debounce reports on the first differing sample.
		if debounce > 0 {
			return false
		}
	}

	if now.Sub(ch.PendingSince) >= debounce {
		ch.Stable = newState
		ch.Pending = ""
		return true
	}
	return false
}

func runningState(running bool) State {
	if running {
		return StateRunning
	}
	return StateStopped
}

func syncState(sync bool) State {
	if sync {
		return StateSynced
	}
	return StateUnsynced
}

// IsBaselined returns whether the detector has established a baseline.
func (d *Detector) IsBaselined() bool {
	return d.baselined
}

// CurrentState returns the current stable states.
func (d *Detector) CurrentState() (engine State, sync State) {
	return d.engine.Stable, d.sync.Stable
}

// Counts returns the number of each event emitted since startup.
func (d *Detector) Counts() EventCounts {
	return d.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if not yet baselined, if the
// interval has not elapsed, or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if !d.baselined {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
	}
}

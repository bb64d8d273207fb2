// Package schedule drives injector and coil outputs from hardware-style
// output-compare timers.
//
// A schedule moves through a fixed cycle: it is armed (OFF to PENDING), the
// start compare fires the start callback (PENDING to RUNNING), and the end
// compare fires the end callback (RUNNING to OFF, or back to PENDING when a
// next event was queued while it ran). Arming is the only way in; compare
// matches are the only way through.
package schedule

// Status is the state of one schedule.
type Status uint8

const (
	Off Status = iota
	Pending
	Running
)

// String returns the upper-case status name used in telemetry.
func (s Status) String() string {
	switch s {
	case Off:
		return "OFF"
	case Pending:
		return "PENDING"
	case Running:
		return "RUNNING"
	}
	return "UNKNOWN"
}

// Timer is one output-compare channel of a free-running 16-bit counter
// ticking every TickMicros microseconds.
type Timer interface {
	Counter() uint16
	SetCompare(v uint16)
	Enable()
	Disable()
}

// Timer resolution. A compare can be at most MaxTimerPeriod microseconds
// in the future.
const (
	TickMicros     = 4
	MaxTimerPeriod = 0xFFFF * TickMicros
)

// TicksFromMicros converts microseconds to timer ticks.
func TicksFromMicros(us uint32) uint16 {
	return uint16(us >> 2)
}

// Schedule is one pending or active output event.
type Schedule struct {
	Duration         uint32 // microseconds
	Status           Status
	StartCompare     uint16
	EndCompare       uint16
	NextStartCompare uint16
	HasNextSchedule  bool
	// EndScheduleSetByDecoder is set when EndCompare was last written by a
	// per-tooth crank angle correction rather than derived from Duration.
	EndScheduleSetByDecoder bool
	StartTime               uint32

	StartCallback func()
	EndCallback   func()
	Timer         Timer
}

// FuelSchedule is the schedule for one injector channel.
type FuelSchedule struct {
	Schedule
	StartAngle     int
	ChannelDegrees int
}

// IgnitionSchedule is the schedule for one coil channel.
type IgnitionSchedule struct {
	Schedule
	StartAngle     int
	EndAngle       int
	ChannelDegrees int
	// EndTooth is the tooth after which the end time is recalculated.
	EndTooth uint16
}

func nullCallback() {}

func clampDuration(duration uint32) uint32 {
	if duration >= MaxTimerPeriod {
		return MaxTimerPeriod - 1
	}
	return duration
}

// setRunning arms the start compare and moves the schedule to PENDING.
func (s *Schedule) setRunning(timeout, duration uint32) {
	s.Duration = clampDuration(duration)
	s.StartCompare = s.Timer.Counter() + TicksFromMicros(timeout)
	s.Timer.SetCompare(s.StartCompare)
	s.Status = Pending
	s.Timer.Enable()
}

// setNext queues the following event while the current one is RUNNING.
func (s *Schedule) setNext(timeout, duration uint32) {
	s.Duration = clampDuration(duration)
	s.NextStartCompare = s.Timer.Counter() + TicksFromMicros(timeout)
	s.HasNextSchedule = true
}

// finish runs the end of a RUNNING event and either switches to the queued
// next event or disables the timer.
func (s *Schedule) finish() {
	s.EndCallback()
	s.Status = Off
	if s.HasNextSchedule {
		s.Timer.SetCompare(s.NextStartCompare)
		s.Status = Pending
		s.HasNextSchedule = false
		return
	}
	s.Timer.Disable()
}

func (s *Schedule) reset() {
	s.Status = Off
	s.HasNextSchedule = false
	s.EndScheduleSetByDecoder = false
	s.StartCallback = nullCallback
	s.EndCallback = nullCallback
	if s.Timer == nil {
		s.Timer = &SoftTimer{}
	}
	s.Timer.Disable()
}

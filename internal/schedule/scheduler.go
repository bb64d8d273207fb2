package schedule

import (
	"github.com/sweeney/ecu-trigger/internal/crankmath"
	"github.com/sweeney/ecu-trigger/internal/irq"
)

// Channels is the number of fuel and of ignition outputs.
const Channels = 8

// MinCyclesForEndCompare is the number of revolutions after start that
// must be exceeded before per-tooth end corrections are trusted for
// PENDING schedules.
const MinCyclesForEndCompare = 6

const dwellAverageAlpha = 30

// Scheduler owns every fuel and ignition schedule.
//
// Methods that arm or refresh schedules are called from the main loop and
// take the guard. The compare handlers and AdjustCrankAngle run in
// interrupt context, where the guard is already held.
type Scheduler struct {
	Fuel     [Channels]FuelSchedule
	Ignition [Channels]IgnitionSchedule

	// Angular span of one ignition or injection cycle: 360 for wasted
	// spark or batch, 720 for sequential.
	MaxIgn int
	MaxInj int

	IgnitionCount uint16
	ActualDwell   uint16

	conv   *crankmath.Converter
	guard  *irq.Guard
	micros func() uint32
}

// New returns a scheduler with every channel OFF on its own SoftTimer.
func New(conv *crankmath.Converter, guard *irq.Guard, micros func() uint32) *Scheduler {
	s := &Scheduler{
		MaxIgn: 360,
		MaxInj: 360,
		conv:   conv,
		guard:  guard,
		micros: micros,
	}
	for i := range s.Fuel {
		t := &SoftTimer{}
		s.Fuel[i].Timer = t
		t.OnCompare = s.FuelHandler(i)
	}
	for i := range s.Ignition {
		t := &SoftTimer{}
		s.Ignition[i].Timer = t
		t.OnCompare = s.IgnitionHandler(i)
	}
	s.Initialise()
	return s
}

// Converter returns the crank angle converter the scheduler times with.
func (s *Scheduler) Converter() *crankmath.Converter {
	return s.conv
}

// Initialise turns every schedule off and clears callbacks and angles.
func (s *Scheduler) Initialise() {
	for i := range s.Fuel {
		s.Fuel[i].reset()
		s.Fuel[i].StartAngle = 0
		s.Fuel[i].ChannelDegrees = 0
	}
	for i := range s.Ignition {
		s.Ignition[i].reset()
		s.Ignition[i].StartAngle = 0
		s.Ignition[i].EndAngle = 0
		s.Ignition[i].ChannelDegrees = 0
		s.Ignition[i].EndTooth = 0
	}
}

// SetCallbacks installs the start and end callbacks of a schedule.
// Nil callbacks are replaced by no-ops.
func SetCallbacks(sch *Schedule, start, end func()) {
	if start == nil {
		start = nullCallback
	}
	if end == nil {
		end = nullCallback
	}
	sch.StartCallback = start
	sch.EndCallback = end
}

// FuelHandler returns the compare-match handler for fuel channel i.
func (s *Scheduler) FuelHandler(i int) func() {
	sch := &s.Fuel[i]
	return func() { s.fuelInterrupt(sch) }
}

// IgnitionHandler returns the compare-match handler for ignition channel i.
func (s *Scheduler) IgnitionHandler(i int) func() {
	sch := &s.Ignition[i]
	return func() { s.ignitionInterrupt(sch) }
}

func (s *Scheduler) fuelInterrupt(sch *FuelSchedule) {
	switch sch.Status {
	case Pending:
		sch.StartCallback()
		sch.Status = Running
		sch.Timer.SetCompare(sch.Timer.Counter() + TicksFromMicros(sch.Duration))
	case Running:
		sch.finish()
	default:
		sch.Timer.Disable()
	}
}

func (s *Scheduler) ignitionInterrupt(sch *IgnitionSchedule) {
	switch sch.Status {
	case Pending:
		sch.StartCallback()
		sch.Status = Running
		sch.StartTime = s.micros()
		if sch.EndScheduleSetByDecoder {
			sch.Timer.SetCompare(sch.EndCompare)
		} else {
			sch.Timer.SetCompare(sch.Timer.Counter() + TicksFromMicros(sch.Duration))
		}
	case Running:
		sch.EndScheduleSetByDecoder = false
		s.IgnitionCount++
		s.ActualDwell = s.dwellAverage(s.micros() - sch.StartTime)
		sch.finish()
	default:
		sch.Timer.Disable()
	}
}

func (s *Scheduler) dwellAverage(dwell uint32) uint16 {
	return uint16((dwell*(256-dwellAverageAlpha) + uint32(s.ActualDwell)*dwellAverageAlpha) >> 8)
}

// SetFuelSchedule arms a fuel channel timeout microseconds from now for
// duration microseconds. A RUNNING channel gets the event queued instead.
func (s *Scheduler) SetFuelSchedule(sch *FuelSchedule, timeout, duration uint32) {
	if timeout >= MaxTimerPeriod {
		return
	}
	s.guard.Disable()
	defer s.guard.Enable()
	if sch.Status != Running {
		sch.setRunning(timeout, duration)
	} else {
		sch.setNext(timeout, duration)
	}
}

// SetIgnitionSchedule arms an ignition channel timeout microseconds from
// now with a dwell of duration microseconds. A RUNNING channel gets the
// event queued when a whole cycle fits in the timer range.
func (s *Scheduler) SetIgnitionSchedule(sch *IgnitionSchedule, timeout, duration uint32) {
	s.guard.Disable()
	defer s.guard.Enable()
	if sch.Status != Running {
		if timeout < MaxTimerPeriod {
			sch.setRunning(timeout, duration)
		}
		return
	}
	if s.conv.AngleToTimeMicroSecPerDegree(uint16(s.MaxIgn)) < MaxTimerPeriod {
		sch.setNext(timeout, duration)
	}
}

// RefreshIgnitionSchedule pulls the end of a RUNNING ignition event in to
// timeToEnd microseconds from now when that is sooner than its dwell.
func (s *Scheduler) RefreshIgnitionSchedule(sch *IgnitionSchedule, timeToEnd uint32) {
	s.guard.Disable()
	defer s.guard.Enable()
	if sch.Status == Running && timeToEnd < sch.Duration {
		sch.EndCompare = sch.Timer.Counter() + TicksFromMicros(timeToEnd)
		sch.Timer.SetCompare(sch.EndCompare)
	}
}

// ArmIgnition computes the timeout of an ignition channel from its start
// angle and arms it. A target that has already passed is armed for its
// next occurrence one cycle later instead of firing late.
func (s *Scheduler) ArmIgnition(sch *IgnitionSchedule, crankAngle int, dwell uint32) {
	timeout := CalculateIgnitionTimeout(sch, crankAngle, s.conv, s.MaxIgn)
	if timeout == 0 && sch.Status != Running {
		next := nextOccurrence(sch.StartAngle, sch.ChannelDegrees, crankAngle, s.MaxIgn)
		timeout = s.conv.AngleToTimeIntervalRev(uint16(next))
	}
	s.SetIgnitionSchedule(sch, timeout, dwell)
}

// ArmFuel computes the start angle and timeout of a fuel channel for a
// pulse width of pw microseconds ending at injAngle, then arms it. Passed
// targets are moved to their next occurrence as in ArmIgnition.
func (s *Scheduler) ArmFuel(sch *FuelSchedule, injAngle uint16, crankAngle int, pw uint32) {
	timePerDegree := s.conv.TimePerDegree()
	if timePerDegree == 0 {
		return
	}
	sch.StartAngle = int(CalculateInjectorStartAngle(uint16(pw/timePerDegree), int16(sch.ChannelDegrees), injAngle, s.MaxInj))
	timeout := CalculateInjectorTimeout(sch.Status, sch.ChannelDegrees, sch.StartAngle, crankAngle, timePerDegree, s.MaxInj)
	if timeout == 0 && sch.Status != Running {
		timeout = uint32(nextOccurrence(sch.StartAngle, sch.ChannelDegrees, crankAngle, s.MaxInj)) * timePerDegree
	}
	s.SetFuelSchedule(sch, timeout, pw)
}

// BeginInjectorPriming fires a priming pulse on the first outputs fuel
// channels. pulse is in units of 0.5 ms.
func (s *Scheduler) BeginInjectorPriming(pulse uint32, outputs int) {
	if pulse == 0 {
		return
	}
	duration := pulse * 100 * 5
	for i := 0; i < outputs && i < Channels; i++ {
		s.SetFuelSchedule(&s.Fuel[i], 100, duration)
	}
}

// AllOff disables every schedule without running end callbacks beyond
// closing outputs that are currently RUNNING.
func (s *Scheduler) AllOff() {
	s.guard.Disable()
	defer s.guard.Enable()
	for i := range s.Fuel {
		stop(&s.Fuel[i].Schedule)
	}
	for i := range s.Ignition {
		stop(&s.Ignition[i].Schedule)
	}
}

func stop(sch *Schedule) {
	if sch.Status == Running {
		sch.EndCallback()
	}
	sch.Status = Off
	sch.HasNextSchedule = false
	sch.EndScheduleSetByDecoder = false
	sch.Timer.Disable()
}

// AdjustCrankAngle corrects the end of an ignition event from the crank
// angle seen at its end tooth. It runs in interrupt context.
//
// A PENDING schedule only records the new end compare once the engine is
// past MinCyclesForEndCompare revolutions; a RUNNING schedule has its live
// compare reprogrammed.
func (s *Scheduler) AdjustCrankAngle(sch *IgnitionSchedule, endAngle, crankAngle int, startRevolutions uint32) {
	diff := endAngle - crankAngle
	if diff < 0 {
		diff += s.MaxIgn
	}
	ticks := TicksFromMicros(s.conv.AngleToTimeMicroSecPerDegree(uint16(diff)))
	switch {
	case sch.Status == Pending && startRevolutions > MinCyclesForEndCompare:
		sch.EndCompare = sch.Timer.Counter() + ticks
		sch.EndScheduleSetByDecoder = true
	case sch.Status == Running:
		sch.Timer.SetCompare(sch.Timer.Counter() + ticks)
	}
}

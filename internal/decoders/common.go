package decoders

import (
	"github.com/sweeney/ecu-trigger/internal/crankmath"
	"github.com/sweeney/ecu-trigger/internal/schedule"
)

// engineIsRunning is the shared liveness check. A tooth stamped after now
// arrived between reading the clock and this call, so it counts as running.
func (c *Context) engineIsRunning(now uint32) bool {
	return c.ToothLastToothTime > now || now-c.ToothLastToothTime < c.MaxStallTime
}

// resetCommon is the shared decoder reset.
func (c *Context) resetCommon() {
	c.ToothLastSecToothTime = 0
	c.ToothLastToothTime = 0
	c.ToothSystemCount = 0
	c.SecondaryToothCount = 0
}

func (c *Context) status() Status {
	s := Status{
		ValidTrigger:      c.Flags.Has(FlagValidTrigger),
		ToothAngleCorrect: c.Flags.Has(FlagToothAngleCorrect),
	}
	switch {
	case c.Engine.HasSync:
		s.Sync = SyncFull
	case c.Engine.HalfSync:
		s.Sync = SyncPartial
	}
	return s
}

func (c *Context) hasAnySync() bool {
	return c.Engine.HasSync || c.Engine.HalfSync
}

func (c *Context) isCranking() bool {
	return c.Engine.RPM < c.Config.CrankRPM && c.Engine.StartRevolutions == 0
}

func (c *Context) isCamSpeed() bool {
	return c.Config.TrigSpeed == CamSpeed
}

// setSync declares full sync.
func (c *Context) setSync() {
	c.Engine.HasSync = true
	c.Engine.HalfSync = false
}

// loseSync drops all sync and counts the loss.
func (c *Context) loseSync() {
	c.Engine.HasSync = false
	c.Engine.HalfSync = false
	c.Engine.SyncLossCounter++
}

func (c *Context) setRevolutionTime(rev uint32) bool {
	return c.conv.SetRevolutionTime(rev)
}

func (c *Context) revolutionTime() uint32 {
	return c.conv.RevolutionTime()
}

// updateRevolutionTimeFromTeeth sets the revolution time from the last two
// tooth #1 times once the engine has sync and is past cranking.
func (c *Context) updateRevolutionTimeFromTeeth(camTeeth bool) bool {
	if !c.hasAnySync() || c.isCranking() || c.ToothOneMinusOneTime == 0 || c.ToothOneTime <= c.ToothOneMinusOneTime {
		return false
	}
	rev := c.ToothOneTime - c.ToothOneMinusOneTime
	if camTeeth {
		rev >>= 1
	}
	return c.setRevolutionTime(rev)
}

// clampRPM rejects readings at or above the maximum by keeping the last
// good value.
func (c *Context) clampRPM(rpm uint16) uint16 {
	if rpm >= crankmath.MaxRPM {
		return c.Engine.RPM
	}
	return rpm
}

func (c *Context) rpmFromRevolutionTime(rev uint32) uint16 {
	return c.clampRPM(crankmath.RPMFromRevolutionTime(rev))
}

// stdGetRPM derives RPM from the time between the last two tooth #1s.
func (c *Context) stdGetRPM(camTeeth bool) uint16 {
	if c.updateRevolutionTimeFromTeeth(camTeeth) {
		return c.rpmFromRevolutionTime(c.revolutionTime())
	}
	return c.Engine.RPM
}

// setFilter sets the primary debounce window from the last gap. Only valid
// for evenly spaced teeth.
func (c *Context) setFilter(gap uint32) {
	switch c.Config.Filter {
	case FilterLite:
		c.TriggerFilterTime = gap >> 2
	case FilterMedium:
		c.TriggerFilterTime = gap >> 1
	case FilterAggressive:
		c.TriggerFilterTime = (gap * 3) >> 2
	default:
		c.TriggerFilterTime = 0
	}
}

// crankingGetRPM estimates RPM from the last single tooth gap. totalTeeth
// counts the missing teeth as if present.
func (c *Context) crankingGetRPM(totalTeeth uint16, camTeeth bool) uint16 {
	if c.Engine.StartRevolutions >= uint32(c.Config.StgCycles) && c.hasAnySync() {
		if c.ToothLastMinusOneToothTime > 0 && c.ToothLastToothTime > c.ToothLastMinusOneToothTime {
			rev := (c.ToothLastToothTime - c.ToothLastMinusOneToothTime) * uint32(totalTeeth)
			if camTeeth {
				rev >>= 1
			}
			if c.setRevolutionTime(rev) {
				return c.rpmFromRevolutionTime(c.revolutionTime())
			}
		}
	}
	return c.Engine.RPM
}

// maxIgn is the ignition cycle length in degrees.
func (c *Context) maxIgn() int { return c.sched.MaxIgn }

// crankAngleMax is the longer of the ignition and injection cycles.
func (c *Context) crankAngleMax() int {
	return max(c.sched.MaxIgn, c.sched.MaxInj)
}

// ignitionLimits folds an angle back into [0, maxIgn].
func (c *Context) ignitionLimits(angle int) int {
	max := c.maxIgn()
	return crankmath.Nudge(0, max, angle, max)
}

// ignition returns ignition channel i.
func (c *Context) ignition(i int) *schedule.IgnitionSchedule {
	return &c.sched.Ignition[i]
}

// setEndTeethEach sets the end tooth of every channel from its end angle.
func (c *Context) setEndTeethEach(calc func(endAngle int) uint16) {
	for i := range c.sched.Ignition {
		ch := c.ignition(i)
		ch.EndTooth = calc(ch.EndAngle)
	}
}

// checkPerToothTiming corrects the ignition channel whose end tooth is
// tooth from the crank angle seen at it.
func (c *Context) checkPerToothTiming(crankAngle int, tooth uint16) {
	if c.FixedCrankingOverride || c.Engine.RPM == 0 {
		return
	}
	for i := range c.sched.Ignition {
		ch := c.ignition(i)
		if ch.EndTooth == tooth {
			c.sched.AdjustCrankAngle(ch, ch.EndAngle, crankAngle, c.Engine.StartRevolutions)
			return
		}
	}
}

// crankLockFire ends the charge of the first n coils when the trigger
// teeth set the spark while cranking.
func (c *Context) crankLockFire(n int) {
	if !c.Config.IgnCrankLock || !c.Engine.Cranking {
		return
	}
	for i := 0; i < n; i++ {
		c.fireCoil(i)
	}
}

// fireCoil ends the charge of coil channel i.
func (c *Context) fireCoil(i int) {
	if i >= len(c.sched.Ignition) {
		return
	}
	if cb := c.ignition(i).EndCallback; cb != nil {
		cb()
	}
}

// perToothIgnActive reports whether per-tooth corrections run on this
// tooth.
func (c *Context) perToothIgnActive() bool {
	return c.Config.PerToothIgn && !c.Engine.Cranking
}

// timeToAngleDegPerMicroSec converts with the revolution time factor.
func (c *Context) timeToAngleDegPerMicroSec(t uint32) int {
	return int(c.conv.TimeToAngleDegPerMicroSec(t))
}

// timeToAngleIntervalTooth converts with the last tooth gap when the tooth
// angle is trustworthy.
func (c *Context) timeToAngleIntervalTooth(t uint32) int {
	if c.Flags.Has(FlagToothAngleCorrect) {
		toothTime := c.ToothLastToothTime - c.ToothLastMinusOneToothTime
		return int(crankmath.TimeToAngleIntervalTooth(t, toothTime, c.TriggerToothAngle))
	}
	return c.timeToAngleDegPerMicroSec(t)
}

// AngleToTimeIntervalTooth converts an angle to microseconds using the
// last tooth gap when the tooth angle is trustworthy, otherwise the
// revolution time.
func (c *Context) AngleToTimeIntervalTooth(angle uint16) uint32 {
	c.guard.Disable()
	defer c.guard.Enable()
	if c.Flags.Has(FlagToothAngleCorrect) {
		toothTime := c.ToothLastToothTime - c.ToothLastMinusOneToothTime
		return crankmath.AngleToTimeIntervalTooth(angle, toothTime, c.TriggerToothAngle)
	}
	return c.conv.AngleToTimeMicroSecPerDegree(angle)
}

// TimeToAngleIntervalTooth is the inverse of AngleToTimeIntervalTooth.
func (c *Context) TimeToAngleIntervalTooth(t uint32) int {
	c.guard.Disable()
	defer c.guard.Enable()
	return c.timeToAngleIntervalTooth(t)
}

// elapsedAngle returns the degrees turned since lastTooth, stamping the
// calculation time.
func (c *Context) elapsedAngle(lastTooth uint32) int {
	c.LastCrankAngleCalc = c.micros()
	c.ElapsedTime = c.LastCrankAngleCalc - lastTooth
	return c.timeToAngleDegPerMicroSec(c.ElapsedTime)
}

// normaliseCrankAngle folds an angle into [0, crankAngleMax).
func (c *Context) normaliseCrankAngle(angle int) int {
	return crankmath.WrapAngle(angle, c.crankAngleMax())
}

// lowPassFilter blends input with prior; alpha is out of 256.
func lowPassFilter(input int, alpha uint8, prior int16) int16 {
	return int16((input*(256-int(alpha)) + int(prior)*int(alpha)) >> 8)
}

// vvtAngle converts the current crank angle into a cam angle relative to
// TDC of the reference cylinder.
func (c *Context) vvtAngle(dutyAngle int16) int {
	angle := c.decoderCrankAngle()
	for angle > 360 {
		angle -= 360
	}
	angle -= int(c.Config.TriggerAngle)
	if c.Config.VVTClosedLoop {
		angle -= int(dutyAngle)
	}
	return angle
}

// recordVVT1Angle filters the cam angle into VVT1Angle on the first
// revolution of the cycle.
func (c *Context) recordVVT1Angle() {
	if c.Config.VVTEnabled && c.RevolutionOne {
		angle := c.vvtAngle(c.Config.VVTCL0DutyAngle)
		c.Engine.VVT1Angle = lowPassFilter(angle<<1, c.Config.AngleFilterVVT, c.Engine.VVT1Angle)
	}
}

// recordVVT2Angle filters the exhaust cam angle into VVT2Angle.
func (c *Context) recordVVT2Angle() {
	angle := c.vvtAngle(c.Config.VVT2CL0DutyAngle)
	c.Engine.VVT2Angle = lowPassFilter(angle<<1, c.Config.AngleFilterVVT, c.Engine.VVT2Angle)
}

// decoderCrankAngle calls the active decoder's crank angle without taking
// the guard.
func (c *Context) decoderCrankAngle() int {
	return c.decoder.GetCrankAngle()
}

// baseBuilder returns a builder preloaded with the shared operations.
func (c *Context) baseBuilder() *Builder {
	return NewBuilder().
		SetIsEngineRunning(c.engineIsRunning).
		SetGetStatus(c.status).
		SetReset(c.resetCommon)
}

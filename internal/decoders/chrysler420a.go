package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// DSM 420a: 16 uneven crank teeth per cycle with a cam signal whose falling
// edge, read against the primary level, says which half of the cycle the
// engine is in.

var chrysler420aAngles = [16]int16{
	711, 111, 131, 151, 171,
	291, 311, 331, 351,
	471, 491, 511, 531,
	651, 671, 691,
}

func (c *Context) setupChrysler420A() Decoder {
	c.TriggerFilterTime = minToothGap(360)
	c.TriggerSecFilterTime = 0
	c.SecondaryToothCount = 0
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Set(FlagIsSequential)
	c.Flags.Set(FlagHasSecondary)
	c.ToothCurrentCount = 1
	// Only correct for the four short pulses before each TDC.
	c.TriggerToothAngle = 20
	c.Flags.Clear(FlagToothAngleCorrect)
	c.ToothSystemCount = 0
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * 93
	copy(c.ToothAngles[:], chrysler420aAngles[:])

	return c.baseBuilder().
		SetPrimaryTrigger(c.chrysler420aPrimary, c.Config.TrigEdge).
		SetSecondaryTrigger(c.chrysler420aSecondary, EdgeFalling).
		SetGetRPM(c.chrysler420aRPM).
		SetGetCrankAngle(c.chrysler420aCrankAngle).
		SetSetEndTeeth(c.chrysler420aEndTeeth).
		Build()
}

func (c *Context) chrysler420aPrimary(now uint32) {
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	if c.CurGap < c.TriggerFilterTime {
		return
	}
	c.ToothCurrentCount++
	c.Flags.Set(FlagValidTrigger)
	if c.ToothLastToothTime == 0 || c.ToothLastMinusOneToothTime == 0 {
		c.CurGap = 0
	}
	if c.ToothCurrentCount > 16 && c.Engine.HasSync {
		c.ToothCurrentCount = 1
		c.markToothOne(now)
		c.Engine.StartRevolutions++
	}
	// Uneven teeth: no adaptive filter.
	c.TriggerFilterTime = 0
	c.Flags.Clear(FlagToothAngleCorrect)
	c.shiftToothTimes(now)

	if c.Config.PerToothIgn {
		crankAngle := c.toothAngle(c.ToothCurrentCount) + int(c.Config.TriggerAngle)
		c.checkPerToothTiming(c.ignitionLimits(crankAngle), c.ToothCurrentCount)
	}
}

func (c *Context) chrysler420aSecondary(uint32) {
	want := uint16(5)
	if c.readPin(c.pins.Primary) {
		want = 13
	}
	if !c.Engine.HasSync {
		c.ToothCurrentCount = want
		c.Engine.HasSync = true
		return
	}
	if c.ToothCurrentCount != want {
		c.Engine.SyncLossCounter++
		c.ToothCurrentCount = want
	}
}

func (c *Context) chrysler420aRPM() uint16 {
	return c.stdGetRPM(true)
}

func (c *Context) chrysler420aCrankAngle() int {
	angle := c.toothAngle(c.ToothCurrentCount) + int(c.Config.TriggerAngle)
	angle += c.elapsedAngle(c.ToothLastToothTime)
	return c.normaliseCrankAngle(angle)
}

func (c *Context) chrysler420aEndTeeth() {
	teeth := [4]uint16{16, 4, 8, 12}
	if c.Engine.Advance < 9 {
		teeth = [4]uint16{1, 5, 9, 13}
	}
	for i, t := range teeth {
		c.ignition(i).EndTooth = t
	}
}

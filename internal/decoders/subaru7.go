package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Subaru 7 tooth crank only (early EJ16 to EJ18): seven irregular crank
// teeth and no cam input. Tooth #1 follows a distinctive run of gaps.
// TargetGap2, TargetGap, LastGap and CurGap hold the last four gaps,
// oldest first.

var subaru7Angles = [7]int16{350, 5, 83, 115, 170, 263, 295}

func (c *Context) setupSubaru7CrankOnly() Decoder {
	c.TriggerFilterTime = crankmath.MicrosPerSec / (crankmath.MaxRPM / 1500 * 360)
	c.TriggerSecFilterTime = 0
	c.SecondaryToothCount = 0
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Clear(FlagIsSequential)
	c.Flags.Clear(FlagHasSecondary)
	c.ToothCurrentCount = 1
	c.TriggerToothAngle = 2
	c.Flags.Clear(FlagToothAngleCorrect)
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 100) * 93
	c.TargetGap, c.TargetGap2, c.LastGap, c.CurGap = 0, 0, 0, 0
	c.ToothLastToothTime = c.micros()
	copy(c.ToothAngles[:], subaru7Angles[:])

	return c.baseBuilder().
		SetPrimaryTrigger(c.subaru7Primary, c.Config.TrigEdge).
		SetGetRPM(c.subaru7RPM).
		SetGetCrankAngle(c.subaru7CrankAngle).
		Build()
}

func (c *Context) subaru7Primary(now uint32) {
	c.CurTime = now
	// Out of order.
	if now < c.ToothLastToothTime {
		return
	}
	c.TargetGap2 = c.TargetGap
	c.TargetGap = c.LastGap
	c.LastGap = c.CurGap
	c.CurGap = now - c.ToothLastToothTime
	if c.CurGap < c.TriggerFilterTime || c.CurGap > 1000000 {
		c.CurGap = c.LastGap
		c.LastGap = c.TargetGap
		c.TargetGap = c.TargetGap2
		return
	}

	isToothOne := c.CurGap*20 < c.TargetGap*17 && c.CurGap*40 < c.TargetGap2*10 &&
		c.CurGap*30 < c.LastGap*14 && c.LastGap*10 > c.TargetGap*11
	if isToothOne {
		if c.ToothCurrentCount != 1 {
			c.Engine.HasSync = false
			c.Engine.SyncLossCounter++
			c.ToothCurrentCount = 1
			c.ToothSystemCount = 1
		}
		// RevolutionOne marks tooth #1 as seen this turn.
		c.RevolutionOne = true
	}
	if c.ToothCurrentCount > 2 && !c.RevolutionOne {
		c.Engine.HasSync = false
	}

	c.ToothCurrentCount++
	c.ToothSystemCount++
	c.Flags.Set(FlagValidTrigger)
	c.shiftToothTimes(now)

	if c.ToothCurrentCount > 7 {
		c.ToothCurrentCount = 1
		c.ToothSystemCount = 1
		c.markToothOne(now)
		c.RevolutionOne = false
		c.Engine.StartRevolutions++
	}

	if c.ToothCurrentCount == 7 && c.RevolutionOne {
		c.Engine.HasSync = true
	}

	// Cranking spark is locked at 10 degrees BTDC.
	if c.Engine.HasSync && c.Config.IgnCrankLock && c.Engine.Cranking {
		switch c.ToothCurrentCount {
		case 1:
			c.fireCoil(0)
			c.fireCoil(2)
		case 5:
			c.fireCoil(1)
			c.fireCoil(3)
		}
	}
}

func (c *Context) subaru7RPM() uint16 {
	if c.Engine.StartRevolutions == 0 {
		return 0
	}
	return c.stdGetRPM(false)
}

func (c *Context) subaru7CrankAngle() int {
	if !c.Engine.HasSync {
		return 0
	}
	angle := c.toothAngle(c.ToothCurrentCount) + int(c.Config.TriggerAngle)
	angle += c.elapsedAngle(c.ToothLastToothTime)
	return crankmath.WrapAngle(angle, 360)
}

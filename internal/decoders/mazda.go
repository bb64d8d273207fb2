package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Mazda AU: two crank teeth read on both edges (72/108 degrees) and a cam
// with a lone tooth and a close pair. Tooth #2 is the crank edge after
// the lone cam tooth; tooth #1 is at 348 degrees ATDC.

var mazdaAUAngles = []int16{348, 96, 168, 276}

func (c *Context) setupMazdaAU() Decoder {
	c.TriggerToothAngle = 108
	c.ToothCurrentCount = noSyncTooth
	c.SecondaryToothCount = 0
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Set(FlagIsSequential)
	copy(c.ToothAngles[:], mazdaAUAngles)
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle)
	c.TriggerFilterTime = 1500
	c.TriggerSecFilterTime = minToothGap(2) / 2
	c.Flags.Set(FlagHasFixedCranking)
	c.Flags.Set(FlagHasSecondary)

	return c.baseBuilder().
		SetPrimaryTrigger(c.mazdaAUPrimary, EdgeChange).
		SetSecondaryTrigger(c.mazdaAUSecondary, EdgeFalling).
		SetGetRPM(c.mazdaAURPM).
		SetGetCrankAngle(c.mazdaAUCrankAngle).
		Build()
}

func (c *Context) mazdaAUPrimary(now uint32) {
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	if c.CurGap < c.TriggerFilterTime {
		return
	}
	c.Flags.Set(FlagValidTrigger)
	c.ToothCurrentCount++
	if c.ToothCurrentCount == 1 || c.ToothCurrentCount == 5 {
		c.ToothCurrentCount = 1
		c.markToothOne(now)
		c.Engine.HasSync = true
		c.Engine.StartRevolutions++
	}
	if !c.Engine.HasSync {
		return
	}
	// Locked cranking timing is 12 degrees BTDC.
	if c.Engine.Cranking && c.Config.IgnCrankLock {
		switch c.ToothCurrentCount {
		case 1:
			c.fireCoil(0)
		case 3:
			c.fireCoil(1)
		}
	}
	if c.ToothCurrentCount == 1 || c.ToothCurrentCount == 3 {
		c.TriggerToothAngle = 72
		c.TriggerFilterTime = c.CurGap
	} else {
		c.TriggerToothAngle = 108
		c.TriggerFilterTime = (c.CurGap * 3) >> 3
	}
	c.shiftToothTimes(now)
}

func (c *Context) mazdaAUSecondary(now uint32) {
	c.CurTime2 = now
	c.LastGap = c.CurGap2
	c.CurGap2 = now - c.ToothLastSecToothTime
	c.ToothLastSecToothTime = now
	if c.Engine.HasSync {
		return
	}
	// The crank edge after the close cam pair is tooth #1.
	if c.SecondaryToothCount == 2 {
		c.ToothCurrentCount = 1
		c.Engine.HasSync = true
	} else {
		c.TriggerFilterTime = 1500
		c.TargetGap = c.LastGap >> 1
		if c.CurGap2 < c.TargetGap {
			c.SecondaryToothCount = 2
		}
	}
	c.SecondaryToothCount++
}

func (c *Context) mazdaAURPM() uint16 {
	if !c.Engine.HasSync {
		return 0
	}
	if c.Engine.RPM >= c.Config.CrankRPM {
		return c.stdGetRPM(false)
	}
	c.setRevolutionTime(36 * (c.ToothLastToothTime - c.ToothLastMinusOneToothTime))
	rev := c.revolutionTime()
	if rev == 0 {
		return c.Engine.RPM
	}
	rpm := uint64(c.TriggerToothAngle) * crankmath.MicrosPerMin / uint64(rev)
	return uint16(min(rpm, 0xFFFF))
}

func (c *Context) mazdaAUCrankAngle() int {
	if !c.Engine.HasSync {
		return 0
	}
	angle := c.toothAngle(c.ToothCurrentCount) + int(c.Config.TriggerAngle)
	angle += c.elapsedAngle(c.ToothLastToothTime)
	return c.normaliseCrankAngle(angle)
}

package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Harley V-twin: two unevenly spaced crank teeth, rising edge only. The
// tooth after the long gap is tooth #1.

func (c *Context) setupHarley() Decoder {
	c.TriggerToothAngle = 0
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Clear(FlagIsSequential)
	c.Flags.Clear(FlagHasSecondary)
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * 60
	if !c.initialised {
		c.ToothLastToothTime = c.micros()
	}
	c.TriggerFilterTime = 1500

	return c.baseBuilder().
		SetPrimaryTrigger(c.harleyPrimary, EdgeRising).
		SetGetRPM(c.harleyRPM).
		SetGetCrankAngle(c.harleyCrankAngle).
		Build()
}

func (c *Context) harleyPrimary(now uint32) {
	c.LastGap = c.CurGap
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	c.setFilter(c.CurGap)
	if c.CurGap <= c.TriggerFilterTime {
		return
	}
	if !c.readPin(c.pins.Primary) {
		if c.Engine.HasSync {
			c.Engine.SyncLossCounter++
		}
		c.Engine.HasSync = false
		c.ToothCurrentCount = 0
		return
	}
	c.Flags.Set(FlagValidTrigger)
	c.TargetGap = c.LastGap
	c.ToothCurrentCount++
	if c.CurGap > c.TargetGap {
		c.ToothCurrentCount = 1
		c.TriggerToothAngle = 0
		c.markToothOne(now)
		c.Engine.HasSync = true
	} else {
		c.ToothCurrentCount = 2
		c.TriggerToothAngle = 157
	}
	c.shiftToothTimes(now)
	c.Engine.StartRevolutions++
}

func (c *Context) harleyRPM() uint16 {
	if !c.Engine.HasSync {
		return 0
	}
	if uint32(c.Engine.RPM) >= uint32(c.Config.CrankRPM)*10 {
		return c.stdGetRPM(false)
	}
	if c.ToothLastToothTime == 0 || c.ToothLastMinusOneToothTime == 0 {
		return 0
	}
	c.setRevolutionTime(c.ToothOneTime - c.ToothOneMinusOneTime)
	toothTime := (c.ToothLastToothTime - c.ToothLastMinusOneToothTime) * 36
	if toothTime == 0 {
		return c.Engine.RPM
	}
	return uint16(min(uint32(c.TriggerToothAngle)*(crankmath.MicrosPerMin/10)/toothTime, 0xFFFF))
}

func (c *Context) harleyCrankAngle() int {
	angle := int(c.Config.TriggerAngle)
	if c.ToothCurrentCount != 1 && c.ToothCurrentCount != 3 {
		angle += 157
	}
	angle += c.elapsedAngle(c.ToothLastToothTime)
	return c.normaliseCrankAngle(angle)
}

package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Two wheels: an evenly spaced primary and a single tooth secondary that
// marks tooth #1 of the primary.

func (c *Context) setupDualWheel() Decoder {
	teeth := c.triggerTeeth()
	c.TriggerToothAngle = 360 / teeth
	if c.isCamSpeed() {
		c.TriggerToothAngle = 720 / teeth
	}
	c.ToothCurrentCount = 255
	c.TriggerFilterTime = minToothGap(teeth)
	c.TriggerSecFilterTime = minToothGap(2) / 2
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Set(FlagIsSequential)
	c.Flags.Set(FlagToothAngleCorrect)
	c.Flags.Set(FlagHasSecondary)
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle)

	return c.baseBuilder().
		SetPrimaryTrigger(c.dualWheelPrimary, c.Config.TrigEdge).
		SetSecondaryTrigger(c.dualWheelSecondary, c.Config.TrigEdgeSec).
		SetGetRPM(c.dualWheelRPM).
		SetGetCrankAngle(c.dualWheelCrankAngle).
		SetSetEndTeeth(c.dualWheelEndTeeth).
		Build()
}

func (c *Context) dualWheelPrimary(now uint32) {
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	if c.CurGap < c.TriggerFilterTime {
		return
	}
	c.ToothCurrentCount++
	c.Flags.Set(FlagValidTrigger)
	c.shiftToothTimes(now)

	if c.Engine.HasSync {
		if c.ToothCurrentCount == 1 || c.ToothCurrentCount > c.Config.TriggerTeeth {
			c.ToothCurrentCount = 1
			c.RevolutionOne = !c.RevolutionOne
			c.markToothOne(now)
			c.Engine.StartRevolutions++
			if c.isCamSpeed() {
				c.Engine.StartRevolutions++
			}
		}
		c.setFilter(c.CurGap)
	}

	if c.perToothIgnActive() {
		crankAngle := (int(c.ToothCurrentCount)-1)*int(c.TriggerToothAngle) + int(c.Config.TriggerAngle)
		tooth := c.ToothCurrentCount
		if c.Config.SparkMode == SparkSequential && c.RevolutionOne && !c.isCamSpeed() {
			crankAngle += 360
			tooth += c.Config.TriggerTeeth
		}
		c.checkPerToothTiming(crankAngle, tooth)
	}
}

func (c *Context) dualWheelSecondary(now uint32) {
	c.CurTime2 = now
	c.CurGap2 = now - c.ToothLastSecToothTime
	if c.CurGap2 < c.TriggerSecFilterTime {
		// Track the cam speed so the filter cannot run away from the RPM.
		c.TriggerSecFilterTime = c.revolutionTime() >> 1
		return
	}
	c.ToothLastSecToothTime = now
	c.TriggerSecFilterTime = c.CurGap2 >> 2

	if !c.Engine.HasSync || c.Engine.StartRevolutions <= uint32(c.Config.StgCycles) {
		// Hold RPM at 10 until a full revolution has been timed.
		c.ToothLastToothTime = now
		c.ToothLastMinusOneToothTime = now - (crankmath.MicrosPerMin/10)/uint32(c.triggerTeeth())
		c.ToothCurrentCount = c.Config.TriggerTeeth
		// The first primary tooth after sync must not be filtered out.
		c.TriggerFilterTime = 0
		c.Engine.HasSync = true
	} else {
		if c.ToothCurrentCount != c.Config.TriggerTeeth && c.Engine.StartRevolutions > 2 {
			c.Engine.SyncLossCounter++
		}
		if c.Config.UseResync {
			c.ToothCurrentCount = c.Config.TriggerTeeth
		}
	}
	c.RevolutionOne = true
}

func (c *Context) dualWheelRPM() uint16 {
	if !c.Engine.HasSync {
		return 0
	}
	if c.Engine.RPM < c.Config.CrankRPM {
		return c.crankingGetRPM(c.Config.TriggerTeeth, c.isCamSpeed())
	}
	return c.stdGetRPM(c.isCamSpeed())
}

func (c *Context) dualWheelCrankAngle() int {
	count := int(c.ToothCurrentCount)
	// The secondary was the last tooth seen.
	if count == 0 {
		count = int(c.Config.TriggerTeeth)
	}
	angle := (count-1)*int(c.TriggerToothAngle) + int(c.Config.TriggerAngle)
	angle += c.elapsedAngle(c.ToothLastToothTime)
	if c.RevolutionOne && !c.isCamSpeed() {
		angle += 360
	}
	return c.normaliseCrankAngle(angle)
}

func (c *Context) dualWheelEndTeeth() {
	var adder uint16
	if c.Config.SparkMode == SparkSequential && !c.isCamSpeed() {
		adder = c.Config.TriggerTeeth
	}
	c.setEndTeethEach(func(endAngle int) uint16 {
		tooth := (endAngle - int(c.Config.TriggerAngle)) / int(max(c.TriggerToothAngle, 1))
		return c.clampToToothCount(tooth, adder)
	})
}

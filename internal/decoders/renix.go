package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Renix 44-2-2 and 66-2-2-2: the physical tooth angle is not a whole
// number of degrees, so every 11 physical teeth count as one virtual tooth
// of 90 or 60 degrees. The double gap is a long tooth followed by a long
// space and is only seen correctly on the rising edge.
//
// ToothLastToothTime tracks virtual teeth. The physical tooth times live
// in ToothLastToothRisingTime and ToothLastSecToothRisingTime.

func (c *Context) setupRenix() Decoder {
	switch c.Config.Cylinders {
	case 4:
		c.TriggerToothAngle = 90
		c.Config.TriggerTeeth = 4
		c.TriggerActualTeeth = 4
		c.TriggerFilterTime = minToothGap(44)
	case 6:
		c.TriggerToothAngle = 60
		c.Config.TriggerTeeth = 6
		c.TriggerActualTeeth = 6
		c.TriggerFilterTime = minToothGap(66)
	}
	c.Config.MissingTeeth = 0
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle)
	c.Flags.Clear(FlagHasSecondary)
	c.ToothSystemCount = 1
	c.ToothCurrentCount = 1
	c.ToothLastToothTime = 0

	return c.baseBuilder().
		SetPrimaryTrigger(c.renixPrimary, c.Config.TrigEdge).
		SetGetRPM(c.missingToothRPM).
		SetGetCrankAngle(c.missingToothCrankAngle).
		SetSetEndTeeth(c.renixEndTeeth).
		Build()
}

func (c *Context) renixPrimary(now uint32) {
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothRisingTime
	if c.CurGap < c.TriggerFilterTime {
		return
	}
	c.ToothSystemCount++

	if c.ToothLastToothRisingTime != 0 && c.ToothLastSecToothRisingTime != 0 {
		// The physical double gap is nearer 2.5 teeth.
		c.TargetGap = 2 * (c.ToothLastToothRisingTime - c.ToothLastSecToothRisingTime)
	} else {
		// No gaps until two teeth have been timed.
		c.TargetGap = 100000000
	}

	if c.CurGap >= c.TargetGap {
		c.ToothSystemCount += 2
		// The first tooth after the gap is always the start of a virtual
		// tooth.
		if c.ToothSystemCount != 12 {
			c.Engine.HasSync = false
			c.Engine.SyncLossCounter++
			c.ToothSystemCount = 1
			c.ToothCurrentCount = 1
		}
	} else {
		c.setFilter(c.CurGap)
	}
	c.ToothLastSecToothRisingTime = c.ToothLastToothRisingTime
	c.ToothLastToothRisingTime = now

	if c.ToothSystemCount != 12 && c.ToothLastToothTime != 0 {
		return
	}
	c.ToothCurrentCount++
	if c.ToothCurrentCount == c.Config.TriggerTeeth+1 {
		c.markToothOne(now)
		c.Engine.HasSync = true
		c.Engine.StartRevolutions++
		c.RevolutionOne = !c.RevolutionOne
		c.ToothCurrentCount = 1
	}
	c.ToothSystemCount = 1
	c.shiftToothTimes(now)

	if c.perToothIgnActive() {
		crankAngle := c.ignitionLimits((int(c.ToothCurrentCount)-1)*int(c.TriggerToothAngle) + int(c.Config.TriggerAngle))
		if c.Config.SparkMode == SparkSequential && c.RevolutionOne && !c.isCamSpeed() {
			c.checkPerToothTiming(crankAngle+360, c.Config.TriggerTeeth+c.ToothCurrentCount)
		} else {
			c.checkPerToothTiming(crankAngle, c.ToothCurrentCount)
		}
	}
}

func (c *Context) renixEndTeeth() {
	var adder uint16
	if c.Config.SparkMode == SparkSequential && !c.isCamSpeed() {
		adder = c.Config.TriggerTeeth
	}
	c.setEndTeethEach(func(endAngle int) uint16 {
		tooth := (endAngle-int(c.Config.TriggerAngle))/int(max(c.TriggerToothAngle, 1)) - 1
		return c.clampToActualTeeth(c.clampToToothCount(tooth, adder), adder)
	})
}

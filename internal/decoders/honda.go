package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Honda D17: 12 evenly spaced crank teeth and a 13th sync tooth between
// teeth 12 and 1. The sync tooth is counted as tooth 0 and never used for
// timing.

func (c *Context) setupHondaD17() Decoder {
	c.TriggerToothAngle = 360 / 12
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle)
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Clear(FlagIsSequential)
	c.Flags.Clear(FlagHasSecondary)

	return c.baseBuilder().
		SetPrimaryTrigger(c.hondaD17Primary, c.Config.TrigEdge).
		SetGetRPM(func() uint16 { return c.stdGetRPM(false) }).
		SetGetCrankAngle(c.hondaD17CrankAngle).
		Build()
}

func (c *Context) hondaD17Primary(now uint32) {
	c.LastGap = c.CurGap
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	c.ToothCurrentCount++
	c.Flags.Set(FlagValidTrigger)

	switch {
	case c.ToothCurrentCount == 13 && c.Engine.HasSync:
		c.ToothCurrentCount = 0
	case c.ToothCurrentCount == 1 && c.Engine.HasSync:
		c.markToothOne(now)
		c.Engine.StartRevolutions++
		c.shiftToothTimes(now)
	default:
		c.TargetGap = c.LastGap >> 1
		if c.CurGap < c.TargetGap {
			c.ToothCurrentCount = 0
			c.Engine.HasSync = true
		} else {
			// Tooth times are not taken from the sync tooth.
			c.shiftToothTimes(now)
		}
	}
}

func (c *Context) hondaD17CrankAngle() int {
	n := int(c.ToothCurrentCount) - 1
	if c.ToothCurrentCount == 0 {
		// Timing is from tooth 12 when the sync tooth was last.
		n = 11
	}
	angle := n*int(c.TriggerToothAngle) + int(c.Config.TriggerAngle)
	angle += c.elapsedAngle(c.ToothLastToothTime)
	return c.normaliseCrankAngle(angle)
}

// Honda J32: 24 tooth positions with 22 teeth present, a gap then 7 teeth,
// another gap then 15 teeth. Teeth 14 and 22, just before each gap, span
// 18 degrees. Tooth 1 is the second tooth of the 15, 15 degrees ATDC.

func (c *Context) setupHondaJ32() Decoder {
	c.TriggerToothAngle = 360 / 24
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 10) * uint32(c.TriggerToothAngle)
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Clear(FlagIsSequential)
	c.Flags.Clear(FlagHasSecondary)
	c.TriggerFilterTime = minToothGap(24)
	c.ToothLastToothTime = 0
	c.ToothCurrentCount = 0
	c.ToothOneTime = 0
	c.ToothOneMinusOneTime = 0
	c.LastGap = 0
	c.RevolutionOne = false

	return c.baseBuilder().
		SetPrimaryTrigger(c.hondaJ32Primary, EdgeRising).
		SetGetRPM(func() uint16 { return c.rpmFromRevolutionTime(c.revolutionTime()) }).
		SetGetCrankAngle(c.hondaJ32CrankAngle).
		Build()
}

// isGapAfter reports whether gap is at least one and a half normal teeth.
func isGapAfter(gap, lastGap uint32) bool {
	return gap >= (lastGap>>1)*3
}

func (c *Context) hondaJ32Primary(now uint32) {
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	c.ToothLastToothTime = now
	c.Flags.Set(FlagValidTrigger)

	if c.Engine.HasSync {
		c.ToothCurrentCount++
		switch c.ToothCurrentCount {
		case 25:
			c.ToothCurrentCount = 1
			c.markToothOne(now)
			c.Engine.StartRevolutions++
			c.setRevolutionTime(c.ToothOneTime - c.ToothOneMinusOneTime)
		case 15, 23:
			// First tooth after a gap.
			c.ToothCurrentCount++
			if !isGapAfter(c.CurGap, c.LastGap) {
				c.loseSync()
				c.ToothCurrentCount = 1
			}
		case 14, 22:
			// Long teeth do not update the reference gap.
		default:
			c.LastGap = c.CurGap
		}
		return
	}

	// While seeking sync the long teeth count as normal ones.
	if c.LastGap == 0 || !isGapAfter(c.CurGap, c.LastGap) {
		c.ToothCurrentCount++
		c.LastGap = c.CurGap
		return
	}
	if c.ToothCurrentCount == 15 {
		// Just passed the second gap: this is the first of the 7.
		c.Engine.HasSync = true
		c.ToothCurrentCount = 16
		c.ToothOneTime = now - 15*c.LastGap
		c.ToothOneMinusOneTime = c.ToothOneTime - 24*c.LastGap
	} else {
		c.ToothCurrentCount = 1
	}
}

func (c *Context) hondaJ32CrankAngle() int {
	var angle int
	switch c.ToothCurrentCount {
	case 14:
		angle = 13*15 + 18
	case 22:
		angle = 21*15 + 18
	default:
		angle = int(c.TriggerToothAngle) * int(c.ToothCurrentCount)
	}
	angle += c.elapsedAngle(c.ToothLastToothTime) + int(c.Config.TriggerAngle)
	return c.normaliseCrankAngle(angle)
}

package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Jeep 2000: 24 crank teeth over 720 degrees in groups of four, with the
// cam high for half the cycle. Tooth #1 is the first tooth after the cam
// rises; only 12 angles are needed for timing within 360 degrees.

var jeep2000Angles = []int16{174, 194, 214, 234, 294, 314, 334, 354, 414, 434, 454, 474}

const jeep2000Waiting = 13

func (c *Context) setupJeep2000() Decoder {
	c.TriggerToothAngle = 0
	copy(c.ToothAngles[:], jeep2000Angles)
	// The largest gap is 60 degrees.
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * 60
	c.ToothCurrentCount = jeep2000Waiting
	if !c.initialised {
		c.ToothLastToothTime = c.micros()
	}
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Clear(FlagIsSequential)
	c.Flags.Set(FlagToothAngleCorrect)
	c.Flags.Set(FlagHasSecondary)

	return c.baseBuilder().
		SetPrimaryTrigger(c.jeep2000Primary, c.Config.TrigEdge).
		SetSecondaryTrigger(c.jeep2000Secondary, EdgeChange).
		SetGetRPM(func() uint16 { return c.stdGetRPM(false) }).
		SetGetCrankAngle(c.jeep2000CrankAngle).
		Build()
}

func (c *Context) jeep2000Primary(now uint32) {
	if c.ToothCurrentCount >= jeep2000Waiting {
		c.Engine.HasSync = false
		return
	}
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	if c.CurGap < c.TriggerFilterTime {
		return
	}
	if c.ToothCurrentCount == 0 {
		c.ToothCurrentCount = 1
		c.markToothOne(now)
		c.Engine.HasSync = true
		c.Engine.StartRevolutions++
		// Tooth #1 always follows a 60 degree group gap.
		c.TriggerToothAngle = 60
	} else {
		c.ToothCurrentCount++
		if int(c.ToothCurrentCount) > len(jeep2000Angles) {
			c.loseSync()
			c.ToothCurrentCount = jeep2000Waiting
			return
		}
		c.TriggerToothAngle = uint16(c.toothAngle(c.ToothCurrentCount) - c.toothAngle(c.ToothCurrentCount-1))
	}
	c.setFilter(c.CurGap)
	c.Flags.Set(FlagValidTrigger)
	c.shiftToothTimes(now)
}

func (c *Context) jeep2000Secondary(uint32) {
	c.ToothCurrentCount = 0
}

func (c *Context) jeep2000CrankAngle() int {
	var angle int
	if c.ToothCurrentCount == 0 {
		// Timing still comes from the crank tooth before the cam edge.
		angle = 114 + int(c.Config.TriggerAngle)
	} else {
		angle = c.toothAngle(c.ToothCurrentCount) + int(c.Config.TriggerAngle)
	}
	angle += c.elapsedAngle(c.ToothLastToothTime)
	return c.normaliseCrankAngle(angle)
}

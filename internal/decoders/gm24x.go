package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// GM 24X (early LS1): 24 unevenly spaced crank teeth looked up in a table,
// with a cam pulse marking tooth #1.

var gm24xAngles = []int16{
	12, 18, 33, 48, 63, 78, 102, 108, 123, 138, 162, 177,
	183, 198, 222, 237, 252, 258, 282, 288, 312, 327, 342, 357,
}

// gm24xWaiting is the tooth count held until the first cam pulse.
const gm24xWaiting = 25

func (c *Context) setupGM24X() Decoder {
	c.TriggerToothAngle = 15
	copy(c.ToothAngles[:], gm24xAngles)
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle)
	c.ToothCurrentCount = gm24xWaiting
	if !c.initialised {
		c.ToothLastToothTime = c.micros()
	}
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Set(FlagIsSequential)
	c.Flags.Set(FlagToothAngleCorrect)
	c.Flags.Set(FlagHasSecondary)

	return c.baseBuilder().
		SetPrimaryTrigger(c.gm24xPrimary, c.Config.TrigEdge).
		SetSecondaryTrigger(c.gm24xSecondary, c.Config.TrigEdgeSec).
		SetGetRPM(func() uint16 { return c.stdGetRPM(false) }).
		SetGetCrankAngle(c.gm24xCrankAngle).
		Build()
}

func (c *Context) gm24xPrimary(now uint32) {
	if c.ToothCurrentCount >= gm24xWaiting {
		c.Engine.HasSync = false
		return
	}
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime

	if c.ToothCurrentCount == 0 {
		c.ToothCurrentCount = 1
		c.markToothOne(now)
		c.RevolutionOne = !c.RevolutionOne
		c.Engine.HasSync = true
		c.Engine.StartRevolutions++
		c.TriggerToothAngle = 15
	} else {
		c.ToothCurrentCount++
		if int(c.ToothCurrentCount) > len(gm24xAngles) {
			// The cam pulse was missed.
			c.loseSync()
			c.ToothCurrentCount = gm24xWaiting
			return
		}
		c.TriggerToothAngle = uint16(c.toothAngle(c.ToothCurrentCount) - c.toothAngle(c.ToothCurrentCount-1))
	}
	c.Flags.Set(FlagValidTrigger)
	c.ToothLastToothTime = now
}

func (c *Context) gm24xSecondary(uint32) {
	c.ToothCurrentCount = 0
	c.RevolutionOne = true
}

func (c *Context) gm24xCrankAngle() int {
	// Tooth 0 is the cam pulse, at the rising crank edge.
	angle := c.toothAngle(c.ToothCurrentCount) + int(c.Config.TriggerAngle)
	angle += c.elapsedAngle(c.ToothLastToothTime)
	if c.RevolutionOne {
		angle += 360
	}
	return c.normaliseCrankAngle(angle)
}

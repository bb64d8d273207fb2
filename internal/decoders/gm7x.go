package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// GM 7X: six evenly spaced teeth and a seventh sync tooth just after one
// of them. The sync tooth is counted as tooth #3 so the remaining teeth
// keep simple angles.

// gm7xToothOneAngle is the angle of tooth #1 ATDC before the trigger angle.
const gm7xToothOneAngle = 42

func (c *Context) setupGM7X() Decoder {
	c.TriggerToothAngle = 360 / 6
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Clear(FlagIsSequential)
	c.Flags.Clear(FlagHasSecondary)
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle)

	return c.baseBuilder().
		SetPrimaryTrigger(c.gm7xPrimary, c.Config.TrigEdge).
		SetGetRPM(func() uint16 { return c.stdGetRPM(false) }).
		SetGetCrankAngle(c.gm7xCrankAngle).
		SetSetEndTeeth(c.gm7xEndTeeth).
		Build()
}

// gm7xToothAngle is the angle of a tooth other than the sync tooth.
func (c *Context) gm7xToothAngle(tooth uint16) int {
	n := int(tooth) - 1
	if tooth > 3 {
		n--
	}
	return n*int(c.TriggerToothAngle) + gm7xToothOneAngle + int(c.Config.TriggerAngle)
}

func (c *Context) gm7xPrimary(now uint32) {
	c.LastGap = c.CurGap
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	c.ToothCurrentCount++
	c.Flags.Set(FlagValidTrigger)

	if c.ToothLastToothTime > 0 && c.ToothLastMinusOneToothTime > 0 {
		if c.ToothCurrentCount > 7 {
			c.ToothCurrentCount = 1
			c.markToothOne(now)
			c.Flags.Set(FlagToothAngleCorrect)
		} else {
			c.TargetGap = c.LastGap >> 1
			if c.CurGap < c.TargetGap {
				// Less than half the last gap: the sync tooth.
				c.ToothCurrentCount = 3
				c.Engine.HasSync = true
				c.Flags.Clear(FlagToothAngleCorrect)
				c.Engine.StartRevolutions++
			} else {
				c.Flags.Set(FlagToothAngleCorrect)
			}
		}
	}

	if c.Config.PerToothIgn && c.ToothCurrentCount != 3 {
		c.checkPerToothTiming(c.gm7xToothAngle(c.ToothCurrentCount), c.ToothCurrentCount)
	}

	c.shiftToothTimes(now)
}

func (c *Context) gm7xCrankAngle() int {
	var angle int
	if c.ToothCurrentCount == 3 {
		angle = 112
	} else {
		angle = c.gm7xToothAngle(c.ToothCurrentCount)
	}
	angle += c.elapsedAngle(c.ToothLastToothTime)
	return c.normaliseCrankAngle(angle)
}

func (c *Context) gm7xEndTeeth() {
	if c.Engine.Advance < 18 {
		c.ignition(0).EndTooth = 7
		c.ignition(1).EndTooth = 2
		c.ignition(2).EndTooth = 5
	} else {
		c.ignition(0).EndTooth = 6
		c.ignition(1).EndTooth = 1
		c.ignition(2).EndTooth = 4
	}
}

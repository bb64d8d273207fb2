package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Audi 135: 135 crank teeth and one cam tooth. 135 does not divide 360,
// so every third tooth is used and the wheel is treated as 45 teeth.

const audi135Teeth = 45

func (c *Context) setupAudi135() Decoder {
	c.TriggerToothAngle = 360 / audi135Teeth
	c.ToothCurrentCount = 255
	c.ToothSystemCount = 0
	c.TriggerFilterTime = minToothGap(135)
	c.TriggerSecFilterTime = minToothGap(2) / 2
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle)
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Set(FlagIsSequential)
	c.Flags.Set(FlagToothAngleCorrect)
	c.Flags.Set(FlagHasSecondary)

	return c.baseBuilder().
		SetPrimaryTrigger(c.audi135Primary, c.Config.TrigEdge).
		SetSecondaryTrigger(c.audi135Secondary, c.Config.TrigEdgeSec).
		SetGetRPM(func() uint16 { return c.stdGetRPM(false) }).
		SetGetCrankAngle(c.audi135CrankAngle).
		Build()
}

func (c *Context) audi135Primary(now uint32) {
	c.CurTime = now
	c.CurGap = now - c.ToothSystemLastToothTime
	if c.CurGap <= c.TriggerFilterTime && c.Engine.StartRevolutions != 0 {
		return
	}
	c.ToothSystemCount++
	if !c.Engine.HasSync {
		c.ToothLastToothTime = now
		return
	}
	if c.ToothSystemCount < 3 {
		return
	}
	c.Flags.Set(FlagValidTrigger)
	c.ToothSystemLastToothTime = now
	c.ToothSystemCount = 0
	c.ToothCurrentCount++
	if c.ToothCurrentCount == 1 || c.ToothCurrentCount > audi135Teeth {
		c.ToothCurrentCount = 1
		c.markToothOne(now)
		c.RevolutionOne = !c.RevolutionOne
		c.Engine.StartRevolutions++
	}
	c.setFilter(c.CurGap)
	c.shiftToothTimes(now)
}

func (c *Context) audi135Secondary(uint32) {
	switch {
	case !c.Engine.HasSync:
		c.ToothCurrentCount = 0
		c.Engine.HasSync = true
		// The next primary tooth must be counted.
		c.ToothSystemCount = 3
	case c.Config.UseResync:
		c.ToothCurrentCount = 0
		c.ToothSystemCount = 3
	case c.Engine.StartRevolutions < 100 && c.ToothCurrentCount != audi135Teeth:
		c.ToothCurrentCount = 0
	}
	c.RevolutionOne = true
}

func (c *Context) audi135CrankAngle() int {
	count := int(c.ToothCurrentCount)
	if count == 0 {
		count = audi135Teeth
	}
	angle := (count-1)*int(c.TriggerToothAngle) + int(c.Config.TriggerAngle)
	angle += c.elapsedAngle(c.ToothLastToothTime)
	if c.RevolutionOne {
		angle += 360
	}
	return c.normaliseCrankAngle(angle)
}

package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Non-360 dual wheel: a primary whose tooth count does not divide 360,
// with the tooth angle scaled by TrigAngMul. The trigger handlers are the
// dual wheel ones.

func (c *Context) trigAngMul() int {
	return int(max(c.Config.TrigAngMul, 1))
}

func (c *Context) setupNon360() Decoder {
	teeth := c.triggerTeeth()
	c.TriggerToothAngle = uint16(360 * c.trigAngMul() / int(teeth))
	c.ToothCurrentCount = 255
	c.TriggerFilterTime = minToothGap(teeth)
	c.TriggerSecFilterTime = minToothGap(2) / 2
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Set(FlagIsSequential)
	c.Flags.Set(FlagHasSecondary)
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle)

	return c.baseBuilder().
		SetPrimaryTrigger(c.dualWheelPrimary, c.Config.TrigEdge).
		SetSecondaryTrigger(c.dualWheelSecondary, EdgeFalling).
		SetGetRPM(c.non360RPM).
		SetGetCrankAngle(c.non360CrankAngle).
		Build()
}

func (c *Context) non360RPM() uint16 {
	if !c.Engine.HasSync || c.ToothCurrentCount == 0 {
		return 0
	}
	if c.Engine.RPM < c.Config.CrankRPM {
		return c.crankingGetRPM(c.Config.TriggerTeeth, false)
	}
	return c.stdGetRPM(false)
}

func (c *Context) non360CrankAngle() int {
	count := int(c.ToothCurrentCount)
	if count == 0 {
		count = int(c.Config.TriggerTeeth)
	}
	angle := (count-1)*int(c.TriggerToothAngle)/c.trigAngMul() + int(c.Config.TriggerAngle)
	angle += c.elapsedAngle(c.ToothLastToothTime)
	return c.normaliseCrankAngle(angle)
}

package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Ford ST170 (Focus 01-04): a 36-1 crank wheel read by the missing tooth
// primary and an 8-3 cam wheel. The wheel geometry is fixed, so setup
// overrides the configured tooth counts and speed.

func (c *Context) setupFordST170() Decoder {
	c.Config.TriggerTeeth = 36
	c.Config.MissingTeeth = 1
	c.Config.TrigSpeed = CrankSpeed

	c.TriggerToothAngle = 360 / c.Config.TriggerTeeth
	c.TriggerActualTeeth = c.Config.TriggerTeeth - c.Config.MissingTeeth
	c.TriggerFilterTime = minToothGap(c.Config.TriggerTeeth)
	// The two closest cam teeth can be 30 crank degrees apart at full
	// advance; 20 degrees leaves margin for unkeyed pulleys.
	c.TriggerSecFilterTime = crankmath.MicrosPerMin / crankmath.MaxRPM / 8 / 2
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Set(FlagIsSequential)
	c.Flags.Set(FlagHasSecondary)
	c.CheckSyncToothCount = 36 >> 1
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle) * 2

	return c.baseBuilder().
		SetPrimaryTrigger(c.missingToothPrimary, c.Config.TrigEdge).
		SetSecondaryTrigger(c.fordST170Secondary, c.Config.TrigEdgeSec).
		SetGetRPM(c.fordST170RPM).
		SetGetCrankAngle(c.fordST170CrankAngle).
		SetSetEndTeeth(c.fordST170EndTeeth).
		Build()
}

func (c *Context) fordST170Secondary(now uint32) {
	c.CurTime2 = now
	c.CurGap2 = now - c.ToothLastSecToothTime
	if c.ToothLastSecToothTime == 0 {
		c.CurGap2 = 0
		c.ToothLastSecToothTime = now
	}
	if c.CurGap2 < c.TriggerSecFilterTime {
		return
	}
	c.TargetGap2 = (3 * (c.ToothLastSecToothTime - c.ToothLastMinusOneSecToothTime)) >> 1
	c.ToothLastMinusOneSecToothTime = c.ToothLastSecToothTime
	if c.CurGap2 >= c.TargetGap2 || c.SecondaryToothCount == 5 {
		c.SecondaryToothCount = 1
		c.RevolutionOne = true
		c.TriggerSecFilterTime = 0
	} else {
		c.TriggerSecFilterTime = c.CurGap2 >> 2
		c.SecondaryToothCount++
	}
	c.ToothLastSecToothTime = now

	// The first cam tooth after the long gap stays in the same cycle over
	// the whole VVT range, so it is the reference.
	if c.Config.VVTEnabled && c.RevolutionOne && c.SecondaryToothCount == 1 && c.Config.VVTClosedLoop {
		angle := c.decoderCrankAngle()
		for angle > 360 {
			angle -= 360
		}
		angle = int(lowPassFilter(angle<<1, c.Config.AngleFilterVVT, int16(angle)))
		c.Engine.VVT1Angle = int16(360 - angle - int(c.Config.VVTCL0DutyAngle))
	}
}

func (c *Context) fordST170RPM() uint16 {
	if c.Engine.RPM >= c.Config.CrankRPM {
		return c.stdGetRPM(false)
	}
	if c.ToothCurrentCount != 1 {
		return c.crankingGetRPM(36, false)
	}
	return c.Engine.RPM
}

func (c *Context) fordST170CrankAngle() int {
	angle := (int(c.ToothCurrentCount)-1)*int(c.TriggerToothAngle) + int(c.Config.TriggerAngle)
	if c.RevolutionOne {
		angle += 360
	}
	angle += c.elapsedAngle(c.ToothLastToothTime)
	return c.normaliseCrankAngle(angle)
}

func (c *Context) fordST170EndTeeth() {
	var adder uint16
	if c.Config.SparkMode == SparkSequential {
		adder = 36
	}
	// Four cylinder engine: only the first four channels are used.
	for i := 0; i < 4; i++ {
		ch := c.ignition(i)
		tooth := (ch.EndAngle - int(c.Config.TriggerAngle)) / int(c.TriggerToothAngle)
		tooth = crankmath.Nudge(1, 36+int(adder), tooth-1, 36+int(adder))
		ch.EndTooth = c.clampToActualTeeth(uint16(tooth), adder)
	}
}

package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Suzuki DRZ400: a dual wheel whose single cam tooth sits six crank teeth
// before tooth #1.

func (c *Context) setupDRZ400() Decoder {
	teeth := c.triggerTeeth()
	c.TriggerToothAngle = 360 / teeth
	if c.isCamSpeed() {
		c.TriggerToothAngle = 720 / teeth
	}
	c.ToothCurrentCount = 255
	c.TriggerFilterTime = minToothGap(teeth)
	c.TriggerSecFilterTime = minToothGap(2)
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Set(FlagIsSequential)
	c.Flags.Set(FlagToothAngleCorrect)
	c.Flags.Set(FlagHasSecondary)
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle)

	return c.baseBuilder().
		SetPrimaryTrigger(c.dualWheelPrimary, c.Config.TrigEdge).
		SetSecondaryTrigger(c.drz400Secondary, c.Config.TrigEdgeSec).
		SetGetRPM(c.dualWheelRPM).
		SetGetCrankAngle(c.dualWheelCrankAngle).
		SetSetEndTeeth(c.dualWheelEndTeeth).
		Build()
}

func (c *Context) drz400Secondary(now uint32) {
	c.CurTime2 = now
	c.CurGap2 = now - c.ToothLastSecToothTime
	if c.CurGap2 >= c.TriggerSecFilterTime {
		c.ToothLastSecToothTime = now
		if !c.Engine.HasSync {
			c.ToothLastToothTime = now
			c.ToothLastMinusOneToothTime = now - (crankmath.MicrosPerMin/10)/uint32(c.triggerTeeth())
			c.ToothCurrentCount = c.Config.TriggerTeeth
			c.Engine.SyncLossCounter++
			c.Engine.HasSync = true
		} else {
			// The next primary tooth wraps to #1.
			c.ToothCurrentCount = 6
		}
	}
	c.TriggerSecFilterTime = (c.ToothOneTime - c.ToothOneMinusOneTime) >> 1
}

package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Daihatsu +1: one cam tooth per cylinder plus an extra tooth 30 degrees
// after tooth #1.

var (
	daihatsuAngles3 = []int16{0, 30, 240, 480}
	daihatsuAngles4 = []int16{0, 30, 180, 360, 540}
)

func (c *Context) setupDaihatsu() Decoder {
	cyl := uint16(max(c.Config.Cylinders, 1))
	c.TriggerActualTeeth = cyl + 1
	c.TriggerToothAngle = 720 / c.TriggerActualTeeth
	c.TriggerFilterTime = crankmath.MicrosPerMin / crankmath.MaxRPM / uint32(cyl) / 2
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Set(FlagIsSequential)
	c.Flags.Clear(FlagHasSecondary)
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 90) * uint32(c.TriggerToothAngle) * 4
	if c.Config.Cylinders == 3 {
		copy(c.ToothAngles[:], daihatsuAngles3)
	} else {
		copy(c.ToothAngles[:], daihatsuAngles4)
	}

	return c.baseBuilder().
		SetPrimaryTrigger(c.daihatsuPrimary, c.Config.TrigEdge).
		SetGetRPM(func() uint16 { return c.stdGetRPM(true) }).
		SetGetCrankAngle(c.daihatsuCrankAngle).
		Build()
}

func (c *Context) daihatsuPrimary(now uint32) {
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	c.ToothSystemCount++
	c.Flags.Set(FlagValidTrigger)

	if c.Engine.HasSync {
		if c.ToothCurrentCount == c.TriggerActualTeeth {
			c.ToothCurrentCount = 1
			c.markToothOne(now)
			c.Engine.StartRevolutions++
			// The extra tooth follows closely.
			c.TriggerFilterTime = 20
		} else {
			c.ToothCurrentCount++
			c.setFilter(c.CurGap)
		}
		// Cranking timing locked to TDC.
		if c.Config.IgnCrankLock && c.Engine.Cranking && c.ToothCurrentCount >= 1 && c.ToothCurrentCount <= 4 {
			c.fireCoil(int(c.ToothCurrentCount) - 1)
		}
	} else if c.ToothSystemCount >= 3 {
		// The extra tooth is the one well under the normal spacing: about
		// 60 degrees on three cylinders and 67 on four.
		last := c.ToothLastToothTime - c.ToothLastMinusOneToothTime
		var target uint32
		if c.Config.Cylinders == 3 {
			target = last / 4
		} else {
			target = (last * 3) / 8
		}
		if c.CurGap < target {
			c.ToothCurrentCount = 2
			c.Engine.HasSync = true
			c.TriggerFilterTime = target
		}
	}
	c.shiftToothTimes(now)
}

func (c *Context) daihatsuCrankAngle() int {
	angle := c.toothAngle(c.ToothCurrentCount) + int(c.Config.TriggerAngle)
	angle += c.elapsedAngle(c.ToothLastToothTime)
	return c.normaliseCrankAngle(angle)
}

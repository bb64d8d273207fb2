package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// One evenly spaced tooth per cylinder on the cam, as on a distributor.
// There is no reference tooth, so the first tooth seen is called tooth #1.

// minDistributorStall is the stall time at 50 RPM on a single tooth cam.
const minDistributorStall = 366667

func (c *Context) setupBasicDistributor() Decoder {
	teeth := uint16(max(c.Config.Cylinders, 1))
	c.TriggerActualTeeth = teeth
	if c.Config.Strokes == FourStroke {
		c.TriggerToothAngle = 720 / teeth
	} else {
		c.TriggerToothAngle = 360 / teeth
	}
	c.TriggerFilterTime = 0
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Clear(FlagIsSequential)
	c.Flags.Clear(FlagHasSecondary)
	c.Flags.Set(FlagHasFixedCranking)
	c.Flags.Set(FlagToothAngleCorrect)
	c.ToothCurrentCount = 0
	if c.Config.Cylinders <= 4 {
		// 90 RPM rather than 50: a four cylinder would otherwise wait very
		// long before declaring a stall.
		c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 90) * uint32(c.TriggerToothAngle)
	} else {
		c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle)
	}

	return c.baseBuilder().
		SetPrimaryTrigger(c.basicDistributorPrimary, c.Config.TrigEdge).
		SetGetRPM(c.basicDistributorRPM).
		SetGetCrankAngle(c.basicDistributorCrankAngle).
		SetSetEndTeeth(c.basicDistributorEndTeeth).
		Build()
}

func (c *Context) basicDistributorPrimary(now uint32) {
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	if c.CurGap < c.TriggerFilterTime {
		return
	}
	if c.Engine.HasSync {
		c.setFilter(c.CurGap)
	} else {
		c.TriggerFilterTime = 0
	}

	if c.ToothCurrentCount == c.TriggerActualTeeth || !c.Engine.HasSync {
		c.ToothCurrentCount = 1
		c.markToothOne(now)
		c.Engine.HasSync = true
		c.Engine.StartRevolutions++
	} else if c.ToothCurrentCount < c.TriggerActualTeeth {
		c.ToothCurrentCount++
	} else if c.Engine.HasSync {
		c.loseSync()
	}
	c.Flags.Set(FlagValidTrigger)

	c.crankLockFire(4)

	if c.Config.PerToothIgn {
		crankAngle := c.ignitionLimits((int(c.ToothCurrentCount)-1)*int(c.TriggerToothAngle) + int(c.Config.TriggerAngle))
		tooth := c.ToothCurrentCount
		if half := c.TriggerActualTeeth / 2; tooth > half {
			tooth -= half
		}
		c.checkPerToothTiming(crankAngle, tooth)
	}

	c.shiftToothTimes(now)
}

func (c *Context) basicDistributorRPM() uint16 {
	// Two stroke distributors turn at crank speed.
	camSpeed := c.Config.Strokes != TwoStroke
	var rpm uint16
	if c.Engine.RPM < c.Config.CrankRPM || c.Engine.RPM < 1500 {
		rpm = c.crankingGetRPM(c.TriggerActualTeeth, camSpeed)
	} else {
		rpm = c.stdGetRPM(camSpeed)
	}
	c.MaxStallTime = max(c.revolutionTime()<<1, minDistributorStall)
	return rpm
}

func (c *Context) basicDistributorCrankAngle() int {
	angle := (int(c.ToothCurrentCount)-1)*int(c.TriggerToothAngle) + int(c.Config.TriggerAngle)
	c.LastCrankAngleCalc = c.micros()
	c.ElapsedTime = c.LastCrankAngleCalc - c.ToothLastToothTime
	angle += c.timeToAngleIntervalTooth(c.ElapsedTime)
	return c.normaliseCrankAngle(angle)
}

// distributorEndTeeth is the end tooth rotation for each cylinder count,
// keyed by which slice of the tooth spacing the end angle falls in.
var distributorEndTeeth = map[uint8][][]uint16{
	4: {{1, 2}, {2, 1}},
	3: {{1, 2, 3}, {2, 3, 1}, {3, 1, 2}},
	6: {{1, 2, 3}, {2, 3, 1}, {3, 1, 2}},
	8: {{1, 2, 3, 4}, {2, 3, 4, 1}, {3, 4, 1, 2}, {4, 1, 2, 3}},
}

func (c *Context) basicDistributorEndTeeth() {
	rotations, ok := distributorEndTeeth[c.Config.Cylinders]
	if !ok {
		return
	}
	endAngle := c.ignitionLimits(c.ignition(0).EndAngle - int(c.Config.TriggerAngle))
	slice := 360 / len(rotations)
	// An end angle of 0 belongs to the last slice.
	idx := len(rotations) - 1
	if endAngle > 0 {
		idx = min((endAngle-1)/slice, len(rotations)-1)
	}
	for i, tooth := range rotations[idx] {
		c.ignition(i).EndTooth = tooth
	}
}

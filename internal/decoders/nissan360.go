package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Nissan 360: an optical disc in the distributor with 360 slots (2 crank
// degrees each) and one window per cylinder of differing length. The
// window length in slots identifies the cylinder.

// nissanWindow maps a window length, give or take one slot, to the tooth
// count at its end.
type nissanWindow struct {
	min, max uint8
	tooth    uint16
}

var nissanWindows = map[uint8][]nissanWindow{
	// The inner windows of most SR engines: 16, 12, 8 and 4 slots.
	4: {{15, 17, 16}, {11, 13, 102}, {7, 9, 188}, {3, 5, 274}},
	// 4-8-12-16-20-24; only the shortest is used.
	6: {{3, 5, 124}},
	// V8 Optispark, shortest window at 102 crank degrees.
	8: {{6, 8, 56}},
}

func (c *Context) setupNissan360() Decoder {
	c.TriggerFilterTime = minToothGap(360)
	c.TriggerSecFilterTime = minToothGap(2) / 2
	c.SecondaryToothCount = 0
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Set(FlagIsSequential)
	c.Flags.Set(FlagHasSecondary)
	c.ToothCurrentCount = 1
	c.TriggerToothAngle = 2
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle)

	return c.baseBuilder().
		SetPrimaryTrigger(c.nissan360Primary, c.Config.TrigEdge).
		SetSecondaryTrigger(c.nissan360Secondary, EdgeChange).
		SetGetRPM(c.nissan360RPM).
		SetGetCrankAngle(c.nissan360CrankAngle).
		SetSetEndTeeth(c.nissan360EndTeeth).
		Build()
}

func (c *Context) nissan360Primary(now uint32) {
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	c.ToothCurrentCount++
	c.Flags.Set(FlagValidTrigger)
	c.shiftToothTimes(now)

	if !c.Engine.HasSync {
		return
	}
	// 360 slots cover two crank revolutions.
	if c.ToothCurrentCount == 361 {
		c.ToothCurrentCount = 1
		c.markToothOne(now)
		c.Engine.StartRevolutions++
	}
	if c.Config.PerToothIgn {
		crankAngle := (int(c.ToothCurrentCount)-1)*2 + int(c.Config.TriggerAngle)
		if crankAngle > c.maxIgn() {
			c.checkPerToothTiming(crankAngle-c.maxIgn(), c.ToothCurrentCount/2)
		} else {
			c.checkPerToothTiming(crankAngle, c.ToothCurrentCount)
		}
	}
}

func (c *Context) nissan360Secondary(now uint32) {
	c.CurTime2 = now
	c.CurGap2 = now - c.ToothLastSecToothTime
	c.ToothLastSecToothTime = now

	windowLevel := c.Config.TrigEdgeSec != EdgeRising
	if c.SecondaryToothCount == 0 || c.readPin(c.pins.Secondary) == windowLevel {
		// Start of a window, or the first edge after power up.
		c.SecondaryToothCount = c.ToothCurrentCount
		return
	}
	duration := uint8(c.ToothCurrentCount - c.SecondaryToothCount)

	if c.Engine.HasSync {
		// Verify once per cycle against the longest four cylinder window.
		if c.Config.UseResync && c.Config.Cylinders == 4 && duration >= 15 && duration <= 17 {
			c.ToothCurrentCount = 16
		}
		return
	}

	windows, ok := nissanWindows[c.Config.Cylinders]
	if !ok {
		return
	}
	for _, w := range windows {
		if duration >= w.min && duration <= w.max {
			c.ToothCurrentCount = w.tooth
			c.Engine.HasSync = true
			return
		}
	}
	if c.Config.Cylinders == 4 {
		c.loseSync()
	}
}

func (c *Context) nissan360RPM() uint16 {
	if !c.Engine.HasSync || c.ToothLastToothTime == 0 || c.ToothLastMinusOneToothTime == 0 {
		return 0
	}
	if c.Engine.StartRevolutions < 2 {
		// Each slot is two degrees.
		c.setRevolutionTime((c.ToothLastToothTime - c.ToothLastMinusOneToothTime) * 180)
	} else {
		c.setRevolutionTime((c.ToothOneTime - c.ToothOneMinusOneTime) >> 1)
	}
	rpm := c.rpmFromRevolutionTime(c.revolutionTime())
	c.MaxStallTime = c.revolutionTime() << 1
	return rpm
}

// nissan360CrankAngle rounds to the nearest degree: past half a slot adds
// one.
func (c *Context) nissan360CrankAngle() int {
	angle := (int(c.ToothCurrentCount)-1)*2 + int(c.Config.TriggerAngle)
	halfTooth := (c.ToothLastToothTime - c.ToothLastMinusOneToothTime) / 2
	c.LastCrankAngleCalc = c.micros()
	c.ElapsedTime = c.LastCrankAngleCalc - c.ToothLastToothTime
	if c.ElapsedTime > halfTooth {
		angle++
	}
	return c.normaliseCrankAngle(angle)
}

// nissan360EndTeeth sets the end teeth four slots early to leave time to
// set the schedule.
func (c *Context) nissan360EndTeeth() {
	const offsetTeeth = 4
	trig := int(c.Config.TriggerAngle)
	for i := 0; i < 4; i++ {
		ch := c.ignition(i)
		if ch.EndAngle-offsetTeeth > trig {
			ch.EndTooth = uint16((ch.EndAngle-trig)/2 - offsetTeeth)
		} else {
			ch.EndTooth = uint16((ch.EndAngle+720-trig)/2 - offsetTeeth)
		}
	}
}

package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Subaru 6/7: six unevenly spaced crank teeth and a seven tooth cam. The
// number of cam teeth seen between two crank teeth (one, two or three)
// identifies the position over 720 degrees.

var subaru67Angles = func() []int16 {
	a := []int16{710, 83, 115, 170}
	for _, off := range []int16{180, 360, 540} {
		a = append(a, a[1]+off, a[2]+off)
		if off != 540 {
			a = append(a, a[3]+off)
		}
	}
	return a
}()

// subaru67SyncTooth is the crank tooth that follows n cam teeth.
var subaru67SyncTooth = map[uint16]uint16{1: 5, 2: 8, 3: 2}

func (c *Context) setupSubaru67() Decoder {
	c.TriggerFilterTime = minToothGap(360)
	c.TriggerSecFilterTime = 0
	c.SecondaryToothCount = 0
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Set(FlagIsSequential)
	c.Flags.Set(FlagHasSecondary)
	c.ToothCurrentCount = 1
	c.TriggerToothAngle = 2
	c.Flags.Clear(FlagToothAngleCorrect)
	c.ToothSystemCount = 0
	// The widest gap is 93 degrees.
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * 93
	copy(c.ToothAngles[:], subaru67Angles)

	return c.baseBuilder().
		SetPrimaryTrigger(c.subaru67Primary, c.Config.TrigEdge).
		SetSecondaryTrigger(c.subaru67Secondary, c.Config.TrigEdgeSec).
		SetGetRPM(c.subaru67RPM).
		SetGetCrankAngle(c.subaru67CrankAngle).
		SetSetEndTeeth(c.subaru67EndTeeth).
		Build()
}

func (c *Context) subaru67Primary(now uint32) {
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	if c.CurGap < c.TriggerFilterTime {
		return
	}
	c.ToothCurrentCount++
	// Crank teeth since the last cam tooth, for noise filtering.
	c.ToothSystemCount++
	c.Flags.Set(FlagValidTrigger)
	c.shiftToothTimes(now)

	if c.ToothCurrentCount > 13 {
		c.ToothCurrentCount = 0
		c.loseSync()
	}

	switch n := c.SecondaryToothCount; n {
	case 0:
	case 1, 2, 3:
		want := subaru67SyncTooth[n]
		// A single cam tooth precedes either tooth 5 or tooth 11.
		if c.ToothCurrentCount == want || (n == 1 && c.ToothCurrentCount == 11) {
			c.Engine.HasSync = true
		} else {
			c.loseSync()
			// Half the time a guess of 5 for a single cam tooth is right,
			// which speeds up sync.
			c.ToothCurrentCount = want
		}
		c.SecondaryToothCount = 0
	default:
		// Noise, or a stop and start while cranking.
		c.loseSync()
		c.Flags.Clear(FlagToothAngleCorrect)
		c.SecondaryToothCount = 0
	}

	if !c.Engine.HasSync {
		return
	}
	// Locked cranking timing is 10 degrees BTDC.
	if c.Engine.Cranking && c.Config.IgnCrankLock {
		switch c.ToothCurrentCount {
		case 1, 7:
			c.fireCoil(0)
			c.fireCoil(2)
		case 4, 10:
			c.fireCoil(1)
			c.fireCoil(3)
		}
	}
	if c.ToothCurrentCount > 12 {
		c.ToothCurrentCount = 1
		c.markToothOne(now)
		c.Engine.StartRevolutions++
	}
	switch c.ToothCurrentCount {
	case 1:
		c.TriggerToothAngle = 55
	case 2:
		c.TriggerToothAngle = 93
	default:
		c.TriggerToothAngle = uint16(c.toothAngle(c.ToothCurrentCount) - c.toothAngle(c.ToothCurrentCount-1))
	}
	c.Flags.Set(FlagToothAngleCorrect)

	if c.perToothIgnActive() {
		if c.Config.SparkMode != SparkSequential {
			crankAngle := c.ignitionLimits(c.toothAngle(c.ToothCurrentCount))
			tooth := c.ToothCurrentCount
			if tooth > 6 {
				tooth -= 6
			}
			c.checkPerToothTiming(crankAngle, tooth)
		} else {
			c.checkPerToothTiming(c.toothAngle(c.ToothCurrentCount)+int(c.Config.TriggerAngle), c.ToothCurrentCount)
		}
	}
}

func (c *Context) subaru67Secondary(now uint32) {
	if c.ToothSystemCount != 0 && c.ToothSystemCount != 3 {
		// More than three crank teeth between cam teeth is noise.
		if c.ToothSystemCount > 3 {
			c.ToothSystemCount = 0
			c.SecondaryToothCount = 1
			c.loseSync()
		}
		c.SecondaryToothCount = 0
		return
	}
	c.CurTime2 = now
	c.CurGap2 = now - c.ToothLastSecToothTime
	if c.CurGap2 <= c.TriggerSecFilterTime {
		return
	}
	c.ToothLastSecToothTime = now
	c.SecondaryToothCount++
	c.ToothSystemCount = 0
	// Only the second and third cam teeth of a group set the filter.
	if c.SecondaryToothCount > 1 {
		c.TriggerSecFilterTime = c.CurGap2 >> 2
	} else {
		c.TriggerSecFilterTime = 0
	}
}

func (c *Context) subaru67RPM() uint16 {
	if c.Engine.StartRevolutions == 0 {
		return 0
	}
	// The tooth count spans 720 degrees.
	return c.stdGetRPM(true)
}

func (c *Context) subaru67CrankAngle() int {
	if !c.Engine.HasSync {
		return 0
	}
	angle := c.toothAngle(c.ToothCurrentCount) + int(c.Config.TriggerAngle)
	c.LastCrankAngleCalc = c.micros()
	c.ElapsedTime = c.LastCrankAngleCalc - c.ToothLastToothTime
	angle += c.timeToAngleIntervalTooth(c.ElapsedTime)
	return c.normaliseCrankAngle(angle)
}

func (c *Context) subaru67EndTeeth() {
	if c.Config.SparkMode == SparkSequential {
		teeth := [4]uint16{1, 4, 7, 10}
		if c.Engine.Advance >= 10 {
			teeth = [4]uint16{12, 3, 6, 9}
		}
		for i, t := range teeth {
			c.ignition(i).EndTooth = t
		}
		return
	}
	teeth := [2]uint16{1, 4}
	if c.Engine.Advance >= 10 {
		teeth = [2]uint16{6, 3}
	}
	for i, t := range teeth {
		c.ignition(i).EndTooth = t
	}
}

package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Suzuki K6A: seven uneven cam teeth over 720 degrees on a three cylinder
// engine, one of them an extra short sync tooth. Only the primary is used.

// k6aAngles is indexed by tooth count. Entry 0 stands for the last tooth
// of the previous cycle, entry 8 for tooth #1 of the next.
var k6aAngles = [9]int16{-70, 0, 170, 240, 410, 480, 515, 650, 720}

func (c *Context) k6aAngle(tooth uint16) int {
	return int(k6aAngles[min(int(tooth), len(k6aAngles)-1)])
}

func (c *Context) setupSuzukiK6A() Decoder {
	c.TriggerToothAngle = 90
	c.Config.TrigSpeed = CamSpeed
	c.TriggerActualTeeth = 7
	c.ToothCurrentCount = 1
	c.CurGap, c.CurGap2, c.CurGap3 = 0, 0, 0
	if !c.initialised {
		c.ToothLastToothTime = c.micros()
	}
	c.ToothLastMinusOneToothTime = 0
	c.MaxStallTime = 3333 * uint32(c.TriggerToothAngle)
	c.TriggerFilterTime = 1500
	c.TriggerSecFilterTime = 0
	c.Flags.Clear(FlagHasFixedCranking)
	c.Flags.Clear(FlagToothAngleCorrect)
	c.Flags.Clear(FlagHasSecondary)
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Set(FlagIsSequential)
	// Sync is all or nothing on this wheel.
	c.Engine.HalfSync = false

	return c.baseBuilder().
		SetPrimaryTrigger(c.suzukiK6APrimary, c.Config.TrigEdge).
		SetGetRPM(c.suzukiK6ARPM).
		SetGetCrankAngle(c.suzukiK6ACrankAngle).
		SetSetEndTeeth(c.suzukiK6AEndTeeth).
		Build()
}

// k6aFilter is the next filter as a fraction of the gap just seen, per
// filter level, given the tooth just seen and the one expected next.
func k6aFilter(tooth uint16, level FilterLevel, gap uint32) uint32 {
	if level == FilterOff || level > FilterAggressive {
		return 0
	}
	switch tooth {
	case 2, 4:
		// 170 degrees, 70 next.
		return [...]uint32{gap >> 3, gap>>3 + gap>>4, gap>>2 + gap>>4}[level-1]
	case 5, 7:
		// 70 degrees with 35 next, or 135 with 70 next.
		return [...]uint32{gap >> 3, gap >> 2, gap>>2 + gap>>3}[level-1]
	case 6:
		// Sync tooth, 135 next.
		return gap * uint32(level)
	case 1, 3:
		// 70 degrees, 170 next.
		return [...]uint32{gap>>1 + gap>>3, gap + gap>>2, gap + gap>>1 + gap>>2}[level-1]
	}
	return 0
}

func (c *Context) suzukiK6APrimary(now uint32) {
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	if c.CurGap < c.TriggerFilterTime && c.Engine.StartRevolutions != 0 {
		return
	}
	c.ToothCurrentCount++
	c.Flags.Set(FlagValidTrigger)
	c.shiftToothTimes(now)

	// Teeth alternate small and big; the sync tooth makes big, small,
	// small. CurGap2 and CurGap3 hold the two previous gaps.
	if c.CurGap <= c.CurGap2 && c.CurGap2 <= c.CurGap3 {
		c.ToothCurrentCount = 6
		c.Engine.HasSync = true
	}
	c.CurGap3 = c.CurGap2
	c.CurGap2 = c.CurGap

	switch {
	case c.ToothCurrentCount == c.TriggerActualTeeth+1 && c.Engine.HasSync:
		c.ToothCurrentCount = 1
		c.markToothOne(now)
		// One cam turn is two revolutions.
		c.Engine.StartRevolutions += 2
	case c.ToothCurrentCount > c.TriggerActualTeeth+1:
		c.loseSync()
		c.TriggerFilterTime = 0
		c.ToothCurrentCount = 0
	}

	// Check the gap against the one before it for the tooth we think this
	// is. CurGap2 now equals CurGap, so compare with the saved gap.
	prevGap := c.CurGap3
	switch c.ToothCurrentCount {
	case 1, 3, 5, 6:
		if c.CurGap > prevGap {
			c.loseSync()
			c.TriggerFilterTime = 0
			c.ToothCurrentCount = 2
		}
	default:
		if c.CurGap < prevGap {
			c.loseSync()
			c.TriggerFilterTime = 0
			c.ToothCurrentCount = 1
		}
	}

	if !c.Engine.HasSync {
		return
	}
	c.TriggerFilterTime = k6aFilter(c.ToothCurrentCount, c.Config.Filter, c.CurGap)
	if c.Config.PerToothIgn {
		crankAngle := c.k6aAngle(c.ToothCurrentCount) + int(c.Config.TriggerAngle)
		c.checkPerToothTiming(c.ignitionLimits(crankAngle), c.ToothCurrentCount)
	}
}

func (c *Context) suzukiK6ARPM() uint16 {
	rpm := c.stdGetRPM(true)
	c.MaxStallTime = max(c.revolutionTime()<<1, minDistributorStall)
	return rpm
}

// suzukiK6ACrankAngle also sets the tooth angle to the span ending at the
// last tooth seen.
func (c *Context) suzukiK6ACrankAngle() int {
	tooth := c.ToothCurrentCount
	if tooth > 0 && int(tooth) < len(k6aAngles) {
		c.TriggerToothAngle = uint16(c.k6aAngle(tooth) - c.k6aAngle(tooth-1))
	}
	angle := c.k6aAngle(tooth) + int(c.Config.TriggerAngle)
	angle += c.elapsedAngle(c.ToothLastToothTime)
	return crankmath.WrapAngle(angle, 720)
}

// suzukiK6AEndTooth picks the tooth before the end angle. Advance beyond
// 48 degrees is not supported.
func (c *Context) suzukiK6AEndTooth(endAngle int) uint16 {
	angle := c.ignitionLimits(endAngle - int(c.Config.TriggerAngle))
	n := uint16(1)
	for n < 8 && angle > c.k6aAngle(n) {
		n++
	}
	if n == 1 || n == 8 {
		return 7
	}
	return n - 1
}

func (c *Context) suzukiK6AEndTeeth() {
	for i := 0; i < 3; i++ {
		ch := c.ignition(i)
		ch.EndTooth = c.suzukiK6AEndTooth(ch.EndAngle)
	}
}

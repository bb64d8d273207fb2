package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Mitsubishi 4G63 and early Miata: two crank teeth read on both edges
// (70/110 degree spacing on four cylinders, 70/50 on the 6G72) plus a cam
// pulse. Tooth #1 is the first crank edge after the cam falls with the
// crank high, at 355 degrees ATDC.

// noSyncTooth is the tooth count that marks no sync on the 4G63.
const noSyncTooth = 99

var (
	fourG63Angles4 = []int16{715, 105, 175, 285, 355, 465, 535, 645}
	fourG63Angles6 = []int16{715, 45, 115, 165, 235, 285, 355, 405, 475, 525, 595, 645}
)

func (c *Context) setupFourG63() Decoder {
	c.TriggerToothAngle = 180
	c.ToothCurrentCount = noSyncTooth
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Set(FlagIsSequential)
	c.Flags.Set(FlagHasFixedCranking)
	c.Flags.Set(FlagToothAngleCorrect)
	c.Flags.Set(FlagHasSecondary)
	c.MaxStallTime = minDistributorStall

	angles := fourG63Angles4
	if c.Config.Cylinders == 6 {
		angles = fourG63Angles6
	}
	copy(c.ToothAngles[:], angles)
	c.TriggerActualTeeth = uint16(len(angles))

	// 10000 RPM on both edges of the crank teeth.
	c.TriggerFilterTime = 1500
	c.TriggerSecFilterTime = minToothGap(2) / 2
	c.TriggerSecFilterTimeDuration = 4000
	c.SecondaryLastToothTime = 0

	return c.baseBuilder().
		SetPrimaryTrigger(c.fourG63Primary, EdgeChange).
		SetSecondaryTrigger(c.fourG63Secondary, EdgeFalling).
		SetGetRPM(c.fourG63RPM).
		SetGetCrankAngle(c.fourG63CrankAngle).
		SetSetEndTeeth(c.fourG63EndTeeth).
		Build()
}

func (c *Context) fourG63Primary(now uint32) {
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	if c.CurGap < c.TriggerFilterTime && c.Engine.StartRevolutions != 0 {
		return
	}
	c.Flags.Set(FlagValidTrigger)
	// Replaced with a better value below once there is sync.
	c.TriggerFilterTime = c.CurGap >> 2
	c.shiftToothTimes(now)
	c.ToothCurrentCount++

	if c.ToothCurrentCount == 1 || c.ToothCurrentCount > c.TriggerActualTeeth {
		c.ToothCurrentCount = 1
		c.markToothOne(now)
		c.Engine.StartRevolutions++
	}

	if !c.Engine.HasSync {
		c.fourG63SeekSync()
		return
	}

	if c.Engine.Cranking && c.Config.IgnCrankLock && c.Engine.StartRevolutions >= uint32(c.Config.StgCycles) {
		c.fourG63CrankLock()
	}

	c.unevenPairFilter(c.Config.Cylinders == 4)

	// Per-tooth timing is only mapped for the stock trigger angle.
	if c.Config.PerToothIgn && c.Config.TriggerAngle == 0 && c.Config.Cylinders == 4 && c.Engine.Advance > 0 {
		c.tablePerToothTiming()
	}
}

// tablePerToothTiming runs the per-tooth correction with the crank angle
// from the tooth table. Outside sequential the second half of the cycle
// maps onto the first.
func (c *Context) tablePerToothTiming() {
	crankAngle := c.ignitionLimits(c.toothAngle(c.ToothCurrentCount))
	tooth := c.ToothCurrentCount
	if c.Config.SparkMode != SparkSequential && tooth > uint16(c.Config.Cylinders) {
		tooth -= uint16(c.Config.Cylinders)
	}
	c.checkPerToothTiming(crankAngle, tooth)
}

// fourG63SeekSync finds tooth #1 from the crank and cam levels.
func (c *Context) fourG63SeekSync() {
	c.TriggerSecFilterTime = 0
	crank := c.readPin(c.pins.Primary)
	cam := c.readPin(c.pins.Secondary)
	if crank {
		c.RevolutionOne = cam
		return
	}
	if !c.RevolutionOne {
		return
	}
	// The crank pulse started while the cam was high.
	if !cam {
		if c.Config.Cylinders == 4 {
			c.ToothCurrentCount = 1
		}
		return
	}
	switch c.Config.Cylinders {
	case 4:
		c.ToothCurrentCount = 5
	case 6:
		// 45 degrees ATDC on the 6G72.
		c.ToothCurrentCount = 2
		c.Engine.HasSync = true
	}
}

// fourG63CrankLock fires the coils on the crank edges in forced wasted
// spark while cranking.
func (c *Context) fourG63CrankLock() {
	switch c.Config.Cylinders {
	case 4:
		switch c.ToothCurrentCount {
		case 1, 5:
			c.fireCoil(0)
			c.fireCoil(2)
		case 3, 7:
			c.fireCoil(1)
			c.fireCoil(3)
		}
	case 6:
		switch c.ToothCurrentCount {
		case 1, 7:
			c.fireCoil(0)
		case 3, 9:
			c.fireCoil(1)
		case 5, 11:
			c.fireCoil(2)
		}
	}
}

// unevenPairFilter sets the tooth angle just passed and a filter sized to
// the next gap on wheels whose edges alternate between 70 degrees and 110
// (four cylinder) or 50 (six cylinder).
func (c *Context) unevenPairFilter(four bool) {
	odd := c.ToothCurrentCount%2 == 1
	gap := c.CurGap
	if odd {
		c.TriggerToothAngle = 70
	} else if four {
		c.TriggerToothAngle = 110
	} else {
		c.TriggerToothAngle = 50
	}

	level := c.Config.Filter
	if c.Engine.RPM < 1400 {
		level = FilterLite
	}
	switch level {
	case FilterLite:
		switch {
		case odd && four:
			c.TriggerFilterTime = gap
		case odd:
			c.TriggerFilterTime = gap >> 2
		case four:
			c.TriggerFilterTime = (gap * 3) >> 3
		default:
			c.TriggerFilterTime = gap >> 1
		}
	case FilterMedium:
		switch {
		case odd && four:
			c.TriggerFilterTime = (gap * 5) >> 2
		case odd:
			c.TriggerFilterTime = gap >> 1
		case four:
			c.TriggerFilterTime = gap >> 1
		default:
			c.TriggerFilterTime = (gap * 3) >> 2
		}
	case FilterAggressive:
		switch {
		case odd && four:
			c.TriggerFilterTime = (gap * 11) >> 3
		case odd:
			c.TriggerFilterTime = gap >> 1
		case four:
			c.TriggerFilterTime = (gap * 9) >> 5
		default:
			c.TriggerFilterTime = gap
		}
	default:
		c.TriggerFilterTime = 0
	}
}

func (c *Context) fourG63Secondary(now uint32) {
	c.CurTime2 = now
	c.CurGap2 = now - c.ToothLastSecToothTime
	if c.CurGap2 < c.TriggerSecFilterTime {
		return
	}
	c.ToothLastSecToothTime = now
	c.Flags.Set(FlagValidTrigger)
	c.TriggerSecFilterTime = c.CurGap2 >> 1

	crank := c.readPin(c.pins.Primary)
	if !c.Engine.HasSync {
		// Without this sync is hard to regain after a stall.
		c.TriggerFilterTime = 1500
		c.TriggerSecFilterTime >>= 1
		switch {
		case crank && c.Config.Cylinders == 4 && c.ToothCurrentCount == 8:
			c.Engine.HasSync = true
		case crank && c.Config.Cylinders == 6 && c.ToothCurrentCount == 7:
			c.Engine.HasSync = true
		case !crank && c.Config.Cylinders == 4 && c.ToothCurrentCount == 5:
			c.Engine.HasSync = true
		}
	}

	if (c.Engine.RPM < c.Config.CrankRPM || c.Config.UseResync) && c.Engine.HasSync && c.Config.Cylinders == 4 {
		c.TriggerSecFilterTimeDuration = (now - c.SecondaryLastToothTime1) >> 1
		// With the crank high the cam can only fall on tooth 8.
		if crank && c.ToothCurrentCount != 8 {
			c.loseSync()
		}
	}
}

func (c *Context) fourG63RPM() uint16 {
	if !c.Engine.HasSync {
		return 0
	}
	if c.Engine.RPM >= c.Config.CrankRPM {
		rpm := c.stdGetRPM(true)
		c.MaxStallTime = max(c.revolutionTime()<<1, minDistributorStall)
		return rpm
	}
	return c.unevenCrankingRPM()
}

// unevenCrankingRPM estimates RPM from the last edge gap and the angle it
// spanned, on wheels with alternating tooth angles.
func (c *Context) unevenCrankingRPM() uint16 {
	if c.ToothLastToothTime == 0 || c.ToothLastMinusOneToothTime == 0 {
		return 0
	}
	angle := uint32(c.TriggerToothAngle)
	toothTime := (c.ToothLastToothTime - c.ToothLastMinusOneToothTime) * 36
	if toothTime == 0 || angle == 0 {
		return c.Engine.RPM
	}
	rpm := angle * (crankmath.MicrosPerMin / 10) / toothTime
	c.setRevolutionTime(10 * toothTime / angle)
	c.MaxStallTime = minDistributorStall
	return uint16(min(rpm, 0xFFFF))
}

func (c *Context) fourG63CrankAngle() int {
	if !c.Engine.HasSync || c.ToothCurrentCount == 0 || c.ToothCurrentCount > c.TriggerActualTeeth {
		return 0
	}
	angle := c.toothAngle(c.ToothCurrentCount) + int(c.Config.TriggerAngle)
	c.LastCrankAngleCalc = c.micros()
	c.ElapsedTime = c.LastCrankAngleCalc - c.ToothLastToothTime
	angle += c.timeToAngleIntervalTooth(c.ElapsedTime)
	return c.normaliseCrankAngle(angle)
}

func (c *Context) fourG63EndTeeth() {
	var teeth [4]uint16
	switch {
	case c.Config.SparkMode == SparkSequential && (c.Config.Cylinders == 4 || c.Config.Cylinders == 6):
		teeth = [4]uint16{8, 2, 4, 6}
	case c.Config.Cylinders == 4:
		teeth = [4]uint16{4, 2, 4, 2}
	case c.Config.Cylinders == 6:
		teeth = [4]uint16{6, 2, 4, 2}
	default:
		return
	}
	for i, t := range teeth {
		c.ignition(i).EndTooth = t
	}
}

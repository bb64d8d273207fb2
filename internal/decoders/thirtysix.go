package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// 36-2-2-2 (Subaru H4/H6) and 36-2-1 (Mitsubishi 4B11): nominal 36 tooth
// crank wheels with more than one gap. The gap layout alone gives sync.

func (c *Context) setupThirtySixMinus222() Decoder {
	c.TriggerToothAngle = 10
	c.TriggerActualTeeth = 30
	c.TriggerFilterTime = minToothGap(36)
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Clear(FlagIsSequential)
	c.Flags.Set(FlagHasSecondary)
	c.CheckSyncToothCount = c.Config.TriggerTeeth >> 1
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle) * 2

	return c.baseBuilder().
		SetPrimaryTrigger(c.thirtySixMinus222Primary, c.Config.TrigEdge).
		// The cam input is attached but carries nothing for this wheel.
		SetSecondaryTrigger(func(uint32) {}, c.Config.TrigEdgeSec).
		SetGetRPM(c.thirtySixMinus222RPM).
		SetGetCrankAngle(c.missingToothCrankAngle).
		SetSetEndTeeth(c.thirtySixMinus222EndTeeth).
		Build()
}

func (c *Context) thirtySixMinus222Primary(now uint32) {
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	if c.CurGap < c.TriggerFilterTime {
		return
	}
	c.ToothCurrentCount++
	c.Flags.Set(FlagValidTrigger)

	// ToothSystemCount is 1 after the first gap of a pair, 0 otherwise.
	if c.ToothSystemCount == 0 {
		c.TargetGap = (c.ToothLastToothTime - c.ToothLastMinusOneToothTime) * 2
	}
	if c.ToothLastToothTime == 0 || c.ToothLastMinusOneToothTime == 0 {
		c.CurGap = 0
	}

	if c.CurGap > c.TargetGap {
		if c.ToothSystemCount == 1 {
			// First tooth after the double gap.
			switch c.Config.Cylinders {
			case 4:
				c.ToothCurrentCount = 19
			case 6:
				c.ToothCurrentCount = 12
			}
			c.ToothSystemCount = 0
			c.Engine.HasSync = true
		} else {
			// Not yet known whether this gap is single or part of a pair.
			c.ToothSystemCount = 1
			c.ToothCurrentCount += 2
		}
		c.Flags.Clear(FlagToothAngleCorrect)
		c.TriggerFilterTime = 0
	} else {
		if c.ToothCurrentCount > 36 {
			c.ToothCurrentCount = 1
			c.RevolutionOne = !c.RevolutionOne
			c.markToothOne(now)
			c.Engine.StartRevolutions++
		} else if c.ToothSystemCount == 1 {
			// A single gap followed by a regular tooth.
			switch c.Config.Cylinders {
			case 4:
				c.ToothCurrentCount = 35
				c.Engine.HasSync = true
			case 6:
				c.ToothCurrentCount = 34
				c.Engine.HasSync = true
			}
		}
		c.setFilter(c.CurGap)
		c.Flags.Set(FlagToothAngleCorrect)
		c.ToothSystemCount = 0
	}
	c.shiftToothTimes(now)

	if c.Config.PerToothIgn {
		crankAngle := (int(c.ToothCurrentCount)-1)*int(c.TriggerToothAngle) + int(c.Config.TriggerAngle)
		c.checkPerToothTiming(c.ignitionLimits(crankAngle), c.ToothCurrentCount)
	}
}

// thirtySixMinus222Gaps are the teeth whose last gap spans missing teeth.
var thirtySixMinus222Gaps = map[uint8][3]uint16{
	4: {19, 16, 34},
	6: {9, 12, 33},
}

func (c *Context) thirtySixMinus222RPM() uint16 {
	if c.Engine.RPM >= c.Config.CrankRPM {
		return c.stdGetRPM(false)
	}
	gaps, ok := thirtySixMinus222Gaps[c.Config.Cylinders]
	if !ok || !c.Flags.Has(FlagToothAngleCorrect) {
		return c.Engine.RPM
	}
	for _, t := range gaps {
		if c.ToothCurrentCount == t {
			return c.Engine.RPM
		}
	}
	return c.crankingGetRPM(36, false)
}

// advanceTooth picks the end tooth for the current advance from a table of
// 10 degree steps. Advance past the table uses last.
func (c *Context) advanceTooth(steps []uint16, last uint16) uint16 {
	adv := int(c.Engine.Advance)
	for i, t := range steps {
		if adv < (i+1)*10 {
			return t
		}
	}
	return last
}

func (c *Context) thirtySixMinus222EndTeeth() {
	switch c.Config.Cylinders {
	case 4:
		c.ignition(0).EndTooth = c.advanceTooth([]uint16{36, 35, 34}, 31)
		c.ignition(1).EndTooth = c.advanceTooth([]uint16{16, 16, 16}, 13)
	case 6:
		c.ignition(0).EndTooth = c.advanceTooth([]uint16{36, 35, 34, 33}, 31)
		c.ignition(1).EndTooth = c.advanceTooth([]uint16{9, 9}, 6)
		c.ignition(2).EndTooth = c.advanceTooth([]uint16{23, 22, 21, 20}, 19)
	}
}

func (c *Context) setupThirtySixMinus21() Decoder {
	c.TriggerToothAngle = 10
	c.TriggerActualTeeth = 33
	c.TriggerFilterTime = minToothGap(36)
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Clear(FlagIsSequential)
	c.Flags.Set(FlagHasSecondary)
	c.CheckSyncToothCount = c.Config.TriggerTeeth >> 1
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle) * 2

	return c.baseBuilder().
		SetPrimaryTrigger(c.thirtySixMinus21Primary, c.Config.TrigEdge).
		SetSecondaryTrigger(c.missingToothSecondary, c.Config.TrigEdgeSec).
		SetGetRPM(c.thirtySixMinus21RPM).
		SetGetCrankAngle(c.missingToothCrankAngle).
		SetSetEndTeeth(c.thirtySixMinus21EndTeeth).
		Build()
}

func (c *Context) thirtySixMinus21Primary(now uint32) {
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	if c.CurGap < c.TriggerFilterTime {
		return
	}
	c.ToothCurrentCount++
	c.Flags.Set(FlagValidTrigger)

	// The single gap is 1.5 to 3 teeth long, the double one longer.
	c.TargetGap2 = 3 * (c.ToothLastToothTime - c.ToothLastMinusOneToothTime)
	c.TargetGap = c.TargetGap2 >> 1
	if c.ToothLastToothTime == 0 || c.ToothLastMinusOneToothTime == 0 {
		c.CurGap = 0
	}

	if c.CurGap > c.TargetGap {
		if c.CurGap < c.TargetGap2 {
			c.ToothCurrentCount = 20
		} else {
			c.ToothCurrentCount = 1
		}
		c.Engine.HasSync = true
		c.Flags.Clear(FlagToothAngleCorrect)
		c.TriggerFilterTime = 0
	} else {
		if c.ToothCurrentCount > 36 || c.ToothCurrentCount == 1 {
			c.ToothCurrentCount = 1
			c.RevolutionOne = !c.RevolutionOne
			c.markToothOne(now)
			c.Engine.StartRevolutions++
		}
		c.setFilter(c.CurGap)
		c.Flags.Set(FlagToothAngleCorrect)
	}
	c.shiftToothTimes(now)

	if c.Config.PerToothIgn {
		crankAngle := (int(c.ToothCurrentCount)-1)*int(c.TriggerToothAngle) + int(c.Config.TriggerAngle)
		c.checkPerToothTiming(c.ignitionLimits(crankAngle), c.ToothCurrentCount)
	}
}

func (c *Context) thirtySixMinus21RPM() uint16 {
	if c.Engine.RPM >= c.Config.CrankRPM {
		return c.stdGetRPM(false)
	}
	if c.ToothCurrentCount != 20 && c.Flags.Has(FlagToothAngleCorrect) {
		return c.crankingGetRPM(36, false)
	}
	return c.Engine.RPM
}

func (c *Context) thirtySixMinus21EndTeeth() {
	c.ignition(0).EndTooth = 10
	c.ignition(1).EndTooth = 28
}

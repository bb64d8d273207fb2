package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// A single wheel of evenly spaced teeth with one or more teeth missing.
// The first tooth after the gap is tooth #1. An optional cam input gives
// the cycle phase for sequential operation.

func (c *Context) triggerTeeth() uint16 {
	return max(c.Config.TriggerTeeth, 1)
}

// minToothGap is the tooth gap at the maximum RPM for a wheel of teeth
// teeth per revolution.
func minToothGap(teeth uint16) uint32 {
	return crankmath.MicrosPerSec / (crankmath.MaxRPM / 60 * uint32(max(teeth, 1)))
}

func (c *Context) setupMissingTooth() Decoder {
	teeth := c.triggerTeeth()
	c.Flags.Clear(FlagIsSequential)
	c.TriggerToothAngle = 360 / teeth
	if c.isCamSpeed() {
		c.TriggerToothAngle = 720 / teeth
		c.Flags.Set(FlagIsSequential)
	}
	c.TriggerActualTeeth = teeth - c.Config.MissingTeeth
	c.TriggerFilterTime = minToothGap(teeth)
	if c.Config.SecPattern == Sec4Minus1 {
		c.TriggerSecFilterTime = crankmath.MicrosPerMin / crankmath.MaxRPM / 4 / 2
	} else {
		c.TriggerSecFilterTime = crankmath.MicrosPerSec / (crankmath.MaxRPM / 60)
	}
	c.Flags.Clear(FlagSecondDerivative)
	c.CheckSyncToothCount = teeth >> 1
	c.ToothLastMinusOneToothTime = 0
	c.ToothCurrentCount = 0
	c.SecondaryToothCount = 0
	c.ThirdToothCount = 0
	c.ToothOneTime = 0
	c.ToothOneMinusOneTime = 0
	// Slowest accepted speed is 50 RPM.
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle) * uint32(c.Config.MissingTeeth+1)
	hasSecondary := !c.isCamSpeed() &&
		(c.Config.SparkMode == SparkSequential || c.Config.InjLayout == InjSequential || c.Config.VVTEnabled)
	c.Flags.SetTo(FlagHasSecondary, hasSecondary)

	b := c.baseBuilder().
		SetPrimaryTrigger(c.missingToothPrimary, c.Config.TrigEdge).
		SetGetRPM(c.missingToothRPM).
		SetGetCrankAngle(c.missingToothCrankAngle).
		SetSetEndTeeth(c.missingToothEndTeeth)
	if hasSecondary {
		b.SetSecondaryTrigger(c.missingToothSecondary, c.Config.TrigEdgeSec)
	}
	if c.Config.VVT2Enabled {
		b.SetTertiaryTrigger(c.missingToothTertiary, c.Config.TrigEdgeThird)
	}
	return b.Build()
}

func (c *Context) missingToothPrimary(now uint32) {
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	if c.CurGap < c.TriggerFilterTime {
		return
	}
	c.ToothCurrentCount++
	c.Flags.Set(FlagValidTrigger)

	if c.ToothLastToothTime > 0 && c.ToothLastMinusOneToothTime > 0 {
		isMissingTooth := false
		// Past sync the gap can only be in the last quarter of the wheel.
		if !c.Engine.HasSync || c.Engine.RPM < 2000 || c.ToothCurrentCount >= (3*c.TriggerActualTeeth)>>2 {
			lastGap := c.ToothLastToothTime - c.ToothLastMinusOneToothTime
			if c.Config.MissingTeeth == 1 {
				c.TargetGap = (3 * lastGap) >> 1
			} else {
				c.TargetGap = lastGap * uint32(c.Config.MissingTeeth)
			}
			if c.CurGap > c.TargetGap || c.ToothCurrentCount > c.TriggerActualTeeth {
				isMissingTooth = true
				if c.ToothCurrentCount < c.TriggerActualTeeth && c.Engine.HasSync {
					// Gap arrived early: a tooth was lost.
					c.loseSync()
				} else {
					c.missingToothToothOne(now)
				}
			}
		}
		if !isMissingTooth {
			c.setFilter(c.CurGap)
			c.shiftToothTimes(now)
			c.Flags.Set(FlagToothAngleCorrect)
		}
	} else {
		c.shiftToothTimes(now)
	}

	if c.perToothIgnActive() {
		crankAngle := (int(c.ToothCurrentCount)-1)*int(c.TriggerToothAngle) + int(c.Config.TriggerAngle)
		if c.Config.SparkMode == SparkSequential && c.RevolutionOne && !c.isCamSpeed() && c.Config.Strokes == FourStroke {
			crankAngle = c.ignitionLimits(crankAngle + 360)
			c.checkPerToothTiming(crankAngle, c.Config.TriggerTeeth+c.ToothCurrentCount)
		} else {
			c.checkPerToothTiming(c.ignitionLimits(crankAngle), c.ToothCurrentCount)
		}
	}
}

func (c *Context) missingToothToothOne(now uint32) {
	if c.hasAnySync() {
		c.Engine.StartRevolutions++
		if c.isCamSpeed() {
			c.Engine.StartRevolutions++
		}
	} else {
		c.Engine.StartRevolutions = 0
	}
	c.ToothCurrentCount = 1
	if c.Config.SecPattern == SecPoll {
		c.RevolutionOne = c.Config.PollLevelHigh == c.readPin(c.pins.Secondary)
	} else {
		c.RevolutionOne = !c.RevolutionOne
	}
	c.markToothOne(now)

	if c.Config.SparkMode == SparkSequential || c.Config.InjLayout == InjSequential {
		// Sequential needs the cam phase unless the wheel itself is on the cam.
		if c.SecondaryToothCount > 0 || c.isCamSpeed() || c.Config.SecPattern == SecPoll || c.Config.Strokes == TwoStroke {
			c.setSync()
		} else if !c.Engine.HasSync {
			c.Engine.HalfSync = true
		}
	} else {
		c.setSync()
	}
	if c.Config.SecPattern == SecSingle || c.Config.SecPattern == SecToyota3 {
		c.SecondaryToothCount = 0
	}
	// An intermittent sensor must not leave the filter wedged open.
	c.TriggerFilterTime = 0
	c.shiftToothTimes(now)
	// The gap spans more than one tooth angle.
	c.Flags.Clear(FlagToothAngleCorrect)
}

func (c *Context) missingToothSecondary(now uint32) {
	c.CurTime2 = now
	c.CurGap2 = now - c.ToothLastSecToothTime
	if c.ToothLastSecToothTime == 0 {
		c.CurGap2 = 0
		c.ToothLastSecToothTime = now
	}
	if c.CurGap2 < c.TriggerSecFilterTime {
		return
	}
	switch c.Config.SecPattern {
	case Sec4Minus1:
		c.TargetGap2 = (3 * (c.ToothLastSecToothTime - c.ToothLastMinusOneSecToothTime)) >> 1
		c.ToothLastMinusOneSecToothTime = c.ToothLastSecToothTime
		if c.CurGap2 >= c.TargetGap2 || c.SecondaryToothCount > 3 {
			c.SecondaryToothCount = 1
			c.RevolutionOne = true
			c.TriggerSecFilterTime = 0
			c.recordVVT1Angle()
		} else {
			c.TriggerSecFilterTime = c.CurGap2 >> 2
			c.SecondaryToothCount++
		}
	case SecPoll:
		// Phase comes from the level at tooth #1; only the VVT angle is taken here.
		c.TriggerSecFilterTime = c.CurGap2 >> 1
		c.recordVVT1Angle()
	case SecSingle:
		c.RevolutionOne = true
		c.TriggerSecFilterTime = c.CurGap2 >> 1
		c.SecondaryToothCount++
		c.recordVVT1Angle()
	case SecToyota3:
		// One tooth in the first revolution, two in the second.
		c.SecondaryToothCount++
		if c.SecondaryToothCount == 2 {
			c.RevolutionOne = true
			c.recordVVT1Angle()
		}
		c.TriggerSecFilterTime = c.CurGap2 >> 2
	}
	c.ToothLastSecToothTime = now
}

// missingToothTertiary records the exhaust cam angle. The input is not
// debounced beyond a quarter of the last gap.
func (c *Context) missingToothTertiary(now uint32) {
	c.CurTime3 = now
	c.CurGap3 = now - c.ToothLastThirdToothTime
	if c.ToothLastThirdToothTime == 0 {
		c.CurGap3 = 0
		c.ToothLastThirdToothTime = now
	}
	if c.CurGap3 < c.TriggerThirdFilterTime {
		return
	}
	c.ThirdToothCount++
	c.TriggerThirdFilterTime = c.CurGap3 >> 2
	c.recordVVT2Angle()
	c.ToothLastThirdToothTime = now
}

func (c *Context) missingToothRPM() uint16 {
	if c.Engine.RPM < c.Config.CrankRPM {
		// The gap distorts the single tooth estimate at tooth #1.
		if c.ToothCurrentCount != 1 {
			return c.crankingGetRPM(c.Config.TriggerTeeth, c.isCamSpeed())
		}
		return c.Engine.RPM
	}
	return c.stdGetRPM(c.isCamSpeed())
}

func (c *Context) missingToothCrankAngle() int {
	angle := (int(c.ToothCurrentCount)-1)*int(c.TriggerToothAngle) + int(c.Config.TriggerAngle)
	if c.RevolutionOne && !c.isCamSpeed() {
		angle += 360
	}
	angle += c.elapsedAngle(c.ToothLastToothTime)
	return c.normaliseCrankAngle(angle)
}

// clampToToothCount wraps a tooth number into [1, teeth+adder].
func (c *Context) clampToToothCount(tooth int, adder uint16) uint16 {
	toothRange := int(c.Config.TriggerTeeth) + int(adder)
	return uint16(crankmath.Nudge(1, toothRange, tooth, toothRange))
}

// clampToActualTeeth moves a tooth that falls in the gap back to the last
// real tooth.
func (c *Context) clampToActualTeeth(tooth, adder uint16) uint16 {
	if tooth > c.TriggerActualTeeth && tooth <= c.Config.TriggerTeeth {
		tooth = c.TriggerActualTeeth
	}
	return min(tooth, c.TriggerActualTeeth+adder)
}

func (c *Context) missingToothEndTooth(endAngle int, adder uint16) uint16 {
	tooth := (endAngle - int(c.Config.TriggerAngle)) / int(max(c.TriggerToothAngle, 1))
	// Leave a tooth of margin for the calculation on fine wheels.
	if c.Config.TriggerTeeth > 12 {
		tooth--
	}
	return c.clampToActualTeeth(c.clampToToothCount(tooth, adder), adder)
}

func (c *Context) missingToothEndTeeth() {
	var adder uint16
	if (c.Config.SparkMode == SparkSequential || c.Config.SparkMode == SparkSingle) && !c.isCamSpeed() && c.Config.Strokes == FourStroke {
		adder = c.Config.TriggerTeeth
	}
	c.setEndTeethEach(func(endAngle int) uint16 {
		return c.missingToothEndTooth(endAngle, adder)
	})
}

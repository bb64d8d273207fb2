package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Chrysler NGC: a 36 tooth crank wheel with two gaps of opposite polarity,
// so the primary runs on both edges. The 4 cylinder cam has gaps of opposite
// polarity too; the 6 and 8 cylinder cams identify position from the tooth
// counts of two consecutive groups.

// ngcCamGroups are the tooth counts per cam group. Entry 0 repeats the last
// group and the final entry repeats group 1.
var ngcCamGroups = map[uint8][]int16{
	6: {1, 3, 1, 2, 3, 2, 1, 3},
	8: {3, 1, 1, 2, 3, 2, 2, 1, 3, 1},
}

func (c *Context) setupNGC() Decoder {
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Set(FlagIsSequential)
	c.Flags.Set(FlagHasSecondary)

	c.Config.TriggerTeeth = 36
	c.TriggerToothAngle = 10
	c.TriggerFilterTime = crankmath.MicrosPerSec / (crankmath.MaxRPM / 60) / (360 / uint32(c.TriggerToothAngle))
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle) * 2

	// Nearest cam edges are 36 degrees apart on the 4 cylinder wheel and 21
	// on the others; cam speed doubles the window.
	if c.Config.Cylinders == 4 {
		c.TriggerSecFilterTime = crankmath.MicrosPerSec / (crankmath.MaxRPM / 60) / (360 / 36) * 2
	} else {
		c.TriggerSecFilterTime = crankmath.MicrosPerSec / (crankmath.MaxRPM / 60) / (360 / 21) * 2
	}
	if groups, ok := ngcCamGroups[c.Config.Cylinders]; ok {
		copy(c.ToothAngles[:], groups)
	}

	b := c.baseBuilder().
		SetPrimaryTrigger(c.ngcPrimary, EdgeChange).
		SetGetRPM(c.ngcRPM).
		SetGetCrankAngle(c.missingToothCrankAngle).
		SetSetEndTeeth(c.ngcEndTeeth)
	if c.Config.Cylinders == 4 {
		b.SetSecondaryTrigger(c.ngc4Secondary, EdgeChange)
	} else {
		b.SetSecondaryTrigger(c.ngc68Secondary, EdgeFalling)
	}
	return b.Build()
}

func (c *Context) ngcSequential() bool {
	return c.Config.SparkMode == SparkSequential || c.Config.InjLayout == InjSequential
}

// ngcCamPhase reports whether the cam position seen at a crank gap puts
// the engine in the first or second revolution.
func (c *Context) ngcCamPhase() (first, second bool) {
	tooth := c.ToothCurrentCount
	in := func(v uint16, set ...uint16) bool {
		for _, s := range set {
			if v == s {
				return true
			}
		}
		return false
	}
	sys := uint16(c.ToothSystemCount)
	sec := c.SecondaryToothCount
	switch c.Config.Cylinders {
	case 4:
		first = (tooth == 1 && in(sec, 1, 2)) || (tooth == 19 && sec == 4)
		second = (tooth == 1 && sec == 5) || (tooth == 19 && sec == 7)
	case 6:
		first = (tooth == 1 && in(sys, 1, 2)) || (tooth == 19 && in(sys, 2, 3))
		second = (tooth == 1 && in(sys, 4, 5)) || (tooth == 19 && in(sys, 5, 6))
	case 8:
		first = (tooth == 1 && in(sys, 1, 2)) || (tooth == 19 && in(sys, 3, 4))
		second = (tooth == 1 && in(sys, 5, 6)) || (tooth == 19 && in(sys, 7, 8))
	}
	return first, second
}

func (c *Context) ngcPrimary(now uint32) {
	c.CurTime = now
	// The gap polarity is found from how long ago the last tooth rose.
	if c.readPin(c.pins.Primary) {
		c.ToothLastToothRisingTime = now
		return
	}
	c.CurGap = now - c.ToothLastToothTime
	if c.CurGap < c.TriggerFilterTime {
		return
	}
	c.ToothCurrentCount++
	c.Flags.Set(FlagValidTrigger)
	isMissingTooth := false

	if c.ToothLastToothTime > 0 && c.ToothLastMinusOneToothTime > 0 {
		if c.ToothCurrentCount == 17 || c.ToothCurrentCount == 35 || !c.hasAnySync() {
			if c.CurGap > (c.ToothLastToothTime-c.ToothLastMinusOneToothTime)*2 {
				isMissingTooth = true
				c.TriggerFilterTime = 0
				c.Flags.Clear(FlagToothAngleCorrect)

				if c.ToothLastToothRisingTime-c.ToothLastToothTime < now-c.ToothLastToothRisingTime {
					// Just passed the high gap.
					c.ToothCurrentCount = 1
					c.markToothOne(now)
					if c.Engine.HasSync {
						c.Engine.StartRevolutions++
					} else {
						c.Engine.StartRevolutions = 0
					}
				} else {
					// First tooth after the low gap.
					c.ToothCurrentCount = 19
				}

				if c.ngcSequential() {
					first, second := c.ngcCamPhase()
					switch {
					case first:
						c.RevolutionOne = false
						c.setSync()
					case second:
						c.RevolutionOne = true
						c.setSync()
					default:
						if c.Engine.HasSync {
							c.Engine.SyncLossCounter++
						}
						c.Engine.HasSync = false
						c.Engine.HalfSync = true
					}
				} else {
					c.setSync()
				}
			} else {
				// Expected a gap here and did not get one.
				if c.Engine.HasSync {
					c.Engine.SyncLossCounter++
				}
				c.Engine.HasSync = false
				c.Engine.HalfSync = false
			}
		}
		if !isMissingTooth {
			c.setFilter(c.CurGap)
			c.Flags.Set(FlagToothAngleCorrect)
		}
	}

	if isMissingTooth {
		// Keep a regular tooth length as the last gap.
		c.ToothLastMinusOneToothTime = now - (c.ToothLastToothTime - c.ToothLastMinusOneToothTime)
	} else {
		c.ToothLastMinusOneToothTime = c.ToothLastToothTime
	}
	c.ToothLastToothTime = now

	if c.perToothIgnActive() {
		crankAngle := c.ignitionLimits((int(c.ToothCurrentCount)-1)*int(c.TriggerToothAngle) + int(c.Config.TriggerAngle))
		if c.Config.SparkMode == SparkSequential && c.RevolutionOne && !c.isCamSpeed() {
			c.checkPerToothTiming(crankAngle+360, c.Config.TriggerTeeth+c.ToothCurrentCount)
		} else {
			c.checkPerToothTiming(crankAngle, c.ToothCurrentCount)
		}
	}
}

func (c *Context) ngc4Secondary(now uint32) {
	if !c.ngcSequential() {
		return
	}
	c.CurTime2 = now
	if c.readPin(c.pins.Secondary) {
		c.ToothLastSecToothRisingTime = now
		return
	}
	c.CurGap2 = now - c.ToothLastSecToothTime
	if c.CurGap2 <= c.TriggerSecFilterTime {
		return
	}
	if c.ToothLastSecToothTime > 0 && c.ToothLastMinusOneSecToothTime > 0 {
		if c.SecondaryToothCount > 0 {
			c.SecondaryToothCount++
		}
		if c.CurGap2 >= (3*(c.ToothLastSecToothTime-c.ToothLastMinusOneSecToothTime))>>1 {
			if c.ToothLastSecToothRisingTime-c.ToothLastSecToothTime < now-c.ToothLastSecToothRisingTime {
				// High gap.
				if c.SecondaryToothCount == 0 || c.SecondaryToothCount == 8 {
					c.SecondaryToothCount = 1
				} else {
					c.SecondaryToothCount = 0
				}
			} else {
				// Low gap.
				if c.SecondaryToothCount == 0 || c.SecondaryToothCount == 5 {
					c.SecondaryToothCount = 5
				} else {
					c.SecondaryToothCount = 0
				}
			}
			c.TriggerSecFilterTime = 0
		} else if c.SecondaryToothCount > 0 {
			c.TriggerSecFilterTime = c.CurGap2 >> 2
		}
	}
	c.ToothLastMinusOneSecToothTime = c.ToothLastSecToothTime
	c.ToothLastSecToothTime = now
}

// ngc68Secondary tracks the cam group in ToothSystemCount; 0 means no cam
// sync. CheckSyncToothCount holds the tooth count of the previous group.
func (c *Context) ngc68Secondary(now uint32) {
	if !c.ngcSequential() {
		return
	}
	c.CurTime2 = now
	c.CurGap2 = now - c.ToothLastSecToothTime
	if c.CurGap2 <= c.TriggerSecFilterTime {
		return
	}
	if c.ToothLastSecToothTime > 0 && c.ToothLastToothTime > 0 && c.ToothLastMinusOneToothTime > 0 {
		// A single tooth group breaks a cam based target, so compare with
		// the crank: one cam tooth spans about 2.1 crank teeth.
		if c.CurGap2 >= 3*(c.ToothLastToothTime-c.ToothLastMinusOneToothTime) {
			cyl := c.Config.Cylinders
			if c.SecondaryToothCount > 0 && c.CheckSyncToothCount > 0 {
				if c.ToothSystemCount > 0 && c.SecondaryToothCount == uint16(c.ToothAngles[c.ToothSystemCount+1]) {
					c.ToothSystemCount++
					if c.ToothSystemCount > cyl {
						c.ToothSystemCount = 1
					}
				} else {
					c.ToothSystemCount = 0
					for group := uint8(1); group <= cyl && int(group) < len(c.ToothAngles); group++ {
						if c.SecondaryToothCount == uint16(c.ToothAngles[group]) && c.CheckSyncToothCount == uint16(c.ToothAngles[group-1]) {
							c.ToothSystemCount = group
							break
						}
					}
				}
			}
			c.CheckSyncToothCount = c.SecondaryToothCount
			c.SecondaryToothCount = 1
			c.TriggerSecFilterTime = 0
		} else if c.SecondaryToothCount > 0 {
			c.SecondaryToothCount++
			c.TriggerSecFilterTime = c.CurGap2 >> 2
		}
	}
	c.ToothLastSecToothTime = now
}

func (c *Context) ngcRPM() uint16 {
	if c.Engine.RPM >= c.Config.CrankRPM {
		return c.stdGetRPM(false)
	}
	if c.Flags.Has(FlagToothAngleCorrect) {
		return c.crankingGetRPM(36, false)
	}
	return c.Engine.RPM
}

// ngcSkipMissing moves an end tooth that falls in a gap to the tooth
// before it.
func ngcSkipMissing(tooth uint16) uint16 {
	switch {
	case tooth == 17 || tooth == 18:
		return 16
	case tooth == 35 || tooth == 36:
		return 34
	case tooth == 53 || tooth == 54:
		return 52
	case tooth > 70:
		return 70
	}
	return tooth
}

func (c *Context) ngcEndTeeth() {
	var adder uint16
	if c.Config.SparkMode == SparkSequential && !c.isCamSpeed() {
		adder = c.Config.TriggerTeeth
	}
	c.setEndTeethEach(func(endAngle int) uint16 {
		tooth := (endAngle - int(c.Config.TriggerAngle)) / int(c.TriggerToothAngle)
		return ngcSkipMissing(c.clampToToothCount(tooth-1, adder))
	})
}

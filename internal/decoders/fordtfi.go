package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Ford TFI: a distributor wheel with one tooth per cylinder, rising edges
// evenly spaced. Cylinder 1 has a narrow tooth whose falling edge, on the
// secondary input, gives the signature.

func (c *Context) setupFordTFI() Decoder {
	c.TriggerActualTeeth = uint16(max(c.Config.Cylinders, 1))
	c.TriggerToothAngle = 720 / c.TriggerActualTeeth
	c.ToothCurrentCount = 0
	c.TriggerFilterTime = crankmath.MicrosPerSec / (crankmath.MaxRPM / 30 * uint32(c.TriggerActualTeeth))
	// The signature tooth is narrower, so about 80% of the primary filter.
	c.TriggerSecFilterTime = c.TriggerFilterTime * 4 / 5
	c.LastSyncRevolution = 0
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Set(FlagIsSequential)
	c.Flags.Set(FlagToothAngleCorrect)
	c.Flags.Set(FlagHasSecondary)
	if c.Config.Cylinders <= 4 {
		// 90 RPM minimum; 50 would stall for too long on a four.
		c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 90) * uint32(c.TriggerToothAngle)
	} else {
		c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle)
	}

	return c.baseBuilder().
		SetPrimaryTrigger(c.fordTFIPrimary, c.Config.TrigEdge).
		SetSecondaryTrigger(c.fordTFISecondary, c.Config.TrigEdgeSec).
		SetGetRPM(c.fordTFIRPM).
		SetGetCrankAngle(c.fordTFICrankAngle).
		SetSetEndTeeth(c.fordTFIEndTeeth).
		Build()
}

func (c *Context) fordTFIPrimary(now uint32) {
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
	c.ToothCurrentCount++
	if c.ToothCurrentCount > c.TriggerActualTeeth {
		// Up to four cam turns are allowed without a signature.
		if c.Engine.HasSync && c.LastSyncRevolution+3 < c.Engine.StartRevolutions {
			c.Engine.HasSync = false
			c.Engine.SyncLossCounter++
		}
		c.ToothCurrentCount = 1
		c.markToothOne(now)
		c.Engine.StartRevolutions++
	}
	c.Flags.Set(FlagValidTrigger)

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

// fordTFISecondary looks for a wide gap before a narrow one, measured
// against the last primary gap. LastGap holds the gap two teeth back.
func (c *Context) fordTFISecondary(now uint32) {
	c.CurTime2 = now
	c.CurGap2 = now - c.ToothLastSecToothTime
	if c.ToothLastSecToothTime == 0 {
		c.CurGap2 = 0
		c.ToothLastSecToothTime = now
	}

	if c.CurGap2 >= c.TriggerSecFilterTime {
		if c.CurGap > 0 && c.CurGap < 20000000 {
			c.TargetGap2 = c.CurGap * 110 / 100
			c.TargetGap3 = c.CurGap * 90 / 100
		} else {
			c.TargetGap2 = 0
			c.TargetGap3 = 0
		}
		signature := c.CurGap2 > c.TargetGap2 && c.CurGap3 < c.TargetGap3 &&
			c.LastGap < c.TargetGap2 && c.LastGap > c.TargetGap3
		if signature {
			if !c.Engine.HasSync || c.Engine.StartRevolutions <= uint32(c.Config.StgCycles) {
				// The last primary tooth was #2.
				c.ToothCurrentCount = 2
				c.TriggerFilterTime = 0
				c.Engine.HasSync = true
			} else {
				if c.ToothCurrentCount != 2 && c.Engine.StartRevolutions > 2 {
					c.Engine.SyncLossCounter++
				}
				if c.Config.UseResync {
					c.ToothCurrentCount = 2
					c.Engine.HasSync = true
				}
			}
			c.LastSyncRevolution = c.Engine.StartRevolutions
		}
		c.ToothLastSecToothTime = now
		c.LastGap = c.CurGap3
		c.CurGap3 = c.CurGap2
	}
	c.TriggerSecFilterTime = c.CurGap >> 1
}

func (c *Context) fordTFIRPM() uint16 {
	var rpm uint16
	if c.Engine.RPM < c.Config.CrankRPM || c.Engine.RPM < 1500 {
		rpm = c.crankingGetRPM(c.TriggerActualTeeth, true)
	} else {
		rpm = c.stdGetRPM(true)
	}
	c.MaxStallTime = max(c.revolutionTime()<<1, minDistributorStall)
	return rpm
}

func (c *Context) fordTFICrankAngle() int {
	tooth := int(c.ToothCurrentCount)
	// The secondary was the last tooth seen.
	if tooth == 0 {
		tooth = 2
	}
	angle := (tooth-1)*int(c.TriggerToothAngle) + int(c.Config.TriggerAngle)
	angle += c.elapsedAngle(c.ToothLastToothTime)
	return c.normaliseCrankAngle(angle)
}

func (c *Context) fordTFIEndTeeth() {
	angle := c.ignitionLimits(c.ignition(0).EndAngle - int(c.Config.TriggerAngle))
	var teeth []uint16
	switch c.Config.Cylinders {
	case 4:
		teeth = []uint16{1, 2}
		if angle > 180 || angle <= 0 {
			teeth = []uint16{2, 1}
		}
	case 6:
		switch {
		case angle > 120 && angle <= 240:
			teeth = []uint16{2, 3, 1}
		case angle > 240 || angle <= 0:
			teeth = []uint16{3, 1, 2}
		default:
			teeth = []uint16{1, 2, 3}
		}
	case 8:
		switch {
		case angle > 90 && angle <= 180:
			teeth = []uint16{2, 3, 4, 1}
		case angle > 180 && angle <= 270:
			teeth = []uint16{3, 4, 1, 2}
		case angle > 270 || angle <= 0:
			teeth = []uint16{4, 1, 2, 3}
		default:
			teeth = []uint16{1, 2, 3, 4}
		}
	}
	for i, t := range teeth {
		c.ignition(i).EndTooth = t
	}
}

package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Yamaha Vmax (1990+): six uneven crank lobes, one of them wide. Both
// edges are taken so the lobe width can be measured; the wide lobe is
// tooth #1. ToothCurrentCount counts lobe ends, SecondaryToothCount lobe
// starts.

var vmaxAngles = [6]int16{0, 40, 110, 180, 220, 290}

func (c *Context) setupVmax() Decoder {
	c.TriggerToothAngle = 0
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Clear(FlagIsSequential)
	c.Flags.Clear(FlagHasSecondary)
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * 60
	if !c.initialised {
		c.ToothLastToothTime = c.micros()
	}
	c.TriggerFilterTime = 1500
	// The first lobe start must pass or the width is never measured.
	c.Flags.Set(FlagValidTrigger)
	copy(c.ToothAngles[:], vmaxAngles[:])

	return c.baseBuilder().
		SetPrimaryTrigger(c.vmaxPrimary, EdgeChange).
		SetGetRPM(c.vmaxRPM).
		SetGetCrankAngle(c.vmaxCrankAngle).
		Build()
}

// vmaxLobeFilter is the next filter for each lobe start. The gap before
// lobes 1 and 4 is 70 degrees with 40 to follow, before 2 and 5 the other
// way round.
func (c *Context) vmaxLobeFilter(lobe uint16, gap uint32) {
	switch lobe {
	case 1, 4:
		c.setFilter(gap * 4 / 7)
	case 2, 5:
		c.setFilter(gap * 7 / 4)
	default:
		c.setFilter(gap)
	}
}

func (c *Context) vmaxPrimary(now uint32) {
	c.CurTime = now
	// A VR conditioner may invert the signal, so the configured edge says
	// which level starts a lobe.
	lobeStartLevel := c.Config.TrigEdge == EdgeRising
	if c.readPin(c.pins.Primary) == lobeStartLevel {
		c.CurGap2 = now
		c.CurGap = now - c.ToothLastToothTime
		if c.CurGap < c.TriggerFilterTime {
			c.Flags.Clear(FlagValidTrigger)
			return
		}
		c.Flags.Set(FlagValidTrigger)
		if c.ToothCurrentCount == 0 {
			// No sync until the wide lobe has been measured.
			c.TriggerFilterTime = 0
			return
		}
		lobe := c.ToothCurrentCount
		if lobe >= 1 && lobe <= 6 {
			c.SecondaryToothCount = lobe
			if lobe == 2 || lobe == 5 {
				c.TriggerToothAngle = 40
			} else {
				c.TriggerToothAngle = 70
			}
			if lobe == 1 {
				c.markToothOne(now)
				c.Engine.HasSync = true
				c.Engine.StartRevolutions++
			}
			c.vmaxLobeFilter(lobe, c.CurGap)
		}
		c.shiftToothTimes(now)
		// The first pulse seen.
		if c.TriggerFilterTime > 50000 {
			c.TriggerFilterTime = 0
		}
		return
	}

	if !c.Flags.Has(FlagValidTrigger) {
		c.Flags.Set(FlagValidTrigger)
		return
	}
	// Lobe end: small lobes are 5 degrees wide, the wide one 45.
	width := now - c.CurGap2
	switch {
	case width > c.LastGap*2:
		if c.ToothCurrentCount == 0 || c.ToothCurrentCount == 6 {
			c.Engine.HasSync = true
		} else {
			c.Engine.SyncLossCounter++
		}
		c.ToothCurrentCount = 1
	case c.ToothCurrentCount == 6:
		// The sixth lobe should have been the wide one.
		c.ToothCurrentCount = 1
		c.Engine.SyncLossCounter++
	default:
		c.ToothCurrentCount++
	}
	c.LastGap = width
}

func (c *Context) vmaxRPM() uint16 {
	if !c.Engine.HasSync {
		return 0
	}
	if uint32(c.Engine.RPM) >= uint32(c.Config.CrankRPM)*100 {
		return c.stdGetRPM(false)
	}
	if c.ToothLastToothTime == 0 || c.ToothLastMinusOneToothTime == 0 {
		return 0
	}
	c.setRevolutionTime(c.ToothOneTime - c.ToothOneMinusOneTime)
	toothTime := (c.ToothLastToothTime - c.ToothLastMinusOneToothTime) * 36
	if toothTime == 0 {
		return c.Engine.RPM
	}
	return uint16(min(uint32(c.TriggerToothAngle)*(crankmath.MicrosPerMin/10)/toothTime, 0xFFFF))
}

func (c *Context) vmaxCrankAngle() int {
	angle := c.toothAngle(c.SecondaryToothCount) + int(c.Config.TriggerAngle)
	angle += c.elapsedAngle(c.ToothLastToothTime)
	return c.normaliseCrankAngle(angle)
}

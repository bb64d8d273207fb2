package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Miata 99-05: four 70 degree crank teeth read on both edges, and a cam
// with one and two tooth groups. Tooth angles match the 4G63; tooth #6 is
// the first crank edge after the double cam pulse.

var miataAngles = []int16{710, 100, 170, 280, 350, 460, 530, 640}

func (c *Context) setupMiata9905() Decoder {
	c.TriggerToothAngle = 90
	c.ToothCurrentCount = noSyncTooth
	c.Flags.Clear(FlagSecondDerivative)
	c.Flags.Set(FlagIsSequential)
	c.TriggerActualTeeth = uint16(len(miataAngles))
	if !c.initialised {
		c.SecondaryToothCount = 0
		c.ToothLastToothTime = c.micros()
	} else {
		c.ToothLastToothTime = 0
	}
	c.ToothLastMinusOneToothTime = 0
	copy(c.ToothAngles[:], miataAngles)
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle)
	c.TriggerFilterTime = 1500
	c.TriggerSecFilterTime = 0
	c.Flags.Set(FlagHasFixedCranking)
	c.Flags.Set(FlagToothAngleCorrect)
	c.Flags.Set(FlagHasSecondary)

	return c.baseBuilder().
		SetPrimaryTrigger(c.miataPrimary, EdgeChange).
		SetSecondaryTrigger(c.miataSecondary, EdgeFalling).
		SetGetRPM(c.miataRPM).
		SetGetCrankAngle(c.miataCrankAngle).
		SetSetEndTeeth(c.miataEndTeeth).
		Build()
}

func (c *Context) miataPrimary(now uint32) {
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	if c.CurGap < c.TriggerFilterTime && c.Engine.StartRevolutions != 0 {
		return
	}
	c.ToothCurrentCount++
	c.Flags.Set(FlagValidTrigger)
	if c.ToothCurrentCount == c.TriggerActualTeeth+1 {
		c.ToothCurrentCount = 1
		c.markToothOne(now)
		c.Engine.StartRevolutions++
	} else if (!c.Engine.HasSync || c.Config.UseResync) && c.SecondaryToothCount == 2 {
		c.ToothCurrentCount = 6
		c.Engine.HasSync = true
	}

	if c.Engine.HasSync {
		c.unevenPairFilter(true)
		if c.Config.Filter == FilterOff && c.Engine.RPM >= 1400 {
			c.TriggerSecFilterTime = 0
		}
		if c.Config.PerToothIgn && c.Config.TriggerAngle == 0 && c.Engine.Advance > 0 {
			c.tablePerToothTiming()
		}
	}

	c.shiftToothTimes(now)

	// The margin above cranking RPM keeps a pulse that started under fixed
	// timing from ending under normal timing.
	if c.Config.IgnCrankLock && c.Engine.RPM < c.Config.CrankRPM+30 {
		switch c.ToothCurrentCount {
		case 1, 5:
			c.fireCoil(0)
			c.fireCoil(2)
		case 3, 7:
			c.fireCoil(1)
			c.fireCoil(3)
		}
	}
	c.SecondaryToothCount = 0
}

func (c *Context) miataSecondary(now uint32) {
	c.CurTime2 = now
	c.CurGap2 = now - c.ToothLastSecToothTime
	if c.Engine.Cranking || !c.Engine.HasSync {
		c.TriggerFilterTime = 1500
	}
	if c.CurGap2 < c.TriggerSecFilterTime {
		return
	}
	c.ToothLastSecToothTime = now
	c.LastGap = c.CurGap2
	c.SecondaryToothCount++
	if c.ToothCurrentCount == 1 && now > c.ToothLastToothTime {
		c.LastVVTTime = now - c.ToothLastToothTime
		c.miataCamAngle()
	}
}

// miataCamAngle records the cam advance from the time between tooth #1
// (10 degrees BTDC) and the single cam tooth.
func (c *Context) miataCamAngle() {
	if !c.Config.VVTEnabled {
		return
	}
	angle := 370 - c.timeToAngleDegPerMicroSec(c.LastVVTTime) - int(c.Config.VVTCL0DutyAngle)
	c.Engine.VVT1Angle = lowPassFilter(angle<<1, c.Config.AngleFilterVVT, c.Engine.VVT1Angle)
}

func (c *Context) miataRPM() uint16 {
	if c.Engine.RPM < c.Config.CrankRPM && c.Engine.HasSync {
		return c.unevenCrankingRPM()
	}
	rpm := c.stdGetRPM(true)
	c.MaxStallTime = max(c.revolutionTime()<<1, minDistributorStall)
	return rpm
}

func (c *Context) miataCrankAngle() int {
	angle := c.toothAngle(c.ToothCurrentCount) + int(c.Config.TriggerAngle)
	angle += c.elapsedAngle(c.ToothLastToothTime)
	return c.normaliseCrankAngle(angle)
}

func (c *Context) miataEndTeeth() {
	var teeth [4]uint16
	seq := c.Config.SparkMode == SparkSequential
	switch {
	case c.Engine.Advance >= 10 && seq:
		teeth = [4]uint16{8, 2, 4, 6}
	case c.Engine.Advance > 0 && seq:
		teeth = [4]uint16{1, 3, 5, 7}
	case c.Engine.Advance >= 10:
		teeth = [4]uint16{4, 2, 4, 2}
	case c.Engine.Advance > 0:
		teeth = [4]uint16{1, 3, 1, 3}
	default:
		return
	}
	for i, t := range teeth {
		c.ignition(i).EndTooth = t
	}
}

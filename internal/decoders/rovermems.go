package decoders

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// Rover MEMS: 36 tooth flywheels with one of five gap layouts, identified
// from the last 32 tooth slots seen. The cam is absent, a single tooth or
// a 5-3-2 wheel.

// roverMEMSWheel is a flywheel layout: the slot bit pattern that ends at
// tooth #1, the teeth after a gap and the number of missing teeth.
type roverMEMSWheel struct {
	id      uint8
	pattern uint32
	skip    [4]uint16
	missing uint16
}

var roverMEMSWheels = []roverMEMSWheel{
	{5, 0b11111101111111011111111110111111, [4]uint16{1, 11, 19, 30}, 4}, // 9-7-10-6
	{4, 0b11011101111111111111101101111111, [4]uint16{8, 11, 25, 27}, 4}, // 3-14-2-13
	{3, 0b11011011111111111111011101111111, [4]uint16{8, 10, 24, 27}, 4}, // 2-14-3-13
	{2, 0b11111101111101111111111110111101, [4]uint16{1, 12, 17, 29}, 4}, // 11-5-12-4
	{1, 0b11111111111101111111111111111101, [4]uint16{1, 18}, 2},         // 17-17
}

type roverMEMSState struct {
	teethSeen uint32
	wheel     *roverMEMSWheel
}

func (c *Context) rover() *roverMEMSState {
	return c.pattern.(*roverMEMSState)
}

func (c *Context) setupRoverMEMS() Decoder {
	c.pattern = &roverMEMSState{}
	c.TriggerFilterTime = minToothGap(36)
	// One cam tooth per cycle.
	c.TriggerSecFilterTime = crankmath.MicrosPerSec / (crankmath.MaxRPM / 60)
	c.Config.TriggerTeeth = 36
	c.TriggerToothAngle = 360 / c.Config.TriggerTeeth
	// All 36 slots count so the wheel can be found in the first turn.
	c.TriggerActualTeeth = 36
	c.SecondaryLastToothCount = 0
	c.RevolutionOne = false
	c.MaxStallTime = (crankmath.MicrosPerDeg1RPM / 50) * uint32(c.TriggerToothAngle) * 2
	c.Flags.Set(FlagHasSecondary)

	return c.baseBuilder().
		SetPrimaryTrigger(c.roverMEMSPrimary, c.Config.TrigEdge).
		SetSecondaryTrigger(c.roverMEMSSecondary, c.Config.TrigEdgeSec).
		SetGetRPM(c.roverMEMSRPM).
		SetGetCrankAngle(c.missingToothCrankAngle).
		SetSetEndTeeth(c.roverMEMSEndTeeth).
		Build()
}

func (c *Context) roverMEMSPrimary(now uint32) {
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	if c.CurGap < c.TriggerFilterTime {
		return
	}
	st := c.rover()

	if c.ToothLastToothTime > 0 && c.ToothLastMinusOneToothTime > 0 {
		c.TargetGap = (3 * (c.ToothLastToothTime - c.ToothLastMinusOneToothTime)) >> 1
		if c.CurGap > c.TargetGap {
			// A gap slot and a tooth. The filter is left alone across gaps.
			st.teethSeen = st.teethSeen<<2 | 1
			c.ToothCurrentCount += 2
		} else {
			st.teethSeen = st.teethSeen<<1 | 1
			c.ToothCurrentCount++
			c.setFilter(c.CurGap)
		}

		if c.ToothCurrentCount >= c.TriggerActualTeeth {
			matched := false
			for i := range roverMEMSWheels {
				w := &roverMEMSWheels[i]
				if st.teethSeen != w.pattern {
					continue
				}
				if st.wheel != w {
					st.wheel = w
					c.Config.MissingTeeth = w.missing
					c.TriggerActualTeeth = 36
				}
				c.roverMEMSToothOne(now)
				matched = true
				break
			}
			if !matched && c.ToothCurrentCount > c.TriggerActualTeeth+1 {
				c.Engine.HasSync = false
				c.Engine.HalfSync = false
				c.Engine.SyncLossCounter++
			}
		}
	}
	c.shiftToothTimes(now)

	if c.perToothIgnActive() {
		crankAngle := c.ignitionLimits((int(c.ToothCurrentCount)-1)*int(c.TriggerToothAngle) + int(c.Config.TriggerAngle))
		if c.Config.SparkMode == SparkSequential && c.RevolutionOne {
			c.checkPerToothTiming(crankAngle+360, c.Config.TriggerTeeth+c.ToothCurrentCount)
		} else {
			c.checkPerToothTiming(crankAngle, c.ToothCurrentCount)
		}
	}
}

// roverMEMSToothOne handles a recognised wheel. The 17-17 wheel repeats
// every half turn, so without a cam tooth 18 and 36 look the same.
func (c *Context) roverMEMSToothOne(now uint32) {
	if c.ToothCurrentCount > 18 {
		c.ToothCurrentCount = 1
		c.markToothOne(now)
		c.RevolutionOne = !c.RevolutionOne
	}
	if c.Config.SparkMode == SparkSequential || c.Config.InjLayout == InjSequential {
		if c.SecondaryToothCount > 0 || c.isCamSpeed() {
			c.setSync()
			if c.Config.SecPattern == SecSingle {
				c.SecondaryToothCount = 0
			}
		} else if !c.Engine.HasSync {
			c.Engine.HalfSync = true
		}
	} else {
		c.Engine.HasSync = false
		c.Engine.HalfSync = true
	}
	c.Engine.StartRevolutions++
}

func (c *Context) roverMEMSSecondary(now uint32) {
	c.CurTime2 = now
	c.CurGap2 = now - c.ToothLastSecToothTime
	if c.ToothLastSecToothTime == 0 {
		c.TargetGap2 = c.CurGap * 2
		c.CurGap2 = 0
		c.ToothLastSecToothTime = now
	}
	if c.CurGap2 < c.TriggerSecFilterTime {
		return
	}
	c.SecondaryToothCount++
	c.ToothLastSecToothTime = now

	if c.Config.VVTEnabled && (c.Config.SecPattern == SecSingle || (c.Config.SecPattern == Sec532 && c.SecondaryToothCount == 6)) {
		angle := c.decoderCrankAngle()
		for angle > 360 {
			angle -= 360
		}
		angle -= int(c.Config.TriggerAngle)
		if c.Config.VVTClosedLoop {
			angle -= int(c.Config.VVTCLMinAngle)
		}
		c.Engine.VVT1Angle = int16(angle)
	}

	switch c.Config.SecPattern {
	case SecSingle:
		c.RevolutionOne = true
		c.TriggerSecFilterTime = c.CurGap2 >> 1
	case Sec532:
		if c.CurGap2 < c.TargetGap2 {
			c.TriggerSecFilterTime = c.CurGap2 >> 1
			c.TargetGap2 = (3 * c.CurGap2) >> 1
			return
		}
		// The tooth after a gap: the group size before it gives the phase.
		switch c.SecondaryToothCount {
		case 6:
			c.RevolutionOne = false
			if c.ToothCurrentCount < 19 {
				c.ToothCurrentCount += 18
			}
		case 4:
			c.RevolutionOne = true
			if c.ToothCurrentCount > 17 {
				c.ToothCurrentCount -= 18
			}
		case 3:
			c.RevolutionOne = true
			if c.ToothCurrentCount < 19 {
				c.ToothCurrentCount += 18
			}
		}
		c.SecondaryToothCount = 1
	}
}

func (c *Context) roverMEMSSkipTeeth() [4]uint16 {
	if w := c.rover().wheel; w != nil {
		return w.skip
	}
	return [4]uint16{}
}

func (c *Context) roverMEMSRPM() uint16 {
	if c.Engine.RPM >= c.Config.CrankRPM {
		return c.stdGetRPM(false)
	}
	for _, t := range c.roverMEMSSkipTeeth() {
		if c.ToothCurrentCount == t {
			return c.Engine.RPM
		}
	}
	return c.crankingGetRPM(36, false)
}

// roverMEMSEndTeeth moves an end tooth that falls on the tooth after a gap
// to the one before. Only the first four channels are used.
func (c *Context) roverMEMSEndTeeth() {
	adder := 0
	if c.Config.SparkMode == SparkSequential && !c.isCamSpeed() {
		adder = 36
	}
	toothRange := 36 + adder
	skip := c.roverMEMSSkipTeeth()
	for i := 0; i < 4; i++ {
		ch := c.ignition(i)
		tooth := (ch.EndAngle-int(c.Config.TriggerAngle))/10 - 1
		if tooth > toothRange {
			tooth -= toothRange
		}
		if tooth <= 0 {
			tooth += toothRange
		}
		tooth = min(tooth, toothRange)

		checks := skip[:2]
		if c.Config.SparkMode == SparkSequential {
			checks = skip[:]
		}
		for _, s := range checks {
			if tooth == int(s) || (c.Config.SparkMode == SparkSequential && tooth == 36+int(s)) {
				tooth--
				break
			}
		}
		ch.EndTooth = uint16(tooth)
	}
}

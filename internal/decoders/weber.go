package decoders

// Weber-Marelli: four crank teeth 90 degrees apart and two cam teeth 90
// degrees apart. Setup and the RPM, angle and end tooth operations are the
// dual wheel ones; sync comes from counting crank teeth between cam teeth.

func (c *Context) setupWeber() Decoder {
	c.setupDualWheel()
	return c.baseBuilder().
		SetPrimaryTrigger(c.weberPrimary, c.Config.TrigEdge).
		SetSecondaryTrigger(c.weberSecondary, c.Config.TrigEdgeSec).
		SetGetRPM(c.dualWheelRPM).
		SetGetCrankAngle(c.dualWheelCrankAngle).
		SetSetEndTeeth(c.dualWheelEndTeeth).
		Build()
}

func (c *Context) weberPrimary(now uint32) {
	c.CurTime = now
	c.CurGap = now - c.ToothLastToothTime
	if c.CurGap < c.TriggerFilterTime {
		return
	}
	c.ToothCurrentCount++
	if c.CheckSyncToothCount > 0 {
		c.CheckSyncToothCount++
	}
	if c.TriggerSecFilterTime <= c.CurGap {
		c.TriggerSecFilterTime = c.CurGap + c.CurGap>>1
	}
	c.Flags.Set(FlagValidTrigger)
	c.shiftToothTimes(now)

	if c.Engine.HasSync {
		if c.ToothCurrentCount == 1 || c.ToothCurrentCount > c.Config.TriggerTeeth {
			c.ToothCurrentCount = 1
			c.RevolutionOne = !c.RevolutionOne
			c.markToothOne(now)
			c.Engine.StartRevolutions++
		}
		c.setFilter(c.CurGap)
	} else if c.SecondaryToothCount == 1 && c.CheckSyncToothCount == 4 {
		c.ToothCurrentCount = 2
		c.Engine.HasSync = true
		c.RevolutionOne = false
	}

	if c.perToothIgnActive() {
		crankAngle := (int(c.ToothCurrentCount)-1)*int(c.TriggerToothAngle) + int(c.Config.TriggerAngle)
		if c.Config.SparkMode == SparkSequential && c.RevolutionOne && !c.isCamSpeed() {
			c.checkPerToothTiming(crankAngle+360, c.Config.TriggerTeeth+c.ToothCurrentCount)
		} else {
			c.checkPerToothTiming(crankAngle, c.ToothCurrentCount)
		}
	}
}

// weberSecondary runs its filter off the crank tooth gap: 150% of a tooth
// between the two cam teeth, four teeth after the pair.
func (c *Context) weberSecondary(now uint32) {
	c.CurTime2 = now
	c.CurGap2 = now - c.ToothLastSecToothTime
	if c.CurGap2 < c.TriggerSecFilterTime {
		c.TriggerSecFilterTime = c.CurGap + c.CurGap>>1
		c.CheckSyncToothCount = 1
		return
	}
	c.ToothLastSecToothTime = now

	switch {
	case c.SecondaryToothCount == 2 && c.CheckSyncToothCount == 3:
		if !c.Engine.HasSync {
			c.ToothLastToothTime = now
			// Hold RPM at 10 until a full revolution has been timed.
			c.ToothLastMinusOneToothTime = now - 1500000
			c.ToothCurrentCount = c.Config.TriggerTeeth - 1
			c.Engine.HasSync = true
		} else {
			if c.ToothCurrentCount != c.Config.TriggerTeeth-1 && c.Engine.StartRevolutions > 2 {
				c.Engine.SyncLossCounter++
			}
			if c.Config.UseResync {
				c.ToothCurrentCount = c.Config.TriggerTeeth - 1
			}
		}
		c.RevolutionOne = true
		c.TriggerSecFilterTime = c.CurGap << 2
		c.SecondaryToothCount = 1
	case !c.Engine.HasSync && c.ToothCurrentCount >= 3 && c.SecondaryToothCount == 0:
		// First start: three or more crank teeth since the cam gap.
		c.ToothLastToothTime = now
		c.ToothLastMinusOneToothTime = now - 1500000
		c.ToothCurrentCount = 1
		c.RevolutionOne = true
		c.Engine.HasSync = true
	default:
		c.TriggerSecFilterTime = c.CurGap + c.CurGap>>1
		c.SecondaryToothCount++
		c.CheckSyncToothCount = 1
	}
}

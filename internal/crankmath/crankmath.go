package crankmath

const (
	microsPerDegreeShift = 8  // UQ24.8
	degreesPerMicroShift = 31 // UQ1.31
)

// Converter holds the scale factors for the current engine speed.
// Both factors are derived from the same revolution time so that the
// angle-to-time and time-to-angle directions stay consistent.
type Converter struct {
	revolutionTime  uint32
	microsPerDegree uint32 // UQ24.8
	degreesPerMicro uint64 // UQ1.31
}

// SetRevolutionTime stores the duration of one crank revolution and
// recomputes the scale factors. It reports whether the value changed.
func (c *Converter) SetRevolutionTime(revolutionTime uint32) bool {
	if revolutionTime == c.revolutionTime {
		return false
	}
	c.revolutionTime = revolutionTime
	if revolutionTime == 0 {
		c.microsPerDegree = 0
		c.degreesPerMicro = 0
		return true
	}
	c.microsPerDegree = Div360(revolutionTime << microsPerDegreeShift)
	num := uint64(360) << degreesPerMicroShift
	c.degreesPerMicro = (num + uint64(revolutionTime)/2) / uint64(revolutionTime)
	return true
}

// RevolutionTime returns the revolution time in microseconds.
func (c *Converter) RevolutionTime() uint32 {
	return c.revolutionTime
}

// TimePerDegree returns whole microseconds per crank degree, truncated.
func (c *Converter) TimePerDegree() uint32 {
	return c.microsPerDegree >> microsPerDegreeShift
}

// AngleToTimeMicroSecPerDegree converts a crank angle to microseconds at
// the current speed, rounding to the nearest microsecond.
func (c *Converter) AngleToTimeMicroSecPerDegree(angle uint16) uint32 {
	micros := uint64(angle) * uint64(c.microsPerDegree)
	return uint32((micros + 1<<(microsPerDegreeShift-1)) >> microsPerDegreeShift)
}

// TimeToAngleDegPerMicroSec converts microseconds to crank degrees at the
// current speed, rounding to the nearest degree.
func (c *Converter) TimeToAngleDegPerMicroSec(time uint32) uint16 {
	deg := uint64(time) * c.degreesPerMicro
	return uint16((deg + 1<<(degreesPerMicroShift-1)) >> degreesPerMicroShift)
}

// AngleToTimeIntervalRev converts an angle to microseconds using the
// last full revolution time. The result is truncated.
func (c *Converter) AngleToTimeIntervalRev(angle uint16) uint32 {
	return Div360(uint32(angle) * c.revolutionTime)
}

// TimeToAngleIntervalRev converts microseconds to degrees using the last
// full revolution time. The result is truncated.
func (c *Converter) TimeToAngleIntervalRev(time uint32) uint32 {
	if c.revolutionTime == 0 {
		return 0
	}
	return uint32(uint64(time) * 360 / uint64(c.revolutionTime))
}

// AngleToTimeIntervalTooth converts an angle to microseconds from a single
// inter-tooth interval spanning toothAngle degrees.
func AngleToTimeIntervalTooth(angle uint16, toothTime uint32, toothAngle uint16) uint32 {
	if toothAngle == 0 {
		return 0
	}
	return uint32(uint64(toothTime) * uint64(angle) / uint64(toothAngle))
}

// TimeToAngleIntervalTooth converts microseconds to degrees from a single
// inter-tooth interval spanning toothAngle degrees.
func TimeToAngleIntervalTooth(time, toothTime uint32, toothAngle uint16) uint32 {
	if toothTime == 0 {
		return 0
	}
	return uint32(uint64(time) * uint64(toothAngle) / uint64(toothTime))
}

// RPMFromRevolutionTime converts a revolution time to RPM, rounding to
// the nearest whole RPM. A zero time yields 0.
func RPMFromRevolutionTime(revolutionTime uint32) uint16 {
	if revolutionTime == 0 {
		return 0
	}
	return uint16(UDivRoundClosest(MicrosPerMin, revolutionTime))
}

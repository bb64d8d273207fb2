package schedule

import "github.com/sweeney/ecu-trigger/internal/crankmath"

// CalculateInjectorStartAngle returns the crank angle at which an injector
// must open so that a pulse lasting pwDegrees ends at injAngle, offset by
// the channel's phase. The result lies in [0, maxInj].
func CalculateInjectorStartAngle(pwDegrees uint16, channelDegrees int16, injAngle uint16, maxInj int) uint16 {
	angle := uint16(int(injAngle) + int(channelDegrees))
	if angle < pwDegrees {
		angle += uint16(maxInj)
	}
	angle -= pwDegrees
	for angle > uint16(maxInj) {
		angle -= uint16(maxInj)
	}
	return angle
}

// CalculateInjectorTimeout returns the microseconds until startAngle is
// reached from crankAngle, both relative to the channel's phase. A RUNNING
// schedule always looks one cycle ahead. Zero means the start has passed.
func CalculateInjectorTimeout(status Status, channelDegrees, startAngle, crankAngle int, timePerDegree uint32, maxInj int) uint32 {
	crank, start := relativeAngles(startAngle, channelDegrees, crankAngle, maxInj)
	if start <= crank && status == Running {
		start += maxInj
	}
	if start > crank {
		return uint32(start-crank) * timePerDegree
	}
	return 0
}

// CalculateIgnitionAngle sets the end and start angles of a channel for
// the given advance and dwell angle.
func CalculateIgnitionAngle(ch *IgnitionSchedule, dwellAngle uint16, advance int8, maxIgn int) {
	base := ch.ChannelDegrees
	if base == 0 {
		base = maxIgn
	}
	ch.EndAngle = base - int(advance)
	if ch.EndAngle > maxIgn {
		ch.EndAngle -= maxIgn
	}
	ch.StartAngle = ch.EndAngle - int(dwellAngle)
	if ch.StartAngle < 0 {
		ch.StartAngle += maxIgn
	}
}

// CalculateIgnitionTrailingRotary sets the trailing plug's angles on a
// rotary engine from the leading plug's end angle and the split.
func CalculateIgnitionTrailingRotary(leading *IgnitionSchedule, dwellAngle uint16, splitDegrees int, trailing *IgnitionSchedule, maxIgn int) {
	trailing.EndAngle = leading.EndAngle + splitDegrees
	trailing.StartAngle = trailing.EndAngle - int(dwellAngle)
	if trailing.StartAngle > maxIgn {
		trailing.StartAngle -= maxIgn
	}
	if trailing.StartAngle < 0 {
		trailing.StartAngle += maxIgn
	}
}

// CalculateIgnitionTimeout returns the microseconds until the channel's
// start angle is reached from crankAngle, measured against the last
// revolution time. Zero means the start has passed.
func CalculateIgnitionTimeout(ch *IgnitionSchedule, crankAngle int, conv *crankmath.Converter, maxIgn int) uint32 {
	crank, start := relativeAngles(ch.StartAngle, ch.ChannelDegrees, crankAngle, maxIgn)
	if start <= crank && ch.Status == Running {
		start += maxIgn
	}
	if start > crank {
		return conv.AngleToTimeIntervalRev(uint16(start - crank))
	}
	return 0
}

func relativeAngles(startAngle, channelDegrees, crankAngle, max int) (crank, start int) {
	crank = crankAngle - channelDegrees
	if crank < 0 {
		crank += max
	}
	start = startAngle - channelDegrees
	if start < 0 {
		start += max
	}
	return crank, start
}

// nextOccurrence is the angular distance to a start angle that has just
// been passed, one full cycle on.
func nextOccurrence(startAngle, channelDegrees, crankAngle, max int) int {
	crank, start := relativeAngles(startAngle, channelDegrees, crankAngle, max)
	diff := start + max - crank
	for diff <= 0 {
		diff += max
	}
	return diff
}

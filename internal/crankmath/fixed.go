// Package crankmath converts between elapsed time and crank angle using
// fixed-point scale factors derived from the last revolution time.
//
// All helpers operate on unsigned 32-bit microsecond values that wrap the
// same way the trigger clock does.
package crankmath

// Engine speed limits the conversions are valid for.
const (
	MaxRPM = 18000
	MinRPM = MicrosPerDeg1RPM/(0xFFFF/16) + 1
)

// Time constants in microseconds.
const (
	MicrosPerSec     = 1000000
	MicrosPerMin     = 60 * MicrosPerSec
	MicrosPerDeg1RPM = 166667 // microseconds per degree at 1 RPM, rounded
)

// Div360 divides n by 360, truncating toward zero.
func Div360(n uint32) uint32 {
	return n / 360
}

// Div100 divides n by 100, truncating toward zero.
func Div100(n uint32) uint32 {
	return n / 100
}

// RShiftRound shifts a right by b bits, rounding half up.
func RShiftRound(a uint32, b uint) uint32 {
	return (a + (1 << (b - 1))) >> b
}

// UDivRoundClosest divides n by d rounding to the nearest integer.
// A zero divisor returns 0.
func UDivRoundClosest(n, d uint32) uint32 {
	if d == 0 {
		return 0
	}
	return (n + d/2) / d
}

// Nudge moves value by amount when it falls outside [min, max]: values
// below min are increased, values above max are decreased.
func Nudge(min, max, value, amount int) int {
	if value < min {
		return value + amount
	}
	if value > max {
		return value - amount
	}
	return value
}

// WrapAngle normalises angle into [0, max).
func WrapAngle(angle, max int) int {
	for angle >= max {
		angle -= max
	}
	for angle < 0 {
		angle += max
	}
	return angle
}

// Package gpio attaches the trigger inputs and drives the injector and coil
// outputs. The real implementations use the Linux GPIO character device,
// with periph.io as an alternative output backend. The fakes allow testing
// without hardware.
package gpio

import "github.com/sweeney/ecu-trigger/internal/decoders"

// Watcher delivers trigger edges to the decoder handlers. Handlers receive
// the edge timestamp in microseconds of the monotonic clock.
type Watcher interface {
	decoders.Inputs

	// Close releases every requested line.
	Close() error
}

// Outputs drives injector and coil lines.
type Outputs interface {
	// Set drives pin high (active) or low.
	Set(pin int, high bool) error

	// Close drives every line low and releases it.
	Close() error
}

// Trigger input pin defaults (BCM numbering)
const (
	PinPrimary   = 17 // crank
	PinSecondary = 27 // cam
	PinTertiary  = 22 // exhaust cam
)

// Output pin defaults (BCM numbering), one per channel.
var (
	DefaultInjectorPins = []int{5, 6, 13, 19}
	DefaultCoilPins     = []int{12, 16, 20, 21}
)

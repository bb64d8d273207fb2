//go:build !linux

package gpio

import (
	"errors"
	"time"

	"github.com/sweeney/ecu-trigger/internal/decoders"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

var clockStart = time.Now()

// MonotonicMicros returns microseconds since process start, truncated to
// 32 bits.
func MonotonicMicros() uint32 {
	return uint32(time.Since(clockStart).Microseconds())
}

// ChipWatcher is not available on non-Linux platforms.
type ChipWatcher struct{}

// NewChipWatcher returns an error on non-Linux platforms.
func NewChipWatcher(string, ...int) (*ChipWatcher, error) {
	return nil, errUnsupported
}

// Attach is not implemented on non-Linux platforms.
func (w *ChipWatcher) Attach(int, decoders.Edge, func(uint32)) error { return errUnsupported }

// Detach is not implemented on non-Linux platforms.
func (w *ChipWatcher) Detach(int) error { return nil }

// Read is not implemented on non-Linux platforms.
func (w *ChipWatcher) Read(int) bool { return false }

// Close is not implemented on non-Linux platforms.
func (w *ChipWatcher) Close() error { return nil }

// ChipOutputs is not available on non-Linux platforms.
type ChipOutputs struct{}

// NewChipOutputs returns an error on non-Linux platforms.
func NewChipOutputs(string, []int) (*ChipOutputs, error) {
	return nil, errUnsupported
}

// Set is not implemented on non-Linux platforms.
func (o *ChipOutputs) Set(int, bool) error { return errUnsupported }

// Close is not implemented on non-Linux platforms.
func (o *ChipOutputs) Close() error { return nil }

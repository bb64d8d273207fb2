//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sweeney/ecu-trigger/internal/decoders"
	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"
)

// MonotonicMicros returns CLOCK_MONOTONIC in microseconds, truncated to 32
// bits. It is the clock the kernel stamps line events with, so decoder
// timestamps and main loop "now" values are comparable.
func MonotonicMicros() uint32 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint32(ts.Nano() / 1000)
}

// ChipWatcher delivers trigger edges from a Linux GPIO character device.
// Each attached pin is one line request with an event handler; handlers
// run on the request's event goroutine. Level pins are held as plain
// inputs from construction so Read never requests a line.
type ChipWatcher struct {
	chip    *gpiocdev.Chip
	request func(pin int, opts ...gpiocdev.LineReqOption) (inputLine, error)

	mu     sync.Mutex
	lines  map[int]inputLine
	levels map[int]bool
}

// inputLine is the part of a gpiocdev.Line the watcher uses.
type inputLine interface {
	Value() (int, error)
	Close() error
}

// NewChipWatcher opens the named chip (e.g. "gpiochip0") and holds each
// of levelPins as an input for Read.
func NewChipWatcher(chipName string, levelPins ...int) (*ChipWatcher, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	w := newChipWatcher(func(pin int, opts ...gpiocdev.LineReqOption) (inputLine, error) {
		return chip.RequestLine(pin, opts...)
	})
	w.chip = chip
	if err := w.hold(levelPins); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func newChipWatcher(request func(int, ...gpiocdev.LineReqOption) (inputLine, error)) *ChipWatcher {
	return &ChipWatcher{
		request: request,
		lines:   make(map[int]inputLine),
		levels:  make(map[int]bool),
	}
}

// hold requests pins as plain inputs and marks them as level pins.
func (w *ChipWatcher) hold(pins []int) error {
	for _, pin := range pins {
		w.mu.Lock()
		_, held := w.lines[pin]
		w.levels[pin] = true
		w.mu.Unlock()
		if held {
			continue
		}
		line, err := w.request(pin, gpiocdev.AsInput, gpiocdev.WithPullDown)
		if err != nil {
			return fmt.Errorf("request level pin %d: %w", pin, err)
		}
		w.mu.Lock()
		w.lines[pin] = line
		w.mu.Unlock()
	}
	return nil
}

func edgeOption(e decoders.Edge) (gpiocdev.LineReqOption, error) {
	switch e {
	case decoders.EdgeRising:
		return gpiocdev.WithRisingEdge, nil
	case decoders.EdgeFalling:
		return gpiocdev.WithFallingEdge, nil
	case decoders.EdgeChange:
		return gpiocdev.WithBothEdges, nil
	default:
		return nil, fmt.Errorf("unsupported edge %s", e)
	}
}

// Attach requests pin as an input with edge detection. Any earlier request
// for the pin, including a level hold, is released first.
func (w *ChipWatcher) Attach(pin int, edge decoders.Edge, handler func(now uint32)) error {
	opt, err := edgeOption(edge)
	if err != nil {
		return fmt.Errorf("attach pin %d: %w", pin, err)
	}
	if err := w.release(pin); err != nil {
		return err
	}

	line, err := w.request(pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		opt,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			handler(uint32(evt.Timestamp.Microseconds()))
		}),
	)
	if err != nil {
		return fmt.Errorf("request pin %d: %w", pin, err)
	}

	w.mu.Lock()
	w.lines[pin] = line
	w.mu.Unlock()
	return nil
}

// Detach releases the edge request for pin, if any. A level pin goes back
// to being held as a plain input.
func (w *ChipWatcher) Detach(pin int) error {
	if err := w.release(pin); err != nil {
		return err
	}
	w.mu.Lock()
	level := w.levels[pin]
	w.mu.Unlock()
	if level {
		return w.hold([]int{pin})
	}
	return nil
}

func (w *ChipWatcher) release(pin int) error {
	w.mu.Lock()
	line := w.lines[pin]
	delete(w.lines, pin)
	w.mu.Unlock()
	if line == nil {
		return nil
	}
	if err := line.Close(); err != nil {
		return fmt.Errorf("release pin %d: %w", pin, err)
	}
	return nil
}

// Read returns the level of an attached or held pin. Any other pin reads
// low.
func (w *ChipWatcher) Read(pin int) bool {
	w.mu.Lock()
	line := w.lines[pin]
	w.mu.Unlock()
	if line == nil {
		return false
	}
	v, err := line.Value()
	return err == nil && v == 1
}

// Close releases every line and the chip.
func (w *ChipWatcher) Close() error {
	w.mu.Lock()
	lines := w.lines
	w.lines = make(map[int]inputLine)
	w.mu.Unlock()

	var errs []error
	for pin, line := range lines {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release pin %d: %w", pin, err))
		}
	}
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ChipOutputs drives injector and coil lines on a Linux GPIO character
// device.
type ChipOutputs struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewChipOutputs requests every pin as an output driven low.
func NewChipOutputs(chipName string, pins []int) (*ChipOutputs, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	o := &ChipOutputs{chip: chip, lines: make(map[int]*gpiocdev.Line)}
	for _, pin := range pins {
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("request output pin %d: %w", pin, err)
		}
		o.lines[pin] = line
	}
	return o, nil
}

// Set drives pin high or low.
func (o *ChipOutputs) Set(pin int, high bool) error {
	line := o.lines[pin]
	if line == nil {
		return fmt.Errorf("output pin %d not requested", pin)
	}
	v := 0
	if high {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", pin, err)
	}
	return nil
}

// Close drives every line low, returns it to an input with pull-down
// (matching Pi boot defaults) and releases it.
func (o *ChipOutputs) Close() error {
	var errs []error
	for pin, line := range o.lines {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear pin %d: %w", pin, err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	o.lines = nil
	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}

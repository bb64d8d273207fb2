package gpio

import (
	"errors"
	"fmt"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphOutputs drives injector and coil lines through periph.io. Pins are
// looked up by BCM number as "GPIO<n>".
type PeriphOutputs struct {
	pins map[int]pgpio.PinIO
}

// NewPeriphOutputs initialises the periph host drivers and drives every
// pin low.
func NewPeriphOutputs(pins []int) (*PeriphOutputs, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	o := &PeriphOutputs{pins: make(map[int]pgpio.PinIO)}
	for _, n := range pins {
		name := fmt.Sprintf("GPIO%d", n)
		p := gpioreg.ByName(name)
		if p == nil {
			o.Close()
			return nil, fmt.Errorf("find output pin %s: no such pin", name)
		}
		if err := p.Out(pgpio.Low); err != nil {
			o.Close()
			return nil, fmt.Errorf("set output pin %s: %w", name, err)
		}
		o.pins[n] = p
	}
	return o, nil
}

// Set drives pin high or low.
func (o *PeriphOutputs) Set(pin int, high bool) error {
	p := o.pins[pin]
	if p == nil {
		return fmt.Errorf("output pin %d not requested", pin)
	}
	if err := p.Out(pgpio.Level(high)); err != nil {
		return fmt.Errorf("set pin %d: %w", pin, err)
	}
	return nil
}

// Close drives every pin low and leaves it as an input with pull-down.
func (o *PeriphOutputs) Close() error {
	var errs []error
	for n, p := range o.pins {
		if err := p.Out(pgpio.Low); err != nil {
			errs = append(errs, fmt.Errorf("clear pin %d: %w", n, err))
		}
		if err := p.In(pgpio.PullDown, pgpio.NoEdge); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", n, err))
		}
	}
	o.pins = nil
	return errors.Join(errs...)
}

// Package decoders turns crank and cam trigger edges into engine speed,
// crank angle and sync state for every supported trigger wheel pattern.
//
// One Context holds the active pattern and the tooth state it works on.
// Trigger handlers run inside the irq.Guard and never block or allocate.
// The Context query methods take the guard, so main loop callers get a
// consistent view; the raw Decoder operations do not and are meant for
// interrupt context and tests.
package decoders

import (
	"errors"
	"fmt"

	"github.com/sweeney/ecu-trigger/internal/crankmath"
	"github.com/sweeney/ecu-trigger/internal/irq"
	"github.com/sweeney/ecu-trigger/internal/schedule"
)

// Pins are the input lines the trigger handlers attach to.
type Pins struct {
	Primary   int
	Secondary int
	Tertiary  int
}

// Context owns the active decoder and every piece of state it mutates.
type Context struct {
	State

	Config Config
	Engine EngineStatus
	Log    ToothLog

	// FixedCrankingOverride disables per-tooth corrections while a fixed
	// cranking advance is in force.
	FixedCrankingOverride bool

	conv   *crankmath.Converter
	sched  *schedule.Scheduler
	guard  *irq.Guard
	micros func() uint32

	inputs Inputs
	pins   Pins

	id      ID
	decoder Decoder
	// initialised is set once the first decoder has been installed.
	initialised bool
	// pattern holds the per-pattern state of the active decoder.
	pattern any
}

// NewContext returns a context with the inert decoder installed. The
// scheduler supplies the angle converter and the ignition channels whose
// end teeth the decoders maintain.
func NewContext(cfg Config, sched *schedule.Scheduler, guard *irq.Guard, micros func() uint32) *Context {
	c := &Context{
		Config:  cfg,
		conv:    sched.Converter(),
		sched:   sched,
		guard:   guard,
		micros:  micros,
		decoder: NewBuilder().Build(),
		id:      ID(0xFF),
	}
	c.State.clear()
	return c
}

// SetInputs sets the input capability and pins used by SetDecoder.
func (c *Context) SetInputs(in Inputs, pins Pins) {
	c.inputs = in
	c.pins = pins
}

// Converter returns the angle converter shared with the scheduler.
func (c *Context) Converter() *crankmath.Converter { return c.conv }

// SetDecoder installs the pattern id, resetting all tooth and sync state,
// and moves the trigger inputs over to its handlers. An unknown id
// installs the inert decoder. Errors only come from the input layer.
func (c *Context) SetDecoder(id ID) error {
	var errs []error
	if c.inputs != nil {
		errs = append(errs, c.detachAll()...)
	}

	c.guard.Run(func() {
		c.State.clear()
		c.Log.Clear()
		c.Engine.HasSync = false
		c.Engine.HalfSync = false
		c.Engine.StartRevolutions = 0
		c.Engine.RPM = 0
		c.pattern = nil
		c.id = id
		c.decoder = c.build(id)
	})

	if c.inputs != nil {
		errs = append(errs, c.attachAll()...)
	}
	c.initialised = true
	return errors.Join(errs...)
}

func (c *Context) detachAll() []error {
	var errs []error
	for _, pin := range []int{c.pins.Primary, c.pins.Secondary, c.pins.Tertiary} {
		if err := c.inputs.Detach(pin); err != nil {
			errs = append(errs, fmt.Errorf("detach pin %d: %w", pin, err))
		}
	}
	return errs
}

func (c *Context) attachAll() []error {
	var errs []error
	primary := c.decoder.Primary
	secondary := c.decoder.Secondary
	if c.Engine.ToothLogEnabled {
		primary = c.loggerInterrupt(primary, c.pins.Primary, true)
		secondary = c.loggerInterrupt(secondary, c.pins.Secondary, false)
	}
	ints := []struct {
		name string
		i    Interrupt
		pin  int
	}{
		{"primary", primary, c.pins.Primary},
		{"secondary", secondary, c.pins.Secondary},
		{"tertiary", c.decoder.Tertiary, c.pins.Tertiary},
	}
	for _, x := range ints {
		if err := x.i.Attach(c.inputs, x.pin, c.dispatch); err != nil {
			errs = append(errs, fmt.Errorf("attach %s trigger on pin %d: %w", x.name, x.pin, err))
		}
	}
	return errs
}

// dispatch runs a trigger handler inside the guard.
func (c *Context) dispatch(h func(uint32)) func(uint32) {
	return func(now uint32) { c.guard.Dispatch(h, now) }
}

// ID returns the active pattern.
func (c *Context) ID() ID { return c.id }

// Decoder returns the active decoder.
func (c *Context) Decoder() Decoder { return c.decoder }

// UpdateRPM reads the decoder's RPM and stores it as the engine RPM.
func (c *Context) UpdateRPM() uint16 {
	c.guard.Disable()
	defer c.guard.Enable()
	c.Engine.RPM = c.decoder.GetRPM()
	return c.Engine.RPM
}

// CrankAngle returns the current crank angle.
func (c *Context) CrankAngle() int {
	c.guard.Disable()
	defer c.guard.Enable()
	return c.decoder.GetCrankAngle()
}

// IsEngineRunning reports whether a primary tooth was seen recently.
func (c *Context) IsEngineRunning(now uint32) bool {
	c.guard.Disable()
	defer c.guard.Enable()
	return c.decoder.IsEngineRunning(now)
}

// DecoderStatus returns the decoder's diagnostic status.
func (c *Context) DecoderStatus() Status {
	c.guard.Disable()
	defer c.guard.Enable()
	return c.decoder.GetStatus()
}

// SetEndTeeth recomputes the end tooth of every ignition channel.
func (c *Context) SetEndTeeth() {
	c.guard.Disable()
	defer c.guard.Enable()
	c.decoder.SetEndTeeth()
}

// Reset returns the decoder to unsynced with no revolutions counted.
func (c *Context) Reset() {
	c.guard.Disable()
	defer c.guard.Enable()
	c.decoder.Reset()
	c.Engine.HasSync = false
	c.Engine.HalfSync = false
	c.Engine.StartRevolutions = 0
	c.Engine.RPM = 0
}

// Snapshot is a consistent copy of the values the main loop reports.
type Snapshot struct {
	Pattern          ID
	Engine           EngineStatus
	Status           Status
	ToothCount       uint16
	RevolutionTime   uint32
	LastToothTime    uint32
	TriggerFilterUS  uint32
	ToothLogReady    bool
	IgnitionEndTeeth [schedule.Channels]uint16
}

// Snapshot copies the engine and decoder state under the guard.
func (c *Context) Snapshot() Snapshot {
	c.guard.Disable()
	defer c.guard.Enable()
	s := Snapshot{
		Pattern:         c.id,
		Engine:          c.Engine,
		Status:          c.decoder.GetStatus(),
		ToothCount:      c.ToothCurrentCount,
		RevolutionTime:  c.conv.RevolutionTime(),
		LastToothTime:   c.ToothLastToothTime,
		TriggerFilterUS: c.TriggerFilterTime,
		ToothLogReady:   c.Log.Ready(),
	}
	for i := range c.sched.Ignition {
		s.IgnitionEndTeeth[i] = c.sched.Ignition[i].EndTooth
	}
	return s
}

// IsStalled reports whether more than MaxStallTime has passed since the
// last primary tooth, measured modulo 2^32. A tooth stamped after now
// counts as stalled.
func (c *Context) IsStalled(now uint32) bool {
	c.guard.Disable()
	defer c.guard.Enable()
	return isStalled(now, c.ToothLastToothTime, c.MaxStallTime)
}

func isStalled(now, lastTooth, maxStall uint32) bool {
	return now-lastTooth >= maxStall
}

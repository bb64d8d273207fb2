package main

import (
	"sync/atomic"

	"github.com/sweeney/ecu-trigger/internal/crankmath"
	"github.com/sweeney/ecu-trigger/internal/decoders"
	"github.com/sweeney/ecu-trigger/internal/gpio"
	"github.com/sweeney/ecu-trigger/internal/irq"
	"github.com/sweeney/ecu-trigger/internal/logic"
	"github.com/sweeney/ecu-trigger/internal/schedule"
	"github.com/sweeney/ecu-trigger/internal/status"
)

// tuning is the fixed fuel and spark request the service runs with.
type tuning struct {
	Dwell    uint32 // coil charge time, microseconds
	PW       uint32 // injector pulse width, microseconds
	InjAngle uint16 // crank angle at which injection ends
	Advance  int8   // ignition advance, degrees BTDC
	Prime    uint32 // injector priming pulse, 0.5 ms units
}

// engine ties the decoder context to the scheduler and the output lines.
// Everything except the output callbacks runs on the main loop goroutine.
type engine struct {
	ctx    *decoders.Context
	sched  *schedule.Scheduler
	guard  *irq.Guard
	micros func() uint32
	tune   tuning

	injPins  []int
	coilPins []int
	fuel     int // fuel channels in use
	ign      int // ignition channels in use

	lastTick uint32
	carry    uint32
	// stalled is set once the outputs have been shut down for a stop, and
	// from the start until the first tooth.
	stalled bool
	// armed is set by the last step when the decoder has sync and an RPM,
	// which is when tick may arm events.
	armed bool

	// outputErrs counts failed output writes in the compare handlers,
	// which cannot log.
	outputErrs atomic.Uint32
}

// newEngine builds the scheduler and decoder context for cfg. The
// channel layout is fixed here, before any decoder reads it.
func newEngine(cfg decoders.Config, guard *irq.Guard, micros func() uint32, tune tuning, injPins, coilPins []int) *engine {
	sched := schedule.New(&crankmath.Converter{}, guard, micros)
	e := &engine{
		sched:    sched,
		guard:    guard,
		micros:   micros,
		tune:     tune,
		injPins:  injPins,
		coilPins: coilPins,
		lastTick: micros(),
		stalled:  true,
	}
	e.layout(cfg)
	e.ctx = decoders.NewContext(cfg, sched, guard, micros)
	return e
}

// layout spreads the fuel and ignition channels evenly over their cycle.
// Sequential layouts get one channel per cylinder over 720 degrees, the
// rest pair cylinders over 360.
func (e *engine) layout(cfg decoders.Config) {
	spread := func(sequential bool, pins int) (count, cycle int) {
		cyl := int(cfg.Cylinders)
		cycle = 720
		count = cyl
		if !sequential || cfg.Strokes == decoders.TwoStroke {
			cycle = 360
			count = max(cyl/2, 1)
		}
		return min(count, pins, schedule.Channels), cycle
	}

	e.ign, e.sched.MaxIgn = spread(cfg.SparkMode == decoders.SparkSequential, len(e.coilPins))
	e.fuel, e.sched.MaxInj = spread(cfg.InjLayout == decoders.InjSequential, len(e.injPins))
	for i := 0; i < e.ign; i++ {
		e.sched.Ignition[i].ChannelDegrees = i * e.sched.MaxIgn / e.ign
	}
	for i := 0; i < e.fuel; i++ {
		e.sched.Fuel[i].ChannelDegrees = i * e.sched.MaxInj / e.fuel
	}
}

// wire points the schedule callbacks at the output lines.
func (e *engine) wire(out gpio.Outputs) {
	set := func(pin int, high bool) func() {
		return func() {
			if err := out.Set(pin, high); err != nil {
				e.outputErrs.Add(1)
			}
		}
	}
	for i := 0; i < e.fuel; i++ {
		schedule.SetCallbacks(&e.sched.Fuel[i].Schedule, set(e.injPins[i], true), set(e.injPins[i], false))
	}
	for i := 0; i < e.ign; i++ {
		schedule.SetCallbacks(&e.sched.Ignition[i].Schedule, set(e.coilPins[i], true), set(e.coilPins[i], false))
	}
}

// prime fires the injector priming pulse.
func (e *engine) prime() {
	e.sched.BeginInjectorPriming(e.tune.Prime, e.fuel)
}

// tick advances every schedule timer by the time since the last tick and
// then arms the next event on every OFF channel. Microseconds short of a
// whole timer tick carry over.
func (e *engine) tick() {
	now := e.micros()
	elapsed := now - e.lastTick + e.carry
	e.lastTick = now
	if elapsed > schedule.MaxTimerPeriod {
		elapsed = schedule.MaxTimerPeriod
	}
	e.guard.Run(func() {
		for i := range e.sched.Fuel {
			e.carry = e.sched.Fuel[i].Timer.(*schedule.SoftTimer).Advance(elapsed)
		}
		for i := range e.sched.Ignition {
			e.sched.Ignition[i].Timer.(*schedule.SoftTimer).Advance(elapsed)
		}
	})
	e.arm(now)
}

// arm queues the next occurrence of every OFF channel. A channel goes OFF
// at the end of its event, well past its start angle, so the next start
// is always a cycle on. PENDING and RUNNING channels are left alone.
func (e *engine) arm(now uint32) {
	if !e.armed || e.ctx.IsStalled(now) {
		return
	}
	var ign, fuel [schedule.Channels]bool
	e.guard.Run(func() {
		for i := 0; i < e.ign; i++ {
			ign[i] = e.sched.Ignition[i].Status == schedule.Off
		}
		for i := 0; i < e.fuel; i++ {
			fuel[i] = e.sched.Fuel[i].Status == schedule.Off
		}
	})

	crank := e.ctx.CrankAngle()
	for i := 0; i < e.ign; i++ {
		if ign[i] {
			e.sched.ArmIgnition(&e.sched.Ignition[i], crank, e.tune.Dwell)
		}
	}
	for i := 0; i < e.fuel; i++ {
		if fuel[i] {
			e.sched.ArmFuel(&e.sched.Fuel[i], e.tune.InjAngle, crank, e.tune.PW)
		}
	}
}

// step is one pass of the main loop over the decoder: it refreshes RPM,
// advance and end teeth, or shuts everything down when the engine has
// stalled. It returns the sample for the event detector.
func (e *engine) step() logic.Input {
	now := e.micros()
	if !e.ctx.IsEngineRunning(now) {
		if !e.stalled {
			e.ctx.Reset()
			e.sched.AllOff()
			e.stalled = true
		}
		e.armed = false
		return e.input(false)
	}
	e.stalled = false

	rpm := e.ctx.UpdateRPM()
	cfg := e.ctx.Config
	e.guard.Run(func() {
		e.ctx.Engine.Cranking = rpm < cfg.CrankRPM
		e.ctx.Engine.Advance = e.tune.Advance
	})

	conv := e.ctx.Converter()
	if perDeg := conv.TimePerDegree(); perDeg > 0 {
		dwellAngle := uint16(e.tune.Dwell / perDeg)
		e.guard.Run(func() {
			for i := 0; i < e.ign; i++ {
				schedule.CalculateIgnitionAngle(&e.sched.Ignition[i], dwellAngle, e.tune.Advance, e.sched.MaxIgn)
			}
		})
		e.ctx.SetEndTeeth()
	}

	e.armed = e.ctx.DecoderStatus().Sync != decoders.SyncNone && rpm > 0
	return e.input(true)
}

func (e *engine) input(running bool) logic.Input {
	snap := e.ctx.Snapshot()
	return logic.Input{
		Running:    running,
		Sync:       snap.Status.Sync == decoders.SyncFull,
		RPM:        snap.Engine.RPM,
		Cranking:   snap.Engine.Cranking,
		SyncLosses: snap.Engine.SyncLossCounter,
	}
}

// engineStatus returns the decoder state for the status page.
func (e *engine) engineStatus() status.Engine {
	snap := e.ctx.Snapshot()
	return status.Engine{
		Pattern:          snap.Pattern.String(),
		RPM:              snap.Engine.RPM,
		CrankAngle:       e.ctx.CrankAngle(),
		HasSync:          snap.Engine.HasSync,
		HalfSync:         snap.Engine.HalfSync,
		SyncStatus:       snap.Status.Sync.String(),
		Cranking:         snap.Engine.Cranking,
		SyncLosses:       snap.Engine.SyncLossCounter,
		StartRevolutions: snap.Engine.StartRevolutions,
		RevolutionTime:   snap.RevolutionTime,
		ToothCount:       snap.ToothCount,
		ToothLogReady:    snap.ToothLogReady,
		EndTeeth:         append([]uint16(nil), snap.IgnitionEndTeeth[:e.ign]...),
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/sweeney/ecu-trigger/internal/capture"
	"github.com/sweeney/ecu-trigger/internal/crankmath"
	"github.com/sweeney/ecu-trigger/internal/decoders"
	"github.com/sweeney/ecu-trigger/internal/irq"
	"github.com/sweeney/ecu-trigger/internal/schedule"
	"github.com/sweeney/ecu-trigger/internal/wheel"
)

// Capture pins the wheel channels are framed on.
var simPins = decoders.Pins{Primary: 2, Secondary: 3, Tertiary: 4}

// start is the time of tooth #1. It is well clear of zero so the first
// teeth are not mistaken for a stall.
const start = 1_000_000

// Spark request used to place the ignition end teeth.
const (
	simDwell   = 3000 // microseconds
	simAdvance = 10   // degrees BTDC
)

type run struct {
	RPM     int
	Cycles  int
	Step    int // crank degrees between samples
	Corrupt int // insert a corrupt frame every Corrupt frames, 0 for none
}

type sample struct {
	Time  uint32 // since tooth #1
	Wheel int    // true crank angle, folded into 360
	Crank int    // decoder crank angle
	Error int    // Crank - Wheel, folded into [-180, 180)
	// Counted is set once the decoder has full sync and a settled RPM.
	Counted bool
	Sync    decoders.SyncStatus
	RPM     uint16
	Tooth   uint16
}

type channel struct {
	Index    int
	Degrees  int
	EndAngle int
	EndTooth uint16
}

type result struct {
	Edges    int
	Frames   uint64
	Bad      uint64
	Samples  []sample
	Channels []channel
	Synced   bool
	MaxError int
}

// clockedInputs stamps the simulation clock with each edge before the
// decoder sees it.
type clockedInputs struct {
	*capture.Source
	clock *uint32
}

func (in clockedInputs) Attach(pin int, edge decoders.Edge, fn func(now uint32)) error {
	return in.Source.Attach(pin, edge, func(now uint32) {
		*in.clock = now
		fn(now)
	})
}

// simulate generates the wheel for cfg, frames every edge, and replays
// the stream through a capture source into a decoder. The decoder is
// sampled every r.Step crank degrees.
func simulate(cfg decoders.Config, r run) (*result, error) {
	if r.Step <= 0 || r.Step > 720 {
		return nil, fmt.Errorf("invalid sample step %d", r.Step)
	}
	w, err := wheel.ForPattern(cfg.Pattern, cfg)
	if err != nil {
		return nil, err
	}
	edges, err := w.Generate(r.RPM, r.Cycles, start)
	if err != nil {
		return nil, err
	}

	usPerDeg := 60e6 / float64(r.RPM) / 360
	boundary := func(i int) uint32 {
		return start + uint32(math.Round(float64((i+1)*r.Step)*usPerDeg))
	}

	// One chunk of frames per sample window; empty windows are skipped.
	var chunks []chunk
	frames := 0
	for _, e := range edges {
		idx := int(float64(e.Time-start) / usPerDeg / float64(r.Step))
		for idx > 0 && e.Time < boundary(idx-1) {
			idx--
		}
		for e.Time >= boundary(idx) {
			idx++
		}
		if len(chunks) == 0 || chunks[len(chunks)-1].window != idx {
			chunks = append(chunks, chunk{window: idx})
		}
		c := &chunks[len(chunks)-1]
		if r.Corrupt > 0 && frames > 0 && frames%r.Corrupt == 0 {
			c.data = append(c.data, corruptFrame...)
		}
		pin := simPins.Primary
		if e.Channel == wheel.Secondary {
			pin = simPins.Secondary
		}
		c.data = capture.AppendFrame(c.data, capture.Frame{Pin: pin, High: e.High, Time: e.Time})
		frames++
	}

	var clock uint32 = start
	micros := func() uint32 { return clock }

	guard := &irq.Guard{}
	sched := schedule.New(&crankmath.Converter{}, guard, micros)
	ign := max(int(cfg.Cylinders)/2, 1)
	ign = min(ign, schedule.Channels)
	for i := 0; i < ign; i++ {
		sched.Ignition[i].ChannelDegrees = i * sched.MaxIgn / ign
	}
	ctx := decoders.NewContext(cfg, sched, guard, micros)

	rd := &chunkReader{chunks: chunks}
	src := capture.New(io.NopCloser(rd))
	ctx.SetInputs(clockedInputs{Source: src, clock: &clock}, simPins)
	if err := ctx.SetDecoder(cfg.Pattern); err != nil {
		return nil, fmt.Errorf("set decoder: %w", err)
	}

	res := &result{Edges: len(edges)}
	smp := sampler{ctx: ctx, sched: sched, guard: guard, ign: ign, triggerAngle: int(cfg.TriggerAngle), usPerDeg: usPerDeg}
	rd.done = func(c chunk) {
		clock = boundary(c.window)
		res.Samples = append(res.Samples, smp.sample(clock))
	}
	if err := src.Run(context.Background()); err != nil {
		return nil, err
	}
	res.Frames, res.Bad = src.Stats()

	for _, s := range res.Samples {
		if !s.Counted {
			continue
		}
		res.Synced = true
		res.MaxError = max(res.MaxError, abs(s.Error))
	}
	for i := 0; i < ign; i++ {
		ch := &sched.Ignition[i]
		res.Channels = append(res.Channels, channel{
			Index:    i,
			Degrees:  ch.ChannelDegrees,
			EndAngle: ch.EndAngle,
			EndTooth: ch.EndTooth,
		})
	}
	return res, nil
}

type sampler struct {
	ctx          *decoders.Context
	sched        *schedule.Scheduler
	guard        *irq.Guard
	ign          int
	triggerAngle int
	usPerDeg     float64
}

// sample runs one main loop pass at now and records the crank angle
// against the wheel's true position.
func (s *sampler) sample(now uint32) sample {
	rpm := s.ctx.UpdateRPM()
	if perDeg := s.ctx.Converter().TimePerDegree(); perDeg > 0 {
		dwellAngle := uint16(simDwell / perDeg)
		s.guard.Run(func() {
			for i := 0; i < s.ign; i++ {
				schedule.CalculateIgnitionAngle(&s.sched.Ignition[i], dwellAngle, simAdvance, s.sched.MaxIgn)
			}
		})
		s.ctx.SetEndTeeth()
	}

	snap := s.ctx.Snapshot()
	wheelAngle := int(math.Round(float64(now-start)/s.usPerDeg)) + s.triggerAngle
	wheelAngle = crankmath.WrapAngle(wheelAngle, 360)
	crank := s.ctx.CrankAngle()
	return sample{
		Time:    now - start,
		Wheel:   wheelAngle,
		Crank:   crank,
		Error:   foldError(crank - wheelAngle),
		Counted: snap.Status.Sync == decoders.SyncFull && rpm > 0 && snap.Engine.StartRevolutions >= 2,
		Sync:    snap.Status.Sync,
		RPM:     rpm,
		Tooth:   snap.ToothCount,
	}
}

// foldError folds an angle difference into [-180, 180) so that a crank
// angle in the second half of a 720 degree cycle compares with the wheel.
func foldError(d int) int {
	return crankmath.WrapAngle(d+180, 360) - 180
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// corruptFrame is a frame whose checksum never matches. It holds no sync
// byte past the first, so the parser drops it whole.
var corruptFrame = []byte{capture.Sync, 0, 0, 0, 0, 0, 0, 1}

type chunk struct {
	window int
	data   []byte
}

// chunkReader serves chunks in order and calls done after the source has
// dispatched every frame of a chunk, which is when it asks for more.
type chunkReader struct {
	chunks []chunk
	done   func(chunk)
	i, off int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for r.i < len(r.chunks) && r.off == len(r.chunks[r.i].data) {
		r.done(r.chunks[r.i])
		r.i++
		r.off = 0
	}
	if r.i == len(r.chunks) {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[r.i].data[r.off:])
	r.off += n
	return n, nil
}

package main

import (
	"flag"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/ecu-trigger/internal/config"
	"github.com/sweeney/ecu-trigger/internal/decoders"
	"github.com/sweeney/ecu-trigger/internal/gpio"
	"github.com/sweeney/ecu-trigger/internal/irq"
	"github.com/sweeney/ecu-trigger/internal/logic"
	"github.com/sweeney/ecu-trigger/internal/mqtt"
	"github.com/sweeney/ecu-trigger/internal/schedule"
	"github.com/sweeney/ecu-trigger/internal/status"
	"github.com/sweeney/ecu-trigger/internal/storage"
	"github.com/sweeney/ecu-trigger/internal/wheel"
)

func TestParsePins(t *testing.T) {
	got, err := parsePins(" 5, 6,13 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 || got[0] != 5 || got[1] != 6 || got[2] != 13 {
		t.Errorf("got %v, want [5 6 13]", got)
	}
	if got, _ := parsePins(""); got != nil {
		t.Errorf("empty: got %v, want nil", got)
	}
	for _, bad := range []string{"5,x", "-1", "5,,6"} {
		if _, err := parsePins(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
	if s := formatPins([]int{12, 16}); s != "12,16" {
		t.Errorf("format: got %q, want %q", s, "12,16")
	}
}

func parseEngineFlags(t *testing.T, args ...string) (*engineFlags, map[string]bool) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var ef engineFlags
	ef.register(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return &ef, setFlags(fs)
}

func TestEngineFlagsApplyOnlySetFlags(t *testing.T) {
	ef, set := parseEngineFlags(t, "-teeth", "60", "-missing", "2", "-spark", "sequential", "-cam-speed")

	cfg := decoders.DefaultConfig()
	cfg.Cylinders = 6 // stored value, not on the command line
	if err := ef.apply(&cfg, set); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TriggerTeeth != 60 || cfg.MissingTeeth != 2 {
		t.Errorf("wheel: got %d-%d, want 60-2", cfg.TriggerTeeth, cfg.MissingTeeth)
	}
	if cfg.SparkMode != decoders.SparkSequential {
		t.Errorf("spark: got %d, want sequential", cfg.SparkMode)
	}
	if cfg.TrigSpeed != decoders.CamSpeed {
		t.Error("expected cam speed")
	}
	if cfg.Cylinders != 6 {
		t.Errorf("cylinders: got %d, want 6 (unset flag must not override)", cfg.Cylinders)
	}
}

func TestEngineFlagsApplyErrors(t *testing.T) {
	tests := [][]string{
		{"-pattern", "30"},
		{"-spark", "magneto"},
		{"-inj", "throttle-body"},
		{"-filter", "max"},
	}
	for _, args := range tests {
		t.Run(args[1], func(t *testing.T) {
			ef, set := parseEngineFlags(t, args...)
			cfg := decoders.DefaultConfig()
			if err := ef.apply(&cfg, set); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadConfigMergesAndWritesBack(t *testing.T) {
	store := storage.NewMemory(config.PageSize)

	// Blank storage: defaults plus flags, then saved.
	ef, set := parseEngineFlags(t, "-cylinders", "6")
	cfg, err := loadConfig(store, ef, set)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cylinders != 6 || cfg.TriggerTeeth != 36 {
		t.Errorf("got %d cylinders %d teeth, want 6 and 36", cfg.Cylinders, cfg.TriggerTeeth)
	}

	// Stored page wins over flag defaults; set flags still override.
	ef, set = parseEngineFlags(t, "-teeth", "60", "-missing", "2")
	cfg, err = loadConfig(store, ef, set)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cylinders != 6 || cfg.TriggerTeeth != 60 {
		t.Errorf("got %d cylinders %d teeth, want 6 and 60", cfg.Cylinders, cfg.TriggerTeeth)
	}

	stored, err := config.Load(store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored != cfg {
		t.Errorf("stored page: got %+v, want %+v", stored, cfg)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	ef, set := parseEngineFlags(t, "-cylinders", "0")
	if _, err := loadConfig(nil, ef, set); err == nil {
		t.Error("expected validation error")
	}
}

func TestEngineLayout(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *decoders.Config)
		ign     int
		maxIgn  int
		degrees []int
		fuel    int
		maxInj  int
	}{
		{"wasted 4", func(*decoders.Config) {}, 2, 360, []int{0, 180}, 2, 360},
		{"sequential 4", func(c *decoders.Config) {
			c.SparkMode = decoders.SparkSequential
			c.InjLayout = decoders.InjSequential
		}, 4, 720, []int{0, 180, 360, 540}, 4, 720},
		{"sequential 6 on 4 pins", func(c *decoders.Config) {
			c.Cylinders = 6
			c.SparkMode = decoders.SparkSequential
		}, 4, 720, []int{0, 180, 360, 540}, 3, 360},
		{"single cylinder", func(c *decoders.Config) { c.Cylinders = 1 }, 1, 360, []int{0}, 1, 360},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := decoders.DefaultConfig()
			tt.mutate(&cfg)
			e := newEngine(cfg, &irq.Guard{}, func() uint32 { return 0 }, tuning{}, gpio.DefaultInjectorPins, gpio.DefaultCoilPins)
			if e.ign != tt.ign || e.sched.MaxIgn != tt.maxIgn {
				t.Errorf("ignition: got %d over %d, want %d over %d", e.ign, e.sched.MaxIgn, tt.ign, tt.maxIgn)
			}
			if e.fuel != tt.fuel || e.sched.MaxInj != tt.maxInj {
				t.Errorf("fuel: got %d over %d, want %d over %d", e.fuel, e.sched.MaxInj, tt.fuel, tt.maxInj)
			}
			for i, want := range tt.degrees {
				if got := e.sched.Ignition[i].ChannelDegrees; got != want {
					t.Errorf("ignition %d: got %d degrees, want %d", i, got, want)
				}
			}
		})
	}
}

// testEngine is an engine on a fake watcher, fake outputs and a settable
// clock.
type testEngine struct {
	*engine
	watcher *gpio.FakeWatcher
	outputs *gpio.FakeOutputs
	clock   *atomic.Uint32
}

func newTestEngine(t *testing.T, start uint32) *testEngine {
	t.Helper()
	clock := &atomic.Uint32{}
	clock.Store(start)
	tune := tuning{Dwell: 3000, PW: 2000, InjAngle: 355, Advance: 10}
	e := newEngine(decoders.DefaultConfig(), &irq.Guard{}, clock.Load, tune, gpio.DefaultInjectorPins, gpio.DefaultCoilPins)
	watcher := gpio.NewFakeWatcher()
	outputs := gpio.NewFakeOutputs()
	e.wire(outputs)
	e.ctx.SetInputs(watcher, decoders.Pins{Primary: gpio.PinPrimary, Secondary: gpio.PinSecondary, Tertiary: gpio.PinTertiary})
	if err := e.ctx.SetDecoder(decoders.MissingTooth); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &testEngine{engine: e, watcher: watcher, outputs: outputs, clock: clock}
}

// spin feeds cycles engine cycles of the 36-1 wheel at rpm starting at
// the current clock and leaves the clock on the last edge.
func (te *testEngine) spin(t *testing.T, rpm, cycles int) {
	t.Helper()
	w, err := wheel.ForPattern(decoders.MissingTooth, te.ctx.Config)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	edges, err := w.Generate(rpm, cycles, te.clock.Load())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, e := range edges {
		te.clock.Store(e.Time)
		te.watcher.SetLevel(gpio.PinPrimary, e.High, e.Time)
	}
}

func (te *testEngine) pulses(pins []int) int {
	n := 0
	for _, p := range pins {
		n += te.outputs.Pulses(p)
	}
	return n
}

func TestEngineStepArmsAndFiresOutputs(t *testing.T) {
	te := newTestEngine(t, 1_000_000)

	if in := te.step(); in.Running {
		t.Fatal("engine should not be running before any teeth")
	}

	te.spin(t, 3000, 4)
	in := te.step()
	if !in.Running || !in.Sync {
		t.Fatalf("got running=%v sync=%v, want both", in.Running, in.Sync)
	}
	if in.RPM < 2950 || in.RPM > 3050 {
		t.Errorf("RPM: got %d, want about 3000", in.RPM)
	}
	if in.Cranking {
		t.Error("3000 RPM is not cranking")
	}

	st := te.engineStatus()
	if len(st.EndTeeth) != 2 {
		t.Errorf("end teeth: got %v, want 2 channels", st.EndTeeth)
	}
	if st.SyncStatus != "FULL" {
		t.Errorf("sync status: got %q, want FULL", st.SyncStatus)
	}

	// The first tick arms, the next one runs the events out.
	te.clock.Add(1000)
	te.tick()
	if n := te.pulses(gpio.DefaultCoilPins); n != 0 {
		t.Errorf("coil pulses before the timers ran: got %d, want 0", n)
	}
	te.clock.Add(25_000)
	te.tick()
	if n := te.pulses(gpio.DefaultCoilPins); n == 0 {
		t.Error("expected coil pulses after the armed events")
	}
	if n := te.pulses(gpio.DefaultInjectorPins); n == 0 {
		t.Error("expected injector pulses after the armed events")
	}
	if te.outputErrs.Load() != 0 {
		t.Errorf("output errors: got %d, want 0", te.outputErrs.Load())
	}
}

func TestEngineStepStallResetsDecoder(t *testing.T) {
	te := newTestEngine(t, 1_000_000)
	te.spin(t, 3000, 4)
	te.step()

	te.clock.Add(1_000_000)
	in := te.step()
	if in.Running || in.Sync {
		t.Errorf("got running=%v sync=%v, want neither", in.Running, in.Sync)
	}
	if !te.stalled {
		t.Error("expected stalled")
	}
	snap := te.ctx.Snapshot()
	if snap.Engine.HasSync || snap.Engine.StartRevolutions != 0 {
		t.Errorf("decoder not reset: sync=%v revs=%d", snap.Engine.HasSync, snap.Engine.StartRevolutions)
	}
	for i := range te.sched.Ignition {
		if st := te.sched.Ignition[i].Status; st.String() != "OFF" {
			t.Errorf("ignition %d: got %s, want OFF", i, st)
		}
	}
}

func TestEngineTickCarriesRemainder(t *testing.T) {
	te := newTestEngine(t, 1000)
	te.clock.Store(1006)
	te.tick()
	if te.carry != 2 {
		t.Errorf("carry: got %d, want 2", te.carry)
	}
	te.clock.Store(1008)
	te.tick()
	if te.carry != 0 {
		t.Errorf("carry: got %d, want 0", te.carry)
	}
}

// TestEngineFiresEveryRevolution runs a 36-1 wheel at 3000 RPM with the
// default 1ms timer tick and 100ms poll and counts the pulses on each
// output. Wasted spark and paired injection fire every channel once per
// revolution.
func TestEngineFiresEveryRevolution(t *testing.T) {
	const (
		revs   = 100
		tickUS = 1000
		pollUS = 100_000
	)
	te := newTestEngine(t, 1_000_000)
	w, err := wheel.ForPattern(decoders.MissingTooth, te.ctx.Config)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	start := te.clock.Load()
	edges, err := w.Generate(3000, revs/2, start+tickUS/2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	next := 0
	for now := start + tickUS; next < len(edges); now += tickUS {
		for ; next < len(edges) && edges[next].Time <= now; next++ {
			te.clock.Store(edges[next].Time)
			te.watcher.SetLevel(gpio.PinPrimary, edges[next].High, edges[next].Time)
		}
		te.clock.Store(now)
		te.tick()
		if (now-start)%pollUS == 0 {
			te.step()
		}
	}

	// Nothing is armed until the first poll has an RPM, 5 revolutions in.
	outputs := map[string]int{
		"coil 1":     gpio.DefaultCoilPins[0],
		"coil 2":     gpio.DefaultCoilPins[1],
		"injector 1": gpio.DefaultInjectorPins[0],
		"injector 2": gpio.DefaultInjectorPins[1],
	}
	for name, pin := range outputs {
		if n := te.outputs.Pulses(pin); n < revs-10 || n > revs {
			t.Errorf("%s: got %d pulses over %d revolutions, want one per revolution after the first poll", name, n, revs)
		}
	}
	if te.outputErrs.Load() != 0 {
		t.Errorf("output errors: got %d, want 0", te.outputErrs.Load())
	}
}

func TestEngineTickLeavesPendingChannels(t *testing.T) {
	te := newTestEngine(t, 1_000_000)
	te.spin(t, 3000, 4)
	te.step()

	te.clock.Add(1000)
	te.tick()
	ch := &te.sched.Ignition[0]
	if ch.Status != schedule.Pending {
		t.Fatalf("status after arming: got %s, want PENDING", ch.Status)
	}
	compare := ch.StartCompare

	// A second tick must not move a PENDING start.
	te.clock.Add(100)
	te.tick()
	if ch.Status != schedule.Pending || ch.StartCompare != compare {
		t.Errorf("got %s at %d, want PENDING at %d", ch.Status, ch.StartCompare, compare)
	}
}

func TestEngineTickDoesNotArmAfterStall(t *testing.T) {
	te := newTestEngine(t, 1_000_000)
	te.spin(t, 3000, 4)
	te.step()

	// Past the stall time but before the next poll notices.
	te.clock.Add(200_000)
	te.tick()
	for i := 0; i < te.ign; i++ {
		if st := te.sched.Ignition[i].Status; st != schedule.Off {
			t.Errorf("ignition %d: got %s, want OFF", i, st)
		}
	}
	if n := te.pulses(gpio.DefaultCoilPins); n != 0 {
		t.Errorf("coil pulses: got %d, want 0", n)
	}
}

// --- runLoop tests ---

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// loopHarness runs runLoop in a goroutine and feeds its channels.
type loopHarness struct {
	timer  chan time.Time
	poll   chan time.Time
	polled chan struct{}
	sig    chan os.Signal
	errCh  chan error
}

func startLoop(te *testEngine, pub *mqtt.FakePublisher, tracker *status.Tracker, heartbeat time.Duration, clock func() time.Time) *loopHarness {
	h := &loopHarness{
		timer:  make(chan time.Time),
		poll:   make(chan time.Time),
		polled: make(chan struct{}),
		sig:    make(chan os.Signal, 1),
		errCh:  make(chan error, 1),
	}
	go func() {
		h.errCh <- runLoop(te.engine, pub, pub, tracker, 0, heartbeat, clock, h.timer, h.poll, h.sig, h.polled)
	}()
	return h
}

// doPoll sends one poll and waits until runLoop has finished with it, so
// the caller can change engine state without racing the step.
func (h *loopHarness) doPoll(t *testing.T) {
	t.Helper()
	h.poll <- time.Time{}
	select {
	case <-h.polled:
	case <-time.After(5 * time.Second):
		t.Fatal("poll was not handled")
	}
}

// doTick sends one timer tick. The loop handles it before it takes the
// next message.
func (h *loopHarness) doTick() {
	h.timer <- time.Time{}
}

func (h *loopHarness) stop(t *testing.T, s os.Signal) {
	t.Helper()
	h.sig <- s
	if err := <-h.errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

func TestRunLoopStartAndStall(t *testing.T) {
	te := newTestEngine(t, 1_000_000)
	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{})
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)
	h := startLoop(te, pub, tracker, 0, clock)

	// Baseline: stopped and unsynced.
	h.doPoll(t)
	h.doPoll(t)

	te.spin(t, 3000, 4)
	h.doPoll(t)
	te.clock.Add(1000)
	h.doTick()
	te.clock.Add(25_000)
	h.doTick()
	h.doPoll(t)

	te.clock.Add(1_000_000)
	h.doPoll(t)
	h.stop(t, syscall.SIGTERM)

	want := []logic.EventType{logic.EventEngineStart, logic.EventSyncGained, logic.EventSyncLost, logic.EventEngineStop}
	got := pub.EventTypes()
	if len(got) != len(want) {
		t.Fatalf("got events %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}
	if rpm := pub.Events[0].RPM; rpm < 2950 || rpm > 3050 {
		t.Errorf("start event RPM: got %d, want about 3000", rpm)
	}
	if te.pulses(gpio.DefaultCoilPins) == 0 {
		t.Error("expected coil pulses while running")
	}

	snap := tracker.Snapshot()
	if snap.EngineState != logic.StateStopped || snap.SyncState != logic.StateUnsynced {
		t.Errorf("tracker: got %s/%s, want STOPPED/UNSYNCED", snap.EngineState, snap.SyncState)
	}
	if snap.Counts.EngineStart != 1 || snap.Counts.EngineStop != 1 {
		t.Errorf("counts: got %+v", snap.Counts)
	}
	if snap.Engine.Pattern != decoders.MissingTooth.String() {
		t.Errorf("pattern: got %q", snap.Engine.Pattern)
	}
}

func TestRunLoopShutdown(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			te := newTestEngine(t, 1_000_000)
			pub := mqtt.NewFakePublisher()
			tracker := status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{})
			clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)
			h := startLoop(te, pub, tracker, 0, clock)
			h.doPoll(t)
			h.stop(t, tt.sig)

			if len(pub.SystemEvents) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
			}
			se := pub.SystemEvents[0]
			if se.Event != "SHUTDOWN" || se.Reason != tt.want {
				t.Errorf("got %s/%s, want SHUTDOWN/%s", se.Event, se.Reason, tt.want)
			}
			if !se.Retained {
				t.Error("expected Retained=true for SHUTDOWN")
			}
			if len(se.RawPayload) == 0 {
				t.Error("expected a status payload")
			}
		})
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	te := newTestEngine(t, 1_000_000)
	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{})
	// Clock calls: start, then one per poll.
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 5*time.Minute)
	h := startLoop(te, pub, tracker, 15*time.Minute, clock)
	for i := 0; i < 4; i++ {
		h.doPoll(t)
	}
	h.stop(t, syscall.SIGTERM)

	names := pub.SystemNames()
	if len(names) != 2 || names[0] != "HEARTBEAT" || names[1] != "SHUTDOWN" {
		t.Fatalf("got system events %v, want [HEARTBEAT SHUTDOWN]", names)
	}
	if len(pub.SystemEvents[0].RawPayload) == 0 {
		t.Error("HEARTBEAT event missing status payload")
	}
}

func TestRunLoopPublishError(t *testing.T) {
	te := newTestEngine(t, 1_000_000)
	pub := mqtt.NewFakePublisher()
	pub.PublishError = os.ErrDeadlineExceeded
	tracker := status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{})
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)
	h := startLoop(te, pub, tracker, 0, clock)

	h.doPoll(t)
	h.doPoll(t)
	te.spin(t, 3000, 4)
	h.doPoll(t)
	h.stop(t, syscall.SIGTERM)

	counts := tracker.Snapshot().Counts
	if counts.EngineStart != 1 || counts.SyncGained != 1 {
		t.Errorf("counts: got %+v, want one start and one sync gained", counts)
	}
	if len(pub.Events) != 0 {
		t.Errorf("recorded events: got %v, want none", pub.EventTypes())
	}
}

package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/sweeney/ecu-trigger/internal/capture"
	"github.com/sweeney/ecu-trigger/internal/config"
	"github.com/sweeney/ecu-trigger/internal/crankmath"
	"github.com/sweeney/ecu-trigger/internal/decoders"
	"github.com/sweeney/ecu-trigger/internal/gpio"
	"github.com/sweeney/ecu-trigger/internal/irq"
	"github.com/sweeney/ecu-trigger/internal/logic"
	"github.com/sweeney/ecu-trigger/internal/mqtt"
	"github.com/sweeney/ecu-trigger/internal/schedule"
	"github.com/sweeney/ecu-trigger/internal/status"
	"github.com/sweeney/ecu-trigger/internal/storage"
	"github.com/sweeney/ecu-trigger/internal/web"
	"github.com/sweeney/ecu-trigger/internal/wheel"
)

var pins = decoders.Pins{Primary: gpio.PinPrimary, Secondary: gpio.PinSecondary, Tertiary: gpio.PinTertiary}

// rig is a decoder context driven by a fake watcher on a test clock.
type rig struct {
	ctx     *decoders.Context
	watcher *gpio.FakeWatcher
	clock   uint32
}

func newRig(t *testing.T, cfg decoders.Config) *rig {
	t.Helper()
	r := &rig{watcher: gpio.NewFakeWatcher(), clock: 1_000_000}
	micros := func() uint32 { return r.clock }
	guard := &irq.Guard{}
	sched := schedule.New(&crankmath.Converter{}, guard, micros)
	r.ctx = decoders.NewContext(cfg, sched, guard, micros)
	r.ctx.SetInputs(r.watcher, pins)
	if err := r.ctx.SetDecoder(cfg.Pattern); err != nil {
		t.Fatalf("SetDecoder: %v", err)
	}
	return r
}

// spin drives the wheel for cfg through the watcher and leaves the clock
// at the last edge.
func (r *rig) spin(t *testing.T, rpm, cycles int) {
	t.Helper()
	w, err := wheel.ForPattern(r.ctx.Config.Pattern, r.ctx.Config)
	if err != nil {
		t.Fatalf("ForPattern: %v", err)
	}
	edges, err := w.Generate(rpm, cycles, r.clock+1000)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for _, e := range edges {
		r.clock = e.Time
		pin := pins.Primary
		if e.Channel == wheel.Secondary {
			pin = pins.Secondary
		}
		r.watcher.SetLevel(pin, e.High, e.Time)
	}
}

// sample is one main loop pass over the decoder.
func (r *rig) sample(now time.Time) logic.Input {
	running := r.ctx.IsEngineRunning(r.clock)
	if !running {
		r.ctx.Reset()
		return logic.Input{Time: now}
	}
	rpm := r.ctx.UpdateRPM()
	snap := r.ctx.Snapshot()
	return logic.Input{
		Running:    true,
		Sync:       snap.Status.Sync == decoders.SyncFull,
		RPM:        rpm,
		Cranking:   snap.Engine.Cranking,
		SyncLosses: snap.Engine.SyncLossCounter,
		Time:       now,
	}
}

func (r *rig) engineStatus() status.Engine {
	snap := r.ctx.Snapshot()
	return status.Engine{
		Pattern:          snap.Pattern.String(),
		RPM:              snap.Engine.RPM,
		CrankAngle:       r.ctx.CrankAngle(),
		HasSync:          snap.Engine.HasSync,
		SyncStatus:       snap.Status.Sync.String(),
		StartRevolutions: snap.Engine.StartRevolutions,
		RevolutionTime:   snap.RevolutionTime,
		ToothCount:       snap.ToothCount,
	}
}

func publishAll(t *testing.T, p mqtt.Publisher, events []logic.Event) {
	t.Helper()
	for _, e := range events {
		if err := p.Publish(e); err != nil {
			t.Fatalf("publish %s: %v", e.Type, err)
		}
	}
}

// TestIntegrationStartSyncStall runs a 36-1 wheel from rest to sync and
// back to a stall, and checks the events published on the way.
func TestIntegrationStartSyncStall(t *testing.T) {
	r := newRig(t, decoders.DefaultConfig())
	pub := mqtt.NewFakePublisher()
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	det := logic.NewDetector(0, start)

	// Baseline at rest.
	for i := 0; i < 2; i++ {
		publishAll(t, pub, det.Process(r.sample(start.Add(time.Duration(i)*100*time.Millisecond))))
	}
	if !det.IsBaselined() {
		t.Fatal("expected baseline after two samples")
	}
	if len(pub.Events) != 0 {
		t.Fatalf("expected no events at rest, got %v", pub.EventTypes())
	}

	r.spin(t, 3000, 4)
	r.ctx.UpdateRPM()
	publishAll(t, pub, det.Process(r.sample(start.Add(time.Second))))

	// Stall.
	r.clock += 1_000_000
	publishAll(t, pub, det.Process(r.sample(start.Add(2*time.Second))))

	want := []logic.EventType{logic.EventEngineStart, logic.EventSyncGained, logic.EventSyncLost, logic.EventEngineStop}
	got := pub.EventTypes()
	if len(got) != len(want) {
		t.Fatalf("events: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}

	first := pub.Events[0]
	if first.State != string(logic.StateRunning) {
		t.Errorf("payload 0 state: got %q, want RUNNING", first.State)
	}
	if first.RPM < 2950 || first.RPM > 3050 {
		t.Errorf("payload 0 rpm: got %d, want about 3000", first.RPM)
	}

	counts := det.Counts()
	if counts.EngineStart != 1 || counts.EngineStop != 1 || counts.SyncGained != 1 || counts.SyncLost != 1 {
		t.Errorf("counts: got %+v, want one of each", counts)
	}
	if r.ctx.DecoderStatus().Sync != decoders.SyncNone {
		t.Errorf("sync after stall: got %v, want NONE", r.ctx.DecoderStatus().Sync)
	}
}

// TestIntegrationPublishFailureKeepsDetecting checks that a broker failure
// does not stop later events from being detected.
func TestIntegrationPublishFailureKeepsDetecting(t *testing.T) {
	r := newRig(t, decoders.DefaultConfig())
	pub := mqtt.NewFakePublisher()
	pub.PublishError = errors.New("broker down")
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	det := logic.NewDetector(0, start)

	det.Process(r.sample(start))
	det.Process(r.sample(start.Add(100 * time.Millisecond)))

	r.spin(t, 3000, 4)
	failures := 0
	for _, e := range det.Process(r.sample(start.Add(time.Second))) {
		if err := pub.Publish(e); err != nil {
			failures++
		}
	}
	if failures != 2 {
		t.Errorf("failed publishes: got %d, want 2", failures)
	}

	pub.PublishError = nil
	r.clock += 1_000_000
	publishAll(t, pub, det.Process(r.sample(start.Add(2*time.Second))))
	if len(pub.Events) != 2 {
		t.Fatalf("events after recovery: got %v, want SYNC_LOST and ENGINE_STOP", pub.EventTypes())
	}
	if got := pub.EventTypes()[1]; got != logic.EventEngineStop {
		t.Errorf("last event: got %s, want ENGINE_STOP", got)
	}
}

// TestIntegrationStatusServer serves the tracker and tooth logger of a
// running decoder over HTTP.
func TestIntegrationStatusServer(t *testing.T) {
	cfg := decoders.DefaultConfig()
	r := newRig(t, cfg)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	det := logic.NewDetector(0, start)
	tracker := status.NewTracker(start, status.Config{
		Pattern:      cfg.Pattern.String(),
		TriggerTeeth: cfg.TriggerTeeth,
		MissingTeeth: cfg.MissingTeeth,
		Cylinders:    cfg.Cylinders,
		Source:       "gpio",
		Outputs:      "none",
		Broker:       "tcp://localhost:1883",
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := web.New(ln.Addr().String(), tracker, r.ctx)
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	base := "http://" + ln.Addr().String()

	det.Process(r.sample(start))
	det.Process(r.sample(start.Add(100 * time.Millisecond)))

	resp, err := http.Post(base+"/toothlog/start", "", nil)
	if err != nil {
		t.Fatalf("POST /toothlog/start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("POST /toothlog/start: got %d, want 204", resp.StatusCode)
	}

	r.spin(t, 3000, 2)
	det.Process(r.sample(start.Add(time.Second)))
	engine, sync := det.CurrentState()
	tracker.Update(engine, sync, det.IsBaselined(), det.Counts())
	tracker.SetEngine(r.engineStatus())

	resp, err = http.Get(base + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	var st status.StatusJSON
	err = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Status.State != string(logic.StateRunning) {
		t.Errorf("state: got %q, want RUNNING", st.Status.State)
	}
	if st.Status.Sync != string(logic.StateSynced) {
		t.Errorf("sync: got %q, want SYNCED", st.Status.Sync)
	}
	if st.Status.Engine.SyncStatus != "FULL" {
		t.Errorf("sync status: got %q, want FULL", st.Status.Engine.SyncStatus)
	}
	if st.Status.Engine.RPM < 2950 || st.Status.Engine.RPM > 3050 {
		t.Errorf("rpm: got %d, want about 3000", st.Status.Engine.RPM)
	}
	if st.Status.Config.Pattern != cfg.Pattern.String() {
		t.Errorf("config pattern: got %q, want %q", st.Status.Config.Pattern, cfg.Pattern.String())
	}

	resp, err = http.Get(base + "/toothlog.json")
	if err != nil {
		t.Fatalf("GET /toothlog.json: %v", err)
	}
	var teeth web.ToothLogJSON
	err = json.NewDecoder(resp.Body).Decode(&teeth)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode tooth log: %v", err)
	}
	if len(teeth.Gaps) == 0 {
		t.Fatal("expected logged tooth gaps")
	}
	// 10 degrees at 3000 rpm.
	normal := 0
	for _, g := range teeth.Gaps {
		if g >= 550 && g <= 560 {
			normal++
		}
	}
	if normal == 0 {
		t.Errorf("no 10 degree gaps in %v", teeth.Gaps)
	}
}

// TestIntegrationStoredConfigOverCapture loads a stored configuration page
// and decodes a capture stream with it.
func TestIntegrationStoredConfigOverCapture(t *testing.T) {
	store := storage.NewMemory(64)
	want := decoders.DefaultConfig()
	want.TriggerTeeth = 60
	want.MissingTeeth = 2
	if _, err := config.Save(store, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cfg, err := config.Load(store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != want {
		t.Fatalf("Load: got %+v, want %+v", cfg, want)
	}

	w, err := wheel.ForPattern(cfg.Pattern, cfg)
	if err != nil {
		t.Fatalf("ForPattern: %v", err)
	}
	edges, err := w.Generate(3000, 4, 1_000_000)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	var stream []byte
	for _, e := range edges {
		stream = capture.AppendFrame(stream, capture.Frame{Pin: pins.Primary, High: e.High, Time: e.Time})
	}

	src := capture.New(io.NopCloser(bytes.NewReader(stream)))
	guard := &irq.Guard{}
	sched := schedule.New(&crankmath.Converter{}, guard, src.Micros)
	ctx := decoders.NewContext(cfg, sched, guard, src.Micros)
	ctx.SetInputs(src, pins)
	if err := ctx.SetDecoder(cfg.Pattern); err != nil {
		t.Fatalf("SetDecoder: %v", err)
	}
	if err := src.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	frames, bad := src.Stats()
	if frames != uint64(len(edges)) || bad != 0 {
		t.Errorf("Stats: got %d/%d, want %d/0", frames, bad, len(edges))
	}
	snap := ctx.Snapshot()
	if !snap.Engine.HasSync {
		t.Fatal("expected sync from the capture stream")
	}
	if rpm := ctx.UpdateRPM(); rpm < 2950 || rpm > 3050 {
		t.Errorf("rpm: got %d, want about 3000", rpm)
	}
}

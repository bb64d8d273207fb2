package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/sweeney/ecu-trigger/internal/decoders"
)

func TestSimulateMissingTooth(t *testing.T) {
	cfg := decoders.DefaultConfig()
	res, err := simulate(cfg, run{RPM: 3000, Cycles: 4, Step: 90})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	// 35 teeth, two edges each, two revolutions per cycle.
	if res.Edges != 35*2*2*4 {
		t.Errorf("Edges: got %d, want %d", res.Edges, 35*2*2*4)
	}
	if res.Frames != uint64(res.Edges) {
		t.Errorf("Frames: got %d, want %d", res.Frames, res.Edges)
	}
	if res.Bad != 0 {
		t.Errorf("Bad: got %d, want 0", res.Bad)
	}
	if !res.Synced {
		t.Fatal("expected the decoder to sync")
	}
	if res.MaxError > tolerance {
		t.Errorf("MaxError: got %d, want <= %d", res.MaxError, tolerance)
	}
	if len(res.Channels) != 2 {
		t.Fatalf("Channels: got %d, want 2", len(res.Channels))
	}
	if res.Channels[1].Degrees != 180 {
		t.Errorf("channel 2 degrees: got %d, want 180", res.Channels[1].Degrees)
	}

	last := res.Samples[len(res.Samples)-1]
	if last.RPM < 2950 || last.RPM > 3050 {
		t.Errorf("RPM: got %d, want about 3000", last.RPM)
	}
	if last.Sync != decoders.SyncFull {
		t.Errorf("Sync: got %v, want FULL", last.Sync)
	}
}

func TestSimulateDropsCorruptFrames(t *testing.T) {
	cfg := decoders.DefaultConfig()
	res, err := simulate(cfg, run{RPM: 3000, Cycles: 4, Step: 90, Corrupt: 50})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	// One corrupt frame ahead of frames 50, 100, ... 550.
	if res.Bad != 11 {
		t.Errorf("Bad: got %d, want 11", res.Bad)
	}
	if res.Frames != uint64(res.Edges) {
		t.Errorf("Frames: got %d, want %d", res.Frames, res.Edges)
	}
	if !res.Synced {
		t.Error("expected the decoder to sync through corrupt frames")
	}
}

func TestSimulateDualWheel(t *testing.T) {
	cfg := decoders.DefaultConfig()
	cfg.Pattern = decoders.DualWheel
	cfg.TriggerTeeth = 24
	cfg.MissingTeeth = 0
	res, err := simulate(cfg, run{RPM: 2000, Cycles: 4, Step: 45})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !res.Synced {
		t.Fatal("expected the decoder to sync")
	}
	if res.Bad != 0 {
		t.Errorf("Bad: got %d, want 0", res.Bad)
	}
}

func TestSimulateRejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(*decoders.Config)
		run  run
	}{
		{"zero step", func(*decoders.Config) {}, run{RPM: 3000, Cycles: 1, Step: 0}},
		{"zero rpm", func(*decoders.Config) {}, run{RPM: 0, Cycles: 1, Step: 90}},
		{"no wheel", func(c *decoders.Config) { c.Pattern = decoders.Harley }, run{RPM: 3000, Cycles: 1, Step: 90}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := decoders.DefaultConfig()
			tt.cfg(&cfg)
			if _, err := simulate(cfg, tt.run); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFoldError(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 0},
		{3, 3},
		{-3, -3},
		{358, -2},
		{-358, 2},
		{362, 2},
		{180, -180},
	}
	for _, tt := range tests {
		if got := foldError(tt.in); got != tt.want {
			t.Errorf("foldError(%d): got %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestChunkReader(t *testing.T) {
	var done []int
	r := &chunkReader{
		chunks: []chunk{{window: 0, data: []byte{1, 2, 3}}, {window: 2, data: []byte{4}}},
		done:   func(c chunk) { done = append(done, c.window) },
	}
	p := make([]byte, 2)

	var got []byte
	for {
		n, err := r.Read(p)
		got = append(got, p[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("data: got %v, want [1 2 3 4]", got)
	}
	if len(done) != 2 || done[0] != 0 || done[1] != 2 {
		t.Errorf("done: got %v, want [0 2]", done)
	}
}

package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sweeney/ecu-trigger/internal/decoders"
)

var _ decoders.Inputs = (*Source)(nil)

func TestAppendFrameLayout(t *testing.T) {
	got := AppendFrame(nil, Frame{Pin: 17, High: true, Time: 0x01020304})
	want := []byte{Sync, 17, 1, 0x04, 0x03, 0x02, 0x01, 17 ^ 1 ^ 0x04 ^ 0x03 ^ 0x02 ^ 0x01}
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestDecodeFrame(t *testing.T) {
	good := AppendFrame(nil, Frame{Pin: 27, Time: 123456})
	f, err := DecodeFrame(good)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f != (Frame{Pin: 27, Time: 123456}) {
		t.Errorf("got %+v", f)
	}

	corrupt := bytes.Clone(good)
	corrupt[4] ^= 0xFF
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"short", good[:5], ErrShort},
		{"no sync", append([]byte{0x00}, good[1:]...), ErrSync},
		{"checksum", corrupt, ErrChecksum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeFrame(tt.in); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParserSplitStream(t *testing.T) {
	var stream []byte
	stream = append(stream, 0x00, 0x11) // line noise
	stream = AppendFrame(stream, Frame{Pin: 17, High: true, Time: 100})
	stream = AppendFrame(stream, Frame{Pin: 17, High: false, Time: 200})

	var p Parser
	var got []Frame
	// One byte at a time, as a slow serial read would deliver it.
	for i := range stream {
		p.Feed(stream[i:i+1], func(f Frame) { got = append(got, f) })
	}
	if len(got) != 2 || got[0].Time != 100 || got[1].Time != 200 {
		t.Errorf("got %+v", got)
	}
	if p.Frames != 2 || p.Bad != 0 {
		t.Errorf("counts: got (%d, %d), want (2, 0)", p.Frames, p.Bad)
	}
}

func TestParserRecoversAfterBadFrame(t *testing.T) {
	bad := AppendFrame(nil, Frame{Pin: 17, Time: 1})
	bad[7] ^= 0x01
	stream := append(bad, AppendFrame(nil, Frame{Pin: 17, High: true, Time: 2})...)

	var p Parser
	var got []Frame
	p.Feed(stream, func(f Frame) { got = append(got, f) })
	if len(got) != 1 || got[0].Time != 2 {
		t.Errorf("got %+v", got)
	}
	if p.Bad != 1 {
		t.Errorf("bad: got %d, want 1", p.Bad)
	}
}

func TestParserResyncKeepsEmbeddedSync(t *testing.T) {
	// A truncated frame followed directly by a good one.
	partial := AppendFrame(nil, Frame{Pin: 17, Time: 1})[:4]
	stream := append(partial, AppendFrame(nil, Frame{Pin: 27, High: true, Time: 9})...)

	var p Parser
	var got []Frame
	p.Feed(stream, func(f Frame) { got = append(got, f) })
	if len(got) != 1 || got[0].Pin != 27 {
		t.Errorf("got %+v", got)
	}
}

func newSource(frames ...Frame) *Source {
	var b []byte
	for _, f := range frames {
		b = AppendFrame(b, f)
	}
	return New(io.NopCloser(bytes.NewReader(b)))
}

func TestSourceDispatchesMatchingEdges(t *testing.T) {
	tests := []struct {
		edge decoders.Edge
		want []uint32
	}{
		{decoders.EdgeRising, []uint32{100, 300}},
		{decoders.EdgeFalling, []uint32{200, 400}},
		{decoders.EdgeChange, []uint32{100, 200, 300, 400}},
	}
	for _, tt := range tests {
		t.Run(tt.edge.String(), func(t *testing.T) {
			s := newSource(
				Frame{Pin: 17, High: true, Time: 100},
				Frame{Pin: 17, High: false, Time: 200},
				Frame{Pin: 17, High: true, Time: 300},
				Frame{Pin: 17, High: false, Time: 400},
			)
			var got []uint32
			s.Attach(17, tt.edge, func(now uint32) { got = append(got, now) })
			if err := s.Run(context.Background()); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("edge %d: got %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSourceIgnoresRepeatedLevel(t *testing.T) {
	s := newSource(
		Frame{Pin: 17, High: false, Time: 50},
		Frame{Pin: 17, High: true, Time: 100},
		Frame{Pin: 17, High: true, Time: 150},
	)
	calls := 0
	s.Attach(17, decoders.EdgeChange, func(uint32) { calls++ })
	s.Run(context.Background())
	if calls != 1 {
		t.Errorf("got %d calls, want 1", calls)
	}
	if !s.Read(17) {
		t.Error("expected pin high")
	}
}

func TestSourceDetachAndOtherPins(t *testing.T) {
	s := newSource(
		Frame{Pin: 27, High: true, Time: 10},
		Frame{Pin: 17, High: true, Time: 20},
	)
	var got []uint32
	s.Attach(17, decoders.EdgeRising, func(now uint32) { got = append(got, now) })
	s.Attach(27, decoders.EdgeRising, func(uint32) { t.Error("detached handler called") })
	s.Detach(27)
	s.Run(context.Background())

	if len(got) != 1 || got[0] != 20 {
		t.Errorf("got %v, want [20]", got)
	}
	if !s.Read(27) {
		t.Error("level should be tracked without a handler")
	}
	if frames, bad := s.Stats(); frames != 2 || bad != 0 {
		t.Errorf("stats: got (%d, %d), want (2, 0)", frames, bad)
	}
	if s.Micros() < 20 {
		t.Errorf("clock: got %d, want at least 20", s.Micros())
	}
}

func TestSourceAttachRejectsWidePin(t *testing.T) {
	s := newSource()
	if err := s.Attach(300, decoders.EdgeRising, func(uint32) {}); err == nil {
		t.Error("expected error for a pin that does not fit a frame")
	}
}

func TestSourceStopsOnCancel(t *testing.T) {
	s := newSource(Frame{Pin: 17, High: true, Time: 10})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	s.Attach(17, decoders.EdgeRising, func(uint32) { called = true })
	if err := s.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("no frames should be read after cancel")
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("device gone") }
func (errReader) Close() error             { return nil }

func TestSourceReadError(t *testing.T) {
	s := New(errReader{})
	if err := s.Run(context.Background()); err == nil {
		t.Error("expected read error")
	}
}

func TestSourceMicrosZeroBeforeFrames(t *testing.T) {
	if got := newSource().Micros(); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

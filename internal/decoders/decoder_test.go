package decoders

import "testing"

func TestBuildFillsEveryOperation(t *testing.T) {
	d := NewBuilder().Build()

	if d.GetRPM == nil || d.GetCrankAngle == nil || d.SetEndTeeth == nil ||
		d.Reset == nil || d.IsEngineRunning == nil || d.GetStatus == nil {
		t.Fatal("expected every operation to be non-nil")
	}
	if got := d.GetRPM(); got != 0 {
		t.Errorf("GetRPM: got %d, want 0", got)
	}
	if got := d.GetCrankAngle(); got != 0 {
		t.Errorf("GetCrankAngle: got %d, want 0", got)
	}
	if d.IsEngineRunning(1234) {
		t.Error("inert decoder should not report a running engine")
	}
	if got := d.GetStatus(); got != (Status{}) {
		t.Errorf("GetStatus: got %+v, want zero status", got)
	}
	d.SetEndTeeth()
	d.Reset()

	for name, i := range map[string]Interrupt{"primary": d.Primary, "secondary": d.Secondary, "tertiary": d.Tertiary} {
		if i.Callback == nil {
			t.Errorf("%s: callback is nil", name)
		}
		if i.Edge != EdgeNone {
			t.Errorf("%s: got edge %v, want NONE", name, i.Edge)
		}
		if i.Valid() {
			t.Errorf("%s: inert interrupt should be invalid", name)
		}
		i.Callback(0)
	}
}

func TestBuildKeepsSetOperations(t *testing.T) {
	var fired uint32
	d := NewBuilder().
		SetPrimaryTrigger(func(now uint32) { fired = now }, EdgeFalling).
		SetGetRPM(func() uint16 { return 3000 }).
		SetGetCrankAngle(func() int { return 123 }).
		Build()

	if d.Primary.Edge != EdgeFalling {
		t.Errorf("primary edge: got %v, want FALLING", d.Primary.Edge)
	}
	if !d.Primary.Valid() {
		t.Error("primary should be valid")
	}
	d.Primary.Callback(42)
	if fired != 42 {
		t.Errorf("primary callback: got %d, want 42", fired)
	}
	if got := d.GetRPM(); got != 3000 {
		t.Errorf("GetRPM: got %d, want 3000", got)
	}
	if got := d.GetCrankAngle(); got != 123 {
		t.Errorf("GetCrankAngle: got %d, want 123", got)
	}
	if d.Secondary.Valid() {
		t.Error("unset secondary should be invalid")
	}
}

func TestBuildNilCallbackBecomesInert(t *testing.T) {
	d := NewBuilder().SetSecondaryTrigger(nil, EdgeChange).Build()

	if d.Secondary.Callback == nil {
		t.Fatal("expected a no-op callback")
	}
	if d.Secondary.Edge != EdgeNone {
		t.Errorf("got edge %v, want NONE", d.Secondary.Edge)
	}
}

func TestInterruptValid(t *testing.T) {
	noop := func(uint32) {}
	tests := []struct {
		name string
		i    Interrupt
		want bool
	}{
		{"callback and edge", Interrupt{Callback: noop, Edge: EdgeRising}, true},
		{"change edge", Interrupt{Callback: noop, Edge: EdgeChange}, true},
		{"nil callback", Interrupt{Edge: EdgeChange}, false},
		{"no edge", Interrupt{Callback: noop, Edge: EdgeNone}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.i.Valid(); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInterruptAttach(t *testing.T) {
	in := newFakeInputs()
	var calls int
	wrapped := 0
	wrap := func(h func(uint32)) func(uint32) {
		return func(now uint32) {
			wrapped++
			h(now)
		}
	}

	i := Interrupt{Callback: func(uint32) { calls++ }, Edge: EdgeFalling}
	if err := i.Attach(in, 5, wrap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.edges[5] != EdgeFalling {
		t.Errorf("edge: got %v, want FALLING", in.edges[5])
	}
	in.fire(t, 5, 10)
	if calls != 1 || wrapped != 1 {
		t.Errorf("got calls=%d wrapped=%d, want 1 and 1", calls, wrapped)
	}

	// An invalid interrupt only detaches.
	inert := Interrupt{Edge: EdgeNone}
	if err := inert.Attach(in, 5, wrap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := in.handlers[5]; ok {
		t.Error("expected pin 5 to be detached")
	}
}

func TestInterruptAttachError(t *testing.T) {
	in := newFakeInputs()
	in.attachErr = errAttach
	i := Interrupt{Callback: func(uint32) {}, Edge: EdgeRising}
	if err := i.Attach(in, 1, nil); err != errAttach {
		t.Errorf("got %v, want %v", err, errAttach)
	}
}

func TestEdgeString(t *testing.T) {
	tests := []struct {
		e    Edge
		want string
	}{
		{EdgeRising, "RISING"},
		{EdgeFalling, "FALLING"},
		{EdgeChange, "CHANGE"},
		{EdgeNone, "NONE"},
		{Edge(7), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.e.String(); got != tt.want {
			t.Errorf("Edge(%d): got %q, want %q", uint8(tt.e), got, tt.want)
		}
	}
}

func TestEdgeMatches(t *testing.T) {
	tests := []struct {
		e          Edge
		high, want bool
	}{
		{EdgeRising, true, true},
		{EdgeRising, false, false},
		{EdgeFalling, false, true},
		{EdgeFalling, true, false},
		{EdgeChange, true, true},
		{EdgeChange, false, true},
		{EdgeNone, true, false},
	}
	for _, tt := range tests {
		if got := tt.e.Matches(tt.high); got != tt.want {
			t.Errorf("%s at level %v: got %v, want %v", tt.e, tt.high, got, tt.want)
		}
	}
}

func TestSyncStatusString(t *testing.T) {
	if got := SyncFull.String(); got != "FULL" {
		t.Errorf("got %q, want FULL", got)
	}
	if got := SyncPartial.String(); got != "PARTIAL" {
		t.Errorf("got %q, want PARTIAL", got)
	}
	if got := SyncNone.String(); got != "NONE" {
		t.Errorf("got %q, want NONE", got)
	}
}

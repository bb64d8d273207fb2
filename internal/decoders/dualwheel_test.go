package decoders

import "testing"

func TestDualWheelSync(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TriggerTeeth = 12
	r := newPatternRig(t, DualWheel, cfg)
	c := r.ctx

	*r.now = 10000
	c.Decoder().Secondary.Callback(*r.now)
	if !c.Engine.HasSync {
		t.Fatal("expected sync on the cam tooth")
	}
	if c.ToothCurrentCount != 12 {
		t.Errorf("tooth count: got %d, want 12", c.ToothCurrentCount)
	}

	r.tooth(1000)
	if c.ToothCurrentCount != 1 {
		t.Errorf("tooth count: got %d, want 1", c.ToothCurrentCount)
	}
	if c.Engine.StartRevolutions != 1 {
		t.Errorf("StartRevolutions: got %d, want 1", c.Engine.StartRevolutions)
	}

	r.teeth(5, 1000)
	if got := c.CrankAngle(); got != 150 {
		t.Errorf("crank angle at tooth 6: got %d, want 150", got)
	}
}

func TestDualWheelNoRPMWithoutSync(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TriggerTeeth = 12
	r := newPatternRig(t, DualWheel, cfg)

	r.teeth(20, 1000)
	if got := r.ctx.UpdateRPM(); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

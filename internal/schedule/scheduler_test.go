package schedule

import (
	"fmt"
	"testing"

	"github.com/sweeney/ecu-trigger/internal/irq"
)

type callbackLog struct {
	events []string
}

func (l *callbackLog) start() { l.events = append(l.events, "start") }
func (l *callbackLog) end()   { l.events = append(l.events, "end") }

func newTestScheduler(t *testing.T) (*Scheduler, *uint32) {
	t.Helper()
	now := new(uint32)
	s := New(testConverter(), &irq.Guard{}, func() uint32 { return *now })
	return s, now
}

func softTimer(t *testing.T, sch *Schedule) *SoftTimer {
	t.Helper()
	st, ok := sch.Timer.(*SoftTimer)
	if !ok {
		t.Fatalf("expected *SoftTimer, got %T", sch.Timer)
	}
	return st
}

func TestInitialStatusOff(t *testing.T) {
	s, _ := newTestScheduler(t)
	for i := range s.Fuel {
		if s.Fuel[i].Status != Off {
			t.Errorf("fuel %d: got %v, want OFF", i+1, s.Fuel[i].Status)
		}
	}
	for i := range s.Ignition {
		if s.Ignition[i].Status != Off {
			t.Errorf("ignition %d: got %v, want OFF", i+1, s.Ignition[i].Status)
		}
	}
}

func TestFuelScheduleLifecycle(t *testing.T) {
	s, _ := newTestScheduler(t)
	var log callbackLog
	ch := &s.Fuel[0]
	SetCallbacks(&ch.Schedule, log.start, log.end)
	timer := softTimer(t, &ch.Schedule)

	s.SetFuelSchedule(ch, 1000, 2000)
	if ch.Status != Pending {
		t.Fatalf("after arming: got %v, want PENDING", ch.Status)
	}
	if timer.CompareValue != 250 || !timer.Enabled {
		t.Errorf("compare: got %d enabled=%v, want 250 enabled", timer.CompareValue, timer.Enabled)
	}

	timer.Tick(249)
	if ch.Status != Pending || len(log.events) != 0 {
		t.Fatalf("before compare: got %v %v", ch.Status, log.events)
	}

	timer.Tick(1)
	if ch.Status != Running {
		t.Fatalf("after start compare: got %v, want RUNNING", ch.Status)
	}
	if timer.CompareValue != 750 {
		t.Errorf("end compare: got %d, want 750", timer.CompareValue)
	}

	timer.Tick(500)
	if ch.Status != Off {
		t.Errorf("after end compare: got %v, want OFF", ch.Status)
	}
	if timer.Enabled {
		t.Error("expected timer disabled after end")
	}
	if len(log.events) != 2 || log.events[0] != "start" || log.events[1] != "end" {
		t.Errorf("callbacks: got %v, want [start end]", log.events)
	}
}

func TestFuelScheduleRunningToPending(t *testing.T) {
	s, _ := newTestScheduler(t)
	var log callbackLog
	ch := &s.Fuel[2]
	SetCallbacks(&ch.Schedule, log.start, log.end)
	timer := softTimer(t, &ch.Schedule)

	s.SetFuelSchedule(ch, 1000, 2000)
	timer.Tick(250)
	if ch.Status != Running {
		t.Fatalf("got %v, want RUNNING", ch.Status)
	}

	// Arming a running channel queues the next event.
	s.SetFuelSchedule(ch, 4000, 1000)
	if ch.Status != Running || !ch.HasNextSchedule {
		t.Fatalf("queue: got %v next=%v", ch.Status, ch.HasNextSchedule)
	}
	if ch.NextStartCompare != 1250 {
		t.Errorf("next start: got %d, want 1250", ch.NextStartCompare)
	}

	timer.Tick(500)
	if ch.Status != Pending || ch.HasNextSchedule {
		t.Fatalf("after end: got %v next=%v, want PENDING without next", ch.Status, ch.HasNextSchedule)
	}
	if timer.CompareValue != 1250 || !timer.Enabled {
		t.Errorf("compare: got %d enabled=%v, want 1250 enabled", timer.CompareValue, timer.Enabled)
	}

	timer.Tick(500)
	if ch.Status != Running {
		t.Fatalf("second start: got %v, want RUNNING", ch.Status)
	}
	timer.Tick(250)
	if ch.Status != Off {
		t.Errorf("second end: got %v, want OFF", ch.Status)
	}
	if len(log.events) != 4 {
		t.Errorf("callbacks: got %v, want 4 events", log.events)
	}
}

func TestSpuriousCompareWhileOffDisablesTimer(t *testing.T) {
	s, _ := newTestScheduler(t)
	var log callbackLog
	ch := &s.Ignition[1]
	SetCallbacks(&ch.Schedule, log.start, log.end)
	timer := softTimer(t, &ch.Schedule)
	timer.Enabled = true

	s.IgnitionHandler(1)()
	if timer.Enabled {
		t.Error("expected timer disabled")
	}
	if ch.Status != Off || len(log.events) != 0 {
		t.Errorf("got %v %v, want OFF with no callbacks", ch.Status, log.events)
	}
}

func TestTimeoutBeyondTimerRangeIgnored(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.SetFuelSchedule(&s.Fuel[0], MaxTimerPeriod, 1000)
	if s.Fuel[0].Status != Off {
		t.Errorf("fuel: got %v, want OFF", s.Fuel[0].Status)
	}
	s.SetIgnitionSchedule(&s.Ignition[0], MaxTimerPeriod+1, 1000)
	if s.Ignition[0].Status != Off {
		t.Errorf("ignition: got %v, want OFF", s.Ignition[0].Status)
	}
}

func TestDurationClamped(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.SetFuelSchedule(&s.Fuel[0], 100, MaxTimerPeriod+5000)
	if s.Fuel[0].Duration != MaxTimerPeriod-1 {
		t.Errorf("got %d, want %d", s.Fuel[0].Duration, MaxTimerPeriod-1)
	}
}

func TestIgnitionScheduleLifecycle(t *testing.T) {
	s, now := newTestScheduler(t)
	var log callbackLog
	ch := &s.Ignition[0]
	SetCallbacks(&ch.Schedule, log.start, log.end)
	timer := softTimer(t, &ch.Schedule)

	s.SetIgnitionSchedule(ch, 400, 4000)
	timer.Tick(100)
	if ch.Status != Running {
		t.Fatalf("got %v, want RUNNING", ch.Status)
	}
	if timer.CompareValue != 1100 {
		t.Errorf("end compare: got %d, want 1100", timer.CompareValue)
	}

	*now = 4000
	timer.Tick(1000)
	if ch.Status != Off {
		t.Errorf("got %v, want OFF", ch.Status)
	}
	if s.IgnitionCount != 1 {
		t.Errorf("IgnitionCount: got %d, want 1", s.IgnitionCount)
	}
	if s.ActualDwell != 3531 {
		t.Errorf("ActualDwell: got %d, want 3531", s.ActualDwell)
	}
}

func TestIgnitionUsesDecoderEndCompare(t *testing.T) {
	s, _ := newTestScheduler(t)
	ch := &s.Ignition[0]
	timer := softTimer(t, &ch.Schedule)

	s.SetIgnitionSchedule(ch, 400, 4000)
	ch.EndCompare = 700
	ch.EndScheduleSetByDecoder = true

	timer.Tick(100)
	if timer.CompareValue != 700 {
		t.Errorf("end compare: got %d, want 700", timer.CompareValue)
	}
	timer.Tick(600)
	if ch.Status != Off {
		t.Errorf("got %v, want OFF", ch.Status)
	}
	if ch.EndScheduleSetByDecoder {
		t.Error("expected EndScheduleSetByDecoder cleared after end")
	}
}

func TestAdjustCrankAnglePendingBelowMinRevolutions(t *testing.T) {
	s, _ := newTestScheduler(t)
	ch := &s.Ignition[3]
	timer := softTimer(t, &ch.Schedule)
	ch.Status = Pending
	timer.CompareValue = 101
	timer.Count = 100

	s.AdjustCrankAngle(ch, 359, 180, 0)

	if timer.CompareValue != 101 {
		t.Errorf("compare: got %d, want 101", timer.CompareValue)
	}
	if timer.Count != 100 {
		t.Errorf("counter: got %d, want 100", timer.Count)
	}
	if ch.EndScheduleSetByDecoder {
		t.Error("expected EndScheduleSetByDecoder false")
	}
}

func TestAdjustCrankAnglePendingAboveMinRevolutions(t *testing.T) {
	s, _ := newTestScheduler(t)
	ch := &s.Ignition[3]
	timer := softTimer(t, &ch.Schedule)
	ch.Status = Pending
	timer.CompareValue = 101
	timer.Count = 100
	ch.EndCompare = 100

	s.AdjustCrankAngle(ch, 359, 180, 2000)

	want := 100 + TicksFromMicros(s.Converter().AngleToTimeMicroSecPerDegree(359-180))
	if timer.CompareValue != 101 {
		t.Errorf("compare: got %d, want 101", timer.CompareValue)
	}
	if timer.Count != 100 {
		t.Errorf("counter: got %d, want 100", timer.Count)
	}
	if ch.EndCompare != want {
		t.Errorf("end compare: got %d, want %d", ch.EndCompare, want)
	}
	if !ch.EndScheduleSetByDecoder {
		t.Error("expected EndScheduleSetByDecoder true")
	}
}

func TestAdjustCrankAnglePendingAtMinRevolutions(t *testing.T) {
	tests := []struct {
		revs uint32
		set  bool
	}{
		{MinCyclesForEndCompare - 1, false},
		{MinCyclesForEndCompare, false},
		{MinCyclesForEndCompare + 1, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("revs=%d", tt.revs), func(t *testing.T) {
			s, _ := newTestScheduler(t)
			ch := &s.Ignition[3]
			timer := softTimer(t, &ch.Schedule)
			ch.Status = Pending
			timer.Count = 100
			ch.EndCompare = 100

			s.AdjustCrankAngle(ch, 359, 180, tt.revs)

			if ch.EndScheduleSetByDecoder != tt.set {
				t.Errorf("EndScheduleSetByDecoder: got %v, want %v", ch.EndScheduleSetByDecoder, tt.set)
			}
			if !tt.set && ch.EndCompare != 100 {
				t.Errorf("end compare: got %d, want 100", ch.EndCompare)
			}
		})
	}
}

func TestAdjustCrankAngleRunning(t *testing.T) {
	s, _ := newTestScheduler(t)
	ch := &s.Ignition[3]
	timer := softTimer(t, &ch.Schedule)
	ch.Status = Running
	timer.CompareValue = 101
	timer.Count = 100
	ch.EndCompare = 100

	s.AdjustCrankAngle(ch, 359, 180, 2000)

	want := 100 + TicksFromMicros(s.Converter().AngleToTimeMicroSecPerDegree(359-180))
	if timer.CompareValue != want {
		t.Errorf("compare: got %d, want %d", timer.CompareValue, want)
	}
	if timer.Count != 100 {
		t.Errorf("counter: got %d, want 100", timer.Count)
	}
	if ch.EndCompare != 100 {
		t.Errorf("end compare: got %d, want 100", ch.EndCompare)
	}
	if ch.EndScheduleSetByDecoder {
		t.Error("expected EndScheduleSetByDecoder false")
	}
}

func TestRefreshIgnitionSchedule(t *testing.T) {
	s, _ := newTestScheduler(t)
	ch := &s.Ignition[0]
	timer := softTimer(t, &ch.Schedule)

	// Not running: no change.
	s.RefreshIgnitionSchedule(ch, 100)
	if ch.EndCompare != 0 {
		t.Errorf("off: end compare got %d, want 0", ch.EndCompare)
	}

	s.SetIgnitionSchedule(ch, 400, 4000)
	timer.Tick(100)

	s.RefreshIgnitionSchedule(ch, 5000)
	if timer.CompareValue != 1100 {
		t.Errorf("longer than dwell: compare got %d, want 1100", timer.CompareValue)
	}

	s.RefreshIgnitionSchedule(ch, 2000)
	if ch.EndCompare != 600 || timer.CompareValue != 600 {
		t.Errorf("shorter: got end %d compare %d, want 600", ch.EndCompare, timer.CompareValue)
	}
}

func TestArmIgnitionNextOccurrence(t *testing.T) {
	s, _ := newTestScheduler(t)
	ch := &s.Ignition[0]
	CalculateIgnitionAngle(ch, testDwellAngle, 0, s.MaxIgn)

	// Start angle 264 has just passed at 270.
	s.ArmIgnition(ch, 270, 4000)

	if ch.Status != Pending {
		t.Fatalf("got %v, want PENDING", ch.Status)
	}
	want := TicksFromMicros(14750)
	if ch.StartCompare != want {
		t.Errorf("start compare: got %d, want %d", ch.StartCompare, want)
	}
}

func TestArmIgnitionAhead(t *testing.T) {
	s, _ := newTestScheduler(t)
	ch := &s.Ignition[0]
	CalculateIgnitionAngle(ch, testDwellAngle, 0, s.MaxIgn)

	s.ArmIgnition(ch, 90, 4000)
	if ch.StartCompare != TicksFromMicros(7250) {
		t.Errorf("start compare: got %d, want %d", ch.StartCompare, TicksFromMicros(7250))
	}
}

func TestArmFuel(t *testing.T) {
	s, _ := newTestScheduler(t)
	ch := &s.Fuel[0]

	s.ArmFuel(ch, 355, 0, 3000)
	if ch.StartAngle != 282 {
		t.Errorf("start angle: got %d, want 282", ch.StartAngle)
	}
	if ch.StartCompare != TicksFromMicros(11562) {
		t.Errorf("start compare: got %d, want %d", ch.StartCompare, TicksFromMicros(11562))
	}

	s.AllOff()
	s.ArmFuel(ch, 355, 315, 3000)
	if ch.StartCompare != TicksFromMicros(13407) {
		t.Errorf("next occurrence: got %d, want %d", ch.StartCompare, TicksFromMicros(13407))
	}
}

func TestBeginInjectorPriming(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.BeginInjectorPriming(10, 4)
	for i := 0; i < 4; i++ {
		if s.Fuel[i].Status != Pending {
			t.Errorf("fuel %d: got %v, want PENDING", i+1, s.Fuel[i].Status)
		}
		if s.Fuel[i].Duration != 5000 {
			t.Errorf("fuel %d duration: got %d, want 5000", i+1, s.Fuel[i].Duration)
		}
	}
	if s.Fuel[4].Status != Off {
		t.Errorf("fuel 5: got %v, want OFF", s.Fuel[4].Status)
	}
}

func TestAllOffClosesRunningOutputs(t *testing.T) {
	s, _ := newTestScheduler(t)
	var log callbackLog
	ch := &s.Ignition[0]
	SetCallbacks(&ch.Schedule, log.start, log.end)
	timer := softTimer(t, &ch.Schedule)

	s.SetIgnitionSchedule(ch, 400, 4000)
	timer.Tick(100)
	s.AllOff()

	if ch.Status != Off || timer.Enabled {
		t.Errorf("got %v enabled=%v, want OFF disabled", ch.Status, timer.Enabled)
	}
	if len(log.events) != 2 || log.events[1] != "end" {
		t.Errorf("callbacks: got %v, want [start end]", log.events)
	}
}

func TestStatusString(t *testing.T) {
	tests := map[Status]string{Off: "OFF", Pending: "PENDING", Running: "RUNNING", Status(9): "UNKNOWN"}
	for st, want := range tests {
		if got := st.String(); got != want {
			t.Errorf("%d: got %q, want %q", st, got, want)
		}
	}
}

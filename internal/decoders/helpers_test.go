package decoders

import (
	"errors"
	"testing"

	"github.com/sweeney/ecu-trigger/internal/crankmath"
	"github.com/sweeney/ecu-trigger/internal/irq"
	"github.com/sweeney/ecu-trigger/internal/schedule"
)

// testRig is a context wired to a scheduler and a settable clock.
type testRig struct {
	ctx   *Context
	sched *schedule.Scheduler
	now   *uint32
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	now := new(uint32)
	micros := func() uint32 { return *now }
	guard := &irq.Guard{}
	sched := schedule.New(&crankmath.Converter{}, guard, micros)
	return &testRig{
		ctx:   NewContext(cfg, sched, guard, micros),
		sched: sched,
		now:   now,
	}
}

// tooth advances the clock by gap and fires the primary handler.
func (r *testRig) tooth(gap uint32) {
	*r.now += gap
	r.ctx.Decoder().Primary.Callback(*r.now)
}

// teeth fires n evenly spaced primary teeth.
func (r *testRig) teeth(n int, gap uint32) {
	for i := 0; i < n; i++ {
		r.tooth(gap)
	}
}

// fakeInputs records attached handlers and serves pin levels.
type fakeInputs struct {
	handlers  map[int]func(uint32)
	edges     map[int]Edge
	levels    map[int]bool
	attachErr error
	detaches  int
}

func newFakeInputs() *fakeInputs {
	return &fakeInputs{
		handlers: make(map[int]func(uint32)),
		edges:    make(map[int]Edge),
		levels:   make(map[int]bool),
	}
}

func (f *fakeInputs) Attach(pin int, edge Edge, handler func(uint32)) error {
	if f.attachErr != nil {
		return f.attachErr
	}
	f.handlers[pin] = handler
	f.edges[pin] = edge
	return nil
}

func (f *fakeInputs) Detach(pin int) error {
	f.detaches++
	delete(f.handlers, pin)
	delete(f.edges, pin)
	return nil
}

func (f *fakeInputs) Read(pin int) bool { return f.levels[pin] }

// fire calls the handler on pin, failing the test if none is attached.
func (f *fakeInputs) fire(t *testing.T, pin int, now uint32) {
	t.Helper()
	h, ok := f.handlers[pin]
	if !ok {
		t.Fatalf("no handler attached on pin %d", pin)
	}
	h(now)
}

var errAttach = errors.New("line busy")

var testPins = Pins{Primary: 17, Secondary: 27, Tertiary: 22}

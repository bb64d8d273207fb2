package gpio

import (
	"errors"
	"sync"

	"github.com/sweeney/ecu-trigger/internal/decoders"
)

// FakeWatcher is a test double that delivers scripted edges.
type FakeWatcher struct {
	mu       sync.Mutex
	handlers map[int]func(uint32)
	edges    map[int]decoders.Edge
	levels   map[int]bool

	// AttachError, if set, will be returned by Attach.
	AttachError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeWatcher creates a FakeWatcher with every pin low.
func NewFakeWatcher() *FakeWatcher {
	return &FakeWatcher{
		handlers: make(map[int]func(uint32)),
		edges:    make(map[int]decoders.Edge),
		levels:   make(map[int]bool),
	}
}

// Attach records the handler for pin, replacing any earlier one.
func (f *FakeWatcher) Attach(pin int, edge decoders.Edge, handler func(now uint32)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AttachError != nil {
		return f.AttachError
	}
	if f.Closed {
		return errors.New("watcher closed")
	}
	f.handlers[pin] = handler
	f.edges[pin] = edge
	return nil
}

// Detach removes the handler for pin.
func (f *FakeWatcher) Detach(pin int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, pin)
	delete(f.edges, pin)
	return nil
}

// Read returns the last level set on pin.
func (f *FakeWatcher) Read(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[pin]
}

// Edge returns the edge pin is attached on and whether it is attached.
func (f *FakeWatcher) Edge(pin int) (decoders.Edge, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.edges[pin]
	return e, ok
}

// Fire calls the handler attached to pin regardless of edge and reports
// whether there was one.
func (f *FakeWatcher) Fire(pin int, now uint32) bool {
	f.mu.Lock()
	h := f.handlers[pin]
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(now)
	return true
}

// SetLevel moves pin to level high at time now and calls its handler when
// the transition matches the attached edge. Setting the current level is
// not a transition.
func (f *FakeWatcher) SetLevel(pin int, high bool, now uint32) bool {
	f.mu.Lock()
	if f.levels[pin] == high {
		f.mu.Unlock()
		return false
	}
	f.levels[pin] = high
	h := f.handlers[pin]
	edge := f.edges[pin]
	f.mu.Unlock()

	if h == nil || !edge.Matches(high) {
		return false
	}
	h(now)
	return true
}

// Pulse raises pin at now and lowers it width microseconds later.
func (f *FakeWatcher) Pulse(pin int, now, width uint32) {
	f.SetLevel(pin, true, now)
	f.SetLevel(pin, false, now+width)
}

// Close marks the watcher as closed and drops every handler.
func (f *FakeWatcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	f.handlers = make(map[int]func(uint32))
	f.edges = make(map[int]decoders.Edge)
	return nil
}

// Transition is one recorded output change.
type Transition struct {
	Pin  int
	High bool
}

// FakeOutputs records output transitions for test assertions.
type FakeOutputs struct {
	mu      sync.Mutex
	levels  map[int]bool
	history []Transition

	// SetError, if set, will be returned by Set.
	SetError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeOutputs creates FakeOutputs with every line low.
func NewFakeOutputs() *FakeOutputs {
	return &FakeOutputs{levels: make(map[int]bool)}
}

// Set records the new level of pin.
func (f *FakeOutputs) Set(pin int, high bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.levels[pin] = high
	f.history = append(f.history, Transition{Pin: pin, High: high})
	return nil
}

// Level returns the current level of pin.
func (f *FakeOutputs) Level(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[pin]
}

// History returns a copy of every transition in order.
func (f *FakeOutputs) History() []Transition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Transition(nil), f.history...)
}

// Pulses returns the number of rising transitions on pin.
func (f *FakeOutputs) Pulses(pin int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, tr := range f.history {
		if tr.Pin == pin && tr.High {
			n++
		}
	}
	return n
}

// Close drives every line low and marks the outputs as closed.
func (f *FakeOutputs) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pin, high := range f.levels {
		if high {
			f.levels[pin] = false
			f.history = append(f.history, Transition{Pin: pin})
		}
	}
	f.Closed = true
	return nil
}

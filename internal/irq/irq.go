// Package irq provides the critical section shared by everything that runs
// in interrupt context: trigger edge handlers and timer compare handlers.
//
// On a microcontroller these run with interrupts masked. Here they arrive on
// separate goroutines, so a single Guard serialises them and gives the main
// loop the same brief "interrupts off" window for multi-field reads.
package irq

import "sync"

// Guard is a non-reentrant critical section. The zero value is ready to use.
type Guard struct {
	mu sync.Mutex
}

// Disable enters the critical section.
func (g *Guard) Disable() {
	g.mu.Lock()
}

// Enable leaves the critical section.
func (g *Guard) Enable() {
	g.mu.Unlock()
}

// Run calls fn inside the critical section.
func (g *Guard) Run(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn()
}

// Dispatch calls an edge or timer handler with its timestamp inside the
// critical section.
func (g *Guard) Dispatch(handler func(now uint32), now uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	handler(now)
}

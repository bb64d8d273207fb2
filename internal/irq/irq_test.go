package irq

import (
	"sync"
	"testing"
	"time"
)

func TestDispatchPassesTimestamp(t *testing.T) {
	var g Guard
	var got uint32
	g.Dispatch(func(now uint32) { got = now }, 1234)
	if got != 1234 {
		t.Errorf("got %d, want 1234", got)
	}
}

func TestDispatchSerialises(t *testing.T) {
	var g Guard
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				g.Dispatch(func(uint32) { count++ }, uint32(j))
			}
		}()
	}
	wg.Wait()
	if count != 8000 {
		t.Errorf("got %d, want 8000", count)
	}
}

func TestDisableHoldsOffHandlers(t *testing.T) {
	var g Guard
	fired := make(chan struct{})

	g.Disable()
	go g.Dispatch(func(uint32) { close(fired) }, 0)

	select {
	case <-fired:
		t.Fatal("handler ran inside the critical section")
	case <-time.After(20 * time.Millisecond):
	}

	g.Enable()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("handler did not run after Enable")
	}
}

func TestRun(t *testing.T) {
	var g Guard
	ran := false
	g.Run(func() { ran = true })
	if !ran {
		t.Error("fn not called")
	}
	// The guard is free again.
	g.Disable()
	g.Enable()
}

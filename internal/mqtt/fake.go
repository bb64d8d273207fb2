package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/sweeney/ecu-trigger/internal/logic"
)

// FakePublisher records what a broker would have received. Engine events
// go through FormatPayload and are decoded again, so assertions see the
// wire fields rather than the logic.Event that produced them.
type FakePublisher struct {
	// Events holds the decoded payload of every engine event published.
	Events []EnginePayload

	// SystemEvents holds every system event published.
	SystemEvents []SystemEvent

	// PublishError and PublishSystemError, if set, fail the matching call
	// without recording anything.
	PublishError       error
	PublishSystemError error

	Closed    bool
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish formats the engine event and records the decoded payload.
func (f *FakePublisher) Publish(event logic.Event) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	b, err := FormatPayload(event)
	if err != nil {
		return err
	}
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("decode engine payload: %w", err)
	}
	f.Events = append(f.Events, p.Engine)
	return nil
}

// PublishSystem records the system event once its payload formats.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	if _, err := FormatSystemPayload(event); err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected returns Connected.
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// EventTypes returns the event names of the recorded engine payloads in
// order.
func (f *FakePublisher) EventTypes() []logic.EventType {
	types := make([]logic.EventType, len(f.Events))
	for i, e := range f.Events {
		types[i] = logic.EventType(e.Event)
	}
	return types
}

// SystemNames returns the names of the recorded system events in order.
func (f *FakePublisher) SystemNames() []string {
	names := make([]string, len(f.SystemEvents))
	for i, e := range f.SystemEvents {
		names[i] = e.Event
	}
	return names
}

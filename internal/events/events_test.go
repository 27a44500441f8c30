package events

import (
	"encoding/json"
	"errors"
	"testing"

	"transfit/internal/models"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	handler := func(event *Event) error {
		received = event
		callCount++
		return nil
	}

	bus.Subscribe("test_event", handler)

	payload := map[string]string{"foo": "bar"}
	err := bus.PublishJSON("test_event", payload)
	if err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}

	if received.Type != "test_event" {
		t.Errorf("expected type test_event, got %s", received.Type)
	}

	var decoded map[string]string
	if err := json.Unmarshal(received.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}

	if decoded["foo"] != "bar" {
		t.Errorf("expected foo=bar, got %s", decoded["foo"])
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: "event"})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Should not panic
	bus.Publish(&Event{Type: "unknown"})
	err := bus.PublishJSON("unknown", nil)
	if err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}
}

func TestNewJSONEvent(t *testing.T) {
	event, err := NewJSONEvent("type", map[string]int{"pending": 3})
	if err != nil {
		t.Fatalf("NewJSONEvent failed: %v", err)
	}

	if event.Type != "type" {
		t.Errorf("expected type, got %s", event.Type)
	}

	if event.CreatedAt.IsZero() {
		t.Errorf("expected CreatedAt to be set")
	}

	var decoded map[string]int
	if err := json.Unmarshal(event.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	if decoded["pending"] != 3 {
		t.Errorf("expected pending 3, got %d", decoded["pending"])
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	var first, second int

	unsub := bus.Subscribe("event", func(_ *Event) error { first++; return nil })
	bus.Subscribe("event", func(_ *Event) error { second++; return nil })

	bus.Publish(&Event{Type: "event"})
	unsub()
	unsub()
	bus.Publish(&Event{Type: "event"})

	if first != 1 {
		t.Errorf("expected unsubscribed handler to run once, got %d", first)
	}
	if second != 2 {
		t.Errorf("expected remaining handler to run twice, got %d", second)
	}
}

func TestRecorder(t *testing.T) {
	bus := NewEventBus()
	var got map[string]any
	bus.Subscribe(EventSyncItemDropped, func(e *Event) error {
		return json.Unmarshal(e.Payload, &got)
	})

	NewRecorder(bus, nil).RecordEvent(EventSyncItemDropped, map[string]any{"entity_type": "plan", "id": "p1"})

	if got["entity_type"] != "plan" || got["id"] != "p1" {
		t.Errorf("unexpected payload %v", got)
	}

	// nil props must still publish an object
	got = nil
	NewRecorder(bus, nil).RecordEvent(EventSyncItemDropped, nil)
	if got == nil {
		t.Errorf("expected empty object payload")
	}
}

type failingPublisher struct {
	calls int
}

func (p *failingPublisher) PublishJSON(string, interface{}) error {
	p.calls++
	return errors.New("bus closed")
}

func TestRecorderPublishFailure(t *testing.T) {
	pub := &failingPublisher{}
	NewRecorder(pub, nil).RecordEvent(EventSyncFailed, map[string]any{"error": "offline"})

	if pub.calls != 1 {
		t.Errorf("expected one publish attempt, got %d", pub.calls)
	}
}

func TestLifecycleSource(t *testing.T) {
	bus := NewEventBus()
	src := NewLifecycleSource(bus)

	var states []models.AppState
	unsub := src.Subscribe(func(s models.AppState) { states = append(states, s) })

	if err := src.Emit(models.AppStateBackground); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if err := src.Emit(models.AppStateActive); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	unsub()
	_ = src.Emit(models.AppStateBackground)

	if len(states) != 2 || states[0] != models.AppStateBackground || states[1] != models.AppStateActive {
		t.Errorf("unexpected transitions %v", states)
	}
}

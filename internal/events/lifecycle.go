package events

import (
	"encoding/json"

	"transfit/internal/models"
)

type lifecyclePayload struct {
	State models.AppState `json:"state"`
}

// LifecycleSource carries host visibility transitions over the bus.
type LifecycleSource struct {
	bus *EventBus
}

func NewLifecycleSource(bus *EventBus) *LifecycleSource {
	return &LifecycleSource{bus: bus}
}

// Emit announces that the host moved to state.
func (s *LifecycleSource) Emit(state models.AppState) error {
	return s.bus.PublishJSON(EventLifecycleChanged, lifecyclePayload{State: state})
}

// Subscribe delivers every transition to handler until the returned func is called.
func (s *LifecycleSource) Subscribe(handler func(state models.AppState)) func() {
	return s.bus.Subscribe(EventLifecycleChanged, func(event *Event) error {
		var p lifecyclePayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return err
		}
		handler(p.State)
		return nil
	})
}

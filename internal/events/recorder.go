package events

import (
	"transfit/internal/domain"
	"transfit/internal/logging"

	"github.com/rs/zerolog"
)

// Recorder publishes analytics events on the bus. Publishing failures are logged and dropped.
type Recorder struct {
	bus    domain.EventPublisher
	logger *zerolog.Logger
}

func NewRecorder(bus domain.EventPublisher, logger *zerolog.Logger) *Recorder {
	return &Recorder{bus: bus, logger: logging.Component(logger, "analytics")}
}

func (r *Recorder) RecordEvent(name string, props map[string]any) {
	if props == nil {
		props = map[string]any{}
	}
	if err := r.bus.PublishJSON(name, props); err != nil {
		r.logger.Warn().Err(err).Str("event", name).Msg("failed to record event")
		return
	}
	r.logger.Debug().Str("event", name).Fields(props).Msg("event recorded")
}

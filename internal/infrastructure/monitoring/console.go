package monitoring

import (
	"github.com/rs/zerolog"

	"github.com/noetl/noetl/internal/domain"
)

// ConsoleObserver logs each folded event at a level derived from its
// status, grounded on the teacher's console_logger.go (one structured log
// line per execution event, level derived from success/failure).
type ConsoleObserver struct {
	log zerolog.Logger
}

func NewConsoleObserver(log zerolog.Logger) *ConsoleObserver {
	return &ConsoleObserver{log: log}
}

func (o *ConsoleObserver) OnEvents(executionID int64, events []domain.Event) {
	for _, evt := range events {
		entry := o.log.Info()
		if evt.Status == domain.StatusFailed {
			entry = o.log.Warn()
		}
		entry = entry.Int64("execution_id", executionID).
			Str("event_type", string(evt.EventType)).
			Str("node_id", evt.NodeID).
			Str("status", string(evt.Status))
		if evt.Error != nil {
			entry = entry.Str("error_kind", string(evt.Error.Kind)).Str("error", evt.Error.Message)
		}
		entry.Msg("execution event")
	}
}

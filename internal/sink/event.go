package sink

import (
	"context"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/eventlog"
)

// EventSink appends a step's result directly into the event log as a
// sink.executed event, for playbooks that want a result recorded as an
// audit fact rather than pushed to an external system. Grounded on
// eventlog.EventLog.Append, the same ingestion path the worker's own
// step.exit/action.completed reports use.
type EventSink struct {
	Log eventlog.EventLog
}

func NewEventSink(log eventlog.EventLog) *EventSink {
	return &EventSink{Log: log}
}

func (s *EventSink) Kind() string { return "event" }

func (s *EventSink) Execute(ctx context.Context, executionID int64, nodeID string, spec map[string]any, data any) error {
	result, _ := data.(map[string]any)
	if result == nil {
		result = map[string]any{"value": data}
	}
	evt := domain.NewEvent(executionID, domain.EventSinkExecuted, domain.StatusCompleted)
	evt.NodeID = nodeID
	evt.Result = result
	evt.Context = spec
	_, err := s.Log.Append(ctx, evt)
	return err
}

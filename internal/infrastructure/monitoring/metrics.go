package monitoring

import (
	"sync"
	"time"

	"github.com/noetl/noetl/internal/domain"
)

// MetricsCollector aggregates per-step execution counts
// and durations, grounded on the teacher's MetricsCollector (per-
// workflow/per-node maps, min/max/average duration tracking), generalized
// from node-type metrics to step-id metrics keyed directly off folded
// events rather than a separate RecordXxx call per lifecycle phase.
type MetricsCollector struct {
	mu    sync.RWMutex
	steps map[string]*StepMetrics // node_id -> metrics
}

type StepMetrics struct {
	NodeID          string        `json:"node_id"`
	ExecutionCount  int           `json:"execution_count"`
	SuccessCount    int           `json:"success_count"`
	FailureCount    int           `json:"failure_count"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	MinDuration     time.Duration `json:"min_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	startedAt       map[int64]time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{steps: make(map[string]*StepMetrics)}
}

func (mc *MetricsCollector) stepFor(nodeID string) *StepMetrics {
	s, ok := mc.steps[nodeID]
	if !ok {
		s = &StepMetrics{NodeID: nodeID, startedAt: make(map[int64]time.Time)}
		mc.steps[nodeID] = s
	}
	return s
}

// OnEvents implements monitoring.Observer / scheduler.Notifier, deriving
// per-step durations from step.enter/step.exit (or action.completed/
// action.error) pairs within the same execution.
func (mc *MetricsCollector) OnEvents(executionID int64, events []domain.Event) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for _, evt := range events {
		s := mc.stepFor(evt.NodeID)
		switch evt.EventType {
		case domain.EventStepEnter:
			s.startedAt[executionID] = evt.Timestamp
		case domain.EventStepExit, domain.EventActionCompleted, domain.EventActionError:
			s.ExecutionCount++
			if evt.Error != nil {
				s.FailureCount++
			} else {
				s.SuccessCount++
			}
			if start, ok := s.startedAt[executionID]; ok {
				d := evt.Timestamp.Sub(start)
				s.TotalDuration += d
				if s.MinDuration == 0 || d < s.MinDuration {
					s.MinDuration = d
				}
				if d > s.MaxDuration {
					s.MaxDuration = d
				}
				delete(s.startedAt, executionID)
			}
		}
	}
}

// Summary returns a snapshot of every step's metrics, including the
// derived average duration (spec.md's optional metrics summary, SPEC_FULL
// §C.2).
func (mc *MetricsCollector) Summary() map[string]StepMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	out := make(map[string]StepMetrics, len(mc.steps))
	for id, s := range mc.steps {
		avg := time.Duration(0)
		if s.ExecutionCount > 0 {
			avg = s.TotalDuration / time.Duration(s.ExecutionCount)
		}
		out[id] = StepMetrics{
			NodeID:          s.NodeID,
			ExecutionCount:  s.ExecutionCount,
			SuccessCount:    s.SuccessCount,
			FailureCount:    s.FailureCount,
			TotalDuration:   s.TotalDuration,
			AverageDuration: avg,
			MinDuration:     s.MinDuration,
			MaxDuration:     s.MaxDuration,
		}
	}
	return out
}

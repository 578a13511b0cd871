package domain

import "time"

// StepState is the per-(execution_id, node_id) value object, grounded on
// the teacher's internal/domain/node_state.go NodeExecutionState.
type StepState struct {
	NodeID     string
	NodeName   string
	status     Status
	startedAt  *time.Time
	finishedAt *time.Time
	result     map[string]any
	errMessage string
	attempts   int
}

// NewStepState creates a step instance in PENDING status.
func NewStepState(nodeID, nodeName string) *StepState {
	return &StepState{NodeID: nodeID, NodeName: nodeName, status: StatusPending}
}

func (s *StepState) Start() {
	now := time.Now()
	s.startedAt = &now
	s.status = StatusStarted
}

func (s *StepState) Complete(result map[string]any) {
	now := time.Now()
	s.finishedAt = &now
	s.status = StatusCompleted
	s.result = result
}

func (s *StepState) Fail(message string) {
	now := time.Now()
	s.finishedAt = &now
	s.status = StatusFailed
	s.errMessage = message
}

func (s *StepState) Cancel() {
	now := time.Now()
	s.finishedAt = &now
	s.status = StatusCancelled
}

func (s *StepState) IncrementAttempt() { s.attempts++ }
func (s *StepState) Attempts() int     { return s.attempts }

func (s *StepState) Status() Status { return s.status }
func (s *StepState) Result() map[string]any { return s.result }
func (s *StepState) ErrorMessage() string   { return s.errMessage }

// IsTerminal reports whether the step instance has reached a terminal
// status (COMPLETED/FAILED/CANCELLED).
func (s *StepState) IsTerminal() bool {
	switch s.status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s *StepState) Duration() time.Duration {
	if s.startedAt == nil {
		return 0
	}
	end := time.Now()
	if s.finishedAt != nil {
		end = *s.finishedAt
	}
	return end.Sub(*s.startedAt)
}

// Projection is the read-only step.<id>.status view exposed to the
// template renderer, per spec.md §4.4.
type Projection struct {
	Done       bool       `json:"done"`
	Ok         bool       `json:"ok"`
	Running    bool       `json:"running"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Total      int        `json:"total"`
	Completed  int        `json:"completed"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
}

// Project converts the step state into the read-only view.
func (s *StepState) Project() Projection {
	return Projection{
		Done:       s.IsTerminal(),
		Ok:         s.status == StatusCompleted,
		Running:    s.status == StatusStarted,
		StartedAt:  s.startedAt,
		FinishedAt: s.finishedAt,
		Error:      s.errMessage,
		Total:      1,
		Completed:  boolToInt(s.IsTerminal()),
		Succeeded:  boolToInt(s.status == StatusCompleted),
		Failed:     boolToInt(s.status == StatusFailed),
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package monitoring implements observers of newly folded execution
// events, grounded on the teacher's internal/infrastructure/monitoring
// package (ExecutionObserver/ObserverManager fan-out pattern). NoETL's
// event-sourced model needs no per-node-type observer methods, so the
// teacher's many OnNodeStarted/OnNodeCompleted/... callbacks collapse
// into a single OnEvents(executionID, events) call — the same shape as
// scheduler.Notifier, satisfied structurally without an import.
package monitoring

import (
	"sync"

	"github.com/noetl/noetl/internal/domain"
)

// Observer reacts to a batch of newly folded events for one execution.
type Observer interface {
	OnEvents(executionID int64, events []domain.Event)
}

// Manager fans a scheduler's folded events out to every registered
// Observer, mirroring the teacher's ObserverManager (RWMutex-guarded
// slice, add/notify).
type Manager struct {
	mu        sync.RWMutex
	observers []Observer
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// OnEvents implements scheduler.Notifier.
func (m *Manager) OnEvents(executionID int64, events []domain.Event) {
	m.mu.RLock()
	observers := append([]Observer(nil), m.observers...)
	m.mu.RUnlock()
	for _, o := range observers {
		o.OnEvents(executionID, events)
	}
}

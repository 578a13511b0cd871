package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/noetl/noetl/internal/domain"
)

// MemoryEventLog mirrors the teacher's MemoryEventStore: a mutex-guarded
// map used for dev mode and as a test fixture.
type MemoryEventLog struct {
	mu     sync.RWMutex
	nextID int64
	byExec map[int64][]domain.Event
	seen   map[string]bool
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{
		byExec: make(map[int64][]domain.Event),
		seen:   make(map[string]bool),
	}
}

func (l *MemoryEventLog) Append(_ context.Context, evt domain.Event) (domain.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(evt), nil
}

func (l *MemoryEventLog) appendLocked(evt domain.Event) domain.Event {
	key := evt.IdempotencyKey()
	if l.seen[key] {
		return evt
	}
	l.seen[key] = true
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	l.nextID++
	evt.EventID = l.nextID
	l.byExec[evt.ExecutionID] = append(l.byExec[evt.ExecutionID], evt)
	return evt
}

func (l *MemoryEventLog) AppendBatch(_ context.Context, evts []domain.Event) ([]domain.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Event, len(evts))
	for i, e := range evts {
		out[i] = l.appendLocked(e)
	}
	return out, nil
}

func (l *MemoryEventLog) ForExecution(_ context.Context, executionID int64) ([]domain.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Event, len(l.byExec[executionID]))
	copy(out, l.byExec[executionID])
	return out, nil
}

func (l *MemoryEventLog) Since(_ context.Context, executionID int64, afterID int64) ([]domain.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Event
	for _, e := range l.byExec[executionID] {
		if e.EventID > afterID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *MemoryEventLog) ByType(_ context.Context, executionID int64, t domain.EventType) ([]domain.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Event
	for _, e := range l.byExec[executionID] {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *MemoryEventLog) Count(_ context.Context, executionID int64) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byExec[executionID]), nil
}

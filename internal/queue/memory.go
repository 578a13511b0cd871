package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is an in-process implementation, mirroring the teacher's
// MemoryEventStore (mutex-guarded map, used both for dev mode and as a test
// fixture).
type MemoryQueue struct {
	mu      sync.Mutex
	rows    map[int64]*Command
	nextID  int64
	leaseBy map[int64]string
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{rows: make(map[int64]*Command)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, cmd *Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	cmd.ID = q.nextID
	cmd.Status = StatusPending
	if cmd.AvailableAt.IsZero() {
		cmd.AvailableAt = time.Now()
	}
	cp := *cmd
	q.rows[cmd.ID] = &cp
	*cmd = cp
	return nil
}

func (q *MemoryQueue) Claim(_ context.Context, workerID string, filter ClaimFilter, maxItems int, leaseMs int) ([]*Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var candidates []*Command
	for _, c := range q.rows {
		if filter.Pool != "" && c.Pool != "" && c.Pool != filter.Pool {
			continue
		}
		if filter.Runtime != "" && c.Runtime != "" && c.Runtime != filter.Runtime {
			continue
		}
		switch c.Status {
		case StatusPending, StatusReleased:
			if c.AvailableAt.After(now) {
				continue
			}
			candidates = append(candidates, c)
		case StatusLeased:
			if leaseExpired(c, now) {
				candidates = append(candidates, c)
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		if !candidates[i].AvailableAt.Equal(candidates[j].AvailableAt) {
			return candidates[i].AvailableAt.Before(candidates[j].AvailableAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	claimed := make([]*Command, 0, maxItems)
	leaseUntil := now.Add(time.Duration(leaseMs) * time.Millisecond)
	for _, c := range candidates {
		if len(claimed) >= maxItems {
			break
		}
		if c.Status == StatusLeased {
			c.ReclaimCount++
		}
		c.Status = StatusLeased
		c.WorkerID = workerID
		c.LeaseUntil = &leaseUntil
		hb := now
		c.LastHeartbeat = &hb
		c.Attempts++
		cp := *c
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (q *MemoryQueue) Heartbeat(_ context.Context, commandID int64, workerID string, extendMs int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.rows[commandID]
	if !ok {
		return fmt.Errorf("queue: command %d not found", commandID)
	}
	if c.WorkerID != workerID || c.Status != StatusLeased {
		return &ErrLeaseNotOwned{CommandID: commandID, WorkerID: workerID}
	}
	until := time.Now().Add(time.Duration(extendMs) * time.Millisecond)
	c.LeaseUntil = &until
	hb := time.Now()
	c.LastHeartbeat = &hb
	return nil
}

func (q *MemoryQueue) Complete(_ context.Context, commandID int64, workerID string, failed bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.rows[commandID]
	if !ok {
		return fmt.Errorf("queue: command %d not found", commandID)
	}
	if c.Status == StatusDone || c.Status == StatusFailed {
		return nil // idempotent on duplicate completion
	}
	if c.WorkerID != workerID {
		return &ErrLeaseNotOwned{CommandID: commandID, WorkerID: workerID}
	}
	if failed {
		c.Status = StatusFailed
	} else {
		c.Status = StatusDone
	}
	return nil
}

func (q *MemoryQueue) Release(_ context.Context, commandID int64, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.rows[commandID]
	if !ok {
		return fmt.Errorf("queue: command %d not found", commandID)
	}
	c.Status = StatusReleased
	c.WorkerID = ""
	c.LeaseUntil = nil
	return nil
}

func (q *MemoryQueue) Reap(_ context.Context) ([]int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	var reaped []int64
	for _, c := range q.rows {
		if c.Status == StatusLeased && leaseExpired(c, now) {
			c.Status = StatusReleased
			c.WorkerID = ""
			c.LeaseUntil = nil
			c.ReclaimCount++
			reaped = append(reaped, c.ID)
		}
	}
	return reaped, nil
}

func (q *MemoryQueue) Get(_ context.Context, commandID int64) (*Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.rows[commandID]
	if !ok {
		return nil, fmt.Errorf("queue: command %d not found", commandID)
	}
	cp := *c
	return &cp, nil
}

func (q *MemoryQueue) ByExecution(_ context.Context, executionID int64) ([]*Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Command
	for _, c := range q.rows {
		if c.ExecutionID == executionID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

package eventlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl/internal/domain"
)

func TestDerive_LatestStepStatus(t *testing.T) {
	log := NewMemoryEventLog()
	ctx := context.Background()
	d := Derive{Log: log}

	_, found, err := d.LatestStepStatus(ctx, 1, "n1")
	require.NoError(t, err)
	assert.False(t, found, "a step with no terminal event yet has no latest status")

	enter := domain.NewEvent(1, domain.EventStepEnter, domain.StatusStarted)
	enter.NodeID = "n1"
	log.Append(ctx, enter)

	_, found, err = d.LatestStepStatus(ctx, 1, "n1")
	require.NoError(t, err)
	assert.False(t, found, "step.enter is not terminal")

	exit := domain.NewEvent(1, domain.EventStepExit, domain.StatusCompleted)
	exit.NodeID = "n1"
	log.Append(ctx, exit)

	latest, found, err := d.LatestStepStatus(ctx, 1, "n1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.EventStepExit, latest.EventType)
}

func TestDerive_LatestStepStatus_KeepsLastAmongMultipleTerminals(t *testing.T) {
	log := NewMemoryEventLog()
	ctx := context.Background()
	d := Derive{Log: log}

	first := domain.NewEvent(1, domain.EventActionError, domain.StatusFailed)
	first.NodeID = "n1"
	first.Attempt = 1
	log.Append(ctx, first)

	second := domain.NewEvent(1, domain.EventStepExit, domain.StatusCompleted)
	second.NodeID = "n1"
	second.Attempt = 2
	log.Append(ctx, second)

	latest, found, err := d.LatestStepStatus(ctx, 1, "n1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.EventStepExit, latest.EventType)
	assert.Equal(t, domain.StatusCompleted, latest.Status)
}

func TestDerive_LoopAggregate_IndexedByCurrentIndex(t *testing.T) {
	log := NewMemoryEventLog()
	ctx := context.Background()
	d := Derive{Log: log}

	for i, nodeID := range []string{"n-a", "n-b", "n-c"} {
		evt := domain.NewEvent(1, domain.EventActionCompleted, domain.StatusCompleted)
		evt.NodeID = nodeID
		evt.Loop = &domain.LoopInfo{LoopID: "loop-1", CurrentIndex: i}
		log.Append(ctx, evt)
	}

	agg, err := d.LoopAggregate(ctx, 1, "loop-1")
	require.NoError(t, err)
	require.Len(t, agg, 3)
	assert.Equal(t, "n-b", agg[1].NodeID)
}

func TestDerive_LoopAggregate_IgnoresOtherLoops(t *testing.T) {
	log := NewMemoryEventLog()
	ctx := context.Background()
	d := Derive{Log: log}

	a := domain.NewEvent(1, domain.EventActionCompleted, domain.StatusCompleted)
	a.NodeID = "n1"
	a.Loop = &domain.LoopInfo{LoopID: "loop-1", CurrentIndex: 0}
	log.Append(ctx, a)

	b := domain.NewEvent(1, domain.EventActionCompleted, domain.StatusCompleted)
	b.NodeID = "n2"
	b.Loop = &domain.LoopInfo{LoopID: "loop-2", CurrentIndex: 0}
	log.Append(ctx, b)

	agg, err := d.LoopAggregate(ctx, 1, "loop-1")
	require.NoError(t, err)
	assert.Len(t, agg, 1)
}

func TestDerive_ExecutionTerminalStatus_RunningBeforeCompletion(t *testing.T) {
	log := NewMemoryEventLog()
	ctx := context.Background()
	d := Derive{Log: log}

	exec := domain.NewExecution(1, "pipelines/etl", 1, nil, "", nil)
	log.AppendBatch(ctx, exec.GetUncommittedEvents())

	latest, found, err := d.ExecutionTerminalStatus(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.EventPlaybookInitialized, latest.EventType)
	assert.Equal(t, domain.StatusInitialized, latest.Status)
}

func TestDerive_ExecutionTerminalStatus_ReflectsCompletionAfterward(t *testing.T) {
	log := NewMemoryEventLog()
	ctx := context.Background()
	d := Derive{Log: log}

	exec := domain.NewExecution(1, "pipelines/etl", 1, nil, "", nil)
	log.AppendBatch(ctx, exec.GetUncommittedEvents())
	exec.MarkEventsAsCommitted()

	exec.Complete()
	log.AppendBatch(ctx, exec.GetUncommittedEvents())

	latest, found, err := d.ExecutionTerminalStatus(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.EventPlaybookCompleted, latest.EventType)
	assert.Equal(t, domain.StatusCompleted, latest.Status)
}

func TestDerive_ExecutionTerminalStatus_Cancelled(t *testing.T) {
	log := NewMemoryEventLog()
	ctx := context.Background()
	d := Derive{Log: log}

	exec := domain.NewExecution(1, "pipelines/etl", 1, nil, "", nil)
	log.AppendBatch(ctx, exec.GetUncommittedEvents())
	exec.MarkEventsAsCommitted()

	exec.Cancel("operator requested")
	log.AppendBatch(ctx, exec.GetUncommittedEvents())

	latest, found, err := d.ExecutionTerminalStatus(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.EventPlaybookCompleted, latest.EventType)
	assert.Equal(t, domain.StatusCancelled, latest.Status)
}

package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/internal/sink"
	"github.com/noetl/noetl/internal/tool"
)

type fakeTool struct {
	kind   string
	result map[string]any
	err    error
	calls  int
	mu     sync.Mutex
	delay  time.Duration
}

func (f *fakeTool) Kind() string { return f.kind }

func (f *fakeTool) Execute(ctx context.Context, spec, args map[string]any) (map[string]any, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

type fakeSink struct {
	kind  string
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeSink) Kind() string { return f.kind }

func (f *fakeSink) Execute(ctx context.Context, executionID int64, nodeID string, spec map[string]any, data any) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.err
}

type recordingReporter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingReporter) Report(ctx context.Context, evt domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recordingReporter) snapshot() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

func newTestRuntime(q queue.Queue, tools *tool.Registry, sinks *sink.Registry, reporter Reporter) *Runtime {
	rt := New(q, tools, sinks, reporter, "default", "python", zerolog.Nop())
	rt.HeartbeatMs = 20
	return rt
}

func TestExecute_ToolSuccessReportsEnterAndExitAndCompletesCommand(t *testing.T) {
	q := queue.NewMemoryQueue()
	tools := tool.NewRegistry()
	ft := &fakeTool{kind: "http", result: map[string]any{"rows": 1}}
	tools.Register(ft)
	reporter := &recordingReporter{}
	rt := newTestRuntime(q, tools, sink.NewRegistry(), reporter)

	cmd := &queue.Command{
		ExecutionID: 1,
		NodeID:      "n1",
		Action:      "step.call",
		Context: map[string]any{
			"node_name": "fetch",
			"kind":      "http",
			"spec":      map[string]any{"url": "https://example.com"},
			"args":      map[string]any{},
		},
	}
	require.NoError(t, q.Enqueue(context.Background(), cmd))
	claimed, err := q.Claim(context.Background(), rt.ID, queue.ClaimFilter{}, 1, 30000)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	rt.execute(context.Background(), claimed[0])

	events := reporter.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventStepEnter, events[0].EventType)
	assert.Equal(t, domain.EventActionCompleted, events[1].EventType)
	assert.EqualValues(t, 1, events[1].Result["rows"])

	got, err := q.Get(context.Background(), claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusDone, got.Status)
	assert.Equal(t, 1, ft.calls)
}

func TestExecute_ToolErrorReportsFailureAndFailsCommand(t *testing.T) {
	q := queue.NewMemoryQueue()
	tools := tool.NewRegistry()
	tools.Register(&fakeTool{kind: "http", err: errors.New("boom")})
	reporter := &recordingReporter{}
	rt := newTestRuntime(q, tools, sink.NewRegistry(), reporter)

	cmd := &queue.Command{
		ExecutionID: 1,
		NodeID:      "n1",
		Action:      "step.call",
		Context: map[string]any{
			"node_name": "fetch",
			"kind":      "http",
			"spec":      map[string]any{"url": "https://example.com"},
		},
	}
	require.NoError(t, q.Enqueue(context.Background(), cmd))
	claimed, err := q.Claim(context.Background(), rt.ID, queue.ClaimFilter{}, 1, 30000)
	require.NoError(t, err)

	rt.execute(context.Background(), claimed[0])

	events := reporter.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventActionError, events[1].EventType)
	require.NotNil(t, events[1].Error)
	assert.Equal(t, domain.ErrorKindTool, events[1].Error.Kind)
	assert.Equal(t, "boom", events[1].Error.Message)

	got, err := q.Get(context.Background(), claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
}

func TestExecute_UnknownToolKindFailsWithValidationError(t *testing.T) {
	q := queue.NewMemoryQueue()
	reporter := &recordingReporter{}
	rt := newTestRuntime(q, tool.NewRegistry(), sink.NewRegistry(), reporter)

	cmd := &queue.Command{
		ExecutionID: 1,
		NodeID:      "n1",
		Action:      "step.call",
		Context:     map[string]any{"kind": "nonexistent"},
	}
	require.NoError(t, q.Enqueue(context.Background(), cmd))
	claimed, err := q.Claim(context.Background(), rt.ID, queue.ClaimFilter{}, 1, 30000)
	require.NoError(t, err)

	rt.execute(context.Background(), claimed[0])

	events := reporter.snapshot()
	require.Len(t, events, 2)
	require.NotNil(t, events[1].Error)
	assert.Equal(t, domain.ErrorKindValidation, events[1].Error.Kind)

	got, err := q.Get(context.Background(), claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
}

func TestExecute_SinkActionDispatchesToSinkRegistryAndCompletesWithoutReport(t *testing.T) {
	q := queue.NewMemoryQueue()
	sinks := sink.NewRegistry()
	fs := &fakeSink{kind: "event"}
	sinks.Register(fs)
	reporter := &recordingReporter{}
	rt := newTestRuntime(q, tool.NewRegistry(), sinks, reporter)

	cmd := &queue.Command{
		ExecutionID: 1,
		NodeID:      "n1",
		Action:      "sink.event",
		Context: map[string]any{
			"kind": "event",
			"spec": map[string]any{},
			"data": map[string]any{"rows": 2},
		},
	}
	require.NoError(t, q.Enqueue(context.Background(), cmd))
	claimed, err := q.Claim(context.Background(), rt.ID, queue.ClaimFilter{}, 1, 30000)
	require.NoError(t, err)

	rt.execute(context.Background(), claimed[0])

	assert.Empty(t, reporter.snapshot(), "sink dispatch is fire-and-forget, never reported to the scheduler")
	assert.Equal(t, 1, fs.calls)

	got, err := q.Get(context.Background(), claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusDone, got.Status)
}

func TestExecute_SinkErrorCompletesAsFailedWithoutReport(t *testing.T) {
	q := queue.NewMemoryQueue()
	sinks := sink.NewRegistry()
	sinks.Register(&fakeSink{kind: "event", err: errors.New("sink down")})
	reporter := &recordingReporter{}
	rt := newTestRuntime(q, tool.NewRegistry(), sinks, reporter)

	cmd := &queue.Command{
		ExecutionID: 1,
		NodeID:      "n1",
		Action:      "sink.event",
		Context:     map[string]any{"kind": "event"},
	}
	require.NoError(t, q.Enqueue(context.Background(), cmd))
	claimed, err := q.Claim(context.Background(), rt.ID, queue.ClaimFilter{}, 1, 30000)
	require.NoError(t, err)

	rt.execute(context.Background(), claimed[0])

	assert.Empty(t, reporter.snapshot())
	got, err := q.Get(context.Background(), claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
}

func TestExecute_UnknownSinkKindCompletesAsFailed(t *testing.T) {
	q := queue.NewMemoryQueue()
	reporter := &recordingReporter{}
	rt := newTestRuntime(q, tool.NewRegistry(), sink.NewRegistry(), reporter)

	cmd := &queue.Command{
		ExecutionID: 1,
		NodeID:      "n1",
		Action:      "sink.missing",
		Context:     map[string]any{"kind": "missing"},
	}
	require.NoError(t, q.Enqueue(context.Background(), cmd))
	claimed, err := q.Claim(context.Background(), rt.ID, queue.ClaimFilter{}, 1, 30000)
	require.NoError(t, err)

	rt.execute(context.Background(), claimed[0])

	got, err := q.Get(context.Background(), claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
}

func TestStartHeartbeat_ExtendsLeaseWhileExecuting(t *testing.T) {
	q := queue.NewMemoryQueue()
	reporter := &recordingReporter{}
	rt := newTestRuntime(q, tool.NewRegistry(), sink.NewRegistry(), reporter)
	rt.HeartbeatMs = 10

	cmd := &queue.Command{ExecutionID: 1, NodeID: "n1", Action: "step.call"}
	require.NoError(t, q.Enqueue(context.Background(), cmd))
	claimed, err := q.Claim(context.Background(), rt.ID, queue.ClaimFilter{}, 1, 50)
	require.NoError(t, err)

	before, err := q.Get(context.Background(), claimed[0].ID)
	require.NoError(t, err)
	leaseBefore := *before.LeaseUntil

	stop := rt.startHeartbeat(context.Background(), claimed[0])
	time.Sleep(60 * time.Millisecond)
	stop()

	after, err := q.Get(context.Background(), claimed[0].ID)
	require.NoError(t, err)
	require.NotNil(t, after.LeaseUntil)
	assert.True(t, after.LeaseUntil.After(leaseBefore), "heartbeat should extend the lease")
}

func TestStartHeartbeat_StopsWhenLeaseNoLongerOwned(t *testing.T) {
	q := queue.NewMemoryQueue()
	reporter := &recordingReporter{}
	rt := newTestRuntime(q, tool.NewRegistry(), sink.NewRegistry(), reporter)
	rt.HeartbeatMs = 10

	cmd := &queue.Command{ExecutionID: 1, NodeID: "n1", Action: "step.call"}
	require.NoError(t, q.Enqueue(context.Background(), cmd))
	claimed, err := q.Claim(context.Background(), rt.ID, queue.ClaimFilter{}, 1, 50)
	require.NoError(t, err)

	// another worker takes over the lease; this worker's heartbeat must
	// observe ErrLeaseNotOwned and give up rather than looping forever.
	require.NoError(t, q.Release(context.Background(), claimed[0].ID, "reassigned"))
	_, err = q.Claim(context.Background(), "other-worker", queue.ClaimFilter{}, 1, 50000)
	require.NoError(t, err)

	stop := rt.startHeartbeat(context.Background(), claimed[0])
	time.Sleep(40 * time.Millisecond)
	stop()
}

func TestClassifyError_MapsContextCancelled(t *testing.T) {
	ee := classifyError(context.Canceled)
	assert.Equal(t, domain.ErrorKindCancelled, ee.Kind)
}

func TestClassifyError_MapsDeadlineExceededToTransport(t *testing.T) {
	ee := classifyError(context.DeadlineExceeded)
	assert.Equal(t, domain.ErrorKindTransport, ee.Kind)
}

func TestClassifyError_DefaultsToTool(t *testing.T) {
	ee := classifyError(errors.New("generic failure"))
	assert.Equal(t, domain.ErrorKindTool, ee.Kind)
	assert.Equal(t, "generic failure", ee.Message)
}

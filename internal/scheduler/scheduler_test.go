package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl/internal/catalog"
	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/internal/template"
	"github.com/noetl/noetl/pkg/playbook"
)

type testHarness struct {
	sched *Scheduler
	cat   catalog.Store
	log   eventlog.EventLog
	cq    *queue.MemoryQueue
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	cat := catalog.NewMemoryStore()
	evlog := eventlog.NewMemoryEventLog()
	cq := queue.NewMemoryQueue()
	sched := New(evlog, cq, cat, template.New())
	return &testHarness{sched: sched, cat: cat, log: evlog, cq: cq}
}

func (h *testHarness) registerLinear(t *testing.T) {
	t.Helper()
	_, err := h.cat.RegisterPlaybook(context.Background(), playbook.Definition{
		Path: "pipelines/etl",
		Workflow: []playbook.StepDef{
			{
				Step: "fetch",
				Tool: &playbook.ToolDef{Kind: "http", Spec: map[string]any{"url": "https://example.com"}},
				Next: []playbook.EdgeDef{{Step: "load"}},
			},
			{
				Step: "load",
				Tool: &playbook.ToolDef{Kind: "postgres", Spec: map[string]any{"query": "select 1"}},
			},
		},
	})
	require.NoError(t, err)
}

func TestStart_IssuesFirstStepCommand(t *testing.T) {
	h := newHarness(t)
	h.registerLinear(t)

	execID, err := h.sched.Start(context.Background(), "pipelines/etl", 0, nil, nil, "")
	require.NoError(t, err)
	assert.NotZero(t, execID)

	cmds, err := h.cq.ByExecution(context.Background(), execID)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, "fetch", cmds[0].NodeID)
	assert.Equal(t, "tool.http", cmds[0].Action)

	events, err := h.log.ForExecution(context.Background(), execID)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
	assert.Equal(t, domain.EventPlaybookInitialized, events[0].EventType)
}

func TestStart_UnknownPlaybookErrors(t *testing.T) {
	h := newHarness(t)
	_, err := h.sched.Start(context.Background(), "does/not/exist", 0, nil, nil, "")
	assert.Error(t, err)
}

func TestHandleWorkerEvent_RoutesToNextStepAndCompletes(t *testing.T) {
	h := newHarness(t)
	h.registerLinear(t)
	ctx := context.Background()

	execID, err := h.sched.Start(ctx, "pipelines/etl", 0, nil, nil, "")
	require.NoError(t, err)

	fetchExit := domain.NewEvent(execID, domain.EventStepExit, domain.StatusCompleted)
	fetchExit.NodeID, fetchExit.NodeName = "fetch", "fetch"
	fetchExit.Result = map[string]any{"rows": 10}
	require.NoError(t, h.sched.HandleWorkerEvent(ctx, fetchExit))

	cmds, err := h.cq.ByExecution(ctx, execID)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, "load", cmds[1].NodeID)

	loadExit := domain.NewEvent(execID, domain.EventStepExit, domain.StatusCompleted)
	loadExit.NodeID, loadExit.NodeName = "load", "load"
	require.NoError(t, h.sched.HandleWorkerEvent(ctx, loadExit))

	events, err := h.log.ForExecution(ctx, execID)
	require.NoError(t, err)
	var sawCompleted bool
	for _, e := range events {
		if e.EventType == domain.EventPlaybookCompleted {
			sawCompleted = true
			assert.Equal(t, domain.StatusCompleted, e.Status)
		}
	}
	assert.True(t, sawCompleted, "execution should finalize as completed once every step is terminal")
}

func TestHandleWorkerEvent_FailurePropagatesToPlaybookFailed(t *testing.T) {
	h := newHarness(t)
	h.registerLinear(t)
	ctx := context.Background()

	execID, err := h.sched.Start(ctx, "pipelines/etl", 0, nil, nil, "")
	require.NoError(t, err)

	fail := domain.NewEvent(execID, domain.EventActionError, domain.StatusFailed)
	fail.NodeID, fail.NodeName = "fetch", "fetch"
	fail.Error = &domain.EventError{Kind: domain.ErrorKindTool, Message: "connection refused"}
	require.NoError(t, h.sched.HandleWorkerEvent(ctx, fail))

	events, err := h.log.ForExecution(ctx, execID)
	require.NoError(t, err)
	var latest domain.Event
	for _, e := range events {
		if e.EventType == domain.EventPlaybookCompleted {
			latest = e
		}
	}
	require.Equal(t, domain.EventPlaybookCompleted, latest.EventType)
	assert.Equal(t, domain.StatusFailed, latest.Status)
}

func TestHandleWorkerEvent_DuplicateTerminalEventIsNoOp(t *testing.T) {
	h := newHarness(t)
	h.registerLinear(t)
	ctx := context.Background()

	execID, err := h.sched.Start(ctx, "pipelines/etl", 0, nil, nil, "")
	require.NoError(t, err)

	exit := domain.NewEvent(execID, domain.EventStepExit, domain.StatusCompleted)
	exit.NodeID, exit.NodeName = "fetch", "fetch"
	require.NoError(t, h.sched.HandleWorkerEvent(ctx, exit))

	cmdsAfterFirst, err := h.cq.ByExecution(ctx, execID)
	require.NoError(t, err)

	// Redeliver the identical step.exit (at-least-once duplicate).
	require.NoError(t, h.sched.HandleWorkerEvent(ctx, exit))

	cmdsAfterSecond, err := h.cq.ByExecution(ctx, execID)
	require.NoError(t, err)
	assert.Len(t, cmdsAfterSecond, len(cmdsAfterFirst), "a duplicate step.exit must not issue a second 'load' command")
}

func TestHandleWorkerEvent_UnknownExecutionErrors(t *testing.T) {
	h := newHarness(t)
	evt := domain.NewEvent(999, domain.EventStepExit, domain.StatusCompleted)
	err := h.sched.HandleWorkerEvent(context.Background(), evt)
	assert.Error(t, err)
}

func TestCancel_ReleasesOpenCommandsAndStopsRouting(t *testing.T) {
	h := newHarness(t)
	h.registerLinear(t)
	ctx := context.Background()

	execID, err := h.sched.Start(ctx, "pipelines/etl", 0, nil, nil, "")
	require.NoError(t, err)

	require.NoError(t, h.sched.Cancel(ctx, execID, "operator requested"))

	cmds, err := h.cq.ByExecution(ctx, execID)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, queue.StatusReleased, cmds[0].Status)

	events, err := h.log.ForExecution(ctx, execID)
	require.NoError(t, err)
	var sawCancelled, sawPlaybookCancelled bool
	for _, e := range events {
		if e.EventType == domain.EventExecutionCancelled {
			sawCancelled = true
		}
		if e.EventType == domain.EventPlaybookCompleted && e.Status == domain.StatusCancelled {
			sawPlaybookCancelled = true
		}
	}
	assert.True(t, sawCancelled)
	assert.True(t, sawPlaybookCancelled, "cancellation must raise a terminal playbook.completed(CANCELLED) event")
}

// TestCancel_LateWorkerReportRecordsCancelledStepTerminal exercises
// scenario 5's "for each in-flight step — records a CANCELLED terminal
// event when the worker reports back": the fetch step's command is
// in-flight (claimed, not yet reported) when Cancel fires, and its
// step.exit arrives afterward.
func TestCancel_LateWorkerReportRecordsCancelledStepTerminal(t *testing.T) {
	h := newHarness(t)
	h.registerLinear(t)
	ctx := context.Background()

	execID, err := h.sched.Start(ctx, "pipelines/etl", 0, nil, nil, "")
	require.NoError(t, err)

	require.NoError(t, h.sched.Cancel(ctx, execID, "operator requested"))

	// The worker had already claimed "fetch" and reports its result after
	// the cancellation has landed.
	lateExit := domain.NewEvent(execID, domain.EventStepExit, domain.StatusCompleted)
	lateExit.NodeID, lateExit.NodeName = "fetch", "fetch"
	lateExit.Result = map[string]any{"rows": 10}
	require.NoError(t, h.sched.HandleWorkerEvent(ctx, lateExit))

	events, err := h.log.ForExecution(ctx, execID)
	require.NoError(t, err)
	var fetchTerminal *domain.Event
	for i, e := range events {
		if e.NodeID == "fetch" && e.EventType == domain.EventStepExit {
			fetchTerminal = &events[i]
		}
	}
	require.NotNil(t, fetchTerminal, "the late-arriving report must still record its own step.exit")
	assert.Equal(t, domain.StatusCancelled, fetchTerminal.Status, "an in-flight step's late report after cancellation must record a CANCELLED terminal, not the worker's own COMPLETED status")

	// "load" must never have been routed to: the cancelled execution's
	// next-edge routing is permanently suppressed.
	cmds, err := h.cq.ByExecution(ctx, execID)
	require.NoError(t, err)
	for _, c := range cmds {
		assert.NotEqual(t, "load", c.NodeID)
	}
}

// TestHandleLeaseExpiry_RecordsCancelledStepTerminal exercises scenario
// 5's other branch: the worker never reports back at all, and the step's
// lease instead expires and is reaped.
func TestHandleLeaseExpiry_RecordsCancelledStepTerminal(t *testing.T) {
	h := newHarness(t)
	h.registerLinear(t)
	ctx := context.Background()

	execID, err := h.sched.Start(ctx, "pipelines/etl", 0, nil, nil, "")
	require.NoError(t, err)
	require.NoError(t, h.sched.Cancel(ctx, execID, "operator requested"))

	require.NoError(t, h.sched.HandleLeaseExpiry(ctx, execID, "fetch", "fetch"))

	events, err := h.log.ForExecution(ctx, execID)
	require.NoError(t, err)
	var sawCancelledStep bool
	for _, e := range events {
		if e.NodeID == "fetch" && e.EventType == domain.EventStepExit && e.Status == domain.StatusCancelled {
			sawCancelledStep = true
		}
	}
	assert.True(t, sawCancelledStep, "a lease that expires on a cancelled execution must record a CANCELLED step terminal")
}

// TestLoop_CollectAggregatesResultsInOriginalOrder drives openLoop/
// closeLoop end to end and asserts the §8 loop-aggregation-completeness
// shape: result.data == {count, results}, results in original item order
// regardless of completion order.
func TestLoop_CollectAggregatesResultsInOriginalOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.cat.RegisterPlaybook(ctx, playbook.Definition{
		Path: "pipelines/fan",
		Workflow: []playbook.StepDef{
			{
				Step: "fan",
				Loop: &playbook.LoopDef{In: "workload.items", As: "item", Collect: &playbook.CollectDef{Into: "gathered"}},
				Tool: &playbook.ToolDef{Kind: "http", Spec: map[string]any{"url": "https://example.com"}},
			},
		},
	})
	require.NoError(t, err)

	execID, err := h.sched.Start(ctx, "pipelines/fan", 0, map[string]any{"items": []any{"a", "b", "c"}}, nil, "")
	require.NoError(t, err)

	cmds, err := h.cq.ByExecution(ctx, execID)
	require.NoError(t, err)
	require.Len(t, cmds, 3)

	// Report iterations out of order: index 2, then 0, then 1.
	order := []int{2, 0, 1}
	for _, idx := range order {
		exit := domain.NewEvent(execID, domain.EventStepExit, domain.StatusCompleted)
		exit.NodeID, exit.NodeName = fmt.Sprintf("fan[%d]", idx), "fan"
		exit.Loop = &domain.LoopInfo{LoopID: "fan", CurrentIndex: idx}
		exit.Result = map[string]any{"value": idx}
		require.NoError(t, h.sched.HandleWorkerEvent(ctx, exit))
	}

	events, err := h.log.ForExecution(ctx, execID)
	require.NoError(t, err)
	var completed *domain.Event
	for i, e := range events {
		if e.EventType == domain.EventLoopCompleted {
			completed = &events[i]
		}
	}
	require.NotNil(t, completed, "loop.completed must be emitted once every iteration reports")

	data, ok := completed.Result["data"].(map[string]any)
	require.True(t, ok, "result must be wrapped under a \"data\" key")
	assert.Equal(t, 3, data["count"])
	results, ok := data["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 3)
	for i, r := range results {
		m, ok := r.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, i, m["value"], "results must be in original item order, not completion order")
	}
}

// TestParkedGate_FiresOnceReferencedStepCompletes drives the `when:
// ok('A')` parked-gate / AND-join re-evaluation path (scenarios 2 & 6):
// step "gated" parks until step "a" reports its terminal, then fires.
// TestParkedGate_FiresOnceReferencedStepCompletes exercises scenarios 2 &
// 6: "start" fans out into "a" and "gated" at once; "gated"'s `when:
// ok('a')` is false the instant it is first evaluated (racing "a", which
// hasn't reported yet), so it parks. Once "a" reports its own terminal
// event, the AND-join re-evaluation fires "gated" for real.
func TestParkedGate_FiresOnceReferencedStepCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.cat.RegisterPlaybook(ctx, playbook.Definition{
		Path: "pipelines/gate",
		Workflow: []playbook.StepDef{
			{
				Step: "start",
				Tool: &playbook.ToolDef{Kind: "http", Spec: map[string]any{"url": "https://example.com"}},
				Next: []playbook.EdgeDef{{Step: "a"}, {Step: "gated"}},
			},
			{
				Step: "a",
				Tool: &playbook.ToolDef{Kind: "http", Spec: map[string]any{"url": "https://example.com"}},
			},
			{
				Step: "gated",
				When: "ok('a')",
				Tool: &playbook.ToolDef{Kind: "postgres", Spec: map[string]any{"query": "select 1"}},
			},
		},
	})
	require.NoError(t, err)

	execID, err := h.sched.Start(ctx, "pipelines/gate", 0, nil, nil, "")
	require.NoError(t, err)

	startExit := domain.NewEvent(execID, domain.EventStepExit, domain.StatusCompleted)
	startExit.NodeID, startExit.NodeName = "start", "start"
	require.NoError(t, h.sched.HandleWorkerEvent(ctx, startExit))

	// "a" must have been issued; "gated" must have parked rather than
	// issued, since its gate is false the moment it's first evaluated.
	cmds, err := h.cq.ByExecution(ctx, execID)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.False(t, containsNodeID(cmds, "gated"), "\"gated\" must park rather than issue while its when clause is false")
	assert.True(t, containsNodeID(cmds, "a"))

	aExit := domain.NewEvent(execID, domain.EventStepExit, domain.StatusCompleted)
	aExit.NodeID, aExit.NodeName = "a", "a"
	require.NoError(t, h.sched.HandleWorkerEvent(ctx, aExit))

	cmds, err = h.cq.ByExecution(ctx, execID)
	require.NoError(t, err)
	require.Len(t, cmds, 3, "the parked call on \"gated\" must be re-evaluated and issued once \"a\" completes")
	assert.True(t, containsNodeID(cmds, "gated"))
}

func containsNodeID(cmds []*queue.Command, nodeID string) bool {
	for _, c := range cmds {
		if c.NodeID == nodeID {
			return true
		}
	}
	return false
}

// TestRetry_TransientFailureBacksOffThenSucceeds drives an end-to-end
// retry-on-transient-error sequence: the first attempt fails with a
// retryable error kind, the scheduler re-issues the command with a
// backoff delay (honored by the memory queue per its AvailableAt filter),
// and a subsequent success routes normally.
func TestRetry_TransientFailureBacksOffThenSucceeds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.cat.RegisterPlaybook(ctx, playbook.Definition{
		Path: "pipelines/retry",
		Workflow: []playbook.StepDef{
			{
				Step: "flaky",
				Tool: &playbook.ToolDef{
					Kind: "http",
					Spec: map[string]any{"url": "https://example.com"},
					Retry: &playbook.RetryDef{
						MaxAttempts: 2,
						BackoffMs:   20,
						On:          []string{"transport"},
					},
				},
			},
		},
	})
	require.NoError(t, err)

	execID, err := h.sched.Start(ctx, "pipelines/retry", 0, nil, nil, "")
	require.NoError(t, err)

	fail := domain.NewEvent(execID, domain.EventActionError, domain.StatusFailed)
	fail.NodeID, fail.NodeName = "flaky", "flaky"
	fail.Error = &domain.EventError{Kind: domain.ErrorKindTransport, Message: "connection reset"}
	require.NoError(t, h.sched.HandleWorkerEvent(ctx, fail))

	// The retried command must be enqueued with a future AvailableAt and
	// not be immediately claimable — verified directly against the
	// in-memory queue's backoff filter (internal/queue's own suite covers
	// the filter itself in isolation).
	cmds, err := h.cq.ByExecution(ctx, execID)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	retried := cmds[1]
	assert.True(t, retried.AvailableAt.After(time.Now()), "a retried command must carry a future AvailableAt backoff")

	claimed, err := h.cq.Claim(ctx, "w1", queue.ClaimFilter{}, 10, 30000)
	require.NoError(t, err)
	for _, c := range claimed {
		assert.NotEqual(t, retried.ID, c.ID, "the backed-off retry must not be claimable before its delay elapses")
	}

	// Elapse the backoff window, then confirm the retry becomes claimable.
	time.Sleep(25 * time.Millisecond)

	claimed, err = h.cq.Claim(ctx, "w1", queue.ClaimFilter{}, 10, 30000)
	require.NoError(t, err)
	var sawRetried bool
	for _, c := range claimed {
		if c.ID == retried.ID {
			sawRetried = true
		}
	}
	assert.True(t, sawRetried, "the retry must become claimable once its backoff window elapses")

	success := domain.NewEvent(execID, domain.EventStepExit, domain.StatusCompleted)
	success.NodeID, success.NodeName = "flaky", "flaky"
	require.NoError(t, h.sched.HandleWorkerEvent(ctx, success))

	events, err := h.log.ForExecution(ctx, execID)
	require.NoError(t, err)
	var sawCompleted bool
	for _, e := range events {
		if e.EventType == domain.EventPlaybookCompleted {
			sawCompleted = true
			assert.Equal(t, domain.StatusCompleted, e.Status)
		}
	}
	assert.True(t, sawCompleted, "the execution must finalize as completed once the retried step succeeds")
}

func TestAddNotifier_ReceivesPersistedEvents(t *testing.T) {
	h := newHarness(t)
	h.registerLinear(t)
	ctx := context.Background()

	var received []domain.Event
	h.sched.AddNotifier(notifierFunc(func(executionID int64, events []domain.Event) {
		received = append(received, events...)
	}))

	_, err := h.sched.Start(ctx, "pipelines/etl", 0, nil, nil, "")
	require.NoError(t, err)

	assert.NotEmpty(t, received)
}

type notifierFunc func(executionID int64, events []domain.Event)

func (f notifierFunc) OnEvents(executionID int64, events []domain.Event) { f(executionID, events) }

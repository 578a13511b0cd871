// Package worker implements the claim/heartbeat/execute/report runtime
// loop from spec.md §4.3: a worker advertises pool/runtime capability,
// claims leased commands, heartbeats while executing, dispatches to a
// tool.Tool, and reports the terminal event back to the orchestrator.
// Grounded on the teacher's internal/application/executor.WorkflowEngine
// execution loop, generalized from in-process node execution to a
// poll-claim-execute cycle against a durable, leased queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/infrastructure/tracing"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/internal/sink"
	"github.com/noetl/noetl/internal/tool"
)

// Reporter delivers a folded worker event back to the orchestrator. An
// embedded (single-process) deployment satisfies this by calling
// scheduler.Scheduler.HandleWorkerEvent directly; a standalone worker
// process satisfies it with an HTTP client posting to the orchestrator's
// event-ingestion endpoint.
type Reporter interface {
	Report(ctx context.Context, evt domain.Event) error
}

// Runtime is one worker process's claim loop.
type Runtime struct {
	ID          string
	Pool        string
	RuntimeKind string
	Queue       queue.Queue
	Tools       *tool.Registry
	Sinks       *sink.Registry
	Reporter    Reporter
	Log         zerolog.Logger

	ClaimBatch   int
	LeaseMs      int
	HeartbeatMs  int
	PollInterval time.Duration
}

// New constructs a Runtime with a generated worker id, matching the
// teacher's factory-constructor convention.
func New(q queue.Queue, tools *tool.Registry, sinks *sink.Registry, reporter Reporter, pool, runtimeKind string, log zerolog.Logger) *Runtime {
	return &Runtime{
		ID:           uuid.NewString(),
		Pool:         pool,
		RuntimeKind:  runtimeKind,
		Queue:        q,
		Tools:        tools,
		Sinks:        sinks,
		Reporter:     reporter,
		Log:          log,
		ClaimBatch:   4,
		LeaseMs:      30000,
		HeartbeatMs:  10000,
		PollInterval: time.Second,
	}
}

// Run claims and executes commands until ctx is cancelled.
func (w *Runtime) Run(ctx context.Context) error {
	w.Log.Info().Str("worker_id", w.ID).Str("pool", w.Pool).Str("runtime", w.RuntimeKind).Msg("worker starting")
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cmds, err := w.Queue.Claim(ctx, w.ID, queue.ClaimFilter{Pool: w.Pool, Runtime: w.RuntimeKind}, w.ClaimBatch, w.LeaseMs)
			if err != nil {
				w.Log.Error().Err(err).Msg("claim failed")
				continue
			}
			for _, cmd := range cmds {
				wg.Add(1)
				go func(c *queue.Command) {
					defer wg.Done()
					w.execute(ctx, c)
				}(cmd)
			}
		}
	}
}

func (w *Runtime) execute(ctx context.Context, cmd *queue.Command) {
	if strings.HasPrefix(cmd.Action, "sink.") {
		w.executeSink(ctx, cmd)
		return
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := w.startHeartbeat(execCtx, cmd)
	defer stop()

	nodeName, _ := cmd.Context["node_name"].(string)
	_ = w.Reporter.Report(ctx, enterEvent(cmd, nodeName))

	kind, _ := cmd.Context["kind"].(string)
	spec, _ := cmd.Context["spec"].(map[string]any)
	args, _ := cmd.Context["args"].(map[string]any)

	t, ok := w.Tools.Get(kind)
	if !ok {
		w.fail(ctx, cmd, nodeName, &domain.EventError{Kind: domain.ErrorKindValidation, Message: fmt.Sprintf("no tool registered for kind %q", kind)})
		return
	}

	spanCtx, span := tracing.StartSpan(execCtx, "tool."+kind)
	result, err := t.Execute(spanCtx, spec, args)
	tracing.RecordError(spanCtx, err)
	span.End()
	if err != nil {
		w.fail(ctx, cmd, nodeName, classifyError(err))
		return
	}

	if rerr := w.Reporter.Report(ctx, exitEvent(cmd, nodeName, result, nil)); rerr != nil {
		w.Log.Error().Err(rerr).Int64("command_id", cmd.ID).Msg("report completed failed")
	}
	if qerr := w.Queue.Complete(ctx, cmd.ID, w.ID, false); qerr != nil {
		w.Log.Error().Err(qerr).Int64("command_id", cmd.ID).Msg("queue complete failed")
	}
}

// executeSink dispatches a "sink.<kind>" command. Sinks are fire-and-forget
// at the scheduler level (internal/scheduler's dispatchSinkLocked does not
// track them in st.open), so failures here are only logged, never
// re-folded into workflow routing.
func (w *Runtime) executeSink(ctx context.Context, cmd *queue.Command) {
	kind, _ := cmd.Context["kind"].(string)
	spec, _ := cmd.Context["spec"].(map[string]any)
	data := cmd.Context["data"]

	s, ok := w.Sinks.Get(kind)
	if !ok {
		w.Log.Error().Str("kind", kind).Int64("command_id", cmd.ID).Msg("no sink registered")
		_ = w.Queue.Complete(ctx, cmd.ID, w.ID, true)
		return
	}
	if err := s.Execute(ctx, cmd.ExecutionID, cmd.NodeID, spec, data); err != nil {
		w.Log.Error().Err(err).Str("kind", kind).Int64("command_id", cmd.ID).Msg("sink failed")
		_ = w.Queue.Complete(ctx, cmd.ID, w.ID, true)
		return
	}
	_ = w.Queue.Complete(ctx, cmd.ID, w.ID, false)
}

func (w *Runtime) fail(ctx context.Context, cmd *queue.Command, nodeName string, cause *domain.EventError) {
	if rerr := w.Reporter.Report(ctx, exitEvent(cmd, nodeName, nil, cause)); rerr != nil {
		w.Log.Error().Err(rerr).Int64("command_id", cmd.ID).Msg("report failure failed")
	}
	if qerr := w.Queue.Complete(ctx, cmd.ID, w.ID, true); qerr != nil {
		w.Log.Error().Err(qerr).Int64("command_id", cmd.ID).Msg("queue complete (failed) failed")
	}
}

// startHeartbeat extends the command's lease on an interval until the
// returned stop function is called, per spec.md §4.2's lease model.
func (w *Runtime) startHeartbeat(ctx context.Context, cmd *queue.Command) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Duration(w.HeartbeatMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := w.Queue.Heartbeat(ctx, cmd.ID, w.ID, w.LeaseMs); err != nil {
					var leaseErr *queue.ErrLeaseNotOwned
					if errors.As(err, &leaseErr) {
						w.Log.Warn().Int64("command_id", cmd.ID).Msg("lease lost, abandoning execution")
						return
					}
				}
			}
		}
	}()
	return func() { close(done) }
}

func enterEvent(cmd *queue.Command, nodeName string) domain.Event {
	evt := domain.NewEvent(cmd.ExecutionID, domain.EventStepEnter, domain.StatusStarted)
	evt.NodeID, evt.NodeName = cmd.NodeID, nodeName
	return evt
}

func exitEvent(cmd *queue.Command, nodeName string, result map[string]any, cause *domain.EventError) domain.Event {
	status := domain.StatusCompleted
	eventType := domain.EventActionCompleted
	if cause != nil {
		status = domain.StatusFailed
		eventType = domain.EventActionError
	}
	evt := domain.NewEvent(cmd.ExecutionID, eventType, status)
	evt.NodeID, evt.NodeName, evt.Result, evt.Error = cmd.NodeID, nodeName, result, cause
	return evt
}

// classifyError maps a tool execution error to spec.md §7's error-kind
// taxonomy, favoring the most specific classification available.
func classifyError(err error) *domain.EventError {
	kind := domain.ErrorKindTool
	switch {
	case errors.Is(err, context.Canceled):
		kind = domain.ErrorKindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		kind = domain.ErrorKindTransport
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			kind = domain.ErrorKindTransport
		}
	}
	return &domain.EventError{Kind: kind, Message: err.Error()}
}

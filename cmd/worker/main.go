// Command worker runs a standalone NoETL worker process: it claims leased
// commands directly from the Postgres-backed queue (per spec.md §4.2/§4.3),
// dispatches them to tool/sink plugins, and reports folded events back to
// the orchestrator over HTTP. Grounded on this module's own cmd/server/main.go
// (flag parsing, config.Load, graceful shutdown on SIGINT/SIGTERM) — the
// retrieved pack carries no dedicated worker-process teacher, so this
// entrypoint reuses cmd/server's established idiom rather than inventing a
// new one.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/infrastructure/config"
	"github.com/noetl/noetl/internal/infrastructure/logger"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/internal/sink"
	"github.com/noetl/noetl/internal/tool"
	"github.com/noetl/noetl/internal/worker"
)

func main() {
	var (
		pool        = flag.String("pool", "", "Worker pool name (overrides config)")
		runtimeKind = flag.String("runtime", "", "Worker runtime kind: cpu|gpu|qpu (overrides config)")
		serverURL   = flag.String("server", "http://localhost:8080", "Orchestrator base URL for event reporting and tool.playbook dispatch")
	)
	flag.Parse()

	cfg := config.Load()
	if *pool != "" {
		cfg.PoolName = *pool
	}
	if *runtimeKind != "" {
		cfg.PoolRuntime = *runtimeKind
	}

	plog := logger.Process(cfg.LogLevel)
	plog.Info().Str("pool", cfg.PoolName).Str("runtime", cfg.PoolRuntime).Msg("starting noetl worker")

	if cfg.QueueDSN == "" {
		plog.Fatal().Msg("QUEUE_DSN (or DATABASE_DSN) is required: a standalone worker claims directly from the Postgres-backed queue")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.QueueDSN)))
	db := bun.NewDB(sqldb, pgdialect.New())
	q := queue.NewBunQueue(db)

	ctx := context.Background()
	if err := q.InitSchema(ctx); err != nil {
		plog.Fatal().Err(err).Msg("queue schema init failed")
	}

	tools := tool.NewRegistry()
	tools.Register(tool.NewHTTPTool())
	tools.Register(tool.NewPostgresTool())
	tools.Register(tool.NewDuckDBTool())
	tools.Register(tool.NewShellTool())
	tools.Register(tool.NewPythonTool())
	tools.Register(tool.NewLLMTool(os.Getenv("LLM_API_KEY")))
	tools.Register(tool.NewPlaybookTool(*serverURL, noopHeartbeat))

	sinks := sink.NewRegistry()
	sinks.Register(sink.NewHTTPSink())
	sinks.Register(sink.NewPostgresSink())
	sinks.Register(sink.NewDuckDBSink())
	sinks.Register(sink.NewEventSink(eventlog.NewBunEventLog(db)))

	reporter := &httpReporter{baseURL: *serverURL, client: &http.Client{Timeout: 10 * time.Second}}

	rt := worker.New(q, tools, sinks, reporter, cfg.PoolName, cfg.PoolRuntime, plog)
	rt.ClaimBatch = cfg.ClaimBatch
	rt.LeaseMs = cfg.LeaseMs
	rt.HeartbeatMs = cfg.HeartbeatMs

	runCtx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := rt.Run(runCtx); err != nil {
			plog.Error().Err(err).Msg("worker loop exited with error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	plog.Info().Msg("shutting down worker")
	cancel()
	plog.Info().Msg("worker exited gracefully")
}

func noopHeartbeat(ctx context.Context) error { return nil }

// httpReporter implements worker.Reporter for a standalone worker process:
// it posts the folded event to the orchestrator's REST ingestion endpoint
// rather than calling scheduler.Scheduler.HandleWorkerEvent in-process.
type httpReporter struct {
	baseURL string
	client  *http.Client
}

func (r *httpReporter) Report(ctx context.Context, evt domain.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/events", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("worker: event report failed: status %d", resp.StatusCode)
	}
	return nil
}

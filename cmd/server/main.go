// Command server runs the NoETL orchestrator process: the scheduler, the
// REST/GraphQL/SSE/websocket surfaces, and (optionally, in embedded mode)
// the trigger set. Grounded on the teacher's cmd/server/main.go
// (flag parsing, config.Load, graceful shutdown on SIGINT/SIGTERM), adapted
// from constructing a single mbflow.Executor to wiring NoETL's catalog,
// event log, queue, scheduler, and API layers.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/noetl/noetl/internal/api/graphql"
	"github.com/noetl/noetl/internal/api/rest"
	"github.com/noetl/noetl/internal/api/sse"
	"github.com/noetl/noetl/internal/catalog"
	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/infrastructure/config"
	"github.com/noetl/noetl/internal/infrastructure/logger"
	"github.com/noetl/noetl/internal/infrastructure/monitoring"
	"github.com/noetl/noetl/internal/infrastructure/websocket"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/internal/scheduler"
	"github.com/noetl/noetl/internal/template"
)

func main() {
	var (
		port       = flag.String("port", "", "Server port (overrides config)")
		enableCORS = flag.Bool("cors", true, "Enable CORS")
		apiKeys    = flag.String("api-keys", "", "Comma-separated API keys for authentication")
	)
	flag.Parse()

	cfg := config.Load()
	if *port != "" {
		cfg.ServerPort = *port
	}

	plog := logger.Process(cfg.LogLevel)
	reqLogger := logger.Setup(cfg.LogLevel)
	plog.Info().Str("port", cfg.ServerPort).Msg("starting noetl server")

	var cat catalog.Store
	var evlog eventlog.EventLog
	var cq queue.Queue

	if cfg.DatabaseDSN == "" {
		plog.Warn().Msg("DATABASE_DSN not set, using in-memory stores (dev mode)")
		cat = catalog.NewMemoryStore()
		evlog = eventlog.NewMemoryEventLog()
		cq = queue.NewMemoryQueue()
	} else {
		db := openBunDB(cfg.DatabaseDSN)
		catStore := catalog.NewBunStore(db)
		evStore := eventlog.NewBunEventLog(db)
		qStore := queue.NewBunQueue(db)

		ctx := context.Background()
		if err := catStore.InitSchema(ctx); err != nil {
			plog.Fatal().Err(err).Msg("catalog schema init failed")
		}
		if err := evStore.InitSchema(ctx); err != nil {
			plog.Fatal().Err(err).Msg("event log schema init failed")
		}
		if err := qStore.InitSchema(ctx); err != nil {
			plog.Fatal().Err(err).Msg("queue schema init failed")
		}
		cat, evlog, cq = catStore, evStore, qStore
	}

	sched := scheduler.New(evlog, cq, cat, template.New())

	metrics := monitoring.NewMetricsCollector()
	sched.AddNotifier(monitoring.NewManager())
	sched.AddNotifier(metrics)
	sched.AddNotifier(monitoring.NewConsoleObserver(plog))

	hub := websocket.NewHub(plog)
	go hub.Run()
	sched.AddNotifier(websocket.NewSocketObserver(hub))

	if cfg.CallbackURL != "" {
		cb, err := monitoring.NewHTTPCallbackObserver(monitoring.HTTPCallbackConfig{URL: cfg.CallbackURL}, plog)
		if err != nil {
			plog.Error().Err(err).Msg("failed to construct http callback observer")
		} else {
			sched.AddNotifier(cb)
		}
	}

	var apiKeysList []string
	for _, k := range splitCSV(*apiKeys) {
		apiKeysList = append(apiKeysList, k)
	}

	restServer := rest.NewServer(cat, sched, evlog, cq, rest.Config{
		EnableCORS:      *enableCORS,
		EnableRateLimit: false,
		RateLimitMax:    100,
		RateLimitWindow: time.Minute,
		APIKeys:         apiKeysList,
	}, reqLogger)

	auth := websocket.NewJWTAuth(cfg.JWTSigningKey)
	wsHandler := websocket.NewHandler(hub, auth, sched, plog)
	sseHandler := sse.NewHandler(hub, auth, plog)
	gqlHandler := graphql.NewHandler(sched, evlog, plog)

	mux := http.NewServeMux()
	mux.Handle("/", restServer.Handler())
	mux.Handle("/ws/executions/", wsHandler)
	mux.Handle("/events", sseHandler)
	mux.Handle("/graphql", gqlHandler)

	httpServer := &http.Server{
		Addr:         cfg.ServerHost + ":" + cfg.ServerPort,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		plog.Info().Str("address", httpServer.Addr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			plog.Fatal().Err(err).Msg("server failed")
		}
	}()

	go reapLoop(context.Background(), cq, sched, cfg.ReapInterval, plog)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	plog.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		plog.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}
	plog.Info().Msg("server exited gracefully")
}

func openBunDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// reapLoop periodically reclaims commands whose lease expired without a
// heartbeat, per spec.md §4.2. For an already-cancelled execution, a
// reclaimed lease also folds into a CANCELLED terminal for that step
// (spec.md §4.1 scenario 5) instead of being left for ordinary retry.
func reapLoop(ctx context.Context, q queue.Queue, sched *scheduler.Scheduler, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := q.Reap(ctx)
			if err != nil {
				log.Error().Err(err).Msg("queue reap failed")
				continue
			}
			if len(ids) > 0 {
				log.Info().Ints64("command_ids", ids).Msg("reclaimed expired leases")
			}
			for _, id := range ids {
				cmd, err := q.Get(ctx, id)
				if err != nil {
					log.Error().Err(err).Int64("command_id", id).Msg("failed to load reaped command")
					continue
				}
				nodeName, _ := cmd.Context["node_name"].(string)
				if err := sched.HandleLeaseExpiry(ctx, cmd.ExecutionID, cmd.NodeID, nodeName); err != nil {
					log.Error().Err(err).Int64("command_id", id).Msg("failed to fold lease expiry")
				}
			}
		}
	}
}

func splitCSV(s string) []string {
	var out []string
	cur := ""
	for _, ch := range s {
		if ch == ',' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(ch)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

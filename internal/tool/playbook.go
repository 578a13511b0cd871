package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// PlaybookTool dispatches a child execution and waits for its terminal
// status, implementing spec.md §4.3/§9's resolved "tool.playbook: parent
// waits" semantics. It talks to the orchestrator's own REST API
// (POST /api/run/playbook, GET /api/executions/{id}) rather than calling
// the scheduler in-process, since a worker may run in a separate process —
// the same boundary the queue claim/heartbeat/report loop already crosses.
type PlaybookTool struct {
	BaseURL    string
	Client     *http.Client
	PollEvery  time.Duration
	Heartbeat  func(ctx context.Context) error // extends the parent's own command lease while waiting
}

func NewPlaybookTool(baseURL string, heartbeat func(ctx context.Context) error) *PlaybookTool {
	return &PlaybookTool{
		BaseURL:   baseURL,
		Client:    &http.Client{Timeout: 10 * time.Second},
		PollEvery: 2 * time.Second,
		Heartbeat: heartbeat,
	}
}

func (t *PlaybookTool) Kind() string { return "playbook" }

func (t *PlaybookTool) Execute(ctx context.Context, spec, args map[string]any) (map[string]any, error) {
	path, _ := spec["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("tool/playbook: spec.path is required")
	}
	version := 0
	if v, ok := spec["version"].(float64); ok {
		version = int(v)
	}

	startBody, _ := json.Marshal(map[string]any{"path": path, "version": version, "workload": args})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/api/run/playbook", bytes.NewReader(startBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool/playbook: start child: %w", err)
	}
	var started struct {
		ExecutionID int64 `json:"execution_id"`
	}
	if derr := json.NewDecoder(resp.Body).Decode(&started); derr != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("tool/playbook: decode start response: %w", derr)
	}
	resp.Body.Close()

	ticker := time.NewTicker(t.PollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if t.Heartbeat != nil {
				if err := t.Heartbeat(ctx); err != nil {
					return nil, fmt.Errorf("tool/playbook: heartbeat while waiting on child: %w", err)
				}
			}
			status, result, done, err := t.pollChild(ctx, started.ExecutionID)
			if err != nil {
				return nil, err
			}
			if done {
				out := map[string]any{"child_execution_id": started.ExecutionID, "status": status}
				for k, v := range result {
					out[k] = v
				}
				if status == "FAILED" {
					return out, fmt.Errorf("tool/playbook: child execution %d failed", started.ExecutionID)
				}
				return out, nil
			}
		}
	}
}

func (t *PlaybookTool) pollChild(ctx context.Context, childID int64) (status string, result map[string]any, done bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/executions/%d", t.BaseURL, childID), nil)
	if err != nil {
		return "", nil, false, err
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return "", nil, false, fmt.Errorf("tool/playbook: poll child: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string         `json:"status"`
		Result map[string]any `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", nil, false, fmt.Errorf("tool/playbook: decode poll response: %w", err)
	}
	switch body.Status {
	case "COMPLETED", "FAILED", "CANCELLED":
		return body.Status, body.Result, true, nil
	default:
		return body.Status, nil, false, nil
	}
}


package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPTool issues an HTTP request, grounded on the builtin http executor
// pattern used throughout the pack (pkg/executor/builtin/http.go).
type HTTPTool struct {
	Client *http.Client
}

func NewHTTPTool() *HTTPTool {
	return &HTTPTool{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (t *HTTPTool) Kind() string { return "http" }

// Execute reads method/url/headers from spec and a body from args (if any).
func (t *HTTPTool) Execute(ctx context.Context, spec, args map[string]any) (map[string]any, error) {
	method, _ := spec["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	url, _ := spec["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("tool/http: spec.url is required")
	}

	var body io.Reader
	if len(args) > 0 {
		b, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("tool/http: marshal args: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("tool/http: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := spec["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool/http: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tool/http: read response: %w", err)
	}

	result := map[string]any{"status_code": resp.StatusCode}
	var decoded any
	if json.Unmarshal(raw, &decoded) == nil {
		result["data"] = decoded
	} else {
		result["data"] = string(raw)
	}
	if resp.StatusCode >= 400 {
		return result, fmt.Errorf("tool/http: %s %s returned status %d", method, url, resp.StatusCode)
	}
	return result, nil
}

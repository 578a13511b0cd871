package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPSink POSTs a step's result to spec.url, mirroring tool.HTTPTool's
// request construction but with the sunk value as the fixed JSON body.
type HTTPSink struct {
	Client *http.Client
}

func NewHTTPSink() *HTTPSink {
	return &HTTPSink{Client: &http.Client{}}
}

func (s *HTTPSink) Kind() string { return "http" }

func (s *HTTPSink) Execute(ctx context.Context, executionID int64, nodeID string, spec map[string]any, data any) error {
	url, _ := spec["url"].(string)
	if url == "" {
		return fmt.Errorf("sink/http: spec.url is required")
	}
	method, _ := spec["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("sink/http: marshal data: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := spec["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("sink/http: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sink/http: %s returned %d", url, resp.StatusCode)
	}
	return nil
}

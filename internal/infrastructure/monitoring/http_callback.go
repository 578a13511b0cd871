package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noetl/noetl/internal/domain"
)

// HTTPCallbackObserver POSTs each folded event batch to an external
// webhook, grounded on the teacher's HTTPCallbackObserver (config struct
// with CallbackURL/Timeout/Headers, enable/disable toggle, best-effort
// delivery whose failures are only logged). OnEvents posts synchronously,
// so each call waits for the response or the client timeout (5s when
// neither Timeout nor Client is set).
type HTTPCallbackObserver struct {
	url     string
	client  *http.Client
	headers map[string]string
	log     zerolog.Logger

	mu      sync.RWMutex
	enabled bool
}

type HTTPCallbackConfig struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
	Client  *http.Client
}

func NewHTTPCallbackObserver(cfg HTTPCallbackConfig, log zerolog.Logger) (*HTTPCallbackObserver, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("monitoring: callback url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if _, ok := headers["Content-Type"]; !ok {
		headers["Content-Type"] = "application/json"
	}
	return &HTTPCallbackObserver{url: cfg.URL, client: client, headers: headers, log: log, enabled: true}, nil
}

func (o *HTTPCallbackObserver) SetEnabled(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enabled = enabled
}

func (o *HTTPCallbackObserver) OnEvents(executionID int64, events []domain.Event) {
	o.mu.RLock()
	enabled := o.enabled
	o.mu.RUnlock()
	if !enabled {
		return
	}

	payload, err := json.Marshal(map[string]any{"execution_id": executionID, "events": events})
	if err != nil {
		o.log.Error().Err(err).Msg("monitoring: marshal callback payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(payload))
	if err != nil {
		o.log.Error().Err(err).Msg("monitoring: build callback request")
		return
	}
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		o.log.Warn().Err(err).Str("url", o.url).Msg("monitoring: callback delivery failed")
		return
	}
	resp.Body.Close()
}

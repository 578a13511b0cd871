package sse

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl/internal/infrastructure/websocket"
)

type mockAuth struct {
	userID string
	err    error
}

func (m *mockAuth) Authenticate(r *http.Request) (string, error) { return m.userID, m.err }

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel)
}

func TestHandler_MissingExecutionID(t *testing.T) {
	hub := websocket.NewHub(testLogger())
	h := NewHandler(hub, &mockAuth{userID: "u"}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Unauthorized(t *testing.T) {
	hub := websocket.NewHub(testLogger())
	h := NewHandler(hub, &mockAuth{err: assert.AnError}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/events?execution_id=1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_StreamsBroadcastEvent(t *testing.T) {
	hub := websocket.NewHub(testLogger())
	go hub.Run()
	time.Sleep(10 * time.Millisecond)

	h := NewHandler(hub, &mockAuth{userID: "u"}, testLogger())
	server := httptest.NewServer(h)
	defer server.Close()

	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest(http.MethodGet, server.URL+"/events?execution_id=99&client_id=c1", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the handler time to register into the hub before broadcasting.
	time.Sleep(20 * time.Millisecond)
	hub.Broadcast(99, map[string]any{"event_type": "step.enter"})

	reader := bufio.NewReader(resp.Body)
	deadline := time.Now().Add(time.Second)
	var line string
	for time.Now().Before(deadline) {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	assert.Contains(t, line, "step.enter")
}

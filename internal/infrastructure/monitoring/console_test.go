package monitoring

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl/internal/domain"
)

func TestConsoleObserver_LogsOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	o := NewConsoleObserver(zerolog.New(&buf))

	evt := domain.NewEvent(7, domain.EventStepExit, domain.StatusCompleted)
	evt.NodeID = "n1"
	o.OnEvents(7, []domain.Event{evt})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &line))
	assert.EqualValues(t, 7, line["execution_id"])
	assert.Equal(t, "n1", line["node_id"])
	assert.Equal(t, "COMPLETED", line["status"])
	assert.Equal(t, "info", line["level"])
}

func TestConsoleObserver_FailedStatusLogsAtWarnWithErrorFields(t *testing.T) {
	var buf bytes.Buffer
	o := NewConsoleObserver(zerolog.New(&buf))

	evt := domain.NewEvent(1, domain.EventActionError, domain.StatusFailed)
	evt.NodeID = "n1"
	evt.Error = &domain.EventError{Kind: domain.ErrorKindTool, Message: "boom"}
	o.OnEvents(1, []domain.Event{evt})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "tool", line["error_kind"])
	assert.Equal(t, "boom", line["error"])
}

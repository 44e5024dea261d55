package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogEntryWireShape(t *testing.T) {
	entry := &LogEntry{
		Timestamp:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Level:         ErrorLevel,
		Message:       "boom",
		Service:       "svc",
		CorrelationID: "abc",
		Context: &EntryContext{
			Component: "db",
			ClientIP:  "10.0.0.0",
		},
		Error: &ErrorInfo{
			Name:     "timeout",
			Message:  "query timed out",
			Category: TimeoutError,
			Impact:   ImpactHigh,
		},
	}

	data, err := json.Marshal(entry)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "error", m["level"])
	assert.Equal(t, "abc", m["correlationId"])
	assert.Equal(t, "2026-03-14T09:00:00Z", m["timestamp"])

	ctx := m["context"].(map[string]any)
	assert.Equal(t, "db", ctx["component"])
	assert.Equal(t, "10.0.0.0", ctx["clientIp"])

	errInfo := m["error"].(map[string]any)
	assert.Equal(t, "TimeoutError", errInfo["category"])
	assert.Equal(t, "high", errInfo["impact"])
	// Empty stack and cause are omitted from the wire form.
	assert.NotContains(t, errInfo, "stack")
	assert.NotContains(t, errInfo, "cause")
}

func TestEmptyFieldsOmitted(t *testing.T) {
	data, err := json.Marshal(&LogEntry{Level: InfoLevel, Message: "m"})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.NotContains(t, m, "context")
	assert.NotContains(t, m, "error")
	assert.NotContains(t, m, "correlationId")
	assert.NotContains(t, m, "metrics")
}

func TestEntryContextIsEmpty(t *testing.T) {
	assert.True(t, (*EntryContext)(nil).IsEmpty())
	assert.True(t, (&EntryContext{}).IsEmpty())
	assert.False(t, (&EntryContext{Component: "db"}).IsEmpty())
	assert.False(t, (&EntryContext{HTTPStatus: 200}).IsEmpty())
	assert.False(t, (&EntryContext{Data: map[string]any{"k": 1}}).IsEmpty())
}

func TestErrorCategoryValid(t *testing.T) {
	assert.True(t, NetworkError.Valid())
	assert.True(t, UnknownError.Valid())
	assert.False(t, ErrorCategory("Gremlins").Valid())
}

func TestMissingFieldError(t *testing.T) {
	err := &MissingFieldError{Field: "level"}
	assert.Contains(t, err.Error(), "level")
}

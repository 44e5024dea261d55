package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelOrdering(t *testing.T) {
	assert.True(t, TraceLevel < DebugLevel)
	assert.True(t, DebugLevel < InfoLevel)
	assert.True(t, InfoLevel < WarnLevel)
	assert.True(t, WarnLevel < ErrorLevel)
	assert.True(t, ErrorLevel < FatalLevel)
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "trace", TraceLevel.String())
	assert.Equal(t, "warn", WarnLevel.String())
	assert.Equal(t, "fatal", FatalLevel.String())
	assert.Contains(t, Level(42).String(), "42")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"trace":       TraceLevel,
		"verbose":     TraceLevel,
		"DEBUG":       DebugLevel,
		"info":        InfoLevel,
		"Information": InfoLevel,
		" warn ":      WarnLevel,
		"warning":     WarnLevel,
		"error":       ErrorLevel,
		"fatal":       FatalLevel,
	}
	for input, want := range cases {
		got, err := ParseLevel(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, want, got, "input %q", input)
	}

	_, err := ParseLevel("shout")
	assert.Error(t, err)
}

func TestLevelJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(ErrorLevel)
	require.NoError(t, err)
	assert.Equal(t, `"error"`, string(data))

	var lvl Level
	require.NoError(t, json.Unmarshal([]byte(`"warning"`), &lvl))
	assert.Equal(t, WarnLevel, lvl)

	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &lvl))
}

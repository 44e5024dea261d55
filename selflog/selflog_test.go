package selflog

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisabledByDefault(t *testing.T) {
	Disable()
	assert.False(t, IsEnabled())
	// Printf with no writer must be a cheap no-op.
	Printf("should go nowhere %d", 42)
}

func TestEnableWriter(t *testing.T) {
	var buf bytes.Buffer
	Enable(&buf)
	defer Disable()

	assert.True(t, IsEnabled())
	Printf("[test] value=%d", 7)

	out := buf.String()
	assert.Contains(t, out, "[test] value=7")
	// Each line is timestamped.
	assert.Contains(t, out, "T")
}

func TestEnableFunc(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	EnableFunc(func(msg string) {
		mu.Lock()
		lines = append(lines, msg)
		mu.Unlock()
	})
	defer Disable()

	Printf("hello %s", "there")

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, lines, 1)
	assert.True(t, strings.Contains(lines[0], "hello there"))
}

func TestDisableStopsOutput(t *testing.T) {
	var buf bytes.Buffer
	Enable(&buf)
	Disable()

	Printf("late message")
	assert.Empty(t, buf.String())
}

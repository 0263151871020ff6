package cliadapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	vibe, err := Get("vibe")
	require.NoError(t, err)
	assert.IsType(t, &VibeAdapter{}, vibe)

	mock, err := Get("mock")
	require.NoError(t, err)
	assert.IsType(t, &MockAdapter{}, mock)

	_, err = Get("claude")
	assert.ErrorContains(t, err, `unknown CLI adapter "claude"`)
}

func TestRegistryReturnsFreshInstances(t *testing.T) {
	a, err := Get("mock")
	require.NoError(t, err)
	b, err := Get("mock")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"Thinking about the schema", EventThink},
		{"> considering options", EventThink},
		{"$ npm install", EventBash},
		{"Running: pytest -q", EventBash},
		{"Writing src/app.py", EventCode},
		{"Editing README.md", EventCode},
		{"All tests passed", EventOutput},
		{"Run the build", EventOutput}, // "Running:" prefix only, not "Run"
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyLine(tt.line), "line %q", tt.line)
	}
}

func TestMockAdapterEmitsSixEventsThenDone(t *testing.T) {
	adapter := NewMockAdapter()
	adapter.StepDelay = time.Millisecond

	require.NoError(t, adapter.Spawn(context.Background(), t.TempDir(), "add a hello endpoint", DefaultConfig(), "backend-t1"))

	var events []Event
	for event := range adapter.Events() {
		events = append(events, event)
	}

	require.Len(t, events, 7)
	for _, event := range events {
		assert.Equal(t, "backend-t1", event.AgentID)
	}
	assert.Equal(t, EventThink, events[0].Type)
	assert.Contains(t, events[0].Text, "add a hello endpoint")
	assert.Equal(t, EventDone, events[6].Type)
	assert.True(t, adapter.IsComplete())
}

func TestMockAdapterKillStopsStream(t *testing.T) {
	adapter := NewMockAdapter()
	adapter.StepDelay = 5 * time.Millisecond

	require.NoError(t, adapter.Spawn(context.Background(), t.TempDir(), "task", DefaultConfig(), "a1"))
	require.NoError(t, adapter.Kill())

	var sawTerminal bool
	for event := range adapter.Events() {
		if event.Type == EventDone || event.Type == EventError {
			sawTerminal = true
		}
	}
	assert.False(t, sawTerminal, "killed agent must not emit a terminal event")
	assert.True(t, adapter.IsComplete())
}

func TestVibeAdapterStreamsRealProcess(t *testing.T) {
	// Use a stand-in binary on PATH named vibe that prints a classified
	// transcript and exits 0.
	dir := t.TempDir()
	writeFakeVibe(t, dir, `#!/bin/sh
echo "Thinking about the task"
echo "$ ls"
echo "Writing main.py"
echo "done with everything"
`)
	t.Setenv("PATH", dir+":"+envPath())

	adapter := NewVibeAdapter()
	require.NoError(t, adapter.Spawn(context.Background(), t.TempDir(), "prompt", DefaultConfig(), "a1"))

	var types []string
	for event := range adapter.Events() {
		types = append(types, event.Type)
	}
	assert.Equal(t, []string{EventThink, EventBash, EventCode, EventOutput, EventDone}, types)
	assert.True(t, adapter.IsComplete())
}

func TestVibeAdapterEmitsErrorOnNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	writeFakeVibe(t, dir, `#!/bin/sh
echo "some output"
echo "fatal: credit limit reached" >&2
exit 3
`)
	t.Setenv("PATH", dir+":"+envPath())

	adapter := NewVibeAdapter()
	require.NoError(t, adapter.Spawn(context.Background(), t.TempDir(), "prompt", DefaultConfig(), "a1"))

	var last Event
	count := 0
	for event := range adapter.Events() {
		last = event
		count++
	}
	require.Equal(t, 2, count)
	assert.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Text, "code 3")
	assert.Contains(t, last.Text, "credit limit reached")
}

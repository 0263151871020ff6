package cliadapter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"alchemistral/internal/logging"
)

// MockAdapter simulates a coding agent for demo mode and tests: six canned
// events with a fixed inter-event delay, then done.
type MockAdapter struct {
	logger  logging.Logger
	agentID string
	events  chan Event
	done    atomic.Bool
	killed  atomic.Bool

	// StepDelay is the pause between canned events. Tests shrink it.
	StepDelay time.Duration
}

// NewMockAdapter returns a mock with the demo-mode pacing.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		logger:    logging.NewComponentLogger("MockAdapter"),
		StepDelay: 1500 * time.Millisecond,
	}
}

// Spawn records the prompt and starts emitting the canned sequence.
func (a *MockAdapter) Spawn(ctx context.Context, worktreePath, prompt string, cfg Config, agentID string) error {
	a.agentID = agentID
	a.events = make(chan Event, 8)
	a.logger.Info("[%s] mock spawn in %s", agentID, worktreePath)

	snippet := prompt
	if len(snippet) > 80 {
		snippet = snippet[:80]
	}

	steps := []Event{
		{AgentID: agentID, Type: EventThink, Text: fmt.Sprintf("Analyzing task: %s...", snippet)},
		{AgentID: agentID, Type: EventThink, Text: "Reading project structure..."},
		{AgentID: agentID, Type: EventBash, Text: "$ ls -la src/"},
		{AgentID: agentID, Type: EventCode, Text: "Writing implementation..."},
		{AgentID: agentID, Type: EventBash, Text: "$ npm test"},
		{AgentID: agentID, Type: EventOutput, Text: "All tests passed."},
	}

	go func() {
		defer close(a.events)
		for _, step := range steps {
			select {
			case <-ctx.Done():
				a.done.Store(true)
				return
			case <-time.After(a.StepDelay):
			}
			if a.killed.Load() {
				a.done.Store(true)
				return
			}
			a.events <- step
		}
		a.done.Store(true)
		a.events <- Event{AgentID: agentID, Type: EventDone, Text: "Agent completed (mock)"}
	}()
	return nil
}

// Events returns the canned stream.
func (a *MockAdapter) Events() <-chan Event {
	return a.events
}

// IsComplete reports whether the sequence has finished.
func (a *MockAdapter) IsComplete() bool {
	return a.done.Load()
}

// Kill stops the sequence without a terminal event.
func (a *MockAdapter) Kill() error {
	a.killed.Store(true)
	a.done.Store(true)
	return nil
}

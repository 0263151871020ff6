// Package cliadapter defines the pluggable contract for coding-agent CLI
// subprocesses. The first shipped adapter drives the Vibe CLI; the mock
// adapter simulates one for demos and tests.
package cliadapter

import (
	"context"
	"fmt"
	"sort"
)

// Event types emitted by adapters. Each stream ends with exactly one of
// EventDone or EventError; no events follow a terminal one.
const (
	EventThink  = "think"
	EventBash   = "bash"
	EventCode   = "code"
	EventOutput = "output"
	EventDone   = "done"
	EventError  = "error"
)

// Event is a single classified line from an agent's output stream.
type Event struct {
	AgentID string
	Type    string
	Text    string
}

// Config carries the spawn-time limits for an agent process.
type Config struct {
	MaxTurns int
	MaxPrice float64
	Skills   []string
	// ExtraEnv entries (KEY=value) are appended to the child environment so
	// credentials reach the CLI without touching its config directory.
	ExtraEnv []string
}

// DefaultConfig mirrors the stock agent limits.
func DefaultConfig() Config {
	return Config{MaxTurns: 50, MaxPrice: 5.0}
}

// Adapter is the capability contract over one coding-agent subprocess.
type Adapter interface {
	// Spawn launches the process in the given worktree. It returns once the
	// process is started; output flows through Events afterwards.
	Spawn(ctx context.Context, worktreePath, prompt string, cfg Config, agentID string) error
	// Events returns the stream of classified output events. The channel is
	// closed after the terminal event.
	Events() <-chan Event
	// IsComplete reports whether the process has finished.
	IsComplete() bool
	// Kill terminates the running process: graceful first, hard after 5s.
	Kill() error
}

type factory func() Adapter

var registry = map[string]factory{
	"vibe": func() Adapter { return NewVibeAdapter() },
	"mock": func() Adapter { return NewMockAdapter() },
}

// Get returns a fresh adapter instance by name.
func Get(name string) (Adapter, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown CLI adapter %q, available: %v", name, Names())
	}
	return ctor(), nil
}

// Names lists the registered adapter names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

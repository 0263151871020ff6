package agent

import (
	"context"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alchemistral/internal/broadcast"
	"alchemistral/internal/cliadapter"
	"alchemistral/internal/config"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.email", "dev@example.com")
	run("config", "user.name", "dev")
	run("commit", "--allow-empty", "-m", "init")
	return dir
}

type eventSink struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (s *eventSink) publish(e broadcast.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *eventSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func fastMockFactory(t *testing.T) func(string) (cliadapter.Adapter, error) {
	t.Helper()
	return func(name string) (cliadapter.Adapter, error) {
		mock := cliadapter.NewMockAdapter()
		mock.StepDelay = time.Millisecond
		return mock, nil
	}
}

func waitForTerminal(t *testing.T, m *Manager, agentID string) string {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("agent %s never reached a terminal status (now %q)", agentID, m.Status(agentID))
		case <-time.After(10 * time.Millisecond):
		}
		switch status := m.Status(agentID); status {
		case StatusDone, StatusFailed:
			return status
		}
	}
}

func TestSpawnRunsMockToCompletion(t *testing.T) {
	repo := initRepo(t)
	sink := &eventSink{}
	m := NewManager(config.Static{Demo: true}, sink.publish)
	m.NewAdapter = fastMockFactory(t)

	state, err := m.Spawn(context.Background(), SpawnRequest{
		AgentID:     "backend-t1",
		ProjectID:   "p1",
		Domain:      "backend",
		Label:       "Build API",
		TaskPrompt:  "Add a /health endpoint",
		ProjectPath: repo,
		AlchDir:     filepath.Join(repo, ".alchemistral"),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, state.Status)
	assert.Equal(t, "agent/backend-t1", state.Branch)
	assert.Equal(t, filepath.Join(repo, ".worktrees", "backend-t1"), state.WorktreePath)
	assert.NotEmpty(t, state.StartedAt)

	assert.Equal(t, StatusDone, waitForTerminal(t, m, "backend-t1"))

	final := m.Get("backend-t1", "p1")
	require.NotNil(t, final)
	assert.Equal(t, 1, final.ValidationLevel)
	assert.NotEmpty(t, final.CompletedAt)
	// Six canned events plus the terminal done line.
	assert.Equal(t, 7, final.OutputLineCount)

	types := sink.types()
	assert.Equal(t, "spawn", types[0])
	assert.Equal(t, "status", types[1])
	assert.Equal(t, "done", types[len(types)-1])
}

func TestSpawnFailsOnBadProjectPath(t *testing.T) {
	sink := &eventSink{}
	m := NewManager(config.Static{}, sink.publish)
	m.NewAdapter = fastMockFactory(t)

	state, err := m.Spawn(context.Background(), SpawnRequest{
		AgentID:     "backend-t1",
		ProjectID:   "p1",
		Domain:      "backend",
		TaskPrompt:  "task",
		ProjectPath: filepath.Join(t.TempDir(), "not-a-repo"),
	})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, state.Status)
	assert.NotEmpty(t, state.Error)
	assert.Contains(t, sink.types(), "error")
}

func TestSpawnRejectsUnknownAdapter(t *testing.T) {
	repo := initRepo(t)
	sink := &eventSink{}
	m := NewManager(config.Static{}, sink.publish)

	state, err := m.Spawn(context.Background(), SpawnRequest{
		AgentID:     "backend-t1",
		ProjectID:   "p1",
		Domain:      "backend",
		TaskPrompt:  "task",
		ProjectPath: repo,
		AdapterName: "nope",
	})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, state.Status)
}

func TestKillMarksAgentFailed(t *testing.T) {
	repo := initRepo(t)
	sink := &eventSink{}
	m := NewManager(config.Static{Demo: true}, sink.publish)
	m.NewAdapter = func(name string) (cliadapter.Adapter, error) {
		mock := cliadapter.NewMockAdapter()
		mock.StepDelay = time.Hour // never progresses on its own
		return mock, nil
	}

	_, err := m.Spawn(context.Background(), SpawnRequest{
		AgentID:     "frontend-t2",
		ProjectID:   "p1",
		Domain:      "frontend",
		TaskPrompt:  "task",
		ProjectPath: repo,
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, m.Status("frontend-t2"))

	assert.True(t, m.Kill("frontend-t2"))

	final := m.Get("frontend-t2", "")
	require.NotNil(t, final)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, "Killed by user", final.Error)
	assert.NotEmpty(t, final.CompletedAt)

	assert.False(t, m.Kill("unknown-agent"))
}

func handleCount(m *Manager) (adapters, cancels int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.adapters), len(m.cancels)
}

func TestTerminalAgentsReleaseHandles(t *testing.T) {
	repo := initRepo(t)
	m := NewManager(config.Static{Demo: true}, func(broadcast.Event) {})
	m.NewAdapter = fastMockFactory(t)

	_, err := m.Spawn(context.Background(), SpawnRequest{
		AgentID:     "backend-t1",
		ProjectID:   "p1",
		Domain:      "backend",
		TaskPrompt:  "task",
		ProjectPath: repo,
	})
	require.NoError(t, err)

	// finish releases under the same lock that flips the status, so a
	// terminal status implies the handles are gone.
	waitForTerminal(t, m, "backend-t1")
	adapters, cancels := handleCount(m)
	assert.Zero(t, adapters)
	assert.Zero(t, cancels)
}

func TestKillReleasesHandles(t *testing.T) {
	repo := initRepo(t)
	m := NewManager(config.Static{Demo: true}, func(broadcast.Event) {})
	m.NewAdapter = func(name string) (cliadapter.Adapter, error) {
		mock := cliadapter.NewMockAdapter()
		mock.StepDelay = time.Hour
		return mock, nil
	}

	_, err := m.Spawn(context.Background(), SpawnRequest{
		AgentID:     "frontend-t2",
		ProjectID:   "p1",
		Domain:      "frontend",
		TaskPrompt:  "task",
		ProjectPath: repo,
	})
	require.NoError(t, err)

	require.True(t, m.Kill("frontend-t2"))
	adapters, cancels := handleCount(m)
	assert.Zero(t, adapters)
	assert.Zero(t, cancels)
}

func TestListScopesByProject(t *testing.T) {
	repo := initRepo(t)
	m := NewManager(config.Static{Demo: true}, func(broadcast.Event) {})
	m.NewAdapter = fastMockFactory(t)

	for _, tc := range []struct{ agentID, projectID string }{
		{"backend-t1", "p1"},
		{"frontend-t2", "p1"},
		{"backend-t1", "p2"},
	} {
		_, err := m.Spawn(context.Background(), SpawnRequest{
			AgentID:     tc.agentID + "-" + tc.projectID,
			ProjectID:   tc.projectID,
			Domain:      "backend",
			TaskPrompt:  "task",
			ProjectPath: repo,
		})
		require.NoError(t, err)
	}

	assert.Len(t, m.List("p1"), 2)
	assert.Len(t, m.List("p2"), 1)
	assert.Len(t, m.List(""), 3)
	assert.Nil(t, m.Get("backend-t1-p1", "p2"))
	assert.NotNil(t, m.Get("backend-t1-p1", ""))
}

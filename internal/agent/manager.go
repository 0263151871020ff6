// Package agent manages the lifecycle of coding agents: spawn, relay output,
// track state, kill. Each agent runs in an isolated git worktree with its own
// CLI process. Agents are scoped by project id.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"alchemistral/internal/broadcast"
	"alchemistral/internal/cliadapter"
	"alchemistral/internal/config"
	"alchemistral/internal/logging"
	"alchemistral/internal/prompt"
	"alchemistral/internal/worktree"
)

// Agent statuses.
const (
	StatusPending    = "pending"
	StatusSpawning   = "spawning"
	StatusActive     = "active"
	StatusValidating = "validating"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// State is the runtime state of a single agent.
type State struct {
	ID              string   `json:"id"`
	ProjectID       string   `json:"project_id"`
	Domain          string   `json:"domain"`
	Label           string   `json:"label"`
	Status          string   `json:"status"`
	WorktreePath    string   `json:"worktree_path"`
	Branch          string   `json:"branch"`
	Prompt          string   `json:"-"`
	StartedAt       string   `json:"started_at,omitempty"`
	CompletedAt     string   `json:"completed_at,omitempty"`
	ValidationLevel int      `json:"validation_level"` // 0=none, 1=self-test, 2=orchestrator, 3=integration
	OutputLineCount int      `json:"output_line_count"`
	Error           string   `json:"error,omitempty"`

	outputLines []string
}

// SpawnRequest carries everything spawn needs for one agent.
type SpawnRequest struct {
	AgentID     string
	ProjectID   string
	Domain      string
	Label       string
	TaskPrompt  string
	ProjectPath string
	AlchDir     string
	AdapterName string
	Skills      []string
}

// Manager owns all agent states and their relay workers.
type Manager struct {
	mu       sync.RWMutex
	agents   map[string]map[string]*State // project_id -> agent_id -> state
	adapters map[string]cliadapter.Adapter
	cancels  map[string]context.CancelFunc

	cfg     config.Source
	publish broadcast.Func
	logger  logging.Logger

	// NewAdapter constructs adapters by name. Tests swap it to inject fast
	// mocks; it defaults to the cliadapter registry.
	NewAdapter func(name string) (cliadapter.Adapter, error)
}

// NewManager builds a Manager publishing lifecycle events through publish.
func NewManager(cfg config.Source, publish broadcast.Func) *Manager {
	return &Manager{
		agents:   make(map[string]map[string]*State),
		adapters: make(map[string]cliadapter.Adapter),
		cancels:  make(map[string]context.CancelFunc),
		cfg:      cfg,
		publish:  publish,
		logger:   logging.NewComponentLogger("AgentManager"),

		NewAdapter: cliadapter.Get,
	}
}

// Get returns a copy of the agent's state, or nil when unknown. An empty
// projectID searches every project.
func (m *Manager) Get(agentID, projectID string) *State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s := m.lookup(agentID, projectID); s != nil {
		copied := *s
		return &copied
	}
	return nil
}

func (m *Manager) lookup(agentID, projectID string) *State {
	if projectID != "" {
		return m.agents[projectID][agentID]
	}
	for _, proj := range m.agents {
		if s, ok := proj[agentID]; ok {
			return s
		}
	}
	return nil
}

// List returns state copies, optionally scoped to one project.
func (m *Manager) List(projectID string) []State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []State
	for pid, proj := range m.agents {
		if projectID != "" && pid != projectID {
			continue
		}
		for _, s := range proj {
			out = append(out, *s)
		}
	}
	return out
}

// Status returns the agent's current status, empty when unknown.
func (m *Manager) Status(agentID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s := m.lookup(agentID, ""); s != nil {
		return s.Status
	}
	return ""
}

// OutputLines returns a copy of the agent's buffered output.
func (m *Manager) OutputLines(agentID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.lookup(agentID, "")
	if s == nil {
		return nil
	}
	out := make([]string, len(s.outputLines))
	copy(out, s.outputLines)
	return out
}

// Spawn creates the worktree, builds the prompt, launches the CLI process and
// starts a relay worker streaming its events. Spawn errors mark the agent
// failed but are also returned so callers can react immediately.
func (m *Manager) Spawn(ctx context.Context, req SpawnRequest) (*State, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	state := &State{
		ID:        req.AgentID,
		ProjectID: req.ProjectID,
		Domain:    req.Domain,
		Label:     req.Label,
		Status:    StatusSpawning,
		Prompt:    req.TaskPrompt,
		StartedAt: now,
	}

	m.mu.Lock()
	if m.agents[req.ProjectID] == nil {
		m.agents[req.ProjectID] = make(map[string]*State)
	}
	m.agents[req.ProjectID][req.AgentID] = state
	m.mu.Unlock()

	m.publish(broadcast.New(req.AgentID, "spawn", "").
		With("domain", req.Domain).
		With("label", req.Label).
		With("project_id", req.ProjectID))

	fail := func(err error) (*State, error) {
		m.mu.Lock()
		state.Status = StatusFailed
		state.Error = err.Error()
		m.mu.Unlock()
		m.logger.Error("[%s] spawn failed: %v", req.AgentID, err)
		m.publish(broadcast.New(req.AgentID, "error", fmt.Sprintf("Spawn failed: %v", err)).
			With("project_id", req.ProjectID))
		return m.Get(req.AgentID, req.ProjectID), err
	}

	wtPath, err := worktree.Create(ctx, req.ProjectPath, req.AgentID)
	if err != nil {
		return fail(err)
	}

	m.mu.Lock()
	state.WorktreePath = wtPath
	state.Branch = worktree.BranchName(req.AgentID)
	m.mu.Unlock()

	fullPrompt := prompt.Build(req.Domain, req.TaskPrompt, req.AlchDir, req.Skills, nil)

	adapterName := req.AdapterName
	if adapterName == "" {
		adapterName = "vibe"
	}
	if m.cfg.DemoMode() {
		adapterName = "mock"
	}
	adapter, err := m.NewAdapter(adapterName)
	if err != nil {
		return fail(err)
	}

	cfg := cliadapter.DefaultConfig()
	cfg.Skills = req.Skills
	if key := m.cfg.APIKey(); key != "" {
		cfg.ExtraEnv = append(cfg.ExtraEnv, "MISTRAL_API_KEY="+key)
	}

	relayCtx, cancel := context.WithCancel(context.Background())
	if err := adapter.Spawn(relayCtx, wtPath, fullPrompt, cfg, req.AgentID); err != nil {
		cancel()
		return fail(err)
	}

	m.mu.Lock()
	state.Status = StatusActive
	m.adapters[req.AgentID] = adapter
	m.cancels[req.AgentID] = cancel
	m.mu.Unlock()

	m.publish(broadcast.New(req.AgentID, "status",
		fmt.Sprintf("Agent %s active in %s", req.AgentID, state.Branch)).
		With("status", StatusActive).
		With("worktree", wtPath).
		With("branch", state.Branch).
		With("project_id", req.ProjectID))

	go m.relay(relayCtx, req.AgentID, adapter)

	return m.Get(req.AgentID, req.ProjectID), nil
}

// relay drains the adapter's event stream, buffering output and re-publishing
// each event. A done event ends the agent successfully; an error event marks
// it failed.
func (m *Manager) relay(ctx context.Context, agentID string, adapter cliadapter.Adapter) {
	for event := range adapter.Events() {
		m.mu.Lock()
		state := m.lookup(agentID, "")
		if state != nil {
			state.outputLines = append(state.outputLines, event.Text)
			state.OutputLineCount = len(state.outputLines)
		}
		m.mu.Unlock()

		m.publish(broadcast.New(event.AgentID, event.Type, event.Text))

		switch event.Type {
		case cliadapter.EventDone:
			m.finish(agentID, StatusDone, "")
			return
		case cliadapter.EventError:
			m.finish(agentID, StatusFailed, event.Text)
			return
		}
	}

	// Stream ended without a terminal event: cancelled or killed.
	if ctx.Err() != nil {
		m.finish(agentID, StatusFailed, "cancelled")
	}
}

func (m *Manager) finish(agentID, status, errText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.lookup(agentID, "")
	if state == nil {
		return
	}
	if state.Status == StatusDone || state.Status == StatusFailed {
		return
	}
	state.Status = status
	state.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	if status == StatusDone {
		state.ValidationLevel = 1 // agent reported done, self-test passed
	} else {
		state.Error = errText
	}
	m.release(agentID)
}

// release cancels the relay context and drops the adapter handle once an
// agent is terminal, so long-lived managers don't accumulate per-agent
// entries. Caller holds mu.
func (m *Manager) release(agentID string) {
	if cancel := m.cancels[agentID]; cancel != nil {
		cancel()
	}
	delete(m.cancels, agentID)
	delete(m.adapters, agentID)
}

// Kill stops a running agent: terminate the process, cancel the relay, mark
// the state failed. Returns false when the agent is unknown.
func (m *Manager) Kill(agentID string) bool {
	m.mu.Lock()
	adapter := m.adapters[agentID]
	cancel := m.cancels[agentID]
	state := m.lookup(agentID, "")
	m.mu.Unlock()

	if adapter != nil {
		if err := adapter.Kill(); err != nil {
			m.logger.Warn("[%s] kill: %v", agentID, err)
		}
	}
	if cancel != nil {
		cancel()
	}
	if state == nil {
		return false
	}

	m.mu.Lock()
	state.Status = StatusFailed
	state.Error = "Killed by user"
	state.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	m.release(agentID)
	m.mu.Unlock()
	return true
}

// Package mission implements the planning and execution flow for one user
// message: reprompt classification, DAG decomposition, the dependency
// scheduler, and the post-run merge/install/verify stage.
package mission

// Agent domains the orchestrator may assign.
var ValidDomains = []string{"frontend", "backend", "security", "infra"}

// Task is one planned unit of agent work.
type Task struct {
	ID           string   `json:"id"`
	Label        string   `json:"label"`
	AgentDomain  string   `json:"agent_domain"`
	AgentType    string   `json:"agent_type"` // parent | child
	ParentID     string   `json:"parent_id,omitempty"`
	Dependencies []string `json:"dependencies"`
	Prompt       string   `json:"prompt"`
}

// AgentID derives the runtime agent identifier for this task.
func (t Task) AgentID() string {
	domain := t.AgentDomain
	if domain == "" {
		domain = "agent"
	}
	return domain + "-" + t.ID
}

// Contract is an interface artifact shared between agent domains.
type Contract struct {
	File      string   `json:"file"`
	Content   string   `json:"content"`
	WrittenBy string   `json:"written_by"`
	ReadBy    []string `json:"read_by"`
}

// MemoryUpdates carries the orchestrator's additions to project memory.
type MemoryUpdates struct {
	GlobalAdditions     []string `json:"global_additions"`
	ArchitectureChanges string   `json:"architecture_changes"`
}

// Plan is the orchestrator's full decomposition. Immutable once produced.
type Plan struct {
	Analysis      string        `json:"analysis"`
	RunCommand    string        `json:"run_command"`
	DAG           []Task        `json:"dag"`
	Contracts     []Contract    `json:"contracts"`
	MemoryUpdates MemoryUpdates `json:"memory_updates"`
}

// RepromptResult is the reprompt stage's classification of a user message.
type RepromptResult struct {
	Intent  string `json:"intent"` // mission | conversation
	Refined string `json:"refined"`
}

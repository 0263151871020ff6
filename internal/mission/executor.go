package mission

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"alchemistral/internal/agent"
	"alchemistral/internal/broadcast"
	"alchemistral/internal/logging"
)

const (
	// MaxConcurrentAgents caps simultaneously running coding agents.
	MaxConcurrentAgents = 3

	autoRunTimeout = 30 * time.Second
	installTimeout = 60 * time.Second
)

// defaultGitignore keeps build artifacts and virtualenvs out of agent commits.
const defaultGitignore = "venv/\n__pycache__/\nnode_modules/\n.env\n*.pyc\ndist/\nbuild/\n.venv/\n"

// ExecuteRequest carries one DAG run's inputs.
type ExecuteRequest struct {
	DAG         []Task
	ProjectPath string
	AlchDir     string
	AdapterName string
	ProjectID   string
	RunCommand  string
}

// Executor schedules a DAG of agent tasks with dependency resolution and
// bounded concurrency, then auto-merges, auto-installs and auto-runs.
type Executor struct {
	agents  *agent.Manager
	publish broadcast.Func
	logger  logging.Logger

	// PollInterval is how often workers check agent status. Tests shrink it.
	PollInterval time.Duration
}

// NewExecutor builds an Executor over the given agent manager.
func NewExecutor(agents *agent.Manager, publish broadcast.Func) *Executor {
	return &Executor{
		agents:       agents,
		publish:      publish,
		logger:       logging.NewComponentLogger("DAGExecutor"),
		PollInterval: time.Second,
	}
}

type taskResult struct {
	taskID  string
	success bool
}

// Execute runs the DAG to completion. Tasks whose dependencies are met spawn
// in plan order, at most MaxConcurrentAgents at a time. Tasks whose
// dependencies failed are skipped transitively. The three bookkeeping sets are
// owned by this goroutine alone; workers report through the results channel.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) {
	if len(req.DAG) == 0 {
		e.logger.Info("empty DAG, nothing to execute")
		return
	}

	sem := semaphore.NewWeighted(MaxConcurrentAgents)
	completed := make(map[string]bool)
	failed := make(map[string]bool)
	spawned := make(map[string]bool)
	results := make(chan taskResult, len(req.DAG))
	inFlight := 0

	e.publish(broadcast.New(broadcast.OrchestratorID, "dag_execution_start",
		fmt.Sprintf("Executing DAG with %d tasks", len(req.DAG))))

	depsMet := func(t Task) bool {
		for _, d := range t.Dependencies {
			if !completed[d] {
				return false
			}
		}
		return true
	}
	depsFailed := func(t Task) bool {
		for _, d := range t.Dependencies {
			if failed[d] {
				return true
			}
		}
		return false
	}

	maxIterations := len(req.DAG) * 10
	iteration := 0

	for len(completed)+len(failed) < len(req.DAG) {
		iteration++
		if iteration > maxIterations {
			e.logger.Error("DAG execution exceeded max iterations, aborting")
			break
		}

		progress := false
		for _, task := range req.DAG {
			if spawned[task.ID] {
				continue
			}
			if depsFailed(task) {
				failed[task.ID] = true
				spawned[task.ID] = true
				progress = true
				e.publish(broadcast.New(broadcast.OrchestratorID, "task_skipped",
					fmt.Sprintf("Skipped %s — dependency failed", labelOr(task))).
					With("task_id", task.ID))
				continue
			}
			if depsMet(task) {
				spawned[task.ID] = true
				inFlight++
				progress = true
				go e.runTask(ctx, sem, task, req, results)
			}
		}

		if !progress && inFlight == 0 {
			if len(completed)+len(failed) < len(req.DAG) {
				e.logger.Warn("no tasks ready and none running — possible cycle")
			}
			break
		}

		if inFlight > 0 {
			res := <-results
			inFlight--
			if res.success {
				completed[res.taskID] = true
			} else {
				failed[res.taskID] = true
			}
		}
	}

	e.publish(broadcast.New(broadcast.OrchestratorID, "dag_execution_done",
		fmt.Sprintf("DAG complete: %d succeeded, %d failed", len(completed), len(failed))).
		With("completed", keys(completed)).
		With("failed", keys(failed)))

	type taskSummary struct {
		ID     string `json:"id"`
		Label  string `json:"label"`
		Domain string `json:"domain"`
		Status string `json:"status"`
		Branch string `json:"branch"`
	}
	summaries := make([]taskSummary, 0, len(req.DAG))
	for _, t := range req.DAG {
		status := "unknown"
		if completed[t.ID] {
			status = "done"
		} else if failed[t.ID] {
			status = "failed"
		}
		summaries = append(summaries, taskSummary{
			ID:     t.ID,
			Label:  labelOr(t),
			Domain: t.AgentDomain,
			Status: status,
			Branch: "agent/" + t.AgentID(),
		})
	}

	allPassed := len(failed) == 0 && len(completed) == len(req.DAG)
	text := fmt.Sprintf("Finished with issues: %d succeeded, %d failed.", len(completed), len(failed))
	if allPassed {
		text = fmt.Sprintf("All %d agents finished successfully.", len(completed))
	}
	e.publish(broadcast.New(broadcast.OrchestratorID, "mission_complete", text).
		With("success", allPassed).
		With("completed_count", len(completed)).
		With("failed_count", len(failed)).
		With("total_count", len(req.DAG)).
		With("tasks", summaries))

	e.logger.Info("DAG execution done: %d completed, %d failed", len(completed), len(failed))

	if allPassed && len(completed) > 0 {
		merged := e.autoMerge(ctx, req.ProjectPath, req.DAG, completed)
		if len(merged) > 0 {
			e.autoInstallDeps(ctx, req.ProjectPath, len(merged))
			if cmd := strings.TrimSpace(req.RunCommand); cmd != "" {
				e.autoRun(ctx, req.ProjectPath, cmd)
			}
		}
	}
}

// runTask is the per-task worker: acquire the semaphore, spawn the agent,
// wait for a terminal status, commit its worktree, report the result.
func (e *Executor) runTask(ctx context.Context, sem *semaphore.Weighted, task Task, req ExecuteRequest, results chan<- taskResult) {
	agentID := task.AgentID()
	success := func() bool {
		if err := sem.Acquire(ctx, 1); err != nil {
			return false
		}
		defer sem.Release(1)

		e.logger.Info("[dag] semaphore acquired for %s", agentID)

		domain := task.AgentDomain
		if domain == "" {
			domain = "backend"
		}
		_, err := e.agents.Spawn(ctx, agent.SpawnRequest{
			AgentID:     agentID,
			ProjectID:   req.ProjectID,
			Domain:      domain,
			Label:       labelOr(task),
			TaskPrompt:  task.Prompt,
			ProjectPath: req.ProjectPath,
			AlchDir:     req.AlchDir,
			AdapterName: req.AdapterName,
		})
		if err != nil {
			return false
		}

		for {
			status := e.agents.Status(agentID)
			if status == agent.StatusDone || status == agent.StatusFailed || status == "" {
				break
			}
			select {
			case <-ctx.Done():
				return false
			case <-time.After(e.PollInterval):
			}
		}

		state := e.agents.Get(agentID, "")
		if state == nil || state.Status != agent.StatusDone {
			return false
		}

		// The coding CLI writes files but never commits. Commit here so the
		// merge stage has actual changes to integrate.
		if state.WorktreePath != "" {
			e.commitAgentWork(ctx, state.WorktreePath, task)
		}
		return true
	}()

	results <- taskResult{taskID: task.ID, success: success}
}

func (e *Executor) commitAgentWork(ctx context.Context, worktreePath string, task Task) {
	giPath := filepath.Join(worktreePath, ".gitignore")
	if _, err := os.Stat(giPath); os.IsNotExist(err) {
		if err := os.WriteFile(giPath, []byte(defaultGitignore), 0o644); err != nil {
			e.logger.Warn("[dag] write .gitignore in %s: %v", worktreePath, err)
		}
	}

	if rc, _, errOut := gitRun(ctx, worktreePath, "add", "-A"); rc != 0 {
		e.logger.Warn("[dag] git add in %s returned %d: %s", worktreePath, rc, errOut)
		return
	}
	msg := fmt.Sprintf("agent %s: %s", task.ID, labelOr(task))
	rc, _, errOut := gitRun(ctx, worktreePath, "commit", "-m", msg, "--allow-empty")
	if rc == 0 {
		e.logger.Info("[dag] committed agent work in %s", worktreePath)
	} else {
		e.logger.Warn("[dag] git commit in %s returned %d: %s", worktreePath, rc, errOut)
	}
}

// autoMerge integrates completed agent branches into the default branch.
// Conflicts retry once with the theirs strategy option; unresolvable branches
// are recorded and skipped. Returns the merged branch names.
func (e *Executor) autoMerge(ctx context.Context, projectPath string, dag []Task, completed map[string]bool) []string {
	e.publish(broadcast.New(broadcast.OrchestratorID, "thinking", "Merging agent branches into main..."))

	if rc, _, errOut := gitRun(ctx, projectPath, "checkout", "main"); rc != 0 {
		if rc, _, errOut = gitRun(ctx, projectPath, "checkout", "master"); rc != 0 {
			e.logger.Warn("could not checkout main/master: %s", errOut)
		}
	}

	var merged, conflicts []string
	for _, t := range dag {
		if !completed[t.ID] {
			continue
		}
		branch := "agent/" + t.AgentID()

		rc, _, _ := gitRun(ctx, projectPath, "merge", branch, "--no-edit", "-m", "merge "+t.ID)
		if rc != 0 {
			gitRun(ctx, projectPath, "merge", "--abort")
			rc2, _, errOut2 := gitRun(ctx, projectPath, "merge", branch, "--no-edit",
				"-m", fmt.Sprintf("merge %s (theirs)", t.ID), "--strategy-option", "theirs")
			if rc2 != 0 {
				gitRun(ctx, projectPath, "merge", "--abort")
				conflicts = append(conflicts, branch)
				e.logger.Warn("merge conflict unresolvable for %s: %s", branch, errOut2)
				continue
			}
		}
		merged = append(merged, branch)
		e.logger.Info("merged %s into main", branch)
	}

	plural := ""
	if len(merged) != 1 {
		plural = "es"
	}
	text := fmt.Sprintf("Merged %d branch%s into main.", len(merged), plural)
	if len(conflicts) > 0 {
		text += fmt.Sprintf(" %d conflict(s).", len(conflicts))
	}
	e.publish(broadcast.New(broadcast.OrchestratorID, "merge_complete", text).
		With("merged", merged).
		With("conflicts", conflicts))

	return merged
}

// autoInstallDeps inspects the merge window for dependency-manifest changes
// and installs when one changed. Python wins over Node when both did.
func (e *Executor) autoInstallDeps(ctx context.Context, projectPath string, mergeCount int) {
	head := fmt.Sprintf("HEAD~%d", mergeCount)

	if rc, out, _ := gitRun(ctx, projectPath, "diff", head, "--", "requirements.txt"); rc == 0 && strings.TrimSpace(out) != "" {
		e.publish(broadcast.New(broadcast.OrchestratorID, "thinking", "Installing Python dependencies..."))
		exitCode, _ := runShell(ctx, projectPath, "pip install -r requirements.txt", installTimeout)
		text := "Python dependencies installed."
		if exitCode != 0 {
			text = fmt.Sprintf("pip install failed (code %d)", exitCode)
		}
		e.publish(broadcast.New(broadcast.OrchestratorID, "deps_installed", text).
			With("exit_code", exitCode))
		return
	}

	if rc, out, _ := gitRun(ctx, projectPath, "diff", head, "--", "package.json"); rc == 0 && strings.TrimSpace(out) != "" {
		e.publish(broadcast.New(broadcast.OrchestratorID, "thinking", "Installing Node dependencies..."))
		exitCode, _ := runShell(ctx, projectPath, "npm install", installTimeout)
		text := "Node dependencies installed."
		if exitCode != 0 {
			text = fmt.Sprintf("npm install failed (code %d)", exitCode)
		}
		e.publish(broadcast.New(broadcast.OrchestratorID, "deps_installed", text).
			With("exit_code", exitCode))
	}
}

// autoRun executes the plan's verification command and reports the outcome.
func (e *Executor) autoRun(ctx context.Context, projectPath, runCommand string) {
	e.publish(broadcast.New(broadcast.OrchestratorID, "thinking", "Running verification: "+runCommand))

	exitCode, output := runShell(ctx, projectPath, runCommand, autoRunTimeout)
	if len(output) > 4000 {
		output = output[:4000]
	}

	verdict := "failed"
	if exitCode == 0 {
		verdict = "passed"
	}
	e.publish(broadcast.New(broadcast.OrchestratorID, "run_result",
		fmt.Sprintf("Verification %s: %s", verdict, runCommand)).
		With("command", runCommand).
		With("exit_code", exitCode).
		With("output", output))
}

func labelOr(t Task) string {
	if t.Label != "" {
		return t.Label
	}
	return t.ID
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func gitRun(ctx context.Context, cwd string, args ...string) (int, string, string) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = cwd
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	code := 0
	if err != nil {
		code = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
	}
	return code, stdout.String(), stderr.String()
}

// runShell executes a shell command with a timeout, returning its exit code
// and combined output. Timeouts report exit code -1.
func runShell(ctx context.Context, cwd, command string, timeout time.Duration) (int, string) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = cwd
	out, err := cmd.CombinedOutput()
	if runCtx.Err() == context.DeadlineExceeded {
		return -1, fmt.Sprintf("Timeout after %s", timeout)
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), string(out)
		}
		return -1, string(out)
	}
	return 0, string(out)
}

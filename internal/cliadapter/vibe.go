package cliadapter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"alchemistral/internal/logging"
)

const (
	killGracePeriod = 5 * time.Second
	stderrTailLines = 20
)

// VibeAdapter shells out to the Vibe CLI (Devstral) inside a worktree and
// classifies its stdout line stream into agent events.
type VibeAdapter struct {
	logger  logging.Logger
	agentID string
	cmd     *exec.Cmd
	events  chan Event
	done    atomic.Bool
}

// NewVibeAdapter returns an unstarted adapter.
func NewVibeAdapter() *VibeAdapter {
	return &VibeAdapter{logger: logging.NewComponentLogger("VibeAdapter")}
}

// Spawn starts the vibe process in the worktree and begins streaming.
func (a *VibeAdapter) Spawn(ctx context.Context, worktreePath, prompt string, cfg Config, agentID string) error {
	a.agentID = agentID
	a.events = make(chan Event, 64)

	cmd := exec.CommandContext(ctx, "vibe",
		"--prompt", prompt,
		"--max-turns", strconv.Itoa(cfg.MaxTurns),
		"--max-price", strconv.FormatFloat(cfg.MaxPrice, 'f', -1, 64),
	)
	cmd.Dir = worktreePath
	cmd.Env = append(os.Environ(), cfg.ExtraEnv...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	a.logger.Info("[%s] spawning vibe in %s, prompt %d chars, max_turns=%d max_price=%.2f",
		agentID, worktreePath, len(prompt), cfg.MaxTurns, cfg.MaxPrice)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start vibe: %w", err)
	}
	a.cmd = cmd
	a.logger.Info("[%s] vibe process started, pid=%d", agentID, cmd.Process.Pid)

	go a.stream(stdout, stderr)
	return nil
}

// stream drains stdout line by line, classifying each into an event, while a
// companion goroutine keeps a bounded tail of stderr. After EOF it waits for
// process exit and emits the single terminal event.
func (a *VibeAdapter) stream(stdout, stderr interface{ Read([]byte) (int, error) }) {
	defer close(a.events)

	var (
		tailMu     sync.Mutex
		stderrTail []string
		wg         sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r\n")
			if line == "" {
				continue
			}
			tailMu.Lock()
			stderrTail = append(stderrTail, line)
			if len(stderrTail) > stderrTailLines {
				stderrTail = stderrTail[len(stderrTail)-stderrTailLines:]
			}
			tailMu.Unlock()
		}
	}()

	lineCount := 0
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		lineCount++
		a.events <- Event{AgentID: a.agentID, Type: ClassifyLine(line), Text: line}
	}

	wg.Wait()
	err := a.cmd.Wait()
	a.done.Store(true)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	a.logger.Info("[%s] vibe exited with code %d after %d stdout lines", a.agentID, exitCode, lineCount)

	if exitCode != 0 {
		tailMu.Lock()
		summary := fmt.Sprintf("exit code %d", exitCode)
		if len(stderrTail) > 0 {
			last := stderrTail
			if len(last) > 3 {
				last = last[len(last)-3:]
			}
			summary = strings.Join(last, "; ")
		}
		tailMu.Unlock()
		a.events <- Event{
			AgentID: a.agentID,
			Type:    EventError,
			Text:    fmt.Sprintf("Vibe exited with code %d: %s", exitCode, summary),
		}
		return
	}

	a.events <- Event{
		AgentID: a.agentID,
		Type:    EventDone,
		Text:    fmt.Sprintf("Agent completed (%d output lines)", lineCount),
	}
}

// ClassifyLine maps one stdout line onto an event type by prefix.
func ClassifyLine(line string) string {
	switch {
	case strings.HasPrefix(line, "Thinking") || strings.HasPrefix(line, ">"):
		return EventThink
	case strings.HasPrefix(line, "$ ") || strings.HasPrefix(line, "Running:"):
		return EventBash
	case strings.HasPrefix(line, "Writing") || strings.HasPrefix(line, "Editing"):
		return EventCode
	default:
		return EventOutput
	}
}

// Events returns the classified output stream.
func (a *VibeAdapter) Events() <-chan Event {
	return a.events
}

// IsComplete reports whether the process has exited.
func (a *VibeAdapter) IsComplete() bool {
	if a.cmd == nil {
		return true
	}
	return a.done.Load()
}

// Kill sends SIGTERM, waits up to 5 seconds, then SIGKILLs.
func (a *VibeAdapter) Kill() error {
	if a.cmd == nil || a.cmd.Process == nil || a.done.Load() {
		return nil
	}
	a.logger.Info("[%s] killing vibe process", a.agentID)

	if err := a.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return a.cmd.Process.Kill()
	}

	deadline := time.After(killGracePeriod)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			return a.cmd.Process.Kill()
		case <-tick.C:
			if a.done.Load() {
				return nil
			}
		}
	}
}

package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const globalMDTemplate = `# Global Memory

## Stack

## Conventions

## Decisions
`

const architectureTemplate = `{
  "agents": [],
  "dag": [],
  "contracts": []
}`

// InitAlchDir scaffolds the .alchemistral/ directory inside a project.
// Existing files are left untouched.
func InitAlchDir(localPath string) error {
	base := filepath.Join(localPath, ".alchemistral")
	for _, dir := range []string{base, filepath.Join(base, "contracts"), filepath.Join(base, "agents")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("scaffold %s: %w", dir, err)
		}
	}

	defaults := map[string]string{
		"GLOBAL.md":         globalMDTemplate,
		"architecture.json": architectureTemplate,
		"todos.json":        "[]",
		"decisions.log":     "",
	}
	for name, content := range defaults {
		path := filepath.Join(base, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return fmt.Errorf("write default %s: %w", name, err)
			}
		}
	}
	return nil
}

// ReadGlobal returns GLOBAL.md, empty when absent.
func ReadGlobal(alchDir string) string {
	return readIfExists(filepath.Join(alchDir, "GLOBAL.md"))
}

// WriteGlobal replaces GLOBAL.md.
func WriteGlobal(alchDir, content string) error {
	return os.WriteFile(filepath.Join(alchDir, "GLOBAL.md"), []byte(content), 0o644)
}

// ReadArchitecture returns architecture.json, "{}" when absent.
func ReadArchitecture(alchDir string) string {
	if content := readIfExists(filepath.Join(alchDir, "architecture.json")); content != "" {
		return content
	}
	return "{}"
}

// WriteArchitecture replaces architecture.json.
func WriteArchitecture(alchDir string, data []byte) error {
	return os.WriteFile(filepath.Join(alchDir, "architecture.json"), data, 0o644)
}

// ReadCodebaseSummary returns codebase-summary.md, empty when absent.
func ReadCodebaseSummary(alchDir string) string {
	return readIfExists(filepath.Join(alchDir, "codebase-summary.md"))
}

// AppendDecision appends one timestamped line to decisions.log.
func AppendDecision(alchDir, entry string) error {
	f, err := os.OpenFile(filepath.Join(alchDir, "decisions.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open decisions log: %w", err)
	}
	defer func() { _ = f.Close() }()

	ts := time.Now().UTC().Format(time.RFC3339)
	if _, err := fmt.Fprintf(f, "[%s] %s\n", ts, entry); err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

// ReadDecisions returns the whole decisions log, empty when absent.
func ReadDecisions(alchDir string) string {
	return readIfExists(filepath.Join(alchDir, "decisions.log"))
}

// WriteContract persists one contract file under contracts/.
func WriteContract(alchDir, name, content string) error {
	dir := filepath.Join(alchDir, "contracts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create contracts dir: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}

// ReadContract returns one contract's content, empty when absent.
func ReadContract(alchDir, name string) string {
	return readIfExists(filepath.Join(alchDir, "contracts", name))
}

// ListContracts returns contract file names, sorted.
func ListContracts(alchDir string) []string {
	entries, err := os.ReadDir(filepath.Join(alchDir, "contracts"))
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names
}

// ContractTexts returns every contract as "=== name ===\ncontent" sections,
// sorted by name, the shape both LLM stages consume.
func ContractTexts(alchDir string) []string {
	var texts []string
	for _, name := range ListContracts(alchDir) {
		texts = append(texts, fmt.Sprintf("=== %s ===\n%s", name, ReadContract(alchDir, name)))
	}
	return texts
}

// ReadAgentMemory returns agents/<domain>.md, empty when absent.
func ReadAgentMemory(alchDir, name string) string {
	return readIfExists(filepath.Join(alchDir, "agents", name))
}

// WriteAgentMemory replaces agents/<name>.
func WriteAgentMemory(alchDir, name, content string) error {
	dir := filepath.Join(alchDir, "agents")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create agents dir: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}

// ListAgentMemories returns the markdown files under agents/, sorted.
func ListAgentMemories(alchDir string) []string {
	entries, err := os.ReadDir(filepath.Join(alchDir, "agents"))
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".md" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names
}

func readIfExists(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

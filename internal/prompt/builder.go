// Package prompt assembles domain-scoped agent prompts from project memory,
// contracts, skills and the task text. Missing files become empty sections,
// never errors.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Todo is one per-agent todo item from todos.json.
type Todo struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Build constructs the full prompt for an agent of the given domain.
// alchDir is the project's .alchemistral/ directory.
func Build(domain, taskPrompt, alchDir string, skills []string, todos []Todo) string {
	globalMD := readIfExists(filepath.Join(alchDir, "GLOBAL.md"))
	domainMemory := readIfExists(filepath.Join(alchDir, "agents", domain+".md"))
	contracts := readContracts(filepath.Join(alchDir, "contracts"))

	skillsText := "None"
	if len(skills) > 0 {
		skillsText = strings.Join(skills, ", ")
	}

	todosText := formatTodos(todos)

	sections := sectionData{
		taskPrompt:   taskPrompt,
		globalMD:     globalMD,
		domainMemory: domainMemory,
		contracts:    contracts,
		skills:       skillsText,
		todos:        todosText,
	}

	switch domain {
	case "frontend":
		return buildFrontend(sections)
	case "backend":
		return buildBackend(sections)
	case "security":
		return buildSecurity(sections)
	case "infra":
		return buildInfra(sections)
	default:
		return buildGeneric(sections)
	}
}

type sectionData struct {
	taskPrompt   string
	globalMD     string
	domainMemory string
	contracts    string
	skills       string
	todos        string
}

func readIfExists(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// readContracts concatenates every file in the contracts directory, sorted by
// name, each under a === header.
func readContracts(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "No contracts yet."
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "No contracts yet."
	}
	sort.Strings(names)

	var sections []string
	for _, name := range names {
		content := readIfExists(filepath.Join(dir, name))
		sections = append(sections, fmt.Sprintf("=== %s ===\n%s", name, content))
	}
	return strings.Join(sections, "\n\n")
}

func formatTodos(todos []Todo) string {
	if len(todos) == 0 {
		return "No todos assigned."
	}
	lines := make([]string, 0, len(todos))
	for _, todo := range todos {
		mark := " "
		if todo.Done {
			mark = "x"
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s", mark, todo.Text))
	}
	return strings.Join(lines, "\n")
}

func buildFrontend(s sectionData) string {
	return fmt.Sprintf(`You are Alchemistral's Frontend Agent working in this directory.
You own all frontend code. Never touch backend or infra files.

Read these files first:
- .alchemistral/GLOBAL.md (conventions)
- .alchemistral/agents/frontend.md (your domain state)
- .alchemistral/contracts/api-schema.json (backend API you consume)

=== GLOBAL MEMORY ===
%s

=== YOUR DOMAIN MEMORY ===
%s

=== CONTRACTS ===
%s

Your active skills: %s
Your current todos:
%s

YOUR TASK:
%s

RULES:
1. After every significant change, run the build: npm run build
2. After completing your task, run tests: npm test
3. Only report DONE if build AND tests pass
4. Update .alchemistral/agents/frontend.md with what you did`,
		s.globalMD, s.domainMemory, s.contracts, s.skills, s.todos, s.taskPrompt)
}

func buildBackend(s sectionData) string {
	return fmt.Sprintf(`You are Alchemistral's Backend Agent working in this directory.
You own all backend code. Never touch frontend or infra files.

Read these files first:
- .alchemistral/GLOBAL.md (conventions)
- .alchemistral/agents/backend.md (your domain state)

=== GLOBAL MEMORY ===
%s

=== YOUR DOMAIN MEMORY ===
%s

=== CONTRACTS ===
%s

Your active skills: %s
Your current todos:
%s

YOUR TASK:
%s

RULES:
1. After every significant change, run tests: pytest
2. Write your API schema to .alchemistral/contracts/api-schema.json
3. Only report DONE if tests pass
4. Update .alchemistral/agents/backend.md with what you did`,
		s.globalMD, s.domainMemory, s.contracts, s.skills, s.todos, s.taskPrompt)
}

func buildSecurity(s sectionData) string {
	return fmt.Sprintf(`You are Alchemistral's Security Agent.
You can be invoked on any node at any time.
Run OWASP Top 10 analysis on the provided code.

=== GLOBAL MEMORY ===
%s

=== SECURITY FINDINGS ===
%s

=== CONTRACTS ===
%s

YOUR TASK:
%s

Check for: injection, exposed secrets, broken auth, insecure deps.
Return: severity, location, remediation.
Update .alchemistral/agents/security.md with your findings.`,
		s.globalMD, s.domainMemory, s.contracts, s.taskPrompt)
}

func buildInfra(s sectionData) string {
	return fmt.Sprintf(`You are Alchemistral's Infra Agent working in this directory.
You own Docker, CI/CD, deployment. Never touch application code.

Read these files first:
- .alchemistral/GLOBAL.md (conventions)
- .alchemistral/agents/infra.md (your domain state)

=== GLOBAL MEMORY ===
%s

=== YOUR DOMAIN MEMORY ===
%s

=== CONTRACTS ===
%s

Your active skills: %s
Your current todos:
%s

YOUR TASK:
%s

RULES:
1. After every significant change, validate your configurations
2. Only report DONE if validation passes
3. Update .alchemistral/agents/infra.md with what you did`,
		s.globalMD, s.domainMemory, s.contracts, s.skills, s.todos, s.taskPrompt)
}

func buildGeneric(s sectionData) string {
	return fmt.Sprintf(`You are an Alchemistral Agent working in this directory.

=== GLOBAL MEMORY ===
%s

=== DOMAIN MEMORY ===
%s

=== CONTRACTS ===
%s

Your active skills: %s
Your current todos:
%s

YOUR TASK:
%s

RULES:
1. After completing your task, run relevant tests
2. Only report DONE if tests pass`,
		s.globalMD, s.domainMemory, s.contracts, s.skills, s.todos, s.taskPrompt)
}

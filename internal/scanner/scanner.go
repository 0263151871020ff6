// Package scanner analyses a project's files, stack, and structure on first
// open. It runs once at project creation and produces
// .alchemistral/codebase-summary.md plus an LLM-generated GLOBAL.md.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"alchemistral/internal/broadcast"
	"alchemistral/internal/llm"
	"alchemistral/internal/logging"
)

const (
	maxFiles       = 200
	maxReadmeChars = 2000
	maxSampleFiles = 10
	maxSampleLines = 10
)

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, ".worktrees": true, "__pycache__": true,
	".venv": true, "venv": true, ".tox": true, ".mypy_cache": true,
	".pytest_cache": true, "dist": true, "build": true, ".next": true,
	".nuxt": true, "target": true, "out": true, ".turbo": true,
	".cache": true, "coverage": true,
}

// stackMarkers maps marker filenames to stack labels. Order matters for the
// summary output, so it is a slice rather than a map.
var stackMarkers = []struct {
	marker string
	label  string
}{
	{"CMakeLists.txt", "C/C++ (CMake)"},
	{"Makefile", "Make build system"},
	{"package.json", "Node.js / JavaScript"},
	{"tsconfig.json", "TypeScript"},
	{"Cargo.toml", "Rust (Cargo)"},
	{"go.mod", "Go"},
	{"pyproject.toml", "Python (pyproject)"},
	{"requirements.txt", "Python (pip)"},
	{"setup.py", "Python (setuptools)"},
	{"Pipfile", "Python (Pipenv)"},
	{"poetry.lock", "Python (Poetry)"},
	{"Gemfile", "Ruby (Bundler)"},
	{"pom.xml", "Java (Maven)"},
	{"build.gradle", "Java/Kotlin (Gradle)"},
	{"*.sln", "C# / .NET"},
	{"mix.exs", "Elixir (Mix)"},
	{"deno.json", "Deno"},
	{"composer.json", "PHP (Composer)"},
	{"Dockerfile", "Docker"},
	{"docker-compose.yml", "Docker Compose"},
	{"docker-compose.yaml", "Docker Compose"},
}

var sourceExts = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true,
	".rs": true, ".go": true, ".c": true, ".cpp": true, ".h": true,
	".hpp": true, ".java": true, ".kt": true, ".rb": true, ".ex": true,
	".exs": true, ".cs": true, ".php": true, ".swift": true, ".zig": true,
	".lua": true, ".vue": true, ".svelte": true,
}

const globalSystemPrompt = `Generate a GLOBAL.md for this SPECIFIC codebase. Do NOT describe Alchemistral. Describe what you see in the file tree and source files below.

You are analyzing an external project that a developer imported into Alchemistral (a multi-agent orchestrator). Your job is to describe THIS project — not Alchemistral itself.

Based on the codebase scan below, generate a GLOBAL.md with these sections:

## Project Overview
(What is this project? What does it do? Base this on the README and source files.)

## Stack
(Language, frameworks, build system, dependencies — only what the scan shows)

## Architecture
(Key modules/directories and what they do)

## Conventions
(Coding style, naming, patterns detected from the source samples)

## Entry Points
(Main files, build commands)

RULES:
- ONLY describe files and technologies that appear in the scan below
- If the project is C++ with CMake, say so — do not mention Node.js or TypeScript
- If the project is a game server, describe the game server — not a web app
- Never invent files that don't appear in the scan
- Never mention Alchemistral, orchestrators, or agents in the output
- Be concise — max 80 lines`

// Scanner walks one project and writes its scan artifacts.
type Scanner struct {
	client  *llm.Client
	publish broadcast.Func
	logger  logging.Logger
}

// New builds a Scanner. publish may be nil when no event stream is wired.
func New(client *llm.Client, publish broadcast.Func) *Scanner {
	return &Scanner{
		client:  client,
		publish: publish,
		logger:  logging.NewComponentLogger("CodebaseScanner"),
	}
}

func (s *Scanner) broadcast(event broadcast.Event) {
	if s.publish != nil {
		s.publish(event)
	}
}

// Scan runs the full flow: raw summary, LLM GLOBAL.md, progress events.
// Missing API key skips the LLM step; the raw summary is still written.
func (s *Scanner) Scan(ctx context.Context, projectPath string) error {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return fmt.Errorf("resolve project path: %w", err)
	}
	s.logger.Info("scanning codebase at %s", abs)

	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("project path does not exist: %s", abs)
	}

	alch := filepath.Join(abs, ".alchemistral")
	if err := os.MkdirAll(alch, 0o755); err != nil {
		return fmt.Errorf("create alch dir: %w", err)
	}

	s.broadcast(broadcast.New(broadcast.OrchestratorID, "scanning", "Scanning codebase..."))

	summary := BuildSummary(abs)
	if err := os.WriteFile(filepath.Join(alch, "codebase-summary.md"), []byte(summary), 0o644); err != nil {
		return fmt.Errorf("write codebase summary: %w", err)
	}
	s.logger.Info("wrote codebase-summary.md (%d chars) for %s", len(summary), abs)

	s.broadcast(broadcast.New(broadcast.OrchestratorID, "files_updated", ""))

	if s.client == nil || !s.client.HasKey() {
		s.logger.Warn("MISTRAL_API_KEY not set, skipping LLM-generated GLOBAL.md")
		s.broadcast(broadcast.New(broadcast.OrchestratorID, "scan_complete", "").With("global_md", ""))
		return nil
	}

	s.broadcast(broadcast.New(broadcast.OrchestratorID, "scanning", "Generating project memory..."))

	globalMD, err := s.client.Chat(ctx, llm.ModelLarge, []llm.Message{
		{Role: "system", Content: globalSystemPrompt},
		{Role: "user", Content: summary},
	}, 0.3)
	if err != nil {
		s.logger.Warn("failed to generate GLOBAL.md via LLM: %v", err)
		s.broadcast(broadcast.New(broadcast.OrchestratorID, "scan_complete", "").With("global_md", ""))
		return nil
	}

	if err := os.WriteFile(filepath.Join(alch, "GLOBAL.md"), []byte(globalMD), 0o644); err != nil {
		return fmt.Errorf("write GLOBAL.md: %w", err)
	}
	s.logger.Info("wrote LLM-generated GLOBAL.md for %s", abs)
	s.broadcast(broadcast.New(broadcast.OrchestratorID, "scan_complete", "").With("global_md", globalMD))
	return nil
}

// BuildSummary produces the raw codebase summary with no LLM call.
func BuildSummary(projectPath string) string {
	files := collectFiles(projectPath)
	stack := detectStack(files)
	readme := readReadme(projectPath)
	imports := sampleImports(projectPath, files)

	stackText := "(none detected)"
	if len(stack) > 0 {
		lines := make([]string, len(stack))
		for i, s := range stack {
			lines[i] = "- " + s
		}
		stackText = strings.Join(lines, "\n")
	}

	sections := []string{
		fmt.Sprintf("# Codebase Scan\n\nPath: %s\nScanned: %d files", projectPath, len(files)),
		"## Detected Stack\n" + stackText,
		"## File Tree\n" + strings.Join(files, "\n"),
	}
	if readme != "" {
		sections = append(sections, "## README\n"+readme)
	}
	if imports != "" {
		sections = append(sections, "## Source Samples (imports)\n"+imports)
	}
	return strings.Join(sections, "\n\n")
}

// collectFiles walks the tree, skips junk dirs and hidden paths (except
// .alchemistral), and returns relative paths capped at maxFiles.
func collectFiles(projectPath string) []string {
	var files []string
	_ = filepath.WalkDir(projectPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == projectPath {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if skipDirs[name] {
				return filepath.SkipDir
			}
			if strings.HasPrefix(name, ".") && name != ".alchemistral" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		rel, relErr := filepath.Rel(projectPath, path)
		if relErr != nil {
			return nil
		}
		files = append(files, rel)
		if len(files) >= maxFiles {
			return fs.SkipAll
		}
		return nil
	})
	sort.Strings(files)
	return files
}

func detectStack(files []string) []string {
	filenames := make(map[string]bool, len(files))
	for _, f := range files {
		filenames[filepath.Base(f)] = true
	}

	var detected []string
	seen := make(map[string]bool)
	for _, m := range stackMarkers {
		matched := false
		if strings.HasPrefix(m.marker, "*") {
			ext := m.marker[1:]
			for _, f := range files {
				if strings.HasSuffix(f, ext) {
					matched = true
					break
				}
			}
		} else {
			matched = filenames[m.marker]
		}
		if matched && !seen[m.label] {
			seen[m.label] = true
			detected = append(detected, m.label)
		}
	}
	return detected
}

func readReadme(projectPath string) string {
	for _, name := range []string{"README.md", "readme.md", "Readme.md", "README.rst", "README"} {
		data, err := os.ReadFile(filepath.Join(projectPath, name))
		if err != nil {
			continue
		}
		text := string(data)
		if len(text) > maxReadmeChars {
			text = text[:maxReadmeChars]
		}
		return fmt.Sprintf("=== %s (first %d chars) ===\n%s", name, maxReadmeChars, text)
	}
	return ""
}

// sampleImports reads the first lines of the top source files to capture
// imports and includes.
func sampleImports(projectPath string, files []string) string {
	var parts []string
	sampled := 0
	for _, f := range files {
		if sampled >= maxSampleFiles {
			break
		}
		if !sourceExts[filepath.Ext(f)] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(projectPath, f))
		if err != nil {
			continue
		}
		lines := strings.Split(string(data), "\n")
		if len(lines) > maxSampleLines {
			lines = lines[:maxSampleLines]
		}
		parts = append(parts, fmt.Sprintf("=== %s (first %d lines) ===\n%s", f, maxSampleLines, strings.Join(lines, "\n")))
		sampled++
	}
	return strings.Join(parts, "\n\n")
}

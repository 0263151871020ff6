// Package project stores the registry of imported projects in
// ~/.alchemistral/projects.json and manages each project's .alchemistral/
// directory.
package project

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"alchemistral/internal/logging"
)

// Project is one registry entry.
type Project struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Source     string `json:"source"` // clone | local | init
	RepoURL    string `json:"repo_url,omitempty"`
	LocalPath  string `json:"local_path"`
	CLIAdapter string `json:"cli_adapter"`
	CreatedAt  string `json:"created_at"`
	Status     string `json:"status"`
}

// AlchDir returns the project's .alchemistral/ directory.
func (p Project) AlchDir() string {
	return filepath.Join(p.LocalPath, ".alchemistral")
}

// CreateRequest describes a project to import.
type CreateRequest struct {
	Name       string `json:"name"`
	Source     string `json:"source"`
	RepoURL    string `json:"repo_url,omitempty"`
	LocalPath  string `json:"local_path,omitempty"`
	CLIAdapter string `json:"cli_adapter,omitempty"`
}

// Store reads and writes the projects file.
type Store struct {
	baseDir string
	logger  logging.Logger
}

// NewStore uses ~/.alchemistral as the registry location.
func NewStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home dir: %w", err)
	}
	return NewStoreAt(filepath.Join(home, ".alchemistral")), nil
}

// NewStoreAt uses an explicit registry directory; tests point it at a tempdir.
func NewStoreAt(baseDir string) *Store {
	return &Store{baseDir: baseDir, logger: logging.NewComponentLogger("ProjectStore")}
}

func (s *Store) projectsFile() string {
	return filepath.Join(s.baseDir, "projects.json")
}

func (s *Store) ensure() error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	if _, err := os.Stat(s.projectsFile()); os.IsNotExist(err) {
		return os.WriteFile(s.projectsFile(), []byte("[]"), 0o644)
	}
	return nil
}

// List returns every registered project.
func (s *Store) List() ([]Project, error) {
	if err := s.ensure(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.projectsFile())
	if err != nil {
		return nil, fmt.Errorf("read projects file: %w", err)
	}
	var projects []Project
	if err := json.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("decode projects file: %w", err)
	}
	return projects, nil
}

func (s *Store) save(projects []Project) error {
	if err := s.ensure(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(projects, "", "  ")
	if err != nil {
		return fmt.Errorf("encode projects: %w", err)
	}
	return os.WriteFile(s.projectsFile(), data, 0o644)
}

// Get returns the project with the given id, or nil when absent.
func (s *Store) Get(id string) (*Project, error) {
	projects, err := s.List()
	if err != nil {
		return nil, err
	}
	for i := range projects {
		if projects[i].ID == id {
			return &projects[i], nil
		}
	}
	return nil, nil
}

// Create imports a project from one of the three sources, scaffolds its
// .alchemistral/ directory and registers it.
func (s *Store) Create(ctx context.Context, req CreateRequest) (*Project, error) {
	adapter := req.CLIAdapter
	if adapter == "" {
		adapter = "vibe"
	}

	var localPath string
	switch req.Source {
	case "clone":
		if req.RepoURL == "" {
			return nil, fmt.Errorf("repo_url required for clone source")
		}
		repoName := strings.TrimSuffix(filepath.Base(strings.TrimRight(req.RepoURL, "/")), ".git")
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		localPath = filepath.Join(home, "alchemistral-projects", repoName)
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return nil, fmt.Errorf("create projects dir: %w", err)
		}
		if err := runGit(ctx, "", "clone", req.RepoURL, localPath); err != nil {
			return nil, err
		}

	case "local":
		if req.LocalPath == "" {
			return nil, fmt.Errorf("local_path required for local source")
		}
		if _, err := os.Stat(req.LocalPath); err != nil {
			return nil, fmt.Errorf("path does not exist: %s", req.LocalPath)
		}
		localPath = req.LocalPath

	case "init":
		if req.LocalPath == "" {
			return nil, fmt.Errorf("local_path required for init source")
		}
		localPath = req.LocalPath
		if err := os.MkdirAll(localPath, 0o755); err != nil {
			return nil, fmt.Errorf("create project dir: %w", err)
		}
		if err := runGit(ctx, "", "init", localPath); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("invalid source %q", req.Source)
	}

	if err := InitAlchDir(localPath); err != nil {
		return nil, err
	}

	proj := Project{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Source:     req.Source,
		RepoURL:    req.RepoURL,
		LocalPath:  localPath,
		CLIAdapter: adapter,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		Status:     "idle",
	}

	projects, err := s.List()
	if err != nil {
		return nil, err
	}
	projects = append(projects, proj)
	if err := s.save(projects); err != nil {
		return nil, err
	}

	s.logger.Info("registered project %s (%s) at %s", proj.Name, proj.ID, proj.LocalPath)
	return &proj, nil
}

// Delete removes a project from the registry. The working copy stays on disk.
func (s *Store) Delete(id string) error {
	projects, err := s.List()
	if err != nil {
		return err
	}
	kept := projects[:0]
	found := false
	for _, p := range projects {
		if p.ID == id {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return fmt.Errorf("project not found: %s", id)
	}
	return s.save(kept)
}

func runGit(ctx context.Context, cwd string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %s failed: %s", args[0], strings.TrimSpace(stderr.String()))
	}
	return nil
}

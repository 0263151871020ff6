package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"alchemistral/internal/agent"
	"alchemistral/internal/mission"
	"alchemistral/internal/project"
)

type messageRequest struct {
	Message string `json:"message" binding:"required"`
}

type writeBody struct {
	Content string `json:"content"`
}

type appendBody struct {
	Entry string `json:"entry" binding:"required"`
}

// resolveAlchDir looks up the project and its .alchemistral/ directory,
// writing the 404 response itself when either is missing.
func (s *Server) resolveAlchDir(c *gin.Context) (proj *project.Project, alch string, ok bool) {
	id := c.Param("id")
	proj, err := s.projects.Get(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return nil, "", false
	}
	if proj == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Project not found: " + id})
		return nil, "", false
	}
	alch = proj.AlchDir()
	if _, err := os.Stat(alch); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": ".alchemistral/ directory not found in project"})
		return nil, "", false
	}
	return proj, alch, true
}

// ── Projects ────────────────────────────────────────────────────────────────

func (s *Server) handleListProjects(c *gin.Context) {
	projects, err := s.projects.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	if projects == nil {
		projects = []project.Project{}
	}
	c.JSON(http.StatusOK, projects)
}

func (s *Server) handleCreateProject(c *gin.Context) {
	var req project.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	proj, err := s.projects.Create(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	// One-shot codebase scan; results stream over the WebSocket.
	if s.scanner != nil {
		go func(path string) {
			if err := s.scanner.Scan(context.Background(), path); err != nil {
				s.logger.Warn("codebase scan failed: %v", err)
			}
		}(proj.LocalPath)
	}

	c.JSON(http.StatusOK, proj)
}

func (s *Server) handleGetProject(c *gin.Context) {
	proj, err := s.projects.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	if proj == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Project not found: " + c.Param("id")})
		return
	}
	c.JSON(http.StatusOK, proj)
}

func (s *Server) handleDeleteProject(c *gin.Context) {
	if err := s.projects.Delete(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ── Memory ──────────────────────────────────────────────────────────────────

func (s *Server) handleGetGlobalMemory(c *gin.Context) {
	_, alch, ok := s.resolveAlchDir(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": project.ReadGlobal(alch)})
}

func (s *Server) handleWriteGlobalMemory(c *gin.Context) {
	_, alch, ok := s.resolveAlchDir(c)
	if !ok {
		return
	}
	var body writeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err := project.WriteGlobal(alch, body.Content); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListAgentMemories(c *gin.Context) {
	_, alch, ok := s.resolveAlchDir(c)
	if !ok {
		return
	}
	names := project.ListAgentMemories(alch)
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, names)
}

func (s *Server) handleGetAgentMemory(c *gin.Context) {
	_, alch, ok := s.resolveAlchDir(c)
	if !ok {
		return
	}
	name := c.Param("name")
	if _, err := os.Stat(filepath.Join(alch, "agents", name)); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Agent memory not found: " + name})
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": project.ReadAgentMemory(alch, name)})
}

func (s *Server) handleWriteAgentMemory(c *gin.Context) {
	_, alch, ok := s.resolveAlchDir(c)
	if !ok {
		return
	}
	var body writeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err := project.WriteAgentMemory(alch, c.Param("name"), body.Content); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleGetDecisions(c *gin.Context) {
	_, alch, ok := s.resolveAlchDir(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": project.ReadDecisions(alch)})
}

func (s *Server) handleAppendDecision(c *gin.Context) {
	_, alch, ok := s.resolveAlchDir(c)
	if !ok {
		return
	}
	var body appendBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err := project.AppendDecision(alch, body.Entry); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ── Contracts ───────────────────────────────────────────────────────────────

func (s *Server) handleListContracts(c *gin.Context) {
	_, alch, ok := s.resolveAlchDir(c)
	if !ok {
		return
	}
	type contractInfo struct {
		File     string `json:"file"`
		Size     int64  `json:"size"`
		Modified int64  `json:"modified"`
	}
	out := []contractInfo{}
	for _, name := range project.ListContracts(alch) {
		info, err := os.Stat(filepath.Join(alch, "contracts", name))
		if err != nil {
			continue
		}
		out = append(out, contractInfo{File: name, Size: info.Size(), Modified: info.ModTime().Unix()})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetContract(c *gin.Context) {
	_, alch, ok := s.resolveAlchDir(c)
	if !ok {
		return
	}
	name := c.Param("file")
	if _, err := os.Stat(filepath.Join(alch, "contracts", name)); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Contract not found: " + name})
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": project.ReadContract(alch, name)})
}

// ── Orchestration ───────────────────────────────────────────────────────────

func (s *Server) handleReprompt(c *gin.Context) {
	_, alch, ok := s.resolveAlchDir(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	refined := mission.Reprompt(c.Request.Context(), s.client, req.Message,
		project.ReadGlobal(alch), project.ReadCodebaseSummary(alch))
	c.JSON(http.StatusOK, gin.H{"original": req.Message, "refined": refined})
}

func (s *Server) handleOrchestrate(c *gin.Context) {
	_, alch, ok := s.resolveAlchDir(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	plan := mission.Orchestrate(c.Request.Context(), s.client, req.Message,
		project.ReadGlobal(alch), project.ReadArchitecture(alch),
		project.ContractTexts(alch), project.ReadCodebaseSummary(alch))
	c.JSON(http.StatusOK, plan)
}

func (s *Server) handleMission(c *gin.Context) {
	proj, _, ok := s.resolveAlchDir(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	// Fire and forget: events stream over the WebSocket.
	go s.pipeline.Run(context.Background(), proj.ID, req.Message)

	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

// ── Agents ──────────────────────────────────────────────────────────────────

func (s *Server) handleListAgents(c *gin.Context) {
	states := s.agents.List(c.Query("project_id"))
	if states == nil {
		states = []agent.State{}
	}
	c.JSON(http.StatusOK, states)
}

func (s *Server) handleGetAgent(c *gin.Context) {
	state := s.agents.Get(c.Param("id"), c.Query("project_id"))
	if state == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Agent not found: " + c.Param("id")})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleKillAgent(c *gin.Context) {
	id := c.Param("id")
	if !s.agents.Kill(id) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Agent not found: " + id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "killed", "agent_id": id})
}

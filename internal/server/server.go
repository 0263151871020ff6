// Package server exposes the HTTP and WebSocket API: project CRUD, memory and
// contract readers, agent control, the mission endpoints, and the event
// stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alchemistral/internal/agent"
	"alchemistral/internal/broadcast"
	"alchemistral/internal/config"
	"alchemistral/internal/llm"
	"alchemistral/internal/logging"
	"alchemistral/internal/mission"
	"alchemistral/internal/project"
	"alchemistral/internal/scanner"
)

const version = "0.1.0"

// Server wires the API surface over the core services.
type Server struct {
	cfg      *config.Config
	projects *project.Store
	agents   *agent.Manager
	pipeline *mission.Pipeline
	client   *llm.Client
	scanner  *scanner.Scanner
	bus      *broadcast.Broadcaster

	engine     *gin.Engine
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	logger     logging.Logger

	// envPath and vibeEnvPath are where the settings endpoint persists keys.
	// Tests point them at temp files.
	envPath     string
	vibeEnvPath string
}

// New assembles the server and its routes.
func New(cfg *config.Config, projects *project.Store, agents *agent.Manager, pipeline *mission.Pipeline, client *llm.Client, scan *scanner.Scanner, bus *broadcast.Broadcaster) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	s := &Server{
		cfg:      cfg,
		projects: projects,
		agents:   agents,
		pipeline: pipeline,
		client:   client,
		scanner:  scan,
		bus:      bus,
		engine:   engine,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:      logging.NewComponentLogger("Server"),
		envPath:     ".env",
		vibeEnvPath: "",
	}
	s.registerRoutes()
	return s
}

// Engine exposes the router for httptest.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/ws", s.handleWebSocket)

	api := s.engine.Group("/api")

	projects := api.Group("/projects")
	projects.GET("", s.handleListProjects)
	projects.POST("", s.handleCreateProject)
	projects.GET("/:id", s.handleGetProject)
	projects.DELETE("/:id", s.handleDeleteProject)

	projects.GET("/:id/memory/global", s.handleGetGlobalMemory)
	projects.PUT("/:id/memory/global", s.handleWriteGlobalMemory)
	projects.GET("/:id/memory/agents", s.handleListAgentMemories)
	projects.GET("/:id/memory/agents/:name", s.handleGetAgentMemory)
	projects.PUT("/:id/memory/agents/:name", s.handleWriteAgentMemory)
	projects.GET("/:id/memory/decisions", s.handleGetDecisions)
	projects.POST("/:id/memory/decisions", s.handleAppendDecision)
	projects.GET("/:id/contracts", s.handleListContracts)
	projects.GET("/:id/contracts/:file", s.handleGetContract)

	projects.POST("/:id/reprompt", s.handleReprompt)
	projects.POST("/:id/orchestrate", s.handleOrchestrate)
	projects.POST("/:id/mission", s.handleMission)

	agents := api.Group("/agents")
	agents.GET("", s.handleListAgents)
	agents.GET("/:id", s.handleGetAgent)
	agents.POST("/:id/kill", s.handleKillAgent)

	settings := api.Group("/settings")
	settings.GET("/keys", s.handleGetKeys)
	settings.PUT("/keys", s.handleUpdateKeys)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), s.cfg.Port())
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on http://%s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

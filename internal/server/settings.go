package server

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

type keysPayload struct {
	MistralAPIKey *string `json:"mistral_api_key"`
}

// handleGetKeys returns the configured keys, masked to the first 8 chars.
func (s *Server) handleGetKeys(c *gin.Context) {
	key := os.Getenv("MISTRAL_API_KEY")
	masked := ""
	switch {
	case len(key) > 8:
		masked = key[:8] + "..."
	case key != "":
		masked = "set"
	}
	c.JSON(http.StatusOK, gin.H{"mistral_api_key": masked})
}

// handleUpdateKeys persists the key to the server's .env, the process
// environment, and the coding CLI's own env file so spawned agents can reach
// the API without further plumbing.
func (s *Server) handleUpdateKeys(c *gin.Context) {
	var payload keysPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	env, err := godotenv.Read(s.envPath)
	if err != nil {
		// No .env yet; start fresh.
		env = map[string]string{}
	}
	if payload.MistralAPIKey != nil {
		key := *payload.MistralAPIKey
		env["MISTRAL_API_KEY"] = key
		if err := os.Setenv("MISTRAL_API_KEY", key); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		if err := s.writeVibeEnv(key); err != nil {
			s.logger.Warn("could not write vibe env file: %v", err)
		}
	}
	if err := godotenv.Write(env, s.envPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) writeVibeEnv(key string) error {
	path := s.vibeEnvPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path = filepath.Join(home, ".vibe", ".env")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return godotenv.Write(map[string]string{"MISTRAL_API_KEY": key}, path)
}

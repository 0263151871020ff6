package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"alchemistral/internal/broadcast"
)

const heartbeatInterval = 2 * time.Second

// handleWebSocket upgrades the connection, subscribes it to the event
// broadcaster, and keeps a periodic status heartbeat flowing. A single writer
// goroutine owns the socket; the read loop only detects disconnects.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed: %v", err)
		return
	}

	events, unsubscribe := s.bus.Subscribe()
	done := make(chan struct{})

	go func() {
		defer func() {
			unsubscribe()
			_ = conn.Close()
		}()

		if err := conn.WriteJSON(heartbeat()); err != nil {
			return
		}

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := conn.WriteJSON(event); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteJSON(heartbeat()); err != nil {
					return
				}
			}
		}
	}()

	// Drain reads until the client goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			close(done)
			return
		}
	}
}

func heartbeat() broadcast.Event {
	return broadcast.New(broadcast.OrchestratorID, "status", "Alchemistral online")
}

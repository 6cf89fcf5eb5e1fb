package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ai-trading-engine/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are already filtered by the CORS layer.
		return true
	},
}

// handleEventStream upgrades the connection and forwards pipeline events
// until the client disconnects.
func (s *Server) handleEventStream(c *gin.Context) {
	if s.bus == nil {
		errorResponse(c, http.StatusServiceUnavailable, "event stream disabled")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	send := make(chan []byte, 256)
	done := make(chan struct{})

	unsubscribe := s.bus.SubscribeAll(func(event events.Event) {
		payload, err := json.Marshal(event)
		if err != nil {
			return
		}
		select {
		case send <- payload:
		default:
			// Slow consumers drop events rather than block the bus.
		}
	})
	defer unsubscribe()

	// Reader goroutine detects the client going away.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case payload := <-send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"codeberg.org/mutker/edgepilot/internal/events"
	"codeberg.org/mutker/edgepilot/internal/logger"
)

const (
	wsBuffer       = 64
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard may be served from a different origin in development.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket streams hub events to one client. Structured events go out
// as JSON text messages; video frames as binary JPEG messages.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	ch, unsubscribe := s.hub.Subscribe(wsBuffer)
	defer unsubscribe()
	defer conn.Close()

	logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("WebSocket client connected")

	// Drain client messages so pings and close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))

			if event.Type == events.TypeVideoFrame {
				frame, _ := event.Payload.([]byte)
				if len(frame) == 0 {
					continue
				}
				if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
					return
				}
				continue
			}

			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}

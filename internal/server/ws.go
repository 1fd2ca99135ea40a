package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Status feed timings.
const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = 30 * time.Second
)

// handleStatusFeed handles GET /ws/status. The client first receives the
// current status of every device, then one message per accepted report.
func (s *Server) handleStatusFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.log.Warn("status feed upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, cancel := s.relay.Hub().Subscribe()
	defer cancel()

	id, _ := IdentityFromContext(r.Context())
	log := s.log.WithFields(map[string]interface{}{"user": id.Username, "ip": s.clientIP(r)})
	log.Info("status feed connected")
	defer log.Info("status feed disconnected")

	for _, dev := range s.relay.Devices() {
		conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
		if err := conn.WriteJSON(dev); err != nil {
			return
		}
	}

	// The reader only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(feedPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(feedPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("status feed read error", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return

		case ev, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("status feed write error", "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

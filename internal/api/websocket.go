package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mbs-selection-server/internal/domain"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsEventQueue = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API already allows any origin via CORS; the socket follows suit.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEvent is one push message on the watch socket.
type wsEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// handleWatch upgrades to WebSocket and streams selection-changed and
// conflict-detected events for one session. Events that arrive faster than
// the client drains them are dropped; every selection-changed payload is a
// complete summary, so the latest one is always sufficient.
func (s *Server) handleWatch(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	events := make(chan wsEvent, wsEventQueue)

	unsubChange := sess.Engine.Subscribe(func(summary domain.SelectionSummary) {
		select {
		case events <- wsEvent{Type: "selection_changed", Payload: summary}:
		default:
		}
	})
	unsubConflict := sess.Engine.SubscribeConflicts(func(res domain.ValidationResult) {
		select {
		case events <- wsEvent{Type: "conflict_detected", Payload: res}:
		default:
		}
	})

	done := make(chan struct{})

	// Read loop exists only to observe close frames.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Initial state so the client does not have to fetch separately.
	initial := wsEvent{Type: "selection_changed", Payload: sess.Engine.Summary()}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(initial); err != nil {
		s.cleanupWatch(conn, unsubChange, unsubConflict)
		return
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer s.cleanupWatch(conn, unsubChange, unsubConflict)

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case event := <-events:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) cleanupWatch(conn *websocket.Conn, unsubs ...func()) {
	for _, unsub := range unsubs {
		unsub()
	}
	conn.Close()
}

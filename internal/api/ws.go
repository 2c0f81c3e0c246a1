package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser clients come through the CORS-permissive API surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	watchPollInterval = 2 * time.Second
	watchWriteTimeout = 10 * time.Second
)

// watchEvent is one push on the results stream.
type watchEvent struct {
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
	Version   int64       `json:"version"`
	Risk      interface{} `json:"risk"`
}

// handleWatch streams risk snapshots over a websocket. A new event is
// pushed whenever the session version advances; the stream closes when
// the session reaches a terminal state or the client disconnects.
func (s *Server) handleWatch(c *gin.Context) {
	sessionID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithField("error", err.Error()).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Drain client frames so close handshakes are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	var lastVersion int64
	ctx := c.Request.Context()
	for {
		sess, snap, err := s.machine.Results(ctx, sessionID)
		if err != nil {
			deadline := time.Now().Add(watchWriteTimeout)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()), deadline)
			return
		}

		if sess.Version != lastVersion {
			lastVersion = sess.Version
			conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
			if err := conn.WriteJSON(watchEvent{
				SessionID: sess.ID,
				State:     sess.State.String(),
				Version:   sess.Version,
				Risk:      snap,
			}); err != nil {
				s.logger.WithFields(logrus.Fields{
					"session_id": sessionID,
					"error":      err.Error(),
				}).Debug("WebSocket write failed")
				return
			}
			if sess.State.IsTerminal() {
				deadline := time.Now().Add(watchWriteTimeout)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"), deadline)
				return
			}
		}

		select {
		case <-ticker.C:
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

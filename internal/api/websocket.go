package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomhub/roomhub/internal/events"
)

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// handleWebSocket upgrades the connection and streams the room's event
// feed to the client. The optional ?since=N query parameter replays
// buffered events after cursor N before live delivery begins, so a
// reconnecting client resumes without a gap.
//
// If the client falls too far behind the broadcaster disconnects it; the
// client is expected to reconnect with its last seen cursor.
func (s *Server) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeBadRequest(w, "since must be a non-negative integer")
			return
		}
		since = n
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sub := s.events.Subscribe(since)
	s.logger.Debug("websocket client connected", "since", since, "replay", len(sub.Replay))

	go s.readPump(conn, sub.ID)
	s.writePump(ctx, conn, sub)
}

// readPump drains client messages to keep the connection's read side
// healthy. Clients send nothing meaningful; any message (including
// pongs) refreshes the read deadline.
func (s *Server) readPump(conn *websocket.Conn, subID string) {
	defer func() {
		s.events.Unsubscribe(subID)
		conn.Close()
	}()

	conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	pingInterval := time.Duration(s.wsCfg.PingInterval) * time.Second
	pongWait := time.Duration(s.wsCfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "error", err)
			} else {
				s.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}
}

// writePump sends replayed then live events to the client, interleaved
// with protocol pings. It returns when the subscription closes (slow
// client dropped by the broadcaster), the context is cancelled, or a
// write fails.
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, sub events.Subscription) {
	pingInterval := time.Duration(s.wsCfg.PingInterval) * time.Second
	pongWait := time.Duration(s.wsCfg.PongTimeout) * time.Second

	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.events.Unsubscribe(sub.ID)
		conn.Close()
	}()

	for _, ev := range sub.Replay {
		if !s.writeEvent(conn, ev, pongWait) {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			//nolint:errcheck // Best-effort close message on shutdown
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return

		case ev, ok := <-sub.C:
			if !ok {
				// Broadcaster dropped the subscription (slow consumer)
				//nolint:errcheck // Best-effort close message
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "event stream lagged, reconnect with ?since="))
				return
			}
			if !s.writeEvent(conn, ev, pongWait) {
				return
			}

		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeEvent marshals and sends one event, reporting whether the
// connection is still usable.
func (s *Server) writeEvent(conn *websocket.Conn, ev events.Event, pongWait time.Duration) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("failed to marshal event for websocket", "seq", ev.Seq, "error", err)
		return true
	}
	//nolint:errcheck // Best-effort deadline; write error caught below
	conn.SetWriteDeadline(time.Now().Add(pongWait))
	return conn.WriteMessage(websocket.TextMessage, data) == nil
}

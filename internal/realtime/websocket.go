package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/albion/platform/internal/platform/reqctx"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second // must be < pongWait
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The bearer token already authenticates the session; browsers cannot
	// forge the Authorization header cross-origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is the inbound frame: room management with optional ack.
type clientMessage struct {
	Action string `json:"action"` // "joinRoom" | "leaveRoom" | "ping"
	Room   string `json:"room,omitempty"`
	AckID  string `json:"ackId,omitempty"`
}

// serverMessage is the outbound frame for acks and errors.
type serverMessage struct {
	Type  string `json:"type"` // "ack" | "error"
	AckID string `json:"ackId,omitempty"`
	Error string `json:"error,omitempty"`
	Room  string `json:"room,omitempty"`
	OK    bool   `json:"ok"`
}

// WSHandler upgrades the connection and runs the session's read and write
// pumps. Events are broadcast to the session's rooms in emission order.
func (h *Hub) WSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := reqctx.TenantID(r.Context())
		if err != nil {
			http.Error(w, "tenant context missing", http.StatusUnauthorized)
			return
		}
		userID := reqctx.UserID(r.Context())

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("WebSocket upgrade failed", "error", err)
			return
		}

		sub := h.subscribe("websocket", userID, tenantID)
		acks := make(chan serverMessage, 16)

		go h.writePump(sub, conn, acks)
		go h.readPump(sub, conn, acks)
	}
}

func (h *Hub) readPump(sub *subscriber, conn *websocket.Conn, acks chan serverMessage) {
	defer func() {
		h.unsubscribe(sub)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Action {
		case "joinRoom":
			ok := h.joinRoom(sub, msg.Room)
			if msg.AckID != "" {
				reply := serverMessage{Type: "ack", AckID: msg.AckID, Room: msg.Room, OK: ok}
				if !ok {
					reply.Error = "room not permitted"
				}
				select {
				case acks <- reply:
				default:
				}
			}
		case "leaveRoom":
			h.leaveRoom(sub, msg.Room)
			if msg.AckID != "" {
				select {
				case acks <- serverMessage{Type: "ack", AckID: msg.AckID, Room: msg.Room, OK: true}:
				default:
				}
			}
		}
	}
}

func (h *Hub) writePump(sub *subscriber, conn *websocket.Conn, acks chan serverMessage) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case e, open := <-sub.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := e.JSON()
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case reply := <-acks:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, _ := json.Marshal(reply)
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

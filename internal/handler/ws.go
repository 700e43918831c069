package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"drawboard/internal/board"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 * 1024

	// Pointer sampling runs at display rate, so the cap sits well above
	// chat-server territory.
	maxMessagesPerSec = 240

	defaultRoomID = "lobby"
)

var allowedOrigins []string

// SetAllowedOrigins restricts websocket upgrades and CORS to the given
// origins. With none configured every origin is accepted, which is the
// intended mode for LAN deployments.
func SetAllowedOrigins(origins []string) {
	allowedOrigins = origins
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

func checkOrigin(r *http.Request) bool {
	if len(allowedOrigins) == 0 {
		return true
	}
	origin, ok := normalizeOrigin(r.Header.Get("Origin"))
	if !ok {
		return false
	}
	for _, allowed := range allowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	if !strings.EqualFold(u.Scheme, "http") && !strings.EqualFold(u.Scheme, "https") {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

// Envelope is the wire frame: an event name plus its JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WSClient is one connected socket bound to a room and user.
type WSClient struct {
	ConnID string
	RoomID string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	messageCount int
	lastReset    time.Time
}

// WSHandler upgrades connections and executes the fan-out the board
// registry asks for. The registry never touches sockets; it returns
// what to send to whom and this handler delivers it.
type WSHandler struct {
	Registry *board.Registry

	mu      sync.RWMutex
	clients map[string]*WSClient
}

func NewWSHandler(registry *board.Registry) *WSHandler {
	return &WSHandler{
		Registry: registry,
		clients:  make(map[string]*WSClient),
	}
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(r.URL.Query().Get("room"))
	if roomID == "" {
		roomID = defaultRoomID
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade error", "error", err)
		return
	}

	user, outs := h.Registry.Join(roomID)
	client := &WSClient{
		ConnID:    uuid.New().String(),
		RoomID:    roomID,
		UserID:    user.UserID,
		Conn:      conn,
		Send:      make(chan []byte, 256),
		lastReset: time.Now(),
	}

	h.mu.Lock()
	h.clients[client.ConnID] = client
	h.mu.Unlock()

	slog.Info("WebSocket connected",
		"conn_id", client.ConnID,
		"room_id", roomID,
		"user_id", user.UserID,
		"room_conns", h.RoomConnCount(roomID),
	)

	go h.writePump(client)
	h.fanOut(client, outs)
	h.readPump(client)
}

func (h *WSHandler) readPump(client *WSClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, client.ConnID)
		h.mu.Unlock()

		outs := h.Registry.Leave(client.RoomID, client.UserID)
		h.fanOut(client, outs)

		close(client.Send)
		client.Conn.Close()
		slog.Info("WebSocket disconnected",
			"conn_id", client.ConnID,
			"room_id", client.RoomID,
			"user_id", client.UserID,
			"room_conns", h.RoomConnCount(client.RoomID),
		)
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			break
		}

		if time.Since(client.lastReset) > time.Second {
			client.messageCount = 0
			client.lastReset = time.Now()
		}
		client.messageCount++
		if client.messageCount > maxMessagesPerSec {
			slog.Warn("WebSocket rate limit exceeded", "conn_id", client.ConnID, "user_id", client.UserID)
			return
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			continue
		}

		// Latency probe: echo the client's timestamp straight back.
		if env.Event == "ping" {
			h.sendTo(client, Envelope{Event: "pong", Data: env.Data})
			continue
		}

		outs := h.Registry.Handle(client.RoomID, client.UserID, env.Event, env.Data)
		h.fanOut(client, outs)
	}
}

func (h *WSHandler) writePump(client *WSClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// fanOut delivers each outbound event to the audience the registry
// chose, with sender as the reference point for self/others.
func (h *WSHandler) fanOut(sender *WSClient, outs []board.Outbound) {
	for _, out := range outs {
		message, err := json.Marshal(Envelope{Event: out.Event, Data: mustMarshal(out.Data)})
		if err != nil {
			slog.Warn("Failed to marshal outbound event", "event", out.Event, "error", err)
			continue
		}

		switch out.Audience {
		case board.ToSelf:
			h.enqueue(sender, message)
		case board.ToOthers:
			for _, c := range h.roomClients(sender.RoomID, sender.ConnID) {
				h.enqueue(c, message)
			}
		case board.ToAll:
			for _, c := range h.roomClients(sender.RoomID, "") {
				h.enqueue(c, message)
			}
		}
	}
}

// BroadcastRoom sends events triggered outside any socket (archive
// restores) to everyone in the room.
func (h *WSHandler) BroadcastRoom(roomID string, outs []board.Outbound) {
	for _, out := range outs {
		message, err := json.Marshal(Envelope{Event: out.Event, Data: mustMarshal(out.Data)})
		if err != nil {
			slog.Warn("Failed to marshal outbound event", "event", out.Event, "error", err)
			continue
		}
		for _, c := range h.roomClients(roomID, "") {
			h.enqueue(c, message)
		}
	}
}

// RoomConnCount reports how many sockets are attached to roomID.
func (h *WSHandler) RoomConnCount(roomID string) int {
	return len(h.roomClients(roomID, ""))
}

func (h *WSHandler) roomClients(roomID, excludeConnID string) []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*WSClient, 0, len(h.clients))
	for _, c := range h.clients {
		if c.RoomID == roomID && c.ConnID != excludeConnID {
			clients = append(clients, c)
		}
	}
	return clients
}

func (h *WSHandler) sendTo(client *WSClient, env Envelope) {
	message, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.enqueue(client, message)
}

// enqueue drops the message when the client's buffer is full; a slow
// consumer loses frames rather than stalling the room.
func (h *WSHandler) enqueue(client *WSClient, message []byte) {
	select {
	case client.Send <- message:
	default:
	}
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON", "error", err)
		return []byte("null")
	}
	return data
}

package signaling

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	camlog "github.com/lattice-edge/camerad/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// LAN deployment (spec §1 scope) — no cross-origin restriction to
	// enforce, matching n0remac-robot-webrtc's non-production CheckOrigin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades one connection, registers it into the room named by
// the request path, and runs its read/write pumps until the connection
// drops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("signaling: websocket upgrade failed", "error", err)
		return
	}

	room := roomFromPath(r.URL.Path)
	c := &Client{conn: conn, send: make(chan Envelope, 32), room: room}

	h.register <- c
	go c.writePump(h.logger)
	c.readPump(h)
}

// readPump parses inbound envelopes and dispatches them per spec §4.4:
// malformed JSON or a missing client_id/type is dropped and logged rather
// than tearing down the connection.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			h.logger.Debug("signaling: dropping malformed message", "room", c.room, "error", err)
			continue
		}
		if env.ClientID == "" || env.Type == "" {
			h.logger.Debug("signaling: dropping message missing client_id/type", "room", c.room)
			continue
		}
		if c.clientID == "" {
			c.clientID = env.ClientID
		}
		camlog.DebugSignaling("inbound envelope", "room", c.room, "client_id", env.ClientID, "type", env.Type)

		if h.Dispatch != nil {
			h.Dispatch(c.room, env.ClientID, env)
		}
	}
}

// writePump is the single writer for this connection — gorilla/websocket
// forbids concurrent writes, so every outbound Envelope for this client
// funnels through here (spec §4.4/§5 "at most one write in flight per
// channel").
func (c *Client) writePump(logger *slog.Logger) {
	defer c.conn.Close()
	for env := range c.send {
		if err := c.conn.WriteJSON(env); err != nil {
			logger.Debug("signaling: write failed", "room", c.room, "client_id", c.clientID, "error", err)
			return
		}
	}
}

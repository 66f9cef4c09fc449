package signaling

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	camlog "github.com/lattice-edge/camerad/pkg/logger"
)

// Client is one signaling connection, scoped to a single room. Grounded on
// n0remac-robot-webrtc's WebsocketClient, trimmed to the fields this spec
// actually routes on.
type Client struct {
	conn     *websocket.Conn
	send     chan Envelope
	room     string
	clientID string
}

// Hub is C4 SignalingEndpoint's transport: rooms keyed by camera name (path
// = "/<camera>", empty path → room "default", per spec §4.4 routing rule
// 3). Grounded on n0remac-robot-webrtc's websocket.go Hub — Register/
// Unregister channels, a per-room client set behind a mutex, a per-client
// buffered Send channel drained by a single WritePump goroutine, which
// directly satisfies spec §4.4/§5's "at most one write in flight per
// channel" guarantee.
type Hub struct {
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	// Dispatch routes one inbound Envelope to the owning SessionController.
	// Wired by cmd/camerad after CameraManager is constructed.
	Dispatch func(room, clientID string, env Envelope)
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run drives room membership. Call it in its own goroutine; it never
// returns.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if h.rooms[c.room] == nil {
				h.rooms[c.room] = make(map[*Client]bool)
			}
			h.rooms[c.room][c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[c.room]; ok {
				if _, exists := clients[c]; exists {
					delete(clients, c)
					close(c.send)
					if len(clients) == 0 {
						delete(h.rooms, c.room)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// Send delivers env to exactly the peer identified by clientID within
// room, never broadcasting to other peers in the room — spec §4.4's
// outbound unicast-by-client_id contract.
func (h *Hub) Send(room, clientID string, env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[room]
	if !ok {
		return
	}
	for c := range clients {
		if c.clientID != clientID {
			continue
		}
		camlog.DebugSignaling("outbound envelope", "room", room, "client_id", clientID, "type", env.Type)
		select {
		case c.send <- env:
		default:
			h.logger.Warn("signaling: outbound send buffer full, dropping message",
				"room", room, "client_id", clientID, "type", env.Type)
		}
		return
	}
}

// roomFromPath maps a connection URL path to a room name (spec §4.4
// routing rule 3).
func roomFromPath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "default"
	}
	return trimmed
}

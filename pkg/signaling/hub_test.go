package signaling

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomFromPath(t *testing.T) {
	cases := map[string]string{
		"/":              "default",
		"":                "default",
		"/front_door":    "front_door",
		"/front_door/":   "front_door",
		"/driveway/extra": "driveway/extra",
	}
	for path, want := range cases {
		assert.Equal(t, want, roomFromPath(path), "path %q", path)
	}
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(slog.Default())
	go h.Run()
	return h
}

func registerFakeClient(t *testing.T, h *Hub, room, clientID string) *Client {
	t.Helper()
	c := &Client{room: room, clientID: clientID, send: make(chan Envelope, 8)}
	h.register <- c
	// Give Run's select a chance to process registration before the test
	// proceeds to Send/Unregister.
	time.Sleep(10 * time.Millisecond)
	return c
}

func TestHubSendDeliversOnlyToNamedClient(t *testing.T) {
	h := newTestHub(t)

	a := registerFakeClient(t, h, "front_door", "alice")
	b := registerFakeClient(t, h, "front_door", "bob")

	h.Send("front_door", "bob", Envelope{Type: TypeOffer, ClientID: "bob"})

	select {
	case env := <-b.send:
		require.Equal(t, TypeOffer, env.Type)
	case <-time.After(time.Second):
		t.Fatal("bob did not receive the envelope")
	}

	select {
	case <-a.send:
		t.Fatal("alice should not have received bob's envelope")
	default:
	}
}

func TestHubSendToUnknownRoomIsANoop(t *testing.T) {
	h := newTestHub(t)
	// Must not panic or block.
	h.Send("nonexistent", "nobody", Envelope{Type: TypeConnection})
}

func TestHubUnregisterClosesSendChannel(t *testing.T) {
	h := newTestHub(t)
	c := registerFakeClient(t, h, "driveway", "carol")

	h.unregister <- c
	time.Sleep(10 * time.Millisecond)

	_, ok := <-c.send
	assert.False(t, ok, "send channel should be closed after unregister")
}

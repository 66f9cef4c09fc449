package session

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTableTransitions(t *testing.T) {
	to, ok := next(StateIdle, EventInboundConnection)
	require.True(t, ok)
	assert.Equal(t, StateNegotiating, to)

	to, ok = next(StateNegotiating, EventICEConnected)
	require.True(t, ok)
	assert.Equal(t, StateConnected, to)

	to, ok = next(StateNegotiating, EventClosed)
	require.True(t, ok)
	assert.Equal(t, StateClosed, to)

	to, ok = next(StateConnected, EventClosed)
	require.True(t, ok)
	assert.Equal(t, StateClosed, to)

	_, ok = next(StateClosed, EventInboundConnection)
	assert.False(t, ok, "CLOSED accepts no further events")

	_, ok = next(StateIdle, EventInboundOffer)
	assert.False(t, ok, "IDLE only accepts an inbound connection")
}

func newBareController(state State) *Controller {
	return &Controller{
		camera:   "front_door",
		clientID: "viewer1",
		logger:   testLogger(),
		state:    state,
		send:     func(Outbound) {},
	}
}

func TestHandleICERejectsMDNSCandidateWithoutTouchingPeerConnection(t *testing.T) {
	c := newBareController(StateNegotiating)

	err := c.HandleICE("candidate:1 1 UDP 2122260223 alice.local 55000 typ host", 0, nil)

	assert.NoError(t, err)
	assert.Empty(t, c.pendingCandidates, "mDNS candidates must be discarded, not buffered")
}

func TestHandleICEBuffersCandidateBeforeRemoteDescriptionIsSet(t *testing.T) {
	c := newBareController(StateNegotiating)

	err := c.HandleICE("candidate:1 1 UDP 2122260223 192.168.1.50 55000 typ host", 0, nil)

	assert.NoError(t, err)
	require.Len(t, c.pendingCandidates, 1)
	assert.Equal(t, "candidate:1 1 UDP 2122260223 192.168.1.50 55000 typ host", c.pendingCandidates[0].Candidate)
}

func TestHandleICERejectsWhenNotNegotiatingOrConnected(t *testing.T) {
	c := newBareController(StateIdle)

	err := c.HandleICE("candidate:1 1 UDP 2122260223 192.168.1.50 55000 typ host", 0, nil)

	assert.Error(t, err)
}

func TestHandleConnectionRejectsSecondAttemptWithFault(t *testing.T) {
	var got Outbound
	c := newBareController(StateNegotiating)
	c.send = func(o Outbound) { got = o }

	err := c.HandleConnection()

	require.NoError(t, err)
	assert.Equal(t, "fault", got.Ret)
	assert.Equal(t, StateNegotiating, c.state, "a rejected second attempt must not disturb the existing session")
}

func TestCloseIsIdempotentAndReachableFromAnyState(t *testing.T) {
	for _, s := range []State{StateIdle, StateNegotiating, StateConnected, StateClosed} {
		c := newBareController(s)
		require.NoError(t, c.Close(CloseReasonExplicitClose))
		assert.Equal(t, StateClosed, c.state)
		require.NoError(t, c.Close(CloseReasonExplicitClose), "closing twice must not error")
	}
}

func TestRewriteBaselineProfile(t *testing.T) {
	in := "a=fmtp:96 profile-level-id=42001f;packetization-mode=1"
	out := rewriteBaselineProfile(in)
	assert.Contains(t, out, "profile-level-id=42e01f")
}

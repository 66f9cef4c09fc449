package session

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	camlog "github.com/lattice-edge/camerad/pkg/logger"
	"github.com/lattice-edge/camerad/pkg/media"
	"github.com/lattice-edge/camerad/pkg/signaling"
)

// Outbound is one message destined back to this Controller's viewer, handed
// to whatever owns the signaling transport.
type Outbound = signaling.Envelope

// CloseReason labels why a Controller reached CLOSED, for logging only.
type CloseReason string

const (
	CloseReasonTransportDrop     CloseReason = "transport_drop"
	CloseReasonExplicitClose     CloseReason = "explicit_close"
	CloseReasonBranchAttachFault CloseReason = "branch_attach_failed"
)

// Controller is C5 SessionController: one instance per (camera, client_id),
// driving a single viewer's PeerConnection through spec §4.5's table.
// Every exported method serializes on mu, which gives each viewer the
// in-order processing spec §5 requires without a dedicated goroutine per
// session.
type Controller struct {
	camera   string
	clientID string
	logger   *slog.Logger

	graph *media.Graph
	send  func(Outbound)

	mu                sync.Mutex
	state             State
	pc                *webrtc.PeerConnection
	branch            *media.Branch
	remoteDescSet     bool
	pendingCandidates []webrtc.ICECandidateInit
}

// NewController builds a Controller in IDLE. It touches nothing
// network-visible until HandleConnection runs.
func NewController(camera, clientID string, graph *media.Graph, send func(Outbound), logger *slog.Logger) *Controller {
	return &Controller{
		camera:   camera,
		clientID: clientID,
		logger:   logger,
		graph:    graph,
		send:     send,
		state:    StateIdle,
	}
}

// State reports the current state, for CameraManager bookkeeping/logging.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// newAPI builds the webrtc.API this node negotiates with: H.264 payload
// type 96 at baseline profile (42e01f) per spec §4.5's SDP policy, plus
// pion/interceptor's default registry (NACK, RTCP reports) rather than the
// teacher's RTCP-read-only approach — grounded on camsRelay's bridge.go
// MediaEngine setup, generalized to register interceptors too.
func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("session: register h264 codec: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("session: register default interceptors: %w", err)
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)), nil
}

// HandleConnection processes an inbound "connection" envelope: spec §4.5's
// IDLE→NEGOTIATING row. A second connection attempt for a Controller that
// has already started is answered with ret=fault rather than restarted.
func (c *Controller) HandleConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		c.send(Outbound{
			Type: signaling.TypeConnection, ClientID: c.clientID, Camera: c.camera,
			Sender: signaling.SenderCamera, Ret: signaling.RetFault, Description: "already started",
		})
		return nil
	}

	api, err := newAPI()
	if err != nil {
		return c.failLocked(CloseReasonBranchAttachFault, err)
	}

	// No STUN/TURN servers: this node is a LAN-only deployment target
	// (spec §1 scope, §4.5 ICE policy).
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return c.failLocked(CloseReasonBranchAttachFault, err)
	}
	c.pc = pc
	c.wireCallbacksLocked()

	branch, err := c.graph.Attach(c.clientID, pc)
	if err != nil {
		pc.Close()
		return c.failLocked(CloseReasonBranchAttachFault, err)
	}
	c.branch = branch

	if to, ok := next(c.state, EventInboundConnection); ok {
		c.state = to
	}
	camlog.DebugWebRTC("session entering negotiating", "camera", c.camera, "client_id", c.clientID)

	c.send(Outbound{
		Type: signaling.TypeConnection, ClientID: c.clientID, Camera: c.camera,
		Sender: signaling.SenderCamera, Ret: signaling.RetSuccess,
	})

	return c.negotiateLocked()
}

// wireCallbacksLocked attaches the pion callbacks that drive this
// Controller from events pion itself generates: trickled local candidates,
// the ICE connectivity check succeeding, and renegotiation becoming
// necessary (e.g. after a track is added). mu must be held by the caller;
// the callbacks themselves re-acquire it since pion invokes them from its
// own goroutines.
func (c *Controller) wireCallbacksLocked() {
	pc := c.pc

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state != StateNegotiating && c.state != StateConnected {
			return
		}
		init := cand.ToJSON()
		idx := 0
		if init.SDPMLineIndex != nil {
			idx = int(*init.SDPMLineIndex)
		}
		c.send(Outbound{
			Type: signaling.TypeICE, ClientID: c.clientID, Camera: c.camera, Sender: signaling.SenderCamera,
			Candidate: init.Candidate, SDPMLineIndex: &idx, SDPMid: init.SDPMid,
		})
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		camlog.DebugWebRTC("ice connection state change", "camera", c.camera, "client_id", c.clientID, "state", s)
		if s != webrtc.ICEConnectionStateConnected {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if to, ok := next(c.state, EventICEConnected); ok {
			c.state = to
		}
	})

	pc.OnNegotiationNeeded(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state != StateNegotiating && c.state != StateConnected {
			return
		}
		if err := c.negotiateLocked(); err != nil {
			c.logger.Warn("session: renegotiation failed", "camera", c.camera, "client_id", c.clientID, "error", err)
		}
	})
}

// negotiateLocked creates a local offer and emits it. Called both from
// HandleConnection's initial NEGOTIATING entry and from OnNegotiationNeeded.
// mu must be held.
func (c *Controller) negotiateLocked() error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("session: create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("session: set local description: %w", err)
	}

	c.send(Outbound{
		Type: signaling.TypeOffer, ClientID: c.clientID, Camera: c.camera, Sender: signaling.SenderCamera,
		SDP: rewriteBaselineProfile(c.pc.LocalDescription().SDP),
	})
	return nil
}

// HandleOffer processes an inbound "offer" envelope — accepted per spec
// §4.5's table even though this node is the one normally offering, since a
// viewer-initiated renegotiation is valid WebRTC.
func (c *Controller) HandleOffer(sdp string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateNegotiating {
		return fmt.Errorf("session: inbound offer while in state %s", c.state)
	}

	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return fmt.Errorf("session: set remote description: %w", err)
	}
	c.remoteDescSet = true
	c.flushPendingCandidatesLocked()

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("session: create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("session: set local description: %w", err)
	}

	if to, ok := next(c.state, EventInboundOffer); ok {
		camlog.DebugSession("state transition", "camera", c.camera, "client_id", c.clientID, "from", c.state, "to", to)
		c.state = to
	}

	c.send(Outbound{
		Type: signaling.TypeAnswer, ClientID: c.clientID, Camera: c.camera, Sender: signaling.SenderCamera,
		SDP: c.pc.LocalDescription().SDP,
	})
	return nil
}

// HandleAnswer processes an inbound "answer" envelope, completing the
// offer/answer exchange this node initiated in negotiateLocked.
func (c *Controller) HandleAnswer(sdp string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateNegotiating {
		return fmt.Errorf("session: inbound answer while in state %s", c.state)
	}

	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("session: set remote description: %w", err)
	}
	c.remoteDescSet = true
	c.flushPendingCandidatesLocked()

	if to, ok := next(c.state, EventInboundAnswer); ok {
		camlog.DebugSession("state transition", "camera", c.camera, "client_id", c.clientID, "from", c.state, "to", to)
		c.state = to
	}
	return nil
}

// HandleICE processes an inbound "ice" envelope. Candidates advertising a
// ".local" mDNS hostname are discarded outright — this node has no mDNS
// resolver in its deployment environment, so they can never resolve (spec
// §4.5 ICE policy). Candidates arriving before the remote description is
// set are buffered and flushed once it lands.
func (c *Controller) HandleICE(candidate string, sdpMLineIndex int, sdpMid *string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateNegotiating && c.state != StateConnected {
		return fmt.Errorf("session: inbound ice while in state %s", c.state)
	}

	if strings.Contains(candidate, ".local") {
		c.logger.Debug("session: discarding mDNS ice candidate", "camera", c.camera, "client_id", c.clientID)
		return nil
	}

	idx := uint16(sdpMLineIndex)
	init := webrtc.ICECandidateInit{Candidate: candidate, SDPMLineIndex: &idx, SDPMid: sdpMid}

	if !c.remoteDescSet {
		c.pendingCandidates = append(c.pendingCandidates, init)
		return nil
	}
	return c.pc.AddICECandidate(init)
}

func (c *Controller) flushPendingCandidatesLocked() {
	for _, cand := range c.pendingCandidates {
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.logger.Warn("session: flush buffered ice candidate failed",
				"camera", c.camera, "client_id", c.clientID, "error", err)
		}
	}
	c.pendingCandidates = nil
}

// Close tears the Controller down from any state (spec §4.5's "any →
// CLOSED" row): detaches the PeerBranch, closes the PeerConnection, and
// marks CLOSED. Safe to call more than once.
func (c *Controller) Close(reason CloseReason) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked(reason)
}

func (c *Controller) closeLocked(reason CloseReason) error {
	if c.state == StateClosed {
		return nil
	}
	c.logger.Debug("session: closing", "camera", c.camera, "client_id", c.clientID, "reason", reason)
	c.state = StateClosed

	if c.branch != nil {
		if err := c.graph.Detach(c.clientID); err != nil {
			c.logger.Debug("session: detach branch on close", "client_id", c.clientID, "error", err)
		}
		c.branch = nil
	}
	if c.pc != nil {
		c.pc.Close()
	}
	return nil
}

func (c *Controller) failLocked(reason CloseReason, cause error) error {
	c.logger.Warn("session: setup failed", "camera", c.camera, "client_id", c.clientID, "error", cause)
	c.closeLocked(reason)
	return fmt.Errorf("session: %s: %w", reason, cause)
}

// rewriteBaselineProfile is a defensive backstop for spec §4.5's SDP
// policy: the MediaEngine above already negotiates profile-level-id=42e01f
// (baseline), this just guards a future pion version echoing a different
// fmtp line verbatim.
func rewriteBaselineProfile(sdp string) string {
	return strings.ReplaceAll(sdp, "profile-level-id=42001f", "profile-level-id=42e01f")
}

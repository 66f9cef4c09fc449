// Package camera implements C6 CameraManager: the name-keyed registry that
// owns every camera's FrameSource, MediaGraph, and live viewer sessions.
package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lattice-edge/camerad/pkg/config"
	"github.com/lattice-edge/camerad/pkg/media"
	"github.com/lattice-edge/camerad/pkg/probe"
	"github.com/lattice-edge/camerad/pkg/session"
	"github.com/lattice-edge/camerad/pkg/signaling"
)

// Camera is one managed camera: its FrameSource, its MediaGraph once
// probing succeeds, and the set of live SessionControllers keyed by
// viewer client_id.
type Camera struct {
	name   string
	cfg    config.CameraConfig
	logger *slog.Logger

	mu       sync.Mutex
	source   *probe.FrameSource
	graph    *media.Graph
	sessions map[string]*session.Controller
}

// Manager is C6 CameraManager. Grounded on camsRelay's MultiCameraRelay
// (name-keyed map behind a mutex, per-camera start/stop) with probe startup
// routed through probeQueue instead of a monitor-loop reconciler, since this
// spec's camera list is static after Load rather than discovered from a
// cloud API.
type Manager struct {
	logger *slog.Logger
	queue  *probeQueue

	mu      sync.Mutex
	cameras map[string]*Camera
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger:  logger,
		queue:   newProbeQueue(logger),
		cameras: make(map[string]*Camera),
	}
}

// Add registers a camera by name. It performs no I/O — StartAll does the
// actual probing; a camera added after StartAll has returned is not started.
func (m *Manager) Add(cfg config.CameraConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.cameras[cfg.Name]; exists {
		return fmt.Errorf("camera: %q already registered", cfg.Name)
	}

	m.cameras[cfg.Name] = &Camera{
		name:     cfg.Name,
		cfg:      cfg,
		logger:   m.logger.With("camera", cfg.Name),
		sessions: make(map[string]*session.Controller),
	}
	return nil
}

// Remove unregisters a camera and stops its FrameSource/MediaGraph/sessions.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	cam, ok := m.cameras[name]
	if ok {
		delete(m.cameras, name)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("camera: %q not registered", name)
	}
	return stopCamera(cam)
}

// Get returns the named camera, or nil if it isn't registered.
func (m *Manager) Get(name string) *Camera {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cameras[name]
}

func (m *Manager) snapshot() []*Camera {
	m.mu.Lock()
	defer m.mu.Unlock()
	cams := make([]*Camera, 0, len(m.cameras))
	for _, cam := range m.cameras {
		cams = append(cams, cam)
	}
	return cams
}

// StartAll probes and starts every registered camera, one at a time
// through the probe queue — no two cameras are ever mid-probe
// simultaneously. A camera that exhausts its probe budget or reports an
// unsupported codec is logged and skipped — one bad camera must not block
// the rest (spec §4.6 edge case).
func (m *Manager) StartAll(ctx context.Context) {
	cams := m.snapshot()

	var wg sync.WaitGroup
	for _, cam := range cams {
		wg.Add(1)
		go func(cam *Camera) {
			defer wg.Done()
			err := m.queue.submitAndWait(ctx, func() error { return startCamera(ctx, cam) })
			if err != nil {
				cam.logger.Error("camera: failed to start", "error", err)
			}
		}(cam)
	}
	wg.Wait()
}

func startCamera(ctx context.Context, cam *Camera) error {
	source := probe.NewFrameSource(toProbeConfig(cam.cfg), cam.logger)
	if err := source.Start(ctx); err != nil {
		return fmt.Errorf("probe: %w", err)
	}

	graph, err := media.NewGraph(cam.name, source.Result(), cam.logger)
	if err != nil {
		source.Close()
		return fmt.Errorf("build media graph: %w", err)
	}

	cam.mu.Lock()
	cam.source = source
	cam.graph = graph
	cam.mu.Unlock()

	go cam.pumpFrames(ctx)
	return nil
}

// pumpFrames forwards decoded frames from the FrameSource into the
// MediaGraph until ctx is canceled or the FrameSource's channel closes.
func (cam *Camera) pumpFrames(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-cam.source.Frames():
			if !ok {
				return
			}
			cam.mu.Lock()
			graph := cam.graph
			cam.mu.Unlock()
			if graph == nil {
				frame.Close()
				continue
			}
			graph.PushFrame(frame)
		}
	}
}

// StopAll stops every registered camera's source, graph, and sessions.
func (m *Manager) StopAll() {
	cams := m.snapshot()

	var wg sync.WaitGroup
	for _, cam := range cams {
		wg.Add(1)
		go func(cam *Camera) {
			defer wg.Done()
			if err := stopCamera(cam); err != nil {
				cam.logger.Warn("camera: stop error", "error", err)
			}
		}(cam)
	}
	wg.Wait()
}

func stopCamera(cam *Camera) error {
	cam.mu.Lock()
	source, graph := cam.source, cam.graph
	sessions := make([]*session.Controller, 0, len(cam.sessions))
	for _, s := range cam.sessions {
		sessions = append(sessions, s)
	}
	cam.sessions = make(map[string]*session.Controller)
	cam.source, cam.graph = nil, nil
	cam.mu.Unlock()

	for _, s := range sessions {
		s.Close(session.CloseReasonExplicitClose)
	}
	if graph != nil {
		graph.Close()
	}
	if source != nil {
		return source.Close()
	}
	return nil
}

// Dispatch routes one inbound signaling envelope to the named camera's
// per-viewer SessionController, creating the Controller on first contact.
// Wired as the signaling Hub's Dispatch callback (cmd/camerad).
func (m *Manager) Dispatch(cameraName, clientID string, env signaling.Envelope, send func(signaling.Envelope)) {
	cam := m.Get(cameraName)
	if cam == nil {
		send(signaling.Envelope{
			Type: env.Type, ClientID: clientID, Camera: cameraName,
			Sender: signaling.SenderCamera, Ret: signaling.RetFault, Description: "unknown camera",
		})
		return
	}

	ctrl, ok := cam.controllerFor(clientID, send, m.logger)
	if !ok {
		send(signaling.Envelope{
			Type: env.Type, ClientID: clientID, Camera: cameraName,
			Sender: signaling.SenderCamera, Ret: signaling.RetFault, Description: "camera not ready",
		})
		return
	}

	var err error
	switch env.Type {
	case signaling.TypeConnection:
		err = ctrl.HandleConnection()
	case signaling.TypeOffer:
		err = ctrl.HandleOffer(env.SDP)
	case signaling.TypeAnswer:
		err = ctrl.HandleAnswer(env.SDP)
	case signaling.TypeICE:
		idx := 0
		if env.SDPMLineIndex != nil {
			idx = *env.SDPMLineIndex
		}
		err = ctrl.HandleICE(env.Candidate, idx, env.SDPMid)
	default:
		m.logger.Debug("camera: dropping envelope of unknown type", "type", env.Type, "camera", cameraName)
		return
	}

	if err != nil {
		m.logger.Warn("camera: session error", "camera", cameraName, "client_id", clientID, "type", env.Type, "error", err)
		ctrl.Close(session.CloseReasonTransportDrop)
		cam.removeController(clientID)
	}
}

// controllerFor returns the viewer's existing Controller, or creates one if
// the camera's MediaGraph is up. ok is false if the graph isn't ready yet
// (probing still in progress, or failed).
func (cam *Camera) controllerFor(clientID string, send func(signaling.Envelope), logger *slog.Logger) (*session.Controller, bool) {
	cam.mu.Lock()
	defer cam.mu.Unlock()

	if ctrl, exists := cam.sessions[clientID]; exists {
		return ctrl, true
	}
	if cam.graph == nil {
		return nil, false
	}
	ctrl := session.NewController(cam.name, clientID, cam.graph, send, logger.With("camera", cam.name, "client_id", clientID))
	cam.sessions[clientID] = ctrl
	return ctrl, true
}

func (cam *Camera) removeController(clientID string) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	delete(cam.sessions, clientID)
}

// Stats reports one snapshot per registered camera. Grounded on camsRelay's
// MultiCameraRelay.GetStats/CameraRelay.GetStats — a read-only accessor over
// state the manager already tracks, not new mutable bookkeeping.
func (m *Manager) Stats() []CameraStats {
	cams := m.snapshot()
	stats := make([]CameraStats, 0, len(cams))
	for _, cam := range cams {
		stats = append(stats, cam.stats())
	}
	return stats
}

// AggregateStats reports totals and a per-state camera count across every
// registered camera. Grounded on camsRelay's
// MultiCameraRelay.GetAggregateStats, adapted from WebRTC connection-state
// buckets (connected/connecting/failed/disconnected) to this manager's
// probe/graph readiness states.
func (m *Manager) AggregateStats() AggregateStats {
	agg := AggregateStats{}
	for _, s := range m.Stats() {
		agg.TotalCameras++
		agg.TotalVideoPackets += s.VideoPackets
		agg.TotalFramesDecoded += s.FramesDecoded
		agg.TotalFramesPushed += s.FramesPushed
		agg.TotalFramesDropped += s.FramesDropped
		agg.TotalViewers += s.PeerCount
		switch s.GraphState {
		case GraphStateReady:
			agg.ReadyCameras++
		case GraphStateProbing:
			agg.ProbingCameras++
		case GraphStateUnready:
			agg.UnreadyCameras++
		}
	}
	return agg
}

// stats builds one camera's snapshot. A camera whose probe hasn't completed
// yet (source/graph both nil) reports GraphStateProbing with zeroed counters.
func (cam *Camera) stats() CameraStats {
	cam.mu.Lock()
	source, graph := cam.source, cam.graph
	peers := len(cam.sessions)
	cam.mu.Unlock()

	s := CameraStats{
		Name:       cam.name,
		GraphState: GraphStateProbing,
		PeerCount:  peers,
	}
	if source == nil && graph == nil {
		return s
	}

	s.GraphState = GraphStateUnready
	if source != nil {
		srcStats := source.Stats()
		s.Uptime = srcStats.Uptime
		s.VideoPackets = srcStats.VideoPackets
		s.FramesDecoded = srcStats.FramesDecoded
		s.FramesDropped += srcStats.FramesDropped
	}
	if graph != nil {
		graphStats := graph.Stats()
		s.FramesPushed = graphStats.FramesPushed
		s.FramesDropped += graphStats.FramesDropped
		s.GraphState = GraphStateReady
	}
	return s
}

// GraphState is a coarse per-camera readiness bucket for stats reporting.
type GraphState int

const (
	GraphStateProbing GraphState = iota
	GraphStateUnready
	GraphStateReady
)

func (s GraphState) String() string {
	switch s {
	case GraphStateProbing:
		return "probing"
	case GraphStateUnready:
		return "unready"
	case GraphStateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// CameraStats is one camera's stats snapshot: decode-side counters from its
// FrameSource, encode-side counters from its MediaGraph, and the live viewer
// count from its session table.
type CameraStats struct {
	Name          string
	GraphState    GraphState
	Uptime        time.Duration
	PeerCount     int
	VideoPackets  uint64
	FramesDecoded uint64
	FramesPushed  uint64
	FramesDropped uint64
}

// AggregateStats totals CameraStats across every registered camera.
type AggregateStats struct {
	TotalCameras       int
	ReadyCameras       int
	ProbingCameras     int
	UnreadyCameras     int
	TotalViewers       int
	TotalVideoPackets  uint64
	TotalFramesDecoded uint64
	TotalFramesPushed  uint64
	TotalFramesDropped uint64
}

// toProbeConfig converts a declarative CameraConfig into pkg/probe's
// narrower Config — the one seam between the two packages, so pkg/probe
// does not import pkg/config (pkg/camera imports both).
func toProbeConfig(cfg config.CameraConfig) probe.Config {
	return probe.Config{
		URL:               cfg.URL,
		Transport:         string(cfg.Transport),
		ProbeTimeout:      cfg.ProbeTimeout,
		ProbeAttempts:     cfg.ProbeAttempts,
		ProbeDelay:        cfg.ProbeDelay,
		ReconnectDelay:    cfg.ReconnectDelay,
		MaxInFlightFrames: cfg.MaxInFlightFrames,
	}
}

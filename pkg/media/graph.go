// Package media implements C2 MediaGraph and C3 PeerBranch: the per-camera
// GStreamer encode pipeline and its per-viewer tee branches. Grounded on
// helixml-helix's api/pkg/desktop/gst_pipeline.go for the go-gst plumbing
// (pipeline-from-string, named-element lookup, appsink callbacks, bus
// watch) generalized from a single fixed capture pipeline to this spec's
// appsrc→encoder→tee topology with live branch attach/detach.
package media

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/lattice-edge/camerad/pkg/dmabuf"
	"github.com/lattice-edge/camerad/pkg/probe"
)

var gstInitOnce sync.Once

func initGst() {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
}

// Graph is C2 MediaGraph: the per-camera encode pipeline shared by every
// attached viewer. READY while no PeerBranch is attached; transitions to
// PLAYING only while at least one is, per spec §4.2's power/thermal
// rationale — no hardware encoder running with nobody watching.
type Graph struct {
	name   string
	logger *slog.Logger

	startTime time.Time

	// framesPushed/framesDropped back CameraManager.Stats. Grounded on
	// camsRelay relay.go's videoFrameCount/videoPacketCount atomics.
	framesPushed  atomic.Uint64
	framesDropped atomic.Uint64

	mu       sync.Mutex
	pipeline *gst.Pipeline
	appsrc   *app.Source
	tee      *gst.Element
	branches map[string]*Branch
	closed   bool
}

// NewGraph builds the static encode topology for one camera from its probed
// codec/geometry. The pipeline is set to READY here; PushFrame drops every
// frame and the pipeline is never set PLAYING until the first Attach.
func NewGraph(name string, result probe.ProbeResult, logger *slog.Logger) (*Graph, error) {
	initGst()

	desc := pipelineDescription(result)
	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("media: parse graph pipeline: %w", err)
	}

	srcElem, err := pipeline.GetElementByName("src")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("media: find appsrc: %w", err)
	}
	appsrc := app.SrcFromElement(srcElem)
	if appsrc == nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("media: src element is not an appsrc")
	}

	tee, err := pipeline.GetElementByName("t")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("media: find tee: %w", err)
	}

	if err := pipeline.SetState(gst.StateReady); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("media: set graph ready: %w", err)
	}

	g := &Graph{
		name:      name,
		logger:    logger,
		startTime: time.Now(),
		pipeline:  pipeline,
		appsrc:    appsrc,
		tee:       tee,
		branches:  make(map[string]*Branch),
	}
	go g.watchBus()
	return g, nil
}

// PushFrame hands one decoded frame to the encoder. Per spec §4.2: dropped
// immediately (descriptor closed) if no branch is attached, and dropped —
// not requeued — if the encoder backpressures.
func (g *Graph) PushFrame(frame *dmabuf.Frame) {
	g.mu.Lock()
	attached := len(g.branches) > 0
	g.mu.Unlock()

	if !attached {
		frame.Close()
		g.framesDropped.Add(1)
		return
	}

	pts := frame.PTS
	data, err := frame.Read()
	frame.Close()
	if err != nil {
		g.logger.Warn("media: drop frame, read failed", "camera", g.name, "error", err)
		g.framesDropped.Add(1)
		return
	}

	buf := gst.NewBufferWithSize(int64(len(data)))
	if mapInfo := buf.Map(gst.MapWrite); mapInfo != nil {
		copy(mapInfo.Bytes(), data)
		buf.Unmap()
	}
	buf.SetPresentationTimestamp(gst.ClockTime(pts))

	if ret := g.appsrc.PushBuffer(buf); ret != gst.FlowOK {
		g.logger.Debug("media: encoder backpressure, frame dropped", "camera", g.name, "flow", ret)
		g.framesDropped.Add(1)
		return
	}
	g.framesPushed.Add(1)
}

func (g *Graph) watchBus() {
	bus := g.pipeline.GetPipelineBus()
	if bus == nil {
		return
	}
	for {
		g.mu.Lock()
		closed := g.closed
		g.mu.Unlock()
		if closed {
			return
		}

		msg := bus.TimedPop(gst.ClockTime(250 * time.Millisecond))
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			if gerr := msg.ParseError(); gerr != nil {
				g.logger.Error("media: pipeline error", "camera", g.name, "error", gerr.Error())
			}
		case gst.MessageWarning:
			if gwarn := msg.ParseWarning(); gwarn != nil {
				g.logger.Warn("media: pipeline warning", "camera", g.name, "warning", gwarn.Error())
			}
		}
	}
}

// branchCount reports the number of attached viewers, used by CameraManager
// stats reporting.
func (g *Graph) branchCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.branches)
}

// Stats reports this graph's encode-side counters for CameraManager.Stats.
func (g *Graph) Stats() GraphStats {
	return GraphStats{
		Uptime:        time.Since(g.startTime),
		PeerCount:     g.branchCount(),
		FramesPushed:  g.framesPushed.Load(),
		FramesDropped: g.framesDropped.Load(),
	}
}

// GraphStats is the encode-pipeline slice of CameraManager.Stats' per-camera
// report.
type GraphStats struct {
	Uptime        time.Duration
	PeerCount     int
	FramesPushed  uint64
	FramesDropped uint64
}

// Close tears down every branch and stops the pipeline.
func (g *Graph) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	clientIDs := make([]string, 0, len(g.branches))
	for id := range g.branches {
		clientIDs = append(clientIDs, id)
	}
	g.mu.Unlock()

	for _, id := range clientIDs {
		_ = g.Detach(id)
	}
	return g.pipeline.SetState(gst.StateNull)
}

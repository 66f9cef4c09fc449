package media

import (
	"fmt"
	"log/slog"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	camlog "github.com/lattice-edge/camerad/pkg/logger"
	"github.com/lattice-edge/camerad/pkg/webrtcio"
)

// queue leaky modes, matching the gst base "queue" element's GstQueueLeaky
// enum (0=no, 1=upstream, 2=downstream).
const queueLeakyDownstream = 2

// Branch is C3 PeerBranch: one viewer's tee pad → queue → appsink → WebRTC
// track. Grounded on spec §4.3's three-phase attach and reverse-order
// detach, and on camsRelay bridge.go's track lifecycle for the WebRTC half
// (delegated to pkg/webrtcio).
type Branch struct {
	clientID string
	logger   *slog.Logger

	pad       *gst.Pad
	queueElem *gst.Element
	sinkElem  *gst.Element
	appsink   *app.Sink
	track     *webrtcio.Track
}

// Attach performs the three-phase live graph edit spec §4.3/§9 describe:
// allocate a tee request pad, build the queue→appsink subgraph (elements
// start in GStreamer's NULL state), link pad → queue → appsink, then sync
// the new elements' state to the (now-PLAYING) pipeline. Any failure tears
// down the partial subgraph and returns an error so the caller
// (SessionController) can transition to CLOSED with BranchAttachFailed.
func (g *Graph) Attach(clientID string, pc *webrtc.PeerConnection) (*Branch, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.branches[clientID]; exists {
		return nil, fmt.Errorf("media: branch %q already attached", clientID)
	}

	track, err := webrtcio.NewTrack(pc, g.name, clientID, g.logger)
	if err != nil {
		return nil, fmt.Errorf("media: create webrtc track: %w", err)
	}

	pad := g.tee.GetRequestPad("src_%u")
	if pad == nil {
		track.Close()
		return nil, fmt.Errorf("media: tee refused a request pad")
	}

	queueElem, err := gst.NewElementWithName("queue", "branch-queue-"+clientID)
	if err != nil {
		g.tee.ReleaseRequestPad(pad)
		track.Close()
		return nil, fmt.Errorf("media: create branch queue: %w", err)
	}
	queueElem.SetProperty("leaky", queueLeakyDownstream)
	queueElem.SetProperty("max-size-buffers", uint(60))
	queueElem.SetProperty("max-size-bytes", uint(0))
	queueElem.SetProperty("max-size-time", uint64(0))

	sinkElem, err := gst.NewElementWithName("appsink", "branch-sink-"+clientID)
	if err != nil {
		g.tee.ReleaseRequestPad(pad)
		track.Close()
		return nil, fmt.Errorf("media: create branch appsink: %w", err)
	}
	appsink := app.SinkFromElement(sinkElem)
	if appsink == nil {
		g.tee.ReleaseRequestPad(pad)
		track.Close()
		return nil, fmt.Errorf("media: branch sink element is not an appsink")
	}
	appsink.SetProperty("emit-signals", true)
	appsink.SetProperty("sync", false)
	appsink.SetProperty("drop", true)
	appsink.SetProperty("max-buffers", uint(30))

	branch := &Branch{
		clientID:  clientID,
		logger:    g.logger,
		pad:       pad,
		queueElem: queueElem,
		sinkElem:  sinkElem,
		appsink:   appsink,
		track:     track,
	}
	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: branch.onSample,
	})

	fail := func(stage string, cause error) (*Branch, error) {
		g.pipeline.Remove(queueElem)
		g.pipeline.Remove(sinkElem)
		g.tee.ReleaseRequestPad(pad)
		track.Close()
		return nil, fmt.Errorf("media: attach branch %s: %s: %w", clientID, stage, cause)
	}

	if err := g.pipeline.Add(queueElem); err != nil {
		return fail("add queue to pipeline", err)
	}
	if err := g.pipeline.Add(sinkElem); err != nil {
		return fail("add appsink to pipeline", err)
	}
	if err := queueElem.Link(sinkElem); err != nil {
		return fail("link queue to appsink", err)
	}

	queueSinkPad := queueElem.GetStaticPad("sink")
	if queueSinkPad == nil {
		return fail("get queue sink pad", fmt.Errorf("queue has no static sink pad"))
	}
	if linkRet := pad.Link(queueSinkPad); linkRet != gst.PadLinkOK {
		return fail("link tee pad to queue", fmt.Errorf("pad link returned %v", linkRet))
	}

	if len(g.branches) == 0 {
		if err := g.pipeline.SetState(gst.StatePlaying); err != nil {
			return fail("set graph playing", err)
		}
	}

	if err := queueElem.SyncStateWithParent(); err != nil {
		return fail("sync queue state", err)
	}
	if err := sinkElem.SyncStateWithParent(); err != nil {
		return fail("sync appsink state", err)
	}

	g.branches[clientID] = branch
	camlog.DebugGst("branch attached", "camera", g.name, "client_id", clientID)
	return branch, nil
}

// onSample pulls one RTP-payloaded buffer off the branch's appsink — each
// buffer leaving rtph264pay is a complete serialized RTP packet — and
// forwards it onto the viewer's WebRTC track.
func (b *Branch) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return gst.FlowOK
	}
	data := make([]byte, len(mapInfo.Bytes()))
	copy(data, mapInfo.Bytes())
	buffer.Unmap()

	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		b.logger.Debug("media: drop malformed rtp buffer", "client_id", b.clientID, "error", err)
		return gst.FlowOK
	}
	if err := b.track.WriteRTP(&pkt); err != nil {
		b.logger.Debug("media: write rtp to track failed", "client_id", b.clientID, "error", err)
	}
	return gst.FlowOK
}

// Detach reverses Attach: sub-elements to NULL, unlink, remove from the
// graph, release the tee src pad. The branch can be removed while the rest
// of the graph keeps PLAYING — the critical live-reconfiguration property
// spec §4.3 calls for — and the graph drops back to READY only once the
// last branch is gone.
func (g *Graph) Detach(clientID string) error {
	g.mu.Lock()
	branch, ok := g.branches[clientID]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("media: branch %q not attached", clientID)
	}
	delete(g.branches, clientID)
	remaining := len(g.branches)
	g.mu.Unlock()

	branch.queueElem.SetState(gst.StateNull)
	branch.sinkElem.SetState(gst.StateNull)

	if queueSinkPad := branch.queueElem.GetStaticPad("sink"); queueSinkPad != nil {
		branch.pad.Unlink(queueSinkPad)
	}

	g.pipeline.Remove(branch.queueElem)
	g.pipeline.Remove(branch.sinkElem)
	g.tee.ReleaseRequestPad(branch.pad)

	if err := branch.track.Close(); err != nil {
		g.logger.Debug("media: closing webrtc track", "client_id", clientID, "error", err)
	}

	camlog.DebugGst("branch detached", "camera", g.name, "client_id", clientID, "remaining", remaining)

	if remaining == 0 {
		if err := g.pipeline.SetState(gst.StateReady); err != nil {
			return fmt.Errorf("media: return graph to ready: %w", err)
		}
	}
	return nil
}

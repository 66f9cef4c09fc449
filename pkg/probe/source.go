package probe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"github.com/pion/rtp"

	"github.com/lattice-edge/camerad/pkg/dmabuf"
)

// Config carries the probe-relevant knobs from a camera's declarative
// configuration — deliberately narrow so pkg/probe doesn't import
// pkg/config; pkg/camera, which imports both, converts between them.
type Config struct {
	URL            string
	Transport      string // "tcp" | "udp"
	ProbeTimeout   time.Duration
	ProbeAttempts  int
	ProbeDelay     time.Duration
	ReconnectDelay time.Duration

	// MaxInFlightFrames bounds the Frames() channel: once this many decoded
	// frames are queued waiting on the MediaGraph, onDecodedSample drops the
	// newest rather than blocking the decoder thread (spec §3).
	MaxInFlightFrames int
}

// defaultMaxInFlightFrames applies when a Config is built without going
// through pkg/config (e.g. directly in tests).
const defaultMaxInFlightFrames = 8

// FrameSource is C1: it owns the RTSP session and a decode pipeline that
// turns the camera's elementary stream into NV12 DMA-BUF-backed frames for
// the MediaGraph's appsrc. Grounded on helixml-helix's GstPipeline
// (appsink NewSampleFunc callback, buffer mapping, bus watch loop) for the
// go-gst plumbing, combined with the RTSP wire protocol in client.go.
type FrameSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	client   *Client
	pipeline *gst.Pipeline
	appsrc   *app.Source
	appsink  *app.Sink

	result   ProbeResult
	resultMu sync.Mutex

	startTime time.Time

	// framesDecoded/framesDropped back CameraManager.Stats.
	framesDecoded atomic.Uint64
	framesDropped atomic.Uint64

	frames      chan *dmabuf.Frame
	reconnectCh chan struct{}
	running     atomic.Bool
	stopCh      chan struct{}
	stopped     atomic.Bool
}

// NewFrameSource constructs a FrameSource for one camera. The pipeline is
// not built until Start succeeds its first probe attempt.
func NewFrameSource(cfg Config, logger *slog.Logger) *FrameSource {
	capacity := cfg.MaxInFlightFrames
	if capacity <= 0 {
		capacity = defaultMaxInFlightFrames
	}
	return &FrameSource{
		cfg:         cfg,
		logger:      logger,
		startTime:   time.Now(),
		frames:      make(chan *dmabuf.Frame, capacity),
		reconnectCh: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
}

// Frames returns the channel of steady-state decoded frames. The channel is
// never closed, not even by Close — reconnects are transparent to the consumer (spec §4.1:
// "upstream consumers see an uninterrupted EncodedFrame lazy sequence with a
// gap in timestamps, never an error").
func (fs *FrameSource) Frames() <-chan *dmabuf.Frame {
	return fs.frames
}

// Result returns the last successful ProbeResult.
func (fs *FrameSource) Result() ProbeResult {
	fs.resultMu.Lock()
	defer fs.resultMu.Unlock()
	return fs.result
}

// Stats reports this source's decode-side counters for CameraManager.Stats.
func (fs *FrameSource) Stats() SourceStats {
	fs.mu.Lock()
	client := fs.client
	fs.mu.Unlock()

	var packets uint64
	if client != nil {
		packets = client.PacketCount()
	}

	return SourceStats{
		Uptime:        time.Since(fs.startTime),
		VideoPackets:  packets,
		FramesDecoded: fs.framesDecoded.Load(),
		FramesDropped: fs.framesDropped.Load(),
	}
}

// SourceStats is the decode-side slice of CameraManager.Stats' per-camera
// report.
type SourceStats struct {
	Uptime        time.Duration
	VideoPackets  uint64
	FramesDecoded uint64
	FramesDropped uint64
}

// Start probes the source (bounded attempts, per-attempt timeout, inter-attempt
// delay, per spec §4.1/§5) and, once ready, launches the steady-state
// read/decode/reconnect supervisor in the background. Start returns once the
// first successful probe completes, or with ErrSourceUnreachable /
// ErrUnsupportedCodec if it never does.
func (fs *FrameSource) Start(ctx context.Context) error {
	if err := fs.probeAndRun(ctx); err != nil {
		return err
	}
	go fs.supervise(ctx)
	return nil
}

func (fs *FrameSource) probeAndRun(ctx context.Context) error {
	return retryProbe(ctx, fs.cfg.ProbeAttempts, fs.cfg.ProbeTimeout, fs.cfg.ProbeDelay, fs.attempt)
}

// attempt performs one probe+play cycle: connect, recognize the codec,
// build the decode pipeline, start streaming, and wait for the pipeline's
// own capability event (real width/height/framerate, not an SDP guess).
func (fs *FrameSource) attempt(ctx context.Context) error {
	client := NewClient(fs.cfg.URL, fs.cfg.Transport, fs.logger)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrProbeTimeout, err)
	}

	videoCh, ok := client.VideoChannel()
	if !ok {
		client.Close()
		return &ErrUnsupportedCodec{Encoding: "none (no video substream)"}
	}
	if videoCh.Codec != CodecH264 && videoCh.Codec != CodecH265 {
		client.Close()
		return &ErrUnsupportedCodec{Encoding: string(videoCh.Codec)}
	}

	if err := client.SetupTracks(); err != nil {
		client.Close()
		return fmt.Errorf("%w: %w", ErrProbeTimeout, err)
	}

	pipeline, appsrc, appsink, err := buildDecodePipeline(videoCh.Codec)
	if err != nil {
		client.Close()
		return fmt.Errorf("build decode pipeline: %w", err)
	}

	readyCh := make(chan ProbeResult, 1)
	var once sync.Once

	appsink.SetProperty("emit-signals", true)
	appsink.SetProperty("max-buffers", uint(4))
	appsink.SetProperty("drop", true)
	appsink.SetProperty("sync", false)
	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return fs.onDecodedSample(sink, videoCh.Codec, readyCh, &once)
		},
	})

	depacketizer := newDepacketizer(videoCh.Codec)
	client.OnRTPPacket = func(channel byte, pkt *rtp.Packet) {
		if channel != videoCh.ID {
			return
		}
		nalu, err := depacketizer.Unmarshal(pkt.Payload)
		if err != nil || len(nalu) == 0 {
			return
		}
		buf := newGstBuffer(nalu, time.Duration(pkt.Timestamp)*time.Second/90000)
		appsrc.PushBuffer(buf)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		client.Close()
		return fmt.Errorf("set decode pipeline playing: %w", err)
	}

	if err := client.Play(ctx); err != nil {
		pipeline.SetState(gst.StateNull)
		client.Close()
		return fmt.Errorf("%w: %w", ErrProbeTimeout, err)
	}

	readErrCh := make(chan error, 1)
	go func() { readErrCh <- client.ReadPackets(ctx) }()

	select {
	case result := <-readyCh:
		fs.mu.Lock()
		fs.client = client
		fs.pipeline = pipeline
		fs.appsrc = appsrc
		fs.appsink = appsink
		fs.mu.Unlock()

		fs.resultMu.Lock()
		fs.result = result
		fs.resultMu.Unlock()

		go fs.watchBus(ctx, pipeline)
		go fs.drainReadLoop(readErrCh)
		return nil
	case err := <-readErrCh:
		pipeline.SetState(gst.StateNull)
		client.Close()
		return fmt.Errorf("%w: %w", ErrProbeTimeout, err)
	case <-ctx.Done():
		pipeline.SetState(gst.StateNull)
		client.Close()
		return ctx.Err()
	}
}

// supervise is the steady-state reconnect loop: when the active read loop
// or pipeline dies, it tears down, waits reconnect_delay, and re-probes —
// never surfacing an error to Frames(), only a gap in PTS (spec §4.1).
func (fs *FrameSource) supervise(ctx context.Context) {
	fs.running.Store(true)
	defer fs.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return
		case <-fs.stopCh:
			return
		case <-fs.reconnectCh:
			fs.teardownLocked()

			select {
			case <-ctx.Done():
				return
			case <-fs.stopCh:
				return
			case <-time.After(fs.cfg.ReconnectDelay):
			}

			if err := fs.probeAndRun(ctx); err != nil {
				fs.logger.Warn("frame source reconnect failed, will retry", "error", err)
				fs.signalReconnect()
			}
		}
	}
}

func (fs *FrameSource) drainReadLoop(errCh <-chan error) {
	if err := <-errCh; err != nil {
		fs.logger.Warn("RTSP read loop ended", "error", err)
	}
	fs.signalReconnect()
}

func (fs *FrameSource) watchBus(ctx context.Context, pipeline *gst.Pipeline) {
	bus := pipeline.GetPipelineBus()
	if bus == nil {
		return
	}
	for fs.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-fs.stopCh:
			return
		default:
		}

		msg := bus.TimedPop(gst.ClockTime(200 * time.Millisecond))
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS, gst.MessageError:
			fs.signalReconnect()
			return
		}
	}
}

func (fs *FrameSource) signalReconnect() {
	select {
	case fs.reconnectCh <- struct{}{}:
	default:
	}
}

func (fs *FrameSource) teardownLocked() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.pipeline != nil {
		fs.pipeline.SetState(gst.StateNull)
		fs.pipeline = nil
	}
	if fs.client != nil {
		fs.client.Close()
		fs.client = nil
	}
}

// Close stops the source and releases the RTSP session and decode pipeline.
func (fs *FrameSource) Close() error {
	if !fs.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(fs.stopCh)
	fs.teardownLocked()
	return nil
}

package probe

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"github.com/pion/rtp/codecs"

	"github.com/lattice-edge/camerad/pkg/dmabuf"
)

var gstInitOnce sync.Once

func initGst() {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
}

// depacketizer turns RTP payloads for one access unit into an Annex-B NAL
// unit. H.264 and H.265 both use pion's own FU-A/FU reassembly rather than
// hand-rolled bit twiddling.
type depacketizer interface {
	Unmarshal(payload []byte) ([]byte, error)
}

func newDepacketizer(codec Codec) depacketizer {
	switch codec {
	case CodecH265:
		return &codecs.H265Packet{}
	default:
		return &codecs.H264Packet{}
	}
}

// buildDecodePipeline constructs the probe-time decode graph: feed Annex-B
// access units into appsrc, let the codec-specific parser + decodebin work
// out real geometry and framerate, and land NV12 frames in an appsink.
// Grounded on helixml-helix's NewGstPipeline/gst.NewPipelineFromString
// pattern; the pipeline description itself follows spec §4.1's named
// element list (appsrc, parse, decodebin, appsink).
func buildDecodePipeline(codec Codec) (*gst.Pipeline, *app.Source, *app.Sink, error) {
	initGst()

	var parseElem string
	switch codec {
	case CodecH265:
		parseElem = "h265parse"
	default:
		parseElem = "h264parse"
	}

	desc := fmt.Sprintf(
		"appsrc name=src format=time is-live=true do-timestamp=false ! "+
			"%s ! decodebin ! videoconvert ! video/x-raw,format=NV12 ! "+
			"appsink name=sink",
		parseElem,
	)

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse decode pipeline: %w", err)
	}

	srcElem, err := pipeline.GetElementByName("src")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, nil, nil, fmt.Errorf("find appsrc: %w", err)
	}
	appsrc := app.SrcFromElement(srcElem)
	if appsrc == nil {
		pipeline.SetState(gst.StateNull)
		return nil, nil, nil, fmt.Errorf("src element is not an appsrc")
	}

	sinkElem, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, nil, nil, fmt.Errorf("find appsink: %w", err)
	}
	appsink := app.SinkFromElement(sinkElem)
	if appsink == nil {
		pipeline.SetState(gst.StateNull)
		return nil, nil, nil, fmt.Errorf("sink element is not an appsink")
	}

	return pipeline, appsrc, appsink, nil
}

// newGstBuffer allocates a GStreamer buffer, copies nalu into it, and sets
// its presentation timestamp.
func newGstBuffer(nalu []byte, pts time.Duration) *gst.Buffer {
	buf := gst.NewBufferWithSize(int64(len(nalu)))
	if mapInfo := buf.Map(gst.MapWrite); mapInfo != nil {
		copy(mapInfo.Bytes(), nalu)
		buf.Unmap()
	}
	buf.SetPresentationTimestamp(gst.ClockTime(pts))
	return buf
}

// onDecodedSample pulls one decoded NV12 sample off the appsink. On the
// first call it reads the negotiated caps (real width/height/framerate,
// not an SDP guess) and signals readyCh exactly once; on every call it
// copies the frame's bytes into a dmabuf.Frame and forwards it
// non-blocking, matching the MediaGraph's backpressure contract (drop
// under load rather than stall the decoder thread).
func (fs *FrameSource) onDecodedSample(sink *app.Sink, codec Codec, readyCh chan ProbeResult, once *sync.Once) gst.FlowReturn {
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

	ptsDur := buffer.PresentationTimestamp().AsDuration()
	var pts time.Duration
	if ptsDur != nil {
		pts = *ptsDur
	}

	width, height := 0, 0
	fpsNum, fpsDen := 0, 0
	if caps := sample.GetCaps(); caps != nil {
		if s := caps.GetStructureAt(0); s != nil {
			if v, err := s.GetValue("width"); err == nil {
				if iv, ok := v.(int); ok {
					width = iv
				}
			}
			if v, err := s.GetValue("height"); err == nil {
				if iv, ok := v.(int); ok {
					height = iv
				}
			}
			if v, err := s.GetValue("framerate"); err == nil {
				if fr, ok := v.(gst.Fraction); ok {
					fpsNum, fpsDen = fr.Num, fr.Denom
				}
			}
		}
	}

	once.Do(func() {
		// A decoder that never negotiates a framerate (some MJPEG/variable-
		// rate sources) leaves fpsNum/fpsDen at zero here rather than
		// guessing — pipelineDescription is the one place that falls back,
		// and it says so.
		result := ProbeResult{
			Codec:  codec,
			Width:  width,
			Height: height,
			FPSNum: fpsNum,
			FPSDen: fpsDen,
			Ready:  width > 0 && height > 0 && fpsNum > 0 && fpsDen > 0,
		}
		select {
		case readyCh <- result:
		default:
		}
	})

	if width == 0 || height == 0 {
		return gst.FlowOK
	}

	// NV12: one luma plane (pitch=width), one interleaved chroma plane at
	// half vertical resolution, same pitch.
	planes := []dmabuf.Plane{
		{Offset: 0, Pitch: int64(width)},
		{Offset: int64(width * height), Pitch: int64(width)},
	}

	frame, err := dmabuf.New(width, height, dmabuf.FormatNV12, planes, pts, int64(len(data)))
	if err != nil {
		fs.logger.Debug("drop decoded sample: dmabuf alloc failed", "error", err)
		return gst.FlowOK
	}
	if err := frame.Write(data); err != nil {
		fs.logger.Debug("drop decoded sample: dmabuf write failed", "error", err)
		frame.Close()
		return gst.FlowOK
	}

	select {
	case fs.frames <- frame:
		fs.framesDecoded.Add(1)
	default:
		frame.Close()
		fs.framesDropped.Add(1)
	}

	return gst.FlowOK
}

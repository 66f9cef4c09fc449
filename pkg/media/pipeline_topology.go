package media

import (
	"fmt"

	"github.com/go-gst/go-gst/gst"

	"github.com/lattice-edge/camerad/pkg/probe"
)

// pipelineDescription builds the static per-camera encode topology named in
// spec §4.2: appsrc(DMA-BUF,NV12,WxH@FPS) → v4l2convert(dmabuf-import) →
// h264enc(hw) → h264parse → rtph264pay(pt=96,config-interval=1) → tee.
// Hardware elements are probed with gst.Find — the same availability check
// helixml-helix's CheckGstElement uses — and substituted with a software
// equivalent when absent, so the topology still runs on a devboard without
// the V4L2 M2M stack loaded. H.265 sources transcode to H.264 here (before
// the tee) since rtph264pay only payloads H.264 — the conservative default
// spec's Open Question settles on.
func pipelineDescription(result probe.ProbeResult) string {
	convert := "videoconvert"
	if gst.Find("v4l2convert") != nil {
		convert = "v4l2convert"
	}

	// Encoder configuration is a fixed contract (spec §4.2): baseline/
	// constrained profile, level 3.1, closed GOPs keyed on demand, frame-
	// level rate control.
	encoder := "x264enc tune=zerolatency speed-preset=ultrafast " +
		"key-int-max=0 byte-stream=false profile=baseline"
	if gst.Find("v4l2h264enc") != nil {
		encoder = `v4l2h264enc extra-controls="controls,h264_profile=1,h264_level=9,h264_i_frame_period=0"`
	}

	fpsNum, fpsDen := result.FPSNum, result.FPSDen
	if fpsNum == 0 {
		fpsNum, fpsDen = 25, 1
	}

	return fmt.Sprintf(
		"appsrc name=src format=time is-live=true do-timestamp=false "+
			"caps=video/x-raw,format=NV12,width=%d,height=%d,framerate=%d/%d ! "+
			"%s ! %s ! h264parse config-interval=-1 ! "+
			"rtph264pay name=pay pt=96 config-interval=1 ! tee name=t",
		result.Width, result.Height, fpsNum, fpsDen, convert, encoder,
	)
}

// Package webrtcio holds the PeerBranch-side WebRTC primitives: one output
// track per viewer, fed by the MediaGraph's per-branch appsink.
package webrtcio

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Track wraps one viewer's outbound video track: a pion TrackLocalStaticRTP
// plus the RTCP reader goroutine that drains PLI/FIR/REMB feedback.
// Grounded on camsRelay's bridge.go track creation + startRTCPReaders,
// generalized from a single Cloudflare-bound track to N independently
// attachable per-viewer tracks. No pacer: PeerBranch's leaky-downstream
// queue element already smooths bursts before frames reach here, so the
// teacher's TCP-burst pacer has no job left to do (see DESIGN.md).
type Track struct {
	logger *slog.Logger
	local  *webrtc.TrackLocalStaticRTP
	sender *webrtc.RTPSender

	mu     sync.Mutex
	closed bool
}

// NewTrack creates a send-only H.264 track on pc and adds it, naming the
// track after the camera so a viewer juggling multiple cameras can tell
// streams apart.
func NewTrack(pc *webrtc.PeerConnection, cameraName, clientID string, logger *slog.Logger) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		fmt.Sprintf("%s-video", cameraName),
		fmt.Sprintf("camerad-%s", clientID),
	)
	if err != nil {
		return nil, fmt.Errorf("webrtcio: create track: %w", err)
	}

	sender, err := pc.AddTrack(local)
	if err != nil {
		return nil, fmt.Errorf("webrtcio: add track: %w", err)
	}

	t := &Track{
		logger: logger,
		local:  local,
		sender: sender,
	}
	go t.readRTCP()
	return t, nil
}

// WriteRTP forwards one RTP packet onto the track. A closed track is a
// no-op, matching the teacher's "track closed gracefully" handling.
func (t *Track) WriteRTP(pkt *rtp.Packet) error {
	if err := t.local.WriteRTP(pkt); err != nil {
		if err == io.ErrClosedPipe {
			return nil
		}
		return err
	}
	return nil
}

// readRTCP drains PLI/FIR/REMB feedback until the sender is stopped.
// Grounded on camsRelay bridge.go's readRTCP; this rework only logs
// feedback rather than acting on it, same as the teacher.
func (t *Track) readRTCP() {
	for {
		packets, _, err := t.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			switch pkt := packet.(type) {
			case *rtcp.PictureLossIndication:
				t.logger.Debug("rtcp PLI received", "media_ssrc", pkt.MediaSSRC)
			case *rtcp.FullIntraRequest:
				t.logger.Debug("rtcp FIR received", "media_ssrc", pkt.MediaSSRC)
			case *rtcp.ReceiverEstimatedMaximumBitrate:
				t.logger.Debug("rtcp REMB received", "bitrate_bps", pkt.Bitrate)
			}
		}
	}
}

// Close stops the RTP sender, which in turn ends the RTCP reader goroutine.
func (t *Track) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.sender.Stop()
}

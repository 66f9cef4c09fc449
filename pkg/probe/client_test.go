package probe

import (
	"errors"
	"log/slog"
	"testing"
)

func newTestClient() *Client {
	return NewClient("rtsp://example.invalid/stream", "tcp", slog.Default())
}

func TestParseSDPRecognizesH264Video(t *testing.T) {
	sdp := "v=0\r\n" +
		"m=video 0 RTP/AVP 96\r\n" +
		"a=rtpmap:96 H264/90000\r\n" +
		"a=control:trackID=1\r\n"

	c := newTestClient()
	if err := c.parseSDP(sdp); err != nil {
		t.Fatalf("parseSDP: %v", err)
	}

	ch, ok := c.VideoChannel()
	if !ok {
		t.Fatal("expected a video channel")
	}
	if ch.Codec != CodecH264 {
		t.Errorf("codec = %q, want H264", ch.Codec)
	}
	if ch.PayloadType != 96 {
		t.Errorf("payload type = %d, want 96", ch.PayloadType)
	}
	if ch.Control != "trackID=1" {
		t.Errorf("control = %q, want trackID=1", ch.Control)
	}
}

func TestParseSDPRecognizesH265AsHEVC(t *testing.T) {
	sdp := "v=0\r\n" +
		"m=video 0 RTP/AVP 97\r\n" +
		"a=rtpmap:97 HEVC/90000\r\n" +
		"a=control:trackID=1\r\n"

	c := newTestClient()
	if err := c.parseSDP(sdp); err != nil {
		t.Fatalf("parseSDP: %v", err)
	}

	ch, ok := c.VideoChannel()
	if !ok {
		t.Fatal("expected a video channel")
	}
	if ch.Codec != CodecH265 {
		t.Errorf("codec = %q, want H265", ch.Codec)
	}
}

func TestParseSDPRejectsUnsupportedVideoCodec(t *testing.T) {
	sdp := "v=0\r\n" +
		"m=video 0 RTP/AVP 98\r\n" +
		"a=rtpmap:98 MP4V-ES/90000\r\n" +
		"a=control:trackID=1\r\n"

	c := newTestClient()
	err := c.parseSDP(sdp)
	if err == nil {
		t.Fatal("expected an error for an unsupported video codec")
	}

	var unsupported *ErrUnsupportedCodec
	if !errors.As(err, &unsupported) {
		t.Fatalf("error = %v, want *ErrUnsupportedCodec", err)
	}
	if unsupported.Encoding != "MP4V-ES" {
		t.Errorf("encoding = %q, want MP4V-ES", unsupported.Encoding)
	}
}

func TestParseSDPToleratesUnsupportedAudioAndKeepsVideo(t *testing.T) {
	sdp := "v=0\r\n" +
		"m=video 0 RTP/AVP 96\r\n" +
		"a=rtpmap:96 H264/90000\r\n" +
		"a=control:trackID=1\r\n" +
		"m=audio 0 RTP/AVP 0\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n" +
		"a=control:trackID=2\r\n"

	c := newTestClient()
	if err := c.parseSDP(sdp); err != nil {
		t.Fatalf("parseSDP should not fail on an unsupported audio track: %v", err)
	}

	ch, ok := c.VideoChannel()
	if !ok {
		t.Fatal("expected a video channel despite the unsupported audio track")
	}
	if ch.Codec != CodecH264 {
		t.Errorf("codec = %q, want H264", ch.Codec)
	}
}

func TestRtpmapCodec(t *testing.T) {
	cases := []struct {
		line      string
		wantPT    uint8
		wantCodec Codec
		wantErr   bool
	}{
		{"a=rtpmap:96 H264/90000", 96, CodecH264, false},
		{"a=rtpmap:97 H265/90000", 97, CodecH265, false},
		{"a=rtpmap:98 HEVC/90000", 98, CodecH265, false},
		{"a=rtpmap:0 PCMU/8000", 0, CodecUnknown, true},
		{"a=rtpmap:malformed", 0, CodecUnknown, true},
	}

	for _, tc := range cases {
		pt, codec, err := rtpmapCodec(tc.line)
		if (err != nil) != tc.wantErr {
			t.Errorf("%q: err = %v, wantErr %v", tc.line, err, tc.wantErr)
		}
		if pt != tc.wantPT {
			t.Errorf("%q: pt = %d, want %d", tc.line, pt, tc.wantPT)
		}
		if codec != tc.wantCodec {
			t.Errorf("%q: codec = %q, want %q", tc.line, codec, tc.wantCodec)
		}
	}
}

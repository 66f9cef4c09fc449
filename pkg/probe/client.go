// Package probe implements C1 FrameSource: RTSP capability probing and
// steady-state encoded-access-unit delivery. The wire protocol is grounded
// directly on a hand-rolled RTSP client — OPTIONS/DESCRIBE/SETUP/PLAY over a
// raw net.Conn, Content-Base handling, and the "$"-framed interleaved
// RTP/RTCP read loop — generalized to recognize H.264/H.265 via SDP
// rtpmap instead of assuming one vendor's camera quirks.
package probe

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	camlog "github.com/lattice-edge/camerad/pkg/logger"
)

// Channel is one SDP media substream mapped onto an interleaved RTP/RTCP
// channel pair.
type Channel struct {
	ID          byte
	MediaType   string // "video" or "audio"
	Control     string
	PayloadType uint8
	Codec       Codec
}

// Client is a minimal RTSP client scoped to what FrameSource needs: describe
// the stream, set up the video track over interleaved TCP (a UDP preference
// also gets interleaved TCP), and stream RTP packets.
type Client struct {
	url       string
	baseURL   string
	transport string // "tcp" or "udp"
	logger    *slog.Logger

	conn    net.Conn
	reader  *bufio.Reader
	session string
	cseq    int

	Channels map[byte]*Channel

	keepaliveInterval time.Duration
	keepaliveCancel   context.CancelFunc

	writeMu sync.Mutex

	packetCount atomic.Uint64

	OnRTPPacket func(channel byte, packet *rtp.Packet)
}

// PacketCount returns the number of RTP video packets read so far, for
// CameraManager.Stats.
func (c *Client) PacketCount() uint64 {
	return c.packetCount.Load()
}

// NewClient creates an RTSP client for rtspURL, preferring the given
// transport for SETUP ("tcp" or "udp"; only "tcp" interleaved delivery is
// implemented — UDP preference falls back to interleaved TCP, logged once).
func NewClient(rtspURL, transport string, logger *slog.Logger) *Client {
	if transport == "udp" {
		logger.Warn("RTSP UDP transport is not implemented, using interleaved TCP")
	}
	return &Client{
		url:               rtspURL,
		transport:         transport,
		logger:            logger,
		Channels:          make(map[byte]*Channel),
		keepaliveInterval: 25 * time.Second,
	}
}

// Connect dials the RTSP server and performs OPTIONS + DESCRIBE, populating
// Channels with the recognized media tracks.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("parse URL: %w", err)
	}

	var username, password string
	if u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}

	port := u.Port()
	if port == "" {
		if u.Scheme == "rtsps" {
			port = "443"
		} else {
			port = "554"
		}
	}
	host := u.Hostname()
	addr := net.JoinHostPort(host, port)

	c.logger.Info("connecting to RTSP source", "scheme", u.Scheme, "host", host, "port", port)

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	var conn net.Conn
	if u.Scheme == "rtsps" {
		tlsConfig := &tls.Config{ServerName: host}
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	} else if tlsConn, ok := conn.(*tls.Conn); ok {
		if tcpConn, ok := tlsConn.NetConn().(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}
	}

	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, 65536)

	c.logger.Info("connected to RTSP source", "remote_addr", conn.RemoteAddr())

	if err := c.options(); err != nil {
		return fmt.Errorf("OPTIONS: %w", err)
	}
	if err := c.describe(username, password); err != nil {
		return fmt.Errorf("DESCRIBE: %w", err)
	}
	return nil
}

// VideoChannel returns the first recognized video channel, or ok=false if
// the DESCRIBE response carried no video/H264/H265 substream — callers
// should surface ErrUnsupportedCodec in that case.
func (c *Client) VideoChannel() (*Channel, bool) {
	for id, ch := range c.Channels {
		if id%2 == 0 && ch.MediaType == "video" && (ch.Codec == CodecH264 || ch.Codec == CodecH265) {
			return ch, true
		}
	}
	return nil, false
}

// SetupTracks sends SETUP for every recognized channel.
func (c *Client) SetupTracks() error {
	for channelID, ch := range c.Channels {
		if channelID%2 != 0 {
			continue // RTCP companion, set up alongside its RTP channel
		}
		if err := c.setupTrack(channelID, ch); err != nil {
			return fmt.Errorf("setup track %d: %w", channelID, err)
		}
	}
	return nil
}

// Play issues PLAY and starts the keepalive goroutine. The PLAY response
// itself is consumed inline in ReadPackets, since cameras begin pushing RTP
// immediately after replying.
func (c *Client) Play(ctx context.Context) error {
	playURL := c.baseURL
	if u, err := url.Parse(playURL); err == nil {
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		playURL = u.String()
	}

	req := c.newRequest("PLAY", playURL)
	req.Header["Range"] = "npt=0.000-"

	if err := c.writeRequest(req); err != nil {
		return fmt.Errorf("PLAY: %w", err)
	}

	c.startKeepalive(ctx)
	return nil
}

func (c *Client) startKeepalive(ctx context.Context) {
	keepaliveCtx, cancel := context.WithCancel(ctx)
	c.keepaliveCancel = cancel

	go func() {
		ticker := time.NewTicker(c.keepaliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-keepaliveCtx.Done():
				return
			case <-ticker.C:
				req := c.newRequest("OPTIONS", c.url)
				if err := c.writeRequest(req); err != nil {
					c.logger.Warn("keepalive OPTIONS write failed", "error", err)
					return
				}
			}
		}
	}()
}

// ReadPackets reads the "$"-framed interleaved RTP/RTCP stream until ctx is
// cancelled or the connection is lost. RTSP responses interleaved with media
// data (keepalive OPTIONS replies) are consumed and discarded.
func (c *Client) ReadPackets(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		buf4, err := c.reader.Peek(4)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("peek: %w", err)
		}

		if buf4[0] != '$' {
			if string(buf4) == "RTSP" {
				if _, err := c.readResponseNoDeadline(); err != nil {
					return fmt.Errorf("read interleaved RTSP response: %w", err)
				}
				continue
			}
			if _, err := c.reader.ReadByte(); err != nil {
				return fmt.Errorf("discard unexpected byte: %w", err)
			}
			continue
		}

		channel := buf4[1]
		size := binary.BigEndian.Uint16(buf4[2:4])

		if _, err := c.reader.Discard(4); err != nil {
			return fmt.Errorf("discard header: %w", err)
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(c.reader, payload); err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return fmt.Errorf("read payload: %w", err)
		}

		if channel%2 == 0 {
			packet := &rtp.Packet{}
			if err := packet.Unmarshal(payload); err != nil {
				c.logger.Warn("failed to unmarshal RTP packet", "channel", channel, "error", err)
				continue
			}
			camlog.DebugRTPPacket(packet.SequenceNumber, packet.Timestamp, packet.PayloadType, len(packet.Payload))
			if c.OnRTPPacket != nil {
				c.OnRTPPacket(channel, packet)
			}
			c.packetCount.Add(1)
		}
	}
}

// Close sends TEARDOWN and releases the connection.
func (c *Client) Close() error {
	if c.keepaliveCancel != nil {
		c.keepaliveCancel()
		c.keepaliveCancel = nil
	}
	if c.conn != nil {
		req := c.newRequest("TEARDOWN", c.url)
		_ = c.writeRequest(req)
		return c.conn.Close()
	}
	return nil
}

func (c *Client) options() error {
	req := c.newRequest("OPTIONS", c.url)
	_, err := c.do(req)
	return err
}

func (c *Client) describe(username, password string) error {
	req := c.newRequest("DESCRIBE", c.url)
	req.Header["Accept"] = "application/sdp"

	if username != "" {
		auth := username + ":" + password
		req.Header["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(auth))
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}

	if contentBase := resp.Header["Content-Base"]; contentBase != "" {
		c.baseURL = strings.TrimSpace(contentBase)
	} else {
		c.baseURL = c.url
	}

	return c.parseSDP(string(resp.Body))
}

// parseSDP extracts m= media lines, a=rtpmap codec identifiers, and
// a=control attributes into Channels. Unsupported codecs are recorded with
// CodecUnknown rather than aborting the parse, so a camera offering both a
// supported video track and an unsupported audio track still probes
// successfully (audio is out of scope per spec Non-goals).
func (c *Client) parseSDP(sdp string) error {
	lines := strings.Split(sdp, "\n")
	var channelID byte

	var videoUnsupportedErr error

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "m=") {
			parts := strings.Fields(line)
			if len(parts) < 4 {
				continue
			}
			mediaType := parts[0][2:]
			var pt uint8
			if v, err := strconv.Atoi(parts[3]); err == nil {
				pt = uint8(v)
			}
			c.Channels[channelID] = &Channel{
				ID:          channelID,
				MediaType:   mediaType,
				PayloadType: pt,
			}
			channelID += 2
			continue
		}

		if strings.HasPrefix(line, "a=rtpmap:") {
			pt, codec, err := rtpmapCodec(line)
			for _, ch := range c.Channels {
				if ch.PayloadType == pt {
					ch.Codec = codec
					if ch.MediaType == "video" && err != nil {
						var unsupported *ErrUnsupportedCodec
						if errors.As(err, &unsupported) {
							videoUnsupportedErr = err
						}
					}
				}
			}
			continue
		}

		if strings.HasPrefix(line, "a=control:") {
			control := strings.TrimPrefix(line, "a=control:")
			if channelID >= 2 {
				if ch, ok := c.Channels[channelID-2]; ok {
					ch.Control = control
				}
			}
		}
	}

	if _, ok := c.VideoChannel(); !ok && videoUnsupportedErr != nil {
		return videoUnsupportedErr
	}
	return nil
}

func (c *Client) setupTrack(channelID byte, ch *Channel) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}
	if !strings.HasPrefix(ch.Control, "rtsp://") && !strings.HasPrefix(ch.Control, "rtsps://") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(ch.Control, "/")
	} else {
		u, err = url.Parse(ch.Control)
		if err != nil {
			return fmt.Errorf("parse control url: %w", err)
		}
	}

	req := c.newRequest("SETUP", u.String())
	req.Header["Transport"] = fmt.Sprintf("RTP/AVP/TCP;unicast;interleaved=%d-%d", channelID, channelID+1)

	resp, err := c.do(req)
	if err != nil {
		return err
	}

	if c.session == "" {
		if session := resp.Header["Session"]; session != "" {
			if idx := strings.IndexByte(session, ';'); idx > 0 {
				c.session = session[:idx]
			} else {
				c.session = session
			}
		}
	}

	return nil
}

func (c *Client) newRequest(method, rawURL string) *Request {
	c.cseq++
	return &Request{Method: method, URL: rawURL, Header: make(map[string]string), CSeq: c.cseq}
}

func (c *Client) do(req *Request) (*Response, error) {
	if err := c.writeRequest(req); err != nil {
		return nil, err
	}
	return c.readResponse()
}

func (c *Client) writeRequest(req *Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.session != "" {
		req.Header["Session"] = c.session
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, "%s %s RTSP/1.0\r\n", req.Method, req.URL)
	fmt.Fprintf(&buf, "CSeq: %d\r\n", req.CSeq)
	buf.WriteString("User-Agent: camerad/1.0\r\n")
	for k, v := range req.Header {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	buf.WriteString("\r\n")

	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	camlog.DebugRTSP("RTSP request", "method", req.Method, "url", req.URL, "cseq", req.CSeq)
	_, err := c.conn.Write([]byte(buf.String()))
	return err
}

func (c *Client) readResponse() (*Response, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(15 * time.Second)); err != nil {
		return nil, err
	}
	return c.readResponseNoDeadline()
}

func (c *Client) readResponseNoDeadline() (*Response, error) {
	statusLine, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(strings.TrimSpace(statusLine), " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid status line: %s", statusLine)
	}
	statusCode, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid status code: %s", parts[1])
	}

	resp := &Response{StatusCode: statusCode, Header: make(map[string]string)}
	var contentLength int
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if idx := strings.IndexByte(line, ':'); idx > 0 {
			key := strings.TrimSpace(line[:idx])
			value := strings.TrimSpace(line[idx+1:])
			resp.Header[key] = value
			if key == "Content-Length" {
				contentLength, _ = strconv.Atoi(value)
			}
		}
	}

	if contentLength > 0 {
		body := make([]byte, contentLength)
		if _, err := io.ReadFull(c.reader, body); err != nil {
			return nil, err
		}
		resp.Body = body
	}

	camlog.DebugRTSP("RTSP response", "status", statusCode, "content_length", contentLength)

	if statusCode != 200 {
		return nil, fmt.Errorf("RTSP error: %d", statusCode)
	}
	return resp, nil
}

// Request is an RTSP request.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	CSeq   int
}

// Response is an RTSP response.
type Response struct {
	StatusCode int
	Header     map[string]string
	Body       []byte
}

// Package dmabuf models the single-owner, file-descriptor-backed frame
// handle that the media graph passes from the frame-push worker into the
// encoder stage. On real hardware these descriptors are exported by a V4L2
// or DRM allocator and reference a DMA-capable memory region; this
// implementation backs them with memfd_create segments so the same
// duplicate-on-handoff, close-exactly-once discipline holds in software.
package dmabuf

import (
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// PixelFormat identifies the memory layout of a Frame's planes.
type PixelFormat int

const (
	FormatNV12 PixelFormat = iota // canonical
	FormatNV21
	FormatRGB24
	FormatBGR24
)

func (f PixelFormat) String() string {
	switch f {
	case FormatNV12:
		return "NV12"
	case FormatNV21:
		return "NV21"
	case FormatRGB24:
		return "RGB24"
	case FormatBGR24:
		return "BGR24"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// Plane describes one memory plane within a Frame's backing descriptor.
type Plane struct {
	Offset int64
	Pitch  int64
}

// Frame is a DMA-BUF-backed encoded or raw video frame. Exclusively owned by
// whoever holds the value; Close releases the descriptor exactly once. A
// Frame must never be copied by value once constructed — pass *Frame, and
// hand off ownership with Dup, never by sharing the same *Frame across two
// owners.
type Frame struct {
	fd     int
	Width  int
	Height int
	Format PixelFormat
	Planes []Plane
	PTS    time.Duration

	closed uint32 // atomic; guards against double-Close
}

// New allocates an anonymous memfd truncated to cap bytes (no seals are
// applied) to back a new
// Frame. The caller writes encoded/raw pixel data into the descriptor via
// the fd returned by Fd() before handing the Frame to the media graph.
func New(width, height int, format PixelFormat, planes []Plane, pts time.Duration, cap int64) (*Frame, error) {
	if len(planes) != 1 && len(planes) != 2 {
		return nil, fmt.Errorf("dmabuf: invalid plane count %d, want 1 or 2", len(planes))
	}

	fd, err := unix.MemfdCreate("camerad-frame", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("dmabuf: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, cap); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("dmabuf: ftruncate: %w", err)
	}

	return &Frame{
		fd:     fd,
		Width:  width,
		Height: height,
		Format: format,
		Planes: planes,
		PTS:    pts,
	}, nil
}

// Fd returns the underlying descriptor. Valid only while the Frame is alive
// (fd >= 0 invariant); callers must not close it directly — use Close/Dup.
func (f *Frame) Fd() int {
	return f.fd
}

// Write copies data into the backing descriptor at offset 0. Callers use
// this once, right after New, before handing the Frame off; it is not safe
// to call concurrently with a reader holding the same fd.
func (f *Frame) Write(data []byte) error {
	if atomic.LoadUint32(&f.closed) == 1 {
		return fmt.Errorf("dmabuf: Write called on a closed Frame")
	}
	n, err := unix.Pwrite(f.fd, data, 0)
	if err != nil {
		return fmt.Errorf("dmabuf: pwrite: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("dmabuf: short pwrite: wrote %d of %d bytes", n, len(data))
	}
	return nil
}

// Read copies the full backing region into a freshly allocated byte slice,
// sized by the underlying descriptor's current length (the size passed to
// New). Used by the encoder stage to hand pixel data to a non-DMA-BUF-aware
// sink (the software decode/encode path in this reimplementation does not
// import real DMA-BUF memory into GStreamer, so it reads the memfd instead).
func (f *Frame) Read() ([]byte, error) {
	if atomic.LoadUint32(&f.closed) == 1 {
		return nil, fmt.Errorf("dmabuf: Read called on a closed Frame")
	}
	var stat unix.Stat_t
	if err := unix.Fstat(f.fd, &stat); err != nil {
		return nil, fmt.Errorf("dmabuf: fstat: %w", err)
	}
	buf := make([]byte, stat.Size)
	n, err := unix.Pread(f.fd, buf, 0)
	if err != nil {
		return nil, fmt.Errorf("dmabuf: pread: %w", err)
	}
	return buf[:n], nil
}

// NumPlanes returns len(Planes), always 1 or 2 per the invariant.
func (f *Frame) NumPlanes() int {
	return len(f.Planes)
}

// Dup duplicates the backing descriptor into a new Frame that shares the
// same memory region but owns an independent fd. The caller of Dup becomes
// a second, fully independent owner; closing one Frame never affects the
// other. The frame-push path does not call Dup: pkg/camera hands the
// decoded *Frame itself to the MediaGraph, which closes it, and PeerBranches
// receive RTP packets rather than Frames.
func (f *Frame) Dup() (*Frame, error) {
	if atomic.LoadUint32(&f.closed) == 1 {
		return nil, fmt.Errorf("dmabuf: Dup called on a closed Frame")
	}
	newFd, err := unix.FcntlInt(uintptr(f.fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("dmabuf: dup: %w", err)
	}
	dup := *f
	dup.fd = newFd
	dup.closed = 0
	dup.Planes = append([]Plane(nil), f.Planes...)
	return &dup, nil
}

// Close releases the descriptor. It is safe to call exactly once. A second
// call is a programming error: the ownership invariant (fd >= 0 while alive,
// exactly one owner) has already been violated by the time this happens, so
// Close returns an error rather than silently succeeding — callers that want
// defensive idempotence at a system boundary should track closed state
// themselves, the same way they would track any other exclusively-owned
// resource.
func (f *Frame) Close() error {
	if !atomic.CompareAndSwapUint32(&f.closed, 0, 1) {
		return fmt.Errorf("dmabuf: double Close on frame fd=%d", f.fd)
	}
	return unix.Close(f.fd)
}

// Closed reports whether Close has already succeeded on this Frame.
func (f *Frame) Closed() bool {
	return atomic.LoadUint32(&f.closed) == 1
}

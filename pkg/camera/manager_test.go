package camera

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lattice-edge/camerad/pkg/config"
	"github.com/lattice-edge/camerad/pkg/signaling"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAddRejectsDuplicateName(t *testing.T) {
	m := NewManager(testLogger())
	cfg := config.CameraConfig{Name: "front_door", URL: "rtsp://cam/1", Transport: config.TransportTCP, ProbeAttempts: 1}

	if err := m.Add(cfg); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := m.Add(cfg); err == nil {
		t.Fatal("expected an error registering a duplicate camera name")
	}
}

func TestRemoveUnregisteredCameraErrors(t *testing.T) {
	m := NewManager(testLogger())
	if err := m.Remove("nonexistent"); err == nil {
		t.Fatal("expected an error removing an unregistered camera")
	}
}

func TestGetReturnsNilForUnregisteredCamera(t *testing.T) {
	m := NewManager(testLogger())
	if cam := m.Get("nonexistent"); cam != nil {
		t.Fatalf("Get(nonexistent) = %v, want nil", cam)
	}
}

func TestDispatchUnknownCameraSendsFault(t *testing.T) {
	m := NewManager(testLogger())

	var got signaling.Envelope
	m.Dispatch("nonexistent", "viewer1", signaling.Envelope{Type: signaling.TypeConnection, ClientID: "viewer1"},
		func(e signaling.Envelope) { got = e })

	if got.Ret != signaling.RetFault {
		t.Errorf("ret = %q, want %q", got.Ret, signaling.RetFault)
	}
}

func TestDispatchCameraNotReadySendsFault(t *testing.T) {
	m := NewManager(testLogger())
	cfg := config.CameraConfig{Name: "front_door", URL: "rtsp://cam/1", Transport: config.TransportTCP, ProbeAttempts: 1}
	if err := m.Add(cfg); err != nil {
		t.Fatalf("Add: %v", err)
	}

	var got signaling.Envelope
	m.Dispatch("front_door", "viewer1", signaling.Envelope{Type: signaling.TypeConnection, ClientID: "viewer1"},
		func(e signaling.Envelope) { got = e })

	if got.Ret != signaling.RetFault {
		t.Errorf("ret = %q, want %q (graph not yet built)", got.Ret, signaling.RetFault)
	}
}

func TestStatsReportsProbingForUnstartedCamera(t *testing.T) {
	m := NewManager(testLogger())
	cfg := config.CameraConfig{Name: "front_door", URL: "rtsp://cam/1", Transport: config.TransportTCP, ProbeAttempts: 1}
	if err := m.Add(cfg); err != nil {
		t.Fatalf("Add: %v", err)
	}

	stats := m.Stats()
	if len(stats) != 1 {
		t.Fatalf("len(Stats()) = %d, want 1", len(stats))
	}
	if stats[0].Name != "front_door" {
		t.Errorf("Name = %q, want front_door", stats[0].Name)
	}
	if stats[0].GraphState != GraphStateProbing {
		t.Errorf("GraphState = %v, want %v (no source/graph yet)", stats[0].GraphState, GraphStateProbing)
	}
}

func TestAggregateStatsCountsRegisteredCameras(t *testing.T) {
	m := NewManager(testLogger())
	for _, name := range []string{"front_door", "back_yard"} {
		cfg := config.CameraConfig{Name: name, URL: "rtsp://cam/" + name, Transport: config.TransportTCP, ProbeAttempts: 1}
		if err := m.Add(cfg); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}

	agg := m.AggregateStats()
	if agg.TotalCameras != 2 {
		t.Errorf("TotalCameras = %d, want 2", agg.TotalCameras)
	}
	if agg.ProbingCameras != 2 {
		t.Errorf("ProbingCameras = %d, want 2 (neither has started)", agg.ProbingCameras)
	}
	if agg.ReadyCameras != 0 || agg.UnreadyCameras != 0 {
		t.Errorf("ReadyCameras/UnreadyCameras = %d/%d, want 0/0", agg.ReadyCameras, agg.UnreadyCameras)
	}
}

func TestToProbeConfigCarriesEveryField(t *testing.T) {
	cfg := config.CameraConfig{
		Name: "front_door", URL: "rtsp://cam/1", Transport: config.TransportUDP,
		ProbeTimeout: 2 * time.Second, ProbeAttempts: 5, ProbeDelay: time.Second, ReconnectDelay: 3 * time.Second,
		MaxInFlightFrames: 16,
	}
	pc := toProbeConfig(cfg)

	if pc.URL != cfg.URL || pc.Transport != string(cfg.Transport) || pc.ProbeTimeout != cfg.ProbeTimeout ||
		pc.ProbeAttempts != cfg.ProbeAttempts || pc.ProbeDelay != cfg.ProbeDelay || pc.ReconnectDelay != cfg.ReconnectDelay ||
		pc.MaxInFlightFrames != cfg.MaxInFlightFrames {
		t.Errorf("toProbeConfig(%+v) = %+v, field mismatch", cfg, pc)
	}
}

package media

import (
	"strings"
	"testing"

	"github.com/lattice-edge/camerad/pkg/probe"
)

func TestPipelineDescriptionIncludesNegotiatedGeometry(t *testing.T) {
	result := probe.ProbeResult{Codec: probe.CodecH264, Width: 1280, Height: 720, FPSNum: 30, FPSDen: 1, Ready: true}
	desc := pipelineDescription(result)

	for _, want := range []string{"width=1280", "height=720", "framerate=30/1", "pt=96", "config-interval=1", "tee name=t"} {
		if !strings.Contains(desc, want) {
			t.Errorf("pipeline description missing %q: %s", want, desc)
		}
	}
}

func TestPipelineDescriptionDefaultsFramerateWhenUnprobed(t *testing.T) {
	result := probe.ProbeResult{Width: 640, Height: 480}
	desc := pipelineDescription(result)
	if !strings.Contains(desc, "framerate=25/1") {
		t.Errorf("expected default 25/1 framerate fallback, got: %s", desc)
	}
}

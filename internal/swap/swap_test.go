package swap

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/keggin-CHN/Magic-Mirror/internal/config"
	"github.com/keggin-CHN/Magic-Mirror/internal/geometry"
	"github.com/keggin-CHN/Magic-Mirror/internal/logging"
)

func TestCodeMapsSentinels(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrInputNotFound, "input-not-found"},
		{fmt.Errorf("%w: /tmp/x.mp4", ErrVideoOpenFailed), "video-open-failed"},
		{fmt.Errorf("%w: wrapped twice: %w", ErrInternal, ErrNoFaceDetected), "no-face-detected"},
		{errors.New("driver exploded"), "internal"},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestNormalizeRegions(t *testing.T) {
	regions := []Region{
		{X: 10, Y: 10, W: 50, H: 50},
		{X: -20, Y: -20, W: 60, H: 60}, // origin clipped, extent kept
		{X: 90, Y: 90, W: 50, H: 50},   // extent shrunk to the frame
		{X: 10, Y: 10, W: 0, H: 40},    // empty, dropped
		{X: 500, Y: 500, W: 50, H: 50}, // past the frame, pinned to 1x1
		{X: 30, Y: 30, W: -10, H: -10}, // negative size, dropped
	}
	boxes := normalizeRegions(regions, 100, 100)
	want := []geometry.Box{
		{X: 10, Y: 10, W: 50, H: 50},
		{X: 0, Y: 0, W: 60, H: 60},
		{X: 90, Y: 90, W: 10, H: 10},
		{X: 99, Y: 99, W: 1, H: 1},
	}
	if len(boxes) != len(want) {
		t.Fatalf("got %d boxes, want %d: %v", len(boxes), len(want), boxes)
	}
	for i := range want {
		if boxes[i] != want[i] {
			t.Errorf("box %d = %+v, want %+v", i, boxes[i], want[i])
		}
	}
}

func TestValidBindings(t *testing.T) {
	bindings := []Binding{
		{Region: Region{X: 10, Y: 10, W: 40, H: 40}, SourceID: "a"},
		{Region: Region{X: 10, Y: 10, W: 40, H: 40}},            // no source
		{Region: Region{X: 0, Y: 0, W: 0, H: 0}, SourceID: "b"}, // empty rect
		// off-frame regions clamp to a 1x1 pinned at the edge and stay valid
		{Region: Region{X: 900, Y: 900, W: 40, H: 40}, SourceID: "c"},
	}
	valid := validBindings(bindings, 100, 100)
	if len(valid) != 2 || valid[0].SourceID != "a" || valid[1].SourceID != "c" {
		t.Fatalf("valid = %+v, want bindings a and c", valid)
	}
}

func TestOutputPaths(t *testing.T) {
	svc := New(config.Default(), logging.Discard())

	if got := svc.outputImagePath(filepath.Join("photos", "me.png")); got != filepath.Join("photos", "me_output.png") {
		t.Errorf("image output = %q", got)
	}
	if got := svc.outputVideoPath(filepath.Join("clips", "holiday.mov")); got != filepath.Join("clips", "holiday_output.mp4") {
		t.Errorf("video output = %q", got)
	}

	cfg := config.Default()
	cfg.Output.Dir = filepath.Join("tmp", "results")
	svc = New(cfg, logging.Discard())
	if got := svc.outputVideoPath(filepath.Join("clips", "holiday.mp4")); got != filepath.Join("tmp", "results", "holiday_output.mp4") {
		t.Errorf("video output with dir = %q", got)
	}
}

func TestScaleBoxRoundTrip(t *testing.T) {
	b := geometry.Box{X: 200, Y: 400, W: 600, H: 600}
	down := scaleBox(b, 0.5)
	if down != (geometry.Box{X: 100, Y: 200, W: 300, H: 300}) {
		t.Fatalf("down = %+v", down)
	}
	up := scaleBox(down, 2)
	if up != b {
		t.Fatalf("up = %+v, want %+v", up, b)
	}
}

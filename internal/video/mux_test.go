package video

import (
	"testing"
)

func TestMuxArgs(t *testing.T) {
	args := muxArgs("/out/clip_output.mp4", "/in/clip.mp4", "/out/tmp.mp4")

	want := []string{
		"-y",
		"-i", "/out/clip_output.mp4",
		"-i", "/in/clip.mp4",
		"-map", "0:v:0",
		"-map", "1:a?",
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		"/out/tmp.mp4",
	}
	if len(args) != len(want) {
		t.Fatalf("got %d args, want %d: %v", len(args), len(want), args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("arg %d: got %q, want %q", i, args[i], want[i])
		}
	}
}

func TestFrameIndexAt(t *testing.T) {
	tests := []struct {
		name     string
		meta     Meta
		offsetMs float64
		want     int
	}{
		{"zero offset", Meta{FPS: 30, TotalFrames: 100}, 0, 0},
		{"negative offset", Meta{FPS: 30, TotalFrames: 100}, -500, 0},
		{"one second at 30fps", Meta{FPS: 30, TotalFrames: 100}, 1000, 30},
		{"rounds nearest", Meta{FPS: 30, TotalFrames: 100}, 1017, 31},
		{"clamped to last frame", Meta{FPS: 30, TotalFrames: 100}, 60000, 99},
		{"unknown count not clamped", Meta{FPS: 30, TotalFrames: 0}, 60000, 1800},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.meta.FrameIndexAt(tt.offsetMs); got != tt.want {
				t.Errorf("FrameIndexAt(%v) = %d, want %d", tt.offsetMs, got, tt.want)
			}
		})
	}
}

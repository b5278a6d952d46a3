package swap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"gocv.io/x/gocv"

	"github.com/keggin-CHN/Magic-Mirror/internal/config"
	"github.com/keggin-CHN/Magic-Mirror/internal/engine"
	"github.com/keggin-CHN/Magic-Mirror/internal/geometry"
	"github.com/keggin-CHN/Magic-Mirror/internal/imaging"
	"github.com/keggin-CHN/Magic-Mirror/internal/logging"
	"github.com/keggin-CHN/Magic-Mirror/internal/video"
)

// fakeEngine reports one face at a fixed box in every frame, or none at
// all, and counts swap calls. It stands in for the ONNX stack so the job
// plumbing can be exercised without model files.
type fakeEngine struct {
	box     geometry.Box
	noFaces bool

	mu    sync.Mutex
	swaps int
}

func (f *fakeEngine) DetectAll(_ gocv.Mat) ([]engine.Detection, error) {
	if f.noFaces {
		return nil, nil
	}
	face := &engine.Face{Box: f.box, Score: 0.9}
	return []engine.Detection{{Face: face, Box: f.box}}, nil
}

func (f *fakeEngine) DetectOne(_ gocv.Mat) (*engine.Face, error) {
	if f.noFaces {
		return nil, nil
	}
	return &engine.Face{Box: f.box, Embedding: make([]float32, 512), Score: 0.9}, nil
}

func (f *fakeEngine) Swap(frame gocv.Mat, _, _ *engine.Face) (gocv.Mat, error) {
	f.mu.Lock()
	f.swaps++
	f.mu.Unlock()
	return frame.Clone(), nil
}

func (f *fakeEngine) Close() error { return nil }

func (f *fakeEngine) swapCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.swaps
}

func newFakeService(t *testing.T, fake *fakeEngine) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Dir = t.TempDir()
	cfg.Pipeline.Workers = 2
	svc := NewWithFactory(cfg, logging.Discard(), func(bool) (engine.Engine, error) {
		return fake, nil
	})
	t.Cleanup(func() { svc.Close() })
	return svc
}

func writeTestVideo(t *testing.T, dir string, frames int) string {
	t.Helper()
	path := filepath.Join(dir, "clip.mp4")
	w, err := video.NewWriter(path, 25, 64, 48)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()
	for i := 0; i < frames; i++ {
		if err := w.Write(frame); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return path
}

func writeTestImage(t *testing.T, dir string) string {
	t.Helper()
	img := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer img.Close()
	path, err := imaging.WriteImage(filepath.Join(dir, "face.png"), img)
	if err != nil {
		t.Fatalf("WriteImage: %v", err)
	}
	return path
}

func TestProcessMultiFaceVideoSwapsSeededTrack(t *testing.T) {
	fake := &fakeEngine{box: geometry.Box{X: 10, Y: 10, W: 24, H: 24}}
	svc := newFakeService(t, fake)

	dir := t.TempDir()
	const frames = 10
	input := writeTestVideo(t, dir, frames)
	faceImg := writeTestImage(t, dir)

	out, err := svc.ProcessMultiFaceVideo(context.Background(), input,
		map[string]string{"alice": faceImg},
		[]Binding{{Region: Region{X: 8, Y: 8, W: 28, H: 28}, SourceID: "alice"}},
		0, false, Callbacks{})
	if err != nil {
		t.Fatalf("ProcessMultiFaceVideo: %v", err)
	}
	if _, statErr := os.Stat(out); statErr != nil {
		t.Fatalf("output %s missing: %v", out, statErr)
	}
	// One seed, one detection per frame: the anchored track must claim
	// the detection on every frame, so exactly one swap per frame.
	if got := fake.swapCount(); got != frames {
		t.Errorf("swap calls = %d, want %d", got, frames)
	}
}

func TestProcessSingleFaceVideoFailsWithoutIdentityFace(t *testing.T) {
	fake := &fakeEngine{noFaces: true}
	svc := newFakeService(t, fake)

	dir := t.TempDir()
	input := writeTestVideo(t, dir, 5)
	faceImg := writeTestImage(t, dir)

	_, err := svc.ProcessSingleFaceVideo(context.Background(), input, faceImg, false, Callbacks{})
	if !errors.Is(err, ErrNoFaceDetected) {
		t.Fatalf("err = %v, want %v", err, ErrNoFaceDetected)
	}
	if got := fake.swapCount(); got != 0 {
		t.Errorf("swap calls = %d, want 0 when the identity has no face", got)
	}
	if _, statErr := os.Stat(svc.outputVideoPath(input)); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("output file should not remain after a failed job, stat err = %v", statErr)
	}
}

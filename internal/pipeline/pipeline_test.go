package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gocv.io/x/gocv"
)

// stampSource yields frames whose first byte carries the frame index,
// so sinks can verify ordering.
type stampSource struct {
	frames int
	next   int

	// stallAfter, when positive, makes Read sleep for stall once that
	// many frames were delivered, then report end of stream.
	stallAfter int
	stall      time.Duration

	reading atomic.Bool
}

func (s *stampSource) Read(dst *gocv.Mat) bool {
	s.reading.Store(true)
	defer s.reading.Store(false)

	if s.stallAfter > 0 && s.next >= s.stallAfter {
		time.Sleep(s.stall)
		return false
	}
	if s.next >= s.frames {
		return false
	}
	stamped := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(float64(s.next), 0, 0, 0), 4, 4, gocv.MatTypeCV8UC3)
	stamped.CopyTo(dst)
	stamped.Close()
	s.next++
	return true
}

type recordSink struct {
	mu     sync.Mutex
	order  []int
	failAt int
}

func (s *recordSink) Write(frame gocv.Mat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.order) >= s.failAt {
		return fmt.Errorf("sink full")
	}
	s.order = append(s.order, int(frame.GetUCharAt(0, 0)))
	return nil
}

func (s *recordSink) written() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.order...)
}

func fastOpts(workers int) Options {
	return Options{
		Workers:      workers,
		PollInterval: 10 * time.Millisecond,
		IdleWait:     10 * time.Millisecond,
		IdleLimit:    20,
	}
}

func passthrough(_ int, frame gocv.Mat) (gocv.Mat, bool, error) {
	return frame, true, nil
}

func TestRunPreservesFrameOrder(t *testing.T) {
	const frames = 40
	src := &stampSource{frames: frames}
	sink := &recordSink{}

	jitter := func(index int, frame gocv.Mat) (gocv.Mat, bool, error) {
		time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
		return frame, true, nil
	}

	stats, err := Run(context.Background(), src, sink, jitter, fastOpts(4))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Written != frames || stats.Swapped != frames || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want %d written and swapped", stats, frames)
	}
	if stats.FramesSeen != frames {
		t.Errorf("frames seen = %d, want %d", stats.FramesSeen, frames)
	}
	order := sink.written()
	if len(order) != frames {
		t.Fatalf("sink got %d frames, want %d", len(order), frames)
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("frame %d written out of order: got stamp %d", i, got)
		}
	}
}

func TestRunCountsUnmodifiedFrames(t *testing.T) {
	const frames = 12
	src := &stampSource{frames: frames}
	sink := &recordSink{}

	skipThirds := func(index int, frame gocv.Mat) (gocv.Mat, bool, error) {
		return frame, index%3 != 0, nil
	}

	stats, err := Run(context.Background(), src, sink, skipThirds, fastOpts(3))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Written != frames {
		t.Fatalf("written = %d, want %d", stats.Written, frames)
	}
	if stats.Failed != 4 {
		t.Errorf("failed = %d, want 4", stats.Failed)
	}
	if stats.Swapped != frames-4 {
		t.Errorf("swapped = %d, want %d", stats.Swapped, frames-4)
	}
	if len(sink.written()) != frames {
		t.Errorf("unmodified frames must still reach the sink, got %d", len(sink.written()))
	}
}

func TestRunAbortsOnProcessError(t *testing.T) {
	src := &stampSource{frames: 30}
	sink := &recordSink{}
	boom := errors.New("engine wedged")

	failing := func(index int, frame gocv.Mat) (gocv.Mat, bool, error) {
		if index == 5 {
			frame.Close()
			return gocv.Mat{}, false, boom
		}
		return frame, true, nil
	}

	stats, err := Run(context.Background(), src, sink, failing, fastOpts(2))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if stats.Written >= 30 {
		t.Errorf("run should abort early, wrote %d frames", stats.Written)
	}
}

func TestRunAbortsOnSinkError(t *testing.T) {
	src := &stampSource{frames: 20}
	sink := &recordSink{failAt: 4}

	_, err := Run(context.Background(), src, sink, passthrough, fastOpts(2))
	if err == nil {
		t.Fatal("expected sink error to abort the run")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	src := &stampSource{frames: 200}
	sink := &recordSink{}

	slow := func(_ int, frame gocv.Mat) (gocv.Mat, bool, error) {
		time.Sleep(2 * time.Millisecond)
		return frame, true, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	stats, err := Run(ctx, src, sink, slow, fastOpts(2))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if stats.Written >= 200 {
		t.Errorf("run should stop early, wrote %d frames", stats.Written)
	}
}

func TestRunJoinsStalledSourceBeforeReturning(t *testing.T) {
	// The source delivers three frames, then its next Read takes longer
	// than the whole idle window. The writer gives up on the missing
	// frames, but Run must not return until that Read has come back:
	// the caller releases the source immediately afterwards.
	src := &stampSource{
		frames:     100,
		stallAfter: 3,
		stall:      300 * time.Millisecond,
	}
	sink := &recordSink{}

	opts := fastOpts(2)
	opts.IdleLimit = 5

	done := make(chan struct{})
	var stats Stats
	var err error
	go func() {
		stats, err = Run(context.Background(), src, sink, passthrough, opts)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not terminate on a stalled source")
	}
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Written != 3 {
		t.Errorf("written = %d, want 3", stats.Written)
	}
	if src.reading.Load() {
		t.Error("Run returned while the source Read was still in flight")
	}
}

func TestRunReportsProgress(t *testing.T) {
	const frames = 10
	src := &stampSource{frames: frames}
	sink := &recordSink{}

	var mu sync.Mutex
	var calls [][2]int
	opts := fastOpts(2)
	opts.TotalFrames = frames
	opts.OnProgress = func(framesSeen, total int) {
		mu.Lock()
		calls = append(calls, [2]int{framesSeen, total})
		mu.Unlock()
	}

	if _, err := Run(context.Background(), src, sink, passthrough, opts); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) == 0 {
		t.Fatal("no progress calls")
	}
	sawFive := false
	for _, c := range calls {
		if c[1] != frames {
			t.Errorf("progress total = %d, want %d", c[1], frames)
		}
		if c[0] == 5 {
			sawFive = true
		}
	}
	if !sawFive {
		t.Error("expected a progress call at the fifth frame")
	}
	if last := calls[len(calls)-1]; last[0] != frames {
		t.Errorf("final progress = %d, want %d", last[0], frames)
	}
}

func TestRunSurvivesProgressPanic(t *testing.T) {
	src := &stampSource{frames: 10}
	sink := &recordSink{}

	opts := fastOpts(2)
	opts.OnProgress = func(framesSeen, total int) { panic("listener gone") }

	stats, err := Run(context.Background(), src, sink, passthrough, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Written != 10 {
		t.Errorf("written = %d, want 10", stats.Written)
	}
}

func TestAutoWorkers(t *testing.T) {
	if got := autoWorkers(true); got != acceleratedWorkers {
		t.Errorf("accelerated workers = %d, want %d", got, acceleratedWorkers)
	}
	got := autoWorkers(false)
	if got < 1 || got > maxAutoWorkers {
		t.Errorf("cpu workers = %d, want within [1,%d]", got, maxAutoWorkers)
	}
}

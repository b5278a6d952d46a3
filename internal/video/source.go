// Package video wraps container I/O: sequential frame decode, the
// append-only frame writer and best-effort audio re-muxing through
// ffmpeg.
package video

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Meta describes a video stream. TotalFrames is advisory: containers may
// report 0 or a wrong count, so consumers must never rely on it for
// termination.
type Meta struct {
	FPS         float64
	Width       int
	Height      int
	TotalFrames int
}

const defaultFPS = 25.0

// Source decodes frames sequentially from a video file.
type Source struct {
	cap  *gocv.VideoCapture
	meta Meta
}

// Open opens the video at path and resolves its metadata. An unreported
// fps falls back to 25; unreported dimensions are recovered from the
// first frame (with a rewind).
func Open(path string) (*Source, error) {
	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("open video %s: capture not opened", path)
	}

	meta := Meta{
		FPS:         cap.Get(gocv.VideoCaptureFPS),
		Width:       int(cap.Get(gocv.VideoCaptureFrameWidth)),
		Height:      int(cap.Get(gocv.VideoCaptureFrameHeight)),
		TotalFrames: int(cap.Get(gocv.VideoCaptureFrameCount)),
	}
	if meta.FPS <= 0 {
		meta.FPS = defaultFPS
	}
	if meta.TotalFrames < 0 {
		meta.TotalFrames = 0
	}

	if meta.Width <= 0 || meta.Height <= 0 {
		frame := gocv.NewMat()
		ok := cap.Read(&frame)
		if !ok || frame.Empty() {
			frame.Close()
			cap.Close()
			return nil, fmt.Errorf("open video %s: no readable frame", path)
		}
		meta.Width = frame.Cols()
		meta.Height = frame.Rows()
		frame.Close()
		cap.Set(gocv.VideoCapturePosFrames, 0)
	}

	return &Source{cap: cap, meta: meta}, nil
}

// Meta returns the stream metadata resolved at open time.
func (s *Source) Meta() Meta {
	return s.meta
}

// Read decodes the next frame into dst, reporting false at end of stream.
func (s *Source) Read(dst *gocv.Mat) bool {
	return s.cap.Read(dst) && !dst.Empty()
}

// Seek positions the decoder at the given frame index.
func (s *Source) Seek(frameIndex int) {
	if frameIndex < 0 {
		frameIndex = 0
	}
	s.cap.Set(gocv.VideoCapturePosFrames, float64(frameIndex))
}

// FrameIndexAt converts a millisecond offset to a frame index, clamped to
// the known frame count when one is reported.
func (m Meta) FrameIndexAt(offsetMs float64) int {
	idx := 0
	if offsetMs > 0 && m.FPS > 0 {
		idx = int(offsetMs/1000.0*m.FPS + 0.5)
	}
	if m.TotalFrames > 0 && idx > m.TotalFrames-1 {
		idx = m.TotalFrames - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// Close releases the decoder.
func (s *Source) Close() error {
	return s.cap.Close()
}

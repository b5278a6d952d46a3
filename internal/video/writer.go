package video

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Writer appends frames to an output container. Every frame must match
// the width and height the writer was created with.
type Writer struct {
	w      *gocv.VideoWriter
	path   string
	width  int
	height int
}

// NewWriter creates an mp4v writer at path for frames of the given
// dimensions.
func NewWriter(path string, fps float64, width, height int) (*Writer, error) {
	if fps <= 0 {
		fps = defaultFPS
	}
	w, err := gocv.VideoWriterFile(path, "mp4v", fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("open video writer %s: %w", path, err)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, fmt.Errorf("open video writer %s: writer not opened", path)
	}
	return &Writer{w: w, path: path, width: width, height: height}, nil
}

// Write appends a frame. Frames with mismatched dimensions are rejected
// rather than silently corrupting the stream.
func (w *Writer) Write(frame gocv.Mat) error {
	if frame.Empty() {
		return fmt.Errorf("write frame to %s: empty frame", w.path)
	}
	if frame.Cols() != w.width || frame.Rows() != w.height {
		return fmt.Errorf("write frame to %s: got %dx%d, want %dx%d",
			w.path, frame.Cols(), frame.Rows(), w.width, w.height)
	}
	return w.w.Write(frame)
}

// Path returns the output file path.
func (w *Writer) Path() string {
	return w.path
}

// Close finalizes the container.
func (w *Writer) Close() error {
	return w.w.Close()
}

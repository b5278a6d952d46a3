// Package engine defines the face-engine capability the pipeline consumes:
// detect faces in an image, swap a detected face for another identity. The
// package also owns backend selection between a CPU engine and an optional
// accelerated one.
package engine

import (
	"gocv.io/x/gocv"

	"github.com/keggin-CHN/Magic-Mirror/internal/geometry"
)

// Face is the engine's handle for one face: where it sits, the landmark
// geometry needed to align it, and (for identity sources) its embedding.
type Face struct {
	Box       geometry.Box
	Landmarks [5]geometry.Point
	Embedding []float32
	Score     float32
}

// Detection is a face found in a specific frame. It is ephemeral: boxes
// reference that frame's coordinates and are not kept across frames.
type Detection struct {
	Face *Face
	Box  geometry.Box
}

// Engine is the face detection/swap capability. Implementations are not
// assumed thread-safe; Handle serializes access.
type Engine interface {
	// DetectAll returns every face found in the image, empty when none.
	DetectAll(img gocv.Mat) ([]Detection, error)
	// DetectOne returns the most prominent face with its embedding
	// computed, or nil when the image contains no face.
	DetectOne(img gocv.Mat) (*Face, error)
	// Swap renders destination's identity onto reference's position in
	// frame and returns a new image. The input frame is not modified.
	Swap(frame gocv.Mat, reference, destination *Face) (gocv.Mat, error)
	Close() error
}

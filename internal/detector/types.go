package detector

import "github.com/keggin-CHN/Magic-Mirror/internal/geometry"

// BoundingBox is a detector-space box in corner form.
type BoundingBox struct {
	X1, Y1 float32 // top-left
	X2, Y2 float32 // bottom-right
}

// Width returns box width.
func (b BoundingBox) Width() float32 {
	return b.X2 - b.X1
}

// Height returns box height.
func (b BoundingBox) Height() float32 {
	return b.Y2 - b.Y1
}

// Area returns box area.
func (b BoundingBox) Area() float32 {
	return b.Width() * b.Height()
}

// Rect converts to a clamped pixel-space geometry.Box. The second return
// is false when the box degenerates.
func (b BoundingBox) Rect(frameW, frameH int) (geometry.Box, bool) {
	x := int(b.X1 + 0.5)
	y := int(b.Y1 + 0.5)
	return geometry.Clamp(x, y, int(b.Width()+0.5), int(b.Height()+0.5), frameW, frameH)
}

// Landmarks are the five facial points SCRFD predicts, in the order the
// alignment templates expect: left eye, right eye, nose, left mouth
// corner, right mouth corner.
type Landmarks [5]geometry.Point

// Face is one detection result.
type Face struct {
	BoundingBox BoundingBox
	Landmarks   Landmarks
	Score       float32
}

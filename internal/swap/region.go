package swap

import (
	"github.com/keggin-CHN/Magic-Mirror/internal/geometry"
)

// Region is a caller-supplied rectangle in frame coordinates. Callers
// hand these in from UI selections, so nothing about them can be
// trusted: coordinates may be negative, exceed the frame, or describe an
// empty rectangle.
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Binding ties a seed region to the identity that should be rendered
// into it.
type Binding struct {
	Region   Region
	SourceID string
}

// normalizeRegions clamps regions to the frame and drops the ones that
// end up empty.
func normalizeRegions(regions []Region, frameW, frameH int) []geometry.Box {
	boxes := make([]geometry.Box, 0, len(regions))
	for _, r := range regions {
		box, ok := geometry.Clamp(r.X, r.Y, r.W, r.H, frameW, frameH)
		if !ok {
			continue
		}
		boxes = append(boxes, box)
	}
	return boxes
}

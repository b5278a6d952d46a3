// Package geometry provides the box math shared by detection and tracking:
// clamping to frame bounds, intersection-over-union, square expansion for
// detector crops, greedy deduplication and center distances.
package geometry

import "math"

// Point is a 2D point in pixel coordinates.
type Point struct {
	X, Y float32
}

// Box is an axis-aligned rectangle in pixel coordinates. A valid Box has
// W,H >= 1 and lies fully inside its frame.
type Box struct {
	X, Y, W, H int
}

// Clamp normalizes a raw rectangle against frame bounds. It returns false
// when the frame has non-positive dimensions or the rectangle has
// non-positive width or height; otherwise the origin is clamped into the
// frame and the extent shrunk to fit, with a minimum size of 1x1.
func Clamp(x, y, w, h, frameW, frameH int) (Box, bool) {
	if frameW <= 0 || frameH <= 0 {
		return Box{}, false
	}
	if w <= 0 || h <= 0 {
		return Box{}, false
	}
	x = clampInt(x, 0, frameW-1)
	y = clampInt(y, 0, frameH-1)
	w = clampInt(w, 1, frameW-x)
	h = clampInt(h, 1, frameH-y)
	return Box{X: x, Y: y, W: w, H: h}, true
}

// Center returns the box center.
func (b Box) Center() (float64, float64) {
	return float64(b.X) + float64(b.W)/2, float64(b.Y) + float64(b.H)/2
}

// Area returns the box area.
func (b Box) Area() int {
	return b.W * b.H
}

// Diagonal returns the length of the box diagonal.
func (b Box) Diagonal() float64 {
	return math.Hypot(float64(b.W), float64(b.H))
}

// IOU computes intersection-over-union between two boxes. Disjoint boxes
// and boxes with non-positive area score 0.
func IOU(a, b Box) float64 {
	ix1 := maxInt(a.X, b.X)
	iy1 := maxInt(a.Y, b.Y)
	ix2 := minInt(a.X+a.W, b.X+b.W)
	iy2 := minInt(a.Y+a.H, b.Y+b.H)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// CenterDistance returns the Euclidean distance between two box centers.
func CenterDistance(a, b Box) float64 {
	acx, acy := a.Center()
	bcx, bcy := b.Center()
	return math.Hypot(acx-bcx, acy-bcy)
}

const (
	squareScale   = 1.35
	squareMinSize = 48
)

// ExpandToSquare grows a box to a square of side
// max(squareMinSize, max(w,h)*squareScale) centered on the original box,
// clamped to the frame. It returns false for degenerate inputs or when the
// clamped square collapses to 2px or less per side.
func ExpandToSquare(b Box, frameW, frameH int) (Box, bool) {
	if b.W <= 0 || b.H <= 0 {
		return Box{}, false
	}
	cx := float64(b.X) + float64(b.W)/2
	cy := float64(b.Y) + float64(b.H)/2
	side := math.Max(float64(b.W), float64(b.H)) * squareScale
	side = math.Max(squareMinSize, side)

	half := side / 2
	left := int(math.Round(cx - half))
	top := int(math.Round(cy - half))
	right := int(math.Round(cx + half))
	bottom := int(math.Round(cy + half))

	left = maxInt(0, left)
	top = maxInt(0, top)
	right = minInt(frameW, right)
	bottom = minInt(frameH, bottom)

	size := minInt(right-left, bottom-top)
	if size <= 2 {
		return Box{}, false
	}
	return Clamp(left, top, size, size, frameW, frameH)
}

// Dedupe keeps a box only if its IOU with every already-kept box is below
// the threshold. Input order determines priority.
func Dedupe(boxes []Box, iouThreshold float64) []Box {
	out := make([]Box, 0, len(boxes))
	for _, box := range boxes {
		keep := true
		for _, kept := range out {
			if IOU(box, kept) >= iouThreshold {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, box)
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

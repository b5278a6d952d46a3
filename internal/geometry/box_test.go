package geometry

import (
	"math"
	"testing"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		name           string
		x, y, w, h     int
		frameW, frameH int
		want           Box
		ok             bool
	}{
		{"inside", 10, 20, 30, 40, 100, 100, Box{10, 20, 30, 40}, true},
		{"negative origin", -5, -5, 30, 30, 100, 100, Box{0, 0, 30, 30}, true},
		{"overflow extent", 90, 90, 50, 50, 100, 100, Box{90, 90, 10, 10}, true},
		{"origin past frame", 200, 200, 10, 10, 100, 100, Box{99, 99, 1, 1}, true},
		{"zero width", 10, 10, 0, 10, 100, 100, Box{}, false},
		{"negative height", 10, 10, 10, -1, 100, 100, Box{}, false},
		{"empty frame", 10, 10, 10, 10, 0, 100, Box{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Clamp(tt.x, tt.y, tt.w, tt.h, tt.frameW, tt.frameH)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("Clamp = %+v, %v; want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestIOUIdentity(t *testing.T) {
	boxes := []Box{
		{0, 0, 10, 10},
		{5, 7, 31, 19},
		{100, 200, 1, 1},
	}
	for _, b := range boxes {
		if got := IOU(b, b); got != 1.0 {
			t.Errorf("IOU(%+v, same) = %v, want 1.0", b, got)
		}
	}
}

func TestIOUDisjoint(t *testing.T) {
	a := Box{0, 0, 10, 10}
	b := Box{10, 0, 10, 10} // touching edge, zero intersection
	if got := IOU(a, b); got != 0 {
		t.Errorf("IOU touching = %v, want 0", got)
	}
	c := Box{50, 50, 5, 5}
	if got := IOU(a, c); got != 0 {
		t.Errorf("IOU disjoint = %v, want 0", got)
	}
}

func TestIOUOverlap(t *testing.T) {
	a := Box{0, 0, 10, 10}
	b := Box{5, 0, 10, 10}
	// intersection 50, union 150
	want := 50.0 / 150.0
	if got := IOU(a, b); math.Abs(got-want) > 1e-9 {
		t.Errorf("IOU = %v, want %v", got, want)
	}
}

func TestCenterDistance(t *testing.T) {
	a := Box{0, 0, 10, 10} // center (5,5)
	b := Box{3, 9, 4, 2}   // center (5,10)
	if got := CenterDistance(a, b); math.Abs(got-5) > 1e-9 {
		t.Errorf("CenterDistance = %v, want 5", got)
	}
}

func TestExpandToSquare(t *testing.T) {
	// 20x10 box centered at (50,50): side = max(48, 20*1.35) = 48
	b := Box{40, 45, 20, 10}
	sq, ok := ExpandToSquare(b, 200, 200)
	if !ok {
		t.Fatal("expected square")
	}
	if sq.W != sq.H {
		t.Fatalf("not square: %+v", sq)
	}
	if sq.W != 48 {
		t.Fatalf("side = %d, want 48", sq.W)
	}

	// Large box uses the scale factor.
	big := Box{0, 0, 100, 100}
	sq, ok = ExpandToSquare(big, 1000, 1000)
	if !ok || sq.W != sq.H {
		t.Fatalf("bad square: %+v ok=%v", sq, ok)
	}
	if sq.W != 135 {
		t.Fatalf("side = %d, want 135", sq.W)
	}
}

func TestExpandToSquareDegenerate(t *testing.T) {
	if _, ok := ExpandToSquare(Box{0, 0, 0, 10}, 100, 100); ok {
		t.Error("zero-width box should not expand")
	}
	// Square clamped against a sliver of a frame collapses.
	if _, ok := ExpandToSquare(Box{0, 0, 10, 10}, 2, 200); ok {
		t.Error("collapsed square should be rejected")
	}
}

func TestDedupe(t *testing.T) {
	boxes := []Box{
		{0, 0, 100, 100},
		{5, 5, 100, 100}, // heavy overlap with first
		{300, 300, 50, 50},
	}
	out := Dedupe(boxes, 0.45)
	if len(out) != 2 {
		t.Fatalf("kept %d boxes, want 2: %v", len(out), out)
	}
	if out[0] != boxes[0] || out[1] != boxes[2] {
		t.Fatalf("wrong boxes kept: %v", out)
	}
}

func TestDiagonal(t *testing.T) {
	b := Box{0, 0, 3, 4}
	if got := b.Diagonal(); math.Abs(got-5) > 1e-9 {
		t.Errorf("Diagonal = %v, want 5", got)
	}
}

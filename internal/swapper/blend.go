package swapper

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/keggin-CHN/Magic-Mirror/internal/detector"
)

// Blender composites a generated face back onto the frame it came from.
type Blender struct {
	blurSize int
}

// NewBlender creates a blender. blurSize controls the mask feathering and
// must be odd.
func NewBlender(blurSize int) *Blender {
	if blurSize%2 == 0 {
		blurSize++
	}
	return &Blender{blurSize: blurSize}
}

// Blend inverse-warps the 128x128 swapped face into frame coordinates and
// alpha-blends it through a feathered elliptical mask derived from the
// face landmarks. The frame is modified in place.
func (b *Blender) Blend(swappedFace gocv.Mat, frame *gocv.Mat, transform gocv.Mat, landmarks detector.Landmarks) {
	invTransform := gocv.NewMat()
	gocv.InvertAffineTransform(transform, &invTransform)
	defer invTransform.Close()

	frameSize := image.Pt(frame.Cols(), frame.Rows())

	warpedFace := gocv.NewMat()
	gocv.WarpAffine(swappedFace, &warpedFace, invTransform, frameSize)
	defer warpedFace.Close()

	mask := gocv.NewMatWithSize(frame.Rows(), frame.Cols(), gocv.MatTypeCV8U)
	defer mask.Close()

	var centerX, centerY float32
	for _, pt := range landmarks {
		centerX += pt.X
		centerY += pt.Y
	}
	centerX /= 5
	centerY /= 5

	// Ellipse size from the inter-eye distance.
	eyeDist := landmarks[1].X - landmarks[0].X
	faceWidth := eyeDist * 2.5
	faceHeight := eyeDist * 3.0

	gocv.Ellipse(&mask,
		image.Pt(int(centerX), int(centerY)),
		image.Pt(int(faceWidth/2), int(faceHeight/2)),
		0, 0, 360,
		color.RGBA{R: 255, G: 255, B: 255, A: 255},
		-1,
	)

	blurredMask := gocv.NewMat()
	gocv.GaussianBlur(mask, &blurredMask, image.Pt(b.blurSize, b.blurSize), 0, 0, gocv.BorderDefault)
	defer blurredMask.Close()

	warpedFace.CopyToWithMask(frame, blurredMask)
}

// Close releases blender resources.
func (b *Blender) Close() {}

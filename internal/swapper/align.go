package swapper

import (
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/keggin-CHN/Magic-Mirror/internal/detector"
	"github.com/keggin-CHN/Magic-Mirror/internal/geometry"
)

// ArcFace reference landmarks for a 112x112 aligned face.
var arcfaceTemplate = [5]geometry.Point{
	{X: 38.2946, Y: 51.6963}, // left eye
	{X: 73.5318, Y: 51.5014}, // right eye
	{X: 56.0252, Y: 71.7366}, // nose
	{X: 41.5493, Y: 92.3655}, // left mouth
	{X: 70.7299, Y: 92.2041}, // right mouth
}

// FaceAligner warps faces to the canonical crops the models expect.
type FaceAligner struct {
	arcfaceSize   int
	swapSize      int
	arcfaceDstMat gocv.Mat
	swapDstMat    gocv.Mat
}

// NewFaceAligner creates a face aligner for the 112px embedding crop and
// the 128px swap crop.
func NewFaceAligner() *FaceAligner {
	arcfaceDstMat := templateMat(arcfaceTemplate, 1)
	// Swap template is the ArcFace template scaled from 112 to 128.
	swapDstMat := templateMat(arcfaceTemplate, float32(128)/float32(112))

	return &FaceAligner{
		arcfaceSize:   112,
		swapSize:      128,
		arcfaceDstMat: arcfaceDstMat,
		swapDstMat:    swapDstMat,
	}
}

func templateMat(points [5]geometry.Point, scale float32) gocv.Mat {
	m := gocv.NewMatWithSize(5, 2, gocv.MatTypeCV32F)
	for i, pt := range points {
		m.SetFloatAt(i, 0, pt.X*scale)
		m.SetFloatAt(i, 1, pt.Y*scale)
	}
	return m
}

// AlignResult is an aligned face crop plus the transform that produced it.
type AlignResult struct {
	AlignedFace gocv.Mat
	Transform   gocv.Mat // 2x3 affine
}

// Close releases the result's mats.
func (r *AlignResult) Close() {
	r.AlignedFace.Close()
	r.Transform.Close()
}

// AlignForEmbedding aligns a face to 112x112 for the ArcFace encoder.
func (a *FaceAligner) AlignForEmbedding(img gocv.Mat, landmarks detector.Landmarks) *AlignResult {
	return a.alignFace(img, landmarks, a.arcfaceDstMat, a.arcfaceSize)
}

// AlignForSwap aligns a face to 128x128 for the swap generator.
func (a *FaceAligner) AlignForSwap(img gocv.Mat, landmarks detector.Landmarks) *AlignResult {
	return a.alignFace(img, landmarks, a.swapDstMat, a.swapSize)
}

func (a *FaceAligner) alignFace(img gocv.Mat, landmarks detector.Landmarks, dstPts gocv.Mat, size int) *AlignResult {
	srcPts := gocv.NewMatWithSize(5, 2, gocv.MatTypeCV32F)
	defer srcPts.Close()
	for i, pt := range landmarks {
		srcPts.SetFloatAt(i, 0, pt.X)
		srcPts.SetFloatAt(i, 1, pt.Y)
	}

	transform := estimateSimilarityTransform(srcPts, dstPts)

	aligned := gocv.NewMat()
	gocv.WarpAffine(img, &aligned, transform, image.Pt(size, size))

	return &AlignResult{AlignedFace: aligned, Transform: transform}
}

// Close releases aligner resources.
func (a *FaceAligner) Close() {
	a.arcfaceDstMat.Close()
	a.swapDstMat.Close()
}

// estimateSimilarityTransform solves the least-squares 2D similarity
// (rotation, uniform scale, translation) mapping src points onto dst.
func estimateSimilarityTransform(src, dst gocv.Mat) gocv.Mat {
	n := src.Rows()

	var srcCx, srcCy, dstCx, dstCy float32
	for i := 0; i < n; i++ {
		srcCx += src.GetFloatAt(i, 0)
		srcCy += src.GetFloatAt(i, 1)
		dstCx += dst.GetFloatAt(i, 0)
		dstCy += dst.GetFloatAt(i, 1)
	}
	srcCx /= float32(n)
	srcCy /= float32(n)
	dstCx /= float32(n)
	dstCy /= float32(n)

	var srcNorm, dstNorm float64
	srcCentered := make([]float32, n*2)
	dstCentered := make([]float32, n*2)
	for i := 0; i < n; i++ {
		srcCentered[i*2] = src.GetFloatAt(i, 0) - srcCx
		srcCentered[i*2+1] = src.GetFloatAt(i, 1) - srcCy
		dstCentered[i*2] = dst.GetFloatAt(i, 0) - dstCx
		dstCentered[i*2+1] = dst.GetFloatAt(i, 1) - dstCy

		srcNorm += float64(srcCentered[i*2]*srcCentered[i*2] + srcCentered[i*2+1]*srcCentered[i*2+1])
		dstNorm += float64(dstCentered[i*2]*dstCentered[i*2] + dstCentered[i*2+1]*dstCentered[i*2+1])
	}
	srcNorm = math.Sqrt(srcNorm)
	dstNorm = math.Sqrt(dstNorm)

	var a11, a12, a21, a22 float64
	for i := 0; i < n; i++ {
		sx := float64(srcCentered[i*2])
		sy := float64(srcCentered[i*2+1])
		dx := float64(dstCentered[i*2])
		dy := float64(dstCentered[i*2+1])

		a11 += sx * dx
		a12 += sx * dy
		a21 += sy * dx
		a22 += sy * dy
	}

	norm := math.Sqrt((a11+a22)*(a11+a22) + (a21-a12)*(a21-a12))
	if norm < 1e-10 {
		norm = 1
	}
	cosTheta := (a11 + a22) / norm
	sinTheta := (a21 - a12) / norm
	scale := dstNorm / srcNorm

	transform := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	transform.SetDoubleAt(0, 0, scale*cosTheta)
	transform.SetDoubleAt(0, 1, -scale*sinTheta)
	transform.SetDoubleAt(1, 0, scale*sinTheta)
	transform.SetDoubleAt(1, 1, scale*cosTheta)

	tx := float64(dstCx) - scale*(cosTheta*float64(srcCx)-sinTheta*float64(srcCy))
	ty := float64(dstCy) - scale*(sinTheta*float64(srcCx)+cosTheta*float64(srcCy))
	transform.SetDoubleAt(0, 2, tx)
	transform.SetDoubleAt(1, 2, ty)

	return transform
}

package swapper

import (
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/keggin-CHN/Magic-Mirror/internal/inference"
)

const swapInputSize = 128

// Inswapper generates a swapped face from an aligned target crop and a
// source identity latent.
type Inswapper struct {
	session *inference.Session
}

// NewInswapper loads the Inswapper model at modelPath.
func NewInswapper(modelPath string, accelerated bool) (*Inswapper, error) {
	inputNames := []string{"target", "source"}
	outputNames := []string{"output"}

	session, err := inference.NewSession(modelPath, inputNames, outputNames, accelerated)
	if err != nil {
		return nil, fmt.Errorf("create Inswapper session: %w", err)
	}
	return &Inswapper{session: session}, nil
}

// Generate renders sourceLatent's identity into the 128x128 aligned
// target face, returning a 128x128 BGR image.
func (s *Inswapper) Generate(targetFace gocv.Mat, sourceLatent *Embedding) (gocv.Mat, error) {
	if targetFace.Rows() != swapInputSize || targetFace.Cols() != swapInputSize {
		return gocv.NewMat(), fmt.Errorf("expected %dx%d target, got %dx%d",
			swapInputSize, swapInputSize, targetFace.Cols(), targetFace.Rows())
	}

	targetData := s.preprocessTarget(targetFace)

	targetTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, swapInputSize, swapInputSize),
		targetData,
	)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("create target tensor: %w", err)
	}
	defer targetTensor.Destroy()

	sourceTensor, err := ort.NewTensor(ort.NewShape(1, EmbeddingSize), sourceLatent[:])
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("create source tensor: %w", err)
	}
	defer sourceTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, 3, swapInputSize, swapInputSize})
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	err = s.session.Run(
		[]ort.Value{targetTensor, sourceTensor},
		[]ort.Value{outputTensor},
	)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("inference failed: %w", err)
	}

	return s.postprocess(outputTensor.GetData()), nil
}

// preprocessTarget matches the insightface preprocessing: RGB, [0,1].
func (s *Inswapper) preprocessTarget(img gocv.Mat) []float32 {
	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(swapInputSize, swapInputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	return bytesToFloat32Slice(blob.ToBytes())
}

// postprocess converts the NCHW [0,1] RGB output back to a BGR Mat.
func (s *Inswapper) postprocess(data []float32) gocv.Mat {
	result := gocv.NewMatWithSize(swapInputSize, swapInputSize, gocv.MatTypeCV8UC3)

	plane := swapInputSize * swapInputSize
	for y := 0; y < swapInputSize; y++ {
		for x := 0; x < swapInputSize; x++ {
			idx := y*swapInputSize + x
			r := clampByte(data[idx] * 255.0)
			g := clampByte(data[plane+idx] * 255.0)
			b := clampByte(data[2*plane+idx] * 255.0)

			result.SetUCharAt(y, x*3+0, b)
			result.SetUCharAt(y, x*3+1, g)
			result.SetUCharAt(y, x*3+2, r)
		}
	}
	return result
}

// Close releases generator resources.
func (s *Inswapper) Close() error {
	return s.session.Destroy()
}

func clampByte(v float32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

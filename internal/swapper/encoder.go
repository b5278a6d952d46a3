// Package swapper turns a detected face into another identity: ArcFace
// embedding extraction, the emap latent transform, the Inswapper
// generator and the blend back onto the frame.
package swapper

import (
	"fmt"
	"image"
	"math"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/keggin-CHN/Magic-Mirror/internal/inference"
)

// EmbeddingSize is the ArcFace embedding dimensionality.
const EmbeddingSize = 512

// Embedding is a 512-dimensional face identity vector.
type Embedding [EmbeddingSize]float32

// ArcFaceEncoder extracts face embeddings.
type ArcFaceEncoder struct {
	session *inference.Session
}

// NewArcFaceEncoder loads the ArcFace model at modelPath.
func NewArcFaceEncoder(modelPath string, accelerated bool) (*ArcFaceEncoder, error) {
	inputNames := []string{"input.1"}
	outputNames := []string{"683"}

	session, err := inference.NewSession(modelPath, inputNames, outputNames, accelerated)
	if err != nil {
		return nil, fmt.Errorf("create ArcFace session: %w", err)
	}
	return &ArcFaceEncoder{session: session}, nil
}

// Extract computes the L2-normalized embedding of a 112x112 aligned face.
func (e *ArcFaceEncoder) Extract(alignedFace gocv.Mat) (*Embedding, error) {
	if alignedFace.Rows() != 112 || alignedFace.Cols() != 112 {
		return nil, fmt.Errorf("expected 112x112 input, got %dx%d", alignedFace.Cols(), alignedFace.Rows())
	}

	inputData := e.preprocess(alignedFace)

	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, 112, 112), inputData)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, EmbeddingSize})
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := e.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return normalizeEmbedding(outputTensor.GetData()), nil
}

func (e *ArcFaceEncoder) preprocess(img gocv.Mat) []float32 {
	rgb := gocv.NewMat()
	gocv.CvtColor(img, &rgb, gocv.ColorBGRToRGB)
	defer rgb.Close()

	floatImg := gocv.NewMat()
	rgb.ConvertTo(&floatImg, gocv.MatTypeCV32FC3)
	defer floatImg.Close()

	blob := gocv.BlobFromImage(floatImg, 1.0/255.0, image.Pt(112, 112),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	return bytesToFloat32Slice(blob.ToBytes())
}

func normalizeEmbedding(data []float32) *Embedding {
	var embedding Embedding

	var norm float64
	for _, v := range data[:EmbeddingSize] {
		norm += float64(v * v)
	}
	norm = math.Sqrt(norm)
	if norm < 1e-10 {
		norm = 1
	}

	for i := 0; i < EmbeddingSize; i++ {
		embedding[i] = data[i] / float32(norm)
	}
	return &embedding
}

// Close releases encoder resources.
func (e *ArcFaceEncoder) Close() error {
	return e.session.Destroy()
}

func bytesToFloat32Slice(data []byte) []float32 {
	result := make([]float32, len(data)/4)
	for i := range result {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		result[i] = math.Float32frombits(bits)
	}
	return result
}

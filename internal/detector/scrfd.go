// Package detector runs SCRFD face detection over ONNX.
package detector

import (
	"fmt"
	"image"
	"math"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/keggin-CHN/Magic-Mirror/internal/geometry"
	"github.com/keggin-CHN/Magic-Mirror/internal/inference"
)

// SCRFD is the SCRFD face detector. Not safe for concurrent use; callers
// serialize access.
type SCRFD struct {
	session        *inference.Session
	inputSize      int
	confThreshold  float32
	nmsThreshold   float32
	featureStrides []int
	numAnchors     int
}

// Options configures a detector instance.
type Options struct {
	InputSize     int
	ConfThreshold float32
	NMSThreshold  float32
	Accelerated   bool
}

// NewSCRFD loads the SCRFD model at modelPath.
func NewSCRFD(modelPath string, opts Options) (*SCRFD, error) {
	// SCRFD has 1 input and 9 outputs: 3 feature levels x (score, bbox,
	// keypoints).
	inputNames := []string{"input.1"}
	outputNames := []string{
		"score_8", "score_16", "score_32",
		"bbox_8", "bbox_16", "bbox_32",
		"kps_8", "kps_16", "kps_32",
	}

	session, err := inference.NewSession(modelPath, inputNames, outputNames, opts.Accelerated)
	if err != nil {
		return nil, fmt.Errorf("create SCRFD session: %w", err)
	}

	return &SCRFD{
		session:        session,
		inputSize:      opts.InputSize,
		confThreshold:  opts.ConfThreshold,
		nmsThreshold:   opts.NMSThreshold,
		featureStrides: []int{8, 16, 32},
		numAnchors:     2,
	}, nil
}

// Detect finds faces in an image.
func (s *SCRFD) Detect(img gocv.Mat) ([]Face, error) {
	origHeight := img.Rows()
	origWidth := img.Cols()

	inputBlob, scale := s.preprocess(img)
	defer inputBlob.Close()

	floatData := bytesToFloat32(inputBlob.ToBytes())

	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, int64(s.inputSize), int64(s.inputSize)),
		floatData,
	)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := make([]ort.Value, 9)
	outputTensors := make([]*ort.Tensor[float32], 9)
	for level := 0; level < 3; level++ {
		side := s.inputSize / s.featureStrides[level]
		numAnchors := side * side * s.numAnchors

		scoreTensor, err := inference.CreateEmptyTensor[float32]([]int64{int64(numAnchors), 1})
		if err != nil {
			return nil, err
		}
		bboxTensor, err := inference.CreateEmptyTensor[float32]([]int64{int64(numAnchors), 4})
		if err != nil {
			return nil, err
		}
		kpsTensor, err := inference.CreateEmptyTensor[float32]([]int64{int64(numAnchors), 10})
		if err != nil {
			return nil, err
		}
		outputs[level] = scoreTensor
		outputs[level+3] = bboxTensor
		outputs[level+6] = kpsTensor
		outputTensors[level] = scoreTensor
		outputTensors[level+3] = bboxTensor
		outputTensors[level+6] = kpsTensor
	}
	defer func() {
		for _, t := range outputTensors {
			if t != nil {
				t.Destroy()
			}
		}
	}()

	if err := s.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	faces := s.postprocess(outputTensors, scale, origWidth, origHeight)
	return nms(faces, s.nmsThreshold), nil
}

// preprocess letterboxes the image into the square model input and
// normalizes pixels to (x - 127.5) / 128.
func (s *SCRFD) preprocess(img gocv.Mat) (gocv.Mat, float32) {
	height := img.Rows()
	width := img.Cols()
	longest := width
	if height > longest {
		longest = height
	}
	scale := float32(s.inputSize) / float32(longest)

	newWidth := int(float32(width) * scale)
	newHeight := int(float32(height) * scale)

	resized := gocv.NewMat()
	gocv.Resize(img, &resized, image.Pt(newWidth, newHeight), 0, 0, gocv.InterpolationLinear)

	padded := gocv.NewMatWithSize(s.inputSize, s.inputSize, gocv.MatTypeCV8UC3)
	padded.SetTo(gocv.NewScalar(0, 0, 0, 0))
	roi := padded.Region(image.Rect(0, 0, newWidth, newHeight))
	resized.CopyTo(&roi)
	roi.Close()
	resized.Close()

	rgb := gocv.NewMat()
	gocv.CvtColor(padded, &rgb, gocv.ColorBGRToRGB)
	padded.Close()

	blob := gocv.NewMat()
	rgb.ConvertTo(&blob, gocv.MatTypeCV32FC3)
	rgb.Close()

	gocv.AddWeighted(blob, 1.0/128.0, blob, 0, -127.5/128.0, &blob)

	blobNCHW := gocv.BlobFromImage(blob, 1.0, image.Pt(s.inputSize, s.inputSize),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	blob.Close()

	return blobNCHW, scale
}

// postprocess decodes the anchor grid into faces above the confidence
// threshold, mapped back to original image coordinates.
func (s *SCRFD) postprocess(outputs []*ort.Tensor[float32], scale float32, origWidth, origHeight int) []Face {
	var faces []Face

	for level := 0; level < 3; level++ {
		stride := s.featureStrides[level]
		side := s.inputSize / stride

		scoreData := outputs[level].GetData()
		bboxData := outputs[level+3].GetData()
		kpsData := outputs[level+6].GetData()

		anchorIdx := 0
		for y := 0; y < side; y++ {
			for x := 0; x < side; x++ {
				for a := 0; a < s.numAnchors; a++ {
					score := sigmoid(scoreData[anchorIdx])
					if score > s.confThreshold {
						cx := (float32(x) + 0.5) * float32(stride)
						cy := (float32(y) + 0.5) * float32(stride)

						// bbox regression is distance to each edge.
						bi := anchorIdx * 4
						x1 := clamp32((cx-bboxData[bi]*float32(stride))/scale, 0, float32(origWidth))
						y1 := clamp32((cy-bboxData[bi+1]*float32(stride))/scale, 0, float32(origHeight))
						x2 := clamp32((cx+bboxData[bi+2]*float32(stride))/scale, 0, float32(origWidth))
						y2 := clamp32((cy+bboxData[bi+3]*float32(stride))/scale, 0, float32(origHeight))

						ki := anchorIdx * 10
						var landmarks Landmarks
						for p := 0; p < 5; p++ {
							landmarks[p] = geometry.Point{
								X: (cx + kpsData[ki+p*2]*float32(stride)) / scale,
								Y: (cy + kpsData[ki+p*2+1]*float32(stride)) / scale,
							}
						}

						faces = append(faces, Face{
							BoundingBox: BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
							Landmarks:   landmarks,
							Score:       score,
						})
					}
					anchorIdx++
				}
			}
		}
	}

	return faces
}

// Close releases detector resources.
func (s *SCRFD) Close() error {
	return s.session.Destroy()
}

func sigmoid(x float32) float32 {
	return 1.0 / (1.0 + float32(math.Exp(float64(-x))))
}

func clamp32(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func bytesToFloat32(data []byte) []float32 {
	result := make([]float32, len(data)/4)
	for i := range result {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		result[i] = math.Float32frombits(bits)
	}
	return result
}

// Package onnx implements the face engine on top of the ONNX model stack:
// SCRFD detection, ArcFace embeddings and the Inswapper generator.
package onnx

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/keggin-CHN/Magic-Mirror/internal/detector"
	"github.com/keggin-CHN/Magic-Mirror/internal/engine"
	"github.com/keggin-CHN/Magic-Mirror/internal/inference"
	"github.com/keggin-CHN/Magic-Mirror/internal/swapper"
)

// Config holds model locations and inference parameters.
type Config struct {
	RuntimeLibrary string
	DetectorModel  string
	EmbedderModel  string
	SwapperModel   string
	EmapPath       string
	DetectionSize  int
	ConfThreshold  float32
	NMSThreshold   float32
	BlurSize       int
	Accelerated    bool
}

// Engine implements engine.Engine. It is not safe for concurrent use; the
// engine.Handle wrapper serializes callers.
type Engine struct {
	detector  *detector.SCRFD
	encoder   *swapper.ArcFaceEncoder
	generator *swapper.Inswapper
	aligner   *swapper.FaceAligner
	blender   *swapper.Blender
	emap      *swapper.Emap
}

// New loads every model and assembles the engine.
func New(cfg Config) (*Engine, error) {
	if err := inference.Initialize(cfg.RuntimeLibrary); err != nil {
		return nil, err
	}

	det, err := detector.NewSCRFD(cfg.DetectorModel, detector.Options{
		InputSize:     cfg.DetectionSize,
		ConfThreshold: cfg.ConfThreshold,
		NMSThreshold:  cfg.NMSThreshold,
		Accelerated:   cfg.Accelerated,
	})
	if err != nil {
		return nil, fmt.Errorf("create detector: %w", err)
	}

	enc, err := swapper.NewArcFaceEncoder(cfg.EmbedderModel, cfg.Accelerated)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("create encoder: %w", err)
	}

	gen, err := swapper.NewInswapper(cfg.SwapperModel, cfg.Accelerated)
	if err != nil {
		det.Close()
		enc.Close()
		return nil, fmt.Errorf("create generator: %w", err)
	}

	emap, err := swapper.LoadEmap(cfg.EmapPath)
	if err != nil {
		det.Close()
		enc.Close()
		gen.Close()
		return nil, fmt.Errorf("load emap: %w", err)
	}

	return &Engine{
		detector:  det,
		encoder:   enc,
		generator: gen,
		aligner:   swapper.NewFaceAligner(),
		blender:   swapper.NewBlender(cfg.BlurSize),
		emap:      emap,
	}, nil
}

// DetectAll returns every face in the image with clamped pixel boxes.
// Embeddings are not computed here; detections only need geometry.
func (e *Engine) DetectAll(img gocv.Mat) ([]engine.Detection, error) {
	faces, err := e.detector.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	frameW, frameH := img.Cols(), img.Rows()
	detections := make([]engine.Detection, 0, len(faces))
	for _, f := range faces {
		box, ok := f.BoundingBox.Rect(frameW, frameH)
		if !ok {
			continue
		}
		face := &engine.Face{
			Box:       box,
			Landmarks: f.Landmarks,
			Score:     f.Score,
		}
		detections = append(detections, engine.Detection{Face: face, Box: box})
	}
	return detections, nil
}

// DetectOne returns the highest-scoring face with its embedding computed,
// or nil when the image has no face.
func (e *Engine) DetectOne(img gocv.Mat) (*engine.Face, error) {
	detections, err := e.DetectAll(img)
	if err != nil {
		return nil, err
	}
	if len(detections) == 0 {
		return nil, nil
	}

	best := detections[0].Face
	for _, d := range detections[1:] {
		if d.Face.Score > best.Score {
			best = d.Face
		}
	}

	aligned := e.aligner.AlignForEmbedding(img, detector.Landmarks(best.Landmarks))
	defer aligned.Close()

	embedding, err := e.encoder.Extract(aligned.AlignedFace)
	if err != nil {
		return nil, fmt.Errorf("extract embedding: %w", err)
	}
	best.Embedding = embedding[:]
	return best, nil
}

// Swap renders destination's identity onto reference's position in frame.
// The input frame is left untouched; the result is a new Mat the caller
// owns.
func (e *Engine) Swap(frame gocv.Mat, reference, destination *engine.Face) (gocv.Mat, error) {
	if destination == nil || len(destination.Embedding) != swapper.EmbeddingSize {
		return gocv.NewMat(), errors.New("destination face has no embedding")
	}

	var embedding swapper.Embedding
	copy(embedding[:], destination.Embedding)
	latent := e.emap.TransformEmbedding(&embedding)

	aligned := e.aligner.AlignForSwap(frame, detector.Landmarks(reference.Landmarks))
	defer aligned.Close()

	generated, err := e.generator.Generate(aligned.AlignedFace, latent)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("generate: %w", err)
	}
	defer generated.Close()

	out := frame.Clone()
	e.blender.Blend(generated, &out, aligned.Transform, detector.Landmarks(reference.Landmarks))
	return out, nil
}

// Close releases every model session.
func (e *Engine) Close() error {
	var errs []error
	if e.detector != nil {
		if err := e.detector.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.encoder != nil {
		if err := e.encoder.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.generator != nil {
		if err := e.generator.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.aligner != nil {
		e.aligner.Close()
	}
	if e.blender != nil {
		e.blender.Close()
	}
	return errors.Join(errs...)
}

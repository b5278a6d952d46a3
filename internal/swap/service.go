// Package swap exposes the face-substitution jobs: whole videos with one
// or many tracked identities, single images, and detection-only queries.
// Every job returns either an output path whose file exists or an error
// from the package taxonomy.
package swap

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/keggin-CHN/Magic-Mirror/internal/config"
	"github.com/keggin-CHN/Magic-Mirror/internal/engine"
	"github.com/keggin-CHN/Magic-Mirror/internal/engine/onnx"
)

// Stage names reported through the OnStage callback, in the order a
// video job passes through them.
const (
	StageValidatingInput  = "validating-input"
	StageOpeningVideo     = "opening-video"
	StageReadingMetadata  = "reading-video-metadata"
	StageExtractingFace   = "extracting-target-face"
	StageBuildingTracks   = "building-face-tracks"
	StageProcessingFrames = "processing-video-frames"
	StageMuxingAudio      = "muxing-audio"
	StageFinalizing       = "finalizing"
)

// Callbacks carries the optional job observers. Both are best effort:
// a panicking or failing callback is logged and never aborts the job.
type Callbacks struct {
	// OnProgress receives frames seen so far, the advisory total
	// (zero when the container does not report one) and elapsed
	// seconds.
	OnProgress func(framesSeen, totalFrames int, elapsedSeconds float64)
	// OnStage receives coarse phase transitions.
	OnStage func(stage string)
}

// Service owns the face engine and runs swap jobs against it. It is safe
// for concurrent use; the engine handle serializes device access.
type Service struct {
	cfg      config.Config
	logger   *slog.Logger
	provider *engine.Provider
}

// New builds a Service over the configured ONNX model stack. Models are
// not loaded until the first job needs the engine.
func New(cfg config.Config, logger *slog.Logger) *Service {
	factory := func(accelerated bool) (engine.Engine, error) {
		return onnx.New(onnx.Config{
			RuntimeLibrary: cfg.Models.RuntimeLibrary,
			DetectorModel:  cfg.ModelPath(cfg.Models.Detector),
			EmbedderModel:  cfg.ModelPath(cfg.Models.Embedder),
			SwapperModel:   cfg.ModelPath(cfg.Models.Swapper),
			EmapPath:       cfg.ModelPath(cfg.Models.Emap),
			DetectionSize:  cfg.Models.DetectionSize,
			ConfThreshold:  cfg.Models.ConfThreshold,
			NMSThreshold:   cfg.Models.NMSThreshold,
			BlurSize:       cfg.Pipeline.BlurSize,
			Accelerated:    accelerated,
		})
	}
	return NewWithFactory(cfg, logger, factory)
}

// NewWithFactory builds a Service over an arbitrary engine factory.
func NewWithFactory(cfg config.Config, logger *slog.Logger, factory engine.Factory) *Service {
	return &Service{
		cfg:      cfg,
		logger:   logger,
		provider: engine.NewProvider(factory, logger),
	}
}

// Close releases the engine backends.
func (s *Service) Close() error {
	return s.provider.Close()
}

func (s *Service) stage(cb Callbacks, stage string) {
	s.logger.Debug("job stage", "stage", stage)
	if cb.OnStage == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Warn("stage callback panicked", "stage", stage, "panic", rec)
		}
	}()
	cb.OnStage(stage)
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrInputNotFound, path)
	}
	return nil
}

// outputImagePath derives `<base>_output<ext>` next to the input, or in
// the configured output directory when one is set.
func (s *Service) outputImagePath(input string) string {
	return s.outputPath(input, filepath.Ext(input))
}

// outputVideoPath derives `<base>_output.mp4`; video results are always
// written to an mp4 container.
func (s *Service) outputVideoPath(input string) string {
	return s.outputPath(input, ".mp4")
}

func (s *Service) outputPath(input, ext string) string {
	dir := s.cfg.Output.Dir
	if dir == "" {
		dir = filepath.Dir(input)
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(dir, base+"_output"+ext)
}

package swap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gocv.io/x/gocv"

	"github.com/keggin-CHN/Magic-Mirror/internal/engine"
	"github.com/keggin-CHN/Magic-Mirror/internal/geometry"
	"github.com/keggin-CHN/Magic-Mirror/internal/imaging"
	"github.com/keggin-CHN/Magic-Mirror/internal/pipeline"
	"github.com/keggin-CHN/Magic-Mirror/internal/tracking"
	"github.com/keggin-CHN/Magic-Mirror/internal/video"
)

// ProcessSingleFaceVideo renders the identity from faceImage onto the
// most prominent face of every frame of inputVideo. useAccelerated asks
// for the accelerated backend on top of the configured preference; the
// job still runs on CPU when no accelerated backend attaches. It returns
// the output file path; the file is guaranteed to exist on success.
func (s *Service) ProcessSingleFaceVideo(ctx context.Context, inputVideo, faceImage string, useAccelerated bool, cb Callbacks) (string, error) {
	s.stage(cb, StageValidatingInput)
	if err := requireFile(inputVideo); err != nil {
		return "", err
	}
	if err := requireFile(faceImage); err != nil {
		return "", err
	}

	handle, accelerated, err := s.provider.Select(useAccelerated || s.cfg.Pipeline.Accelerated)
	if err != nil {
		return "", fmt.Errorf("%w: engine init: %v", ErrInternal, err)
	}

	var identity *engine.Face
	anchor := func(_ *video.Source, _ video.Meta) error {
		s.stage(cb, StageExtractingFace)
		face, err := s.loadIdentity(handle, faceImage)
		if err != nil {
			return err
		}
		identity = face
		return nil
	}

	process := func(meta video.Meta) pipeline.FrameFunc {
		return func(index int, frame gocv.Mat) (gocv.Mat, bool, error) {
			dets, err := handle.DetectAll(frame)
			if err != nil || len(dets) == 0 {
				if err != nil {
					s.logger.Debug("frame detection failed", "frame", index, "error", err)
				}
				return imaging.NormalizeFrame(frame, meta.Width, meta.Height), false, nil
			}
			ref := dets[0]
			for _, d := range dets[1:] {
				if d.Box.Area() > ref.Box.Area() {
					ref = d
				}
			}
			out, err := handle.Swap(frame, ref.Face, identity)
			if err != nil {
				s.logger.Debug("frame swap failed", "frame", index, "error", err)
				return imaging.NormalizeFrame(frame, meta.Width, meta.Height), false, nil
			}
			frame.Close()
			return imaging.NormalizeFrame(out, meta.Width, meta.Height), true, nil
		}
	}

	return s.runVideoJob(ctx, inputVideo, cb, accelerated, anchor, process)
}

// ProcessMultiFaceVideo renders a distinct identity onto each tracked
// face. sources maps face-source IDs to identity image paths; each
// binding anchors one seed region on the key frame to a source ID.
// Tracks that anchoring misses are never acquired later.
func (s *Service) ProcessMultiFaceVideo(ctx context.Context, inputVideo string, sources map[string]string, bindings []Binding, keyFrameOffsetMs float64, useAccelerated bool, cb Callbacks) (string, error) {
	s.stage(cb, StageValidatingInput)
	if err := requireFile(inputVideo); err != nil {
		return "", err
	}
	if len(bindings) == 0 {
		return "", fmt.Errorf("%w: no seed regions", ErrInvalidFaceSourceBinding)
	}
	for _, b := range bindings {
		if b.SourceID == "" {
			return "", fmt.Errorf("%w: empty source id", ErrInvalidFaceSourceBinding)
		}
		if _, ok := sources[b.SourceID]; !ok {
			return "", fmt.Errorf("%w: %q", ErrFaceSourceNotFound, b.SourceID)
		}
	}

	handle, accelerated, err := s.provider.Select(useAccelerated || s.cfg.Pipeline.Accelerated)
	if err != nil {
		return "", fmt.Errorf("%w: engine init: %v", ErrInternal, err)
	}

	identities := make(map[string]*engine.Face, len(sources))
	var tracker *tracking.Tracker

	anchor := func(src *video.Source, meta video.Meta) error {
		s.stage(cb, StageExtractingFace)
		for _, b := range bindings {
			if _, done := identities[b.SourceID]; done {
				continue
			}
			face, err := s.loadIdentity(handle, sources[b.SourceID])
			if err != nil {
				return err
			}
			identities[b.SourceID] = face
		}

		s.stage(cb, StageBuildingTracks)
		keyIndex := meta.FrameIndexAt(keyFrameOffsetMs)
		src.Seek(keyIndex)
		keyFrame := gocv.NewMat()
		defer keyFrame.Close()
		if !src.Read(&keyFrame) {
			return fmt.Errorf("%w: key frame %d", ErrFrameReadFailed, keyIndex)
		}

		dets, err := handle.DetectAll(keyFrame)
		if err != nil {
			return fmt.Errorf("%w: key frame detection: %v", ErrInternal, err)
		}
		boxes := detectionBoxes(dets)

		seeds := make([]tracking.Seed, 0, len(bindings))
		for _, b := range bindings {
			box, ok := geometry.Clamp(b.Region.X, b.Region.Y, b.Region.W, b.Region.H, meta.Width, meta.Height)
			if !ok {
				continue
			}
			seeds = append(seeds, tracking.Seed{Box: box, FaceSourceID: b.SourceID})
		}

		tracker = tracking.NewTracker(seeds, boxes)
		if tracker.Len() == 0 {
			return fmt.Errorf("%w: %d regions, %d detections on key frame", ErrNoFaceInSeedRegions, len(seeds), len(boxes))
		}
		src.Seek(0)
		return nil
	}

	process := func(meta video.Meta) pipeline.FrameFunc {
		return func(index int, frame gocv.Mat) (gocv.Mat, bool, error) {
			dets, err := handle.DetectAll(frame)
			if err != nil {
				s.logger.Debug("frame detection failed", "frame", index, "error", err)
				dets = nil
			}
			matches := tracker.Observe(detectionBoxes(dets))

			cur := frame
			swapped := false
			for _, m := range matches {
				identity := identities[m.FaceSourceID]
				out, err := handle.Swap(cur, dets[m.Detection].Face, identity)
				if err != nil {
					s.logger.Debug("track swap failed", "frame", index, "track", m.TrackID, "error", err)
					continue
				}
				cur.Close()
				cur = out
				swapped = true
			}
			return imaging.NormalizeFrame(cur, meta.Width, meta.Height), swapped, nil
		}
	}

	return s.runVideoJob(ctx, inputVideo, cb, accelerated, anchor, process)
}

// loadIdentity extracts the embedding-bearing face from an identity
// image.
func (s *Service) loadIdentity(handle *engine.Handle, path string) (*engine.Face, error) {
	img, err := imaging.ReadImage(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrImageDecodeFailed, path, err)
	}
	defer img.Close()

	face, err := handle.DetectOne(img)
	if err != nil {
		return nil, fmt.Errorf("%w: detect in %s: %v", ErrInternal, path, err)
	}
	if face == nil || face.Embedding == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFaceDetected, path)
	}
	return face, nil
}

func detectionBoxes(dets []engine.Detection) []geometry.Box {
	boxes := make([]geometry.Box, len(dets))
	for i, d := range dets {
		boxes[i] = d.Box
	}
	return boxes
}

// writerSink adapts the video writer to the pipeline sink, tagging write
// failures with the taxonomy code that aborts the job.
type writerSink struct {
	w *video.Writer
}

func (ws writerSink) Write(frame gocv.Mat) error {
	if err := ws.w.Write(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrVideoWriteFailed, err)
	}
	return nil
}

// runVideoJob runs the shared tail of every video job: open input,
// create the writer, optionally anchor tracks, pump the pipeline, then
// validate and mux the output.
func (s *Service) runVideoJob(
	ctx context.Context,
	inputVideo string,
	cb Callbacks,
	accelerated bool,
	anchor func(src *video.Source, meta video.Meta) error,
	process func(meta video.Meta) pipeline.FrameFunc,
) (string, error) {
	s.stage(cb, StageOpeningVideo)
	src, err := video.Open(inputVideo)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrVideoOpenFailed, err)
	}
	defer src.Close()

	s.stage(cb, StageReadingMetadata)
	meta := src.Meta()
	s.logger.Info("input video opened",
		"path", inputVideo,
		"fps", meta.FPS,
		"size", fmt.Sprintf("%dx%d", meta.Width, meta.Height),
		"frames", meta.TotalFrames)

	outputPath := s.outputVideoPath(inputVideo)
	writer, err := video.NewWriter(outputPath, meta.FPS, meta.Width, meta.Height)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrVideoWriteFailed, err)
	}

	if anchor != nil {
		if err := anchor(src, meta); err != nil {
			writer.Close()
			os.Remove(outputPath)
			return "", err
		}
	}

	start := time.Now()
	opts := pipeline.Options{
		Workers:     s.cfg.Pipeline.Workers,
		QueueSize:   s.cfg.Pipeline.QueueSize,
		Accelerated: accelerated,
		TotalFrames: meta.TotalFrames,
		Logger:      s.logger,
	}
	if cb.OnProgress != nil {
		progress := cb.OnProgress
		logger := s.logger
		opts.OnProgress = func(framesSeen, total int) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Warn("progress callback panicked", "panic", rec)
				}
			}()
			progress(framesSeen, total, time.Since(start).Seconds())
		}
	}

	s.stage(cb, StageProcessingFrames)
	stats, runErr := pipeline.Run(ctx, src, writerSink{writer}, process(meta), opts)

	closeErr := writer.Close()
	if runErr == nil && closeErr != nil {
		runErr = fmt.Errorf("%w: close: %v", ErrVideoWriteFailed, closeErr)
	}
	if runErr != nil {
		os.Remove(outputPath)
		if Code(runErr) == ErrInternal.Error() && !errors.Is(runErr, ErrInternal) {
			runErr = fmt.Errorf("%w: %v", ErrInternal, runErr)
		}
		return "", runErr
	}

	s.logger.Info("frame pipeline finished",
		"written", stats.Written,
		"swapped", stats.Swapped,
		"failed", stats.Failed,
		"elapsed", stats.Elapsed)

	if stats.Written == 0 {
		os.Remove(outputPath)
		return "", fmt.Errorf("%w: no frames decoded from %s", ErrFrameReadFailed, inputVideo)
	}
	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		os.Remove(outputPath)
		return "", fmt.Errorf("%w: %s", ErrVideoOutputMissing, outputPath)
	}

	s.stage(cb, StageMuxingAudio)
	if err := video.MuxAudio(ctx, s.logger, outputPath, inputVideo); err != nil {
		s.logger.Warn("audio mux skipped", "error", err)
	}

	s.stage(cb, StageFinalizing)
	return outputPath, nil
}

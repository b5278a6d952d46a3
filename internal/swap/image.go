package swap

import (
	"fmt"
	"image"
	"sort"

	"gocv.io/x/gocv"

	"github.com/keggin-CHN/Magic-Mirror/internal/engine"
	"github.com/keggin-CHN/Magic-Mirror/internal/geometry"
	"github.com/keggin-CHN/Magic-Mirror/internal/imaging"
	"github.com/keggin-CHN/Magic-Mirror/internal/video"
)

// detectMaxSize caps the long edge during detection-only queries; larger
// images are downscaled for detection and the boxes mapped back.
const detectMaxSize = 1920

// SwapImage renders the identity from faceImage onto the most prominent
// face of inputImage and writes `<base>_output<ext>` next to it. It
// returns the path actually written.
func (s *Service) SwapImage(inputImage, faceImage string) (string, error) {
	if err := requireFile(inputImage); err != nil {
		return "", err
	}
	if err := requireFile(faceImage); err != nil {
		return "", err
	}

	handle, _, err := s.provider.Select(s.cfg.Pipeline.Accelerated)
	if err != nil {
		return "", fmt.Errorf("%w: engine init: %v", ErrInternal, err)
	}

	out, err := s.swapWholeImage(handle, inputImage, faceImage)
	if err != nil {
		return "", err
	}
	defer out.Close()
	return s.writeResult(s.outputImagePath(inputImage), out)
}

// SwapImageRegions swaps only inside the given regions, each cropped,
// swapped and pasted back independently. With no usable region it falls
// back to a whole-image swap. Regions that contain no face are left
// untouched; the output file is written regardless.
func (s *Service) SwapImageRegions(inputImage, faceImage string, regions []Region) (string, error) {
	if err := requireFile(inputImage); err != nil {
		return "", err
	}
	if err := requireFile(faceImage); err != nil {
		return "", err
	}

	handle, _, err := s.provider.Select(s.cfg.Pipeline.Accelerated)
	if err != nil {
		return "", fmt.Errorf("%w: engine init: %v", ErrInternal, err)
	}

	input, err := imaging.ReadImage(inputImage)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrImageDecodeFailed, inputImage, err)
	}
	defer input.Close()

	boxes := normalizeRegions(regions, input.Cols(), input.Rows())
	if len(boxes) == 0 {
		s.logger.Warn("no usable region, swapping the whole image", "path", inputImage)
		out, err := s.swapWholeImage(handle, inputImage, faceImage)
		if err != nil {
			return "", err
		}
		defer out.Close()
		return s.writeResult(s.outputImagePath(inputImage), out)
	}

	identity, err := s.loadIdentity(handle, faceImage)
	if err != nil {
		return "", err
	}

	out := input.Clone()
	defer out.Close()
	swapped := s.swapRegions(handle, input, &out, boxes, func(geometry.Box) *engine.Face {
		return identity
	})
	s.logger.Debug("region swap finished", "regions", len(boxes), "swapped", swapped)
	return s.writeResult(s.outputImagePath(inputImage), out)
}

// SwapImageBySources swaps each bound region with its own identity.
// sources maps face-source IDs to identity image paths.
func (s *Service) SwapImageBySources(inputImage string, sources map[string]string, bindings []Binding) (string, error) {
	if err := requireFile(inputImage); err != nil {
		return "", err
	}

	handle, _, err := s.provider.Select(s.cfg.Pipeline.Accelerated)
	if err != nil {
		return "", fmt.Errorf("%w: engine init: %v", ErrInternal, err)
	}

	input, err := imaging.ReadImage(inputImage)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrImageDecodeFailed, inputImage, err)
	}
	defer input.Close()

	valid := validBindings(bindings, input.Cols(), input.Rows())
	if len(valid) == 0 {
		return "", fmt.Errorf("%w: no usable region", ErrInvalidFaceSourceBinding)
	}

	identities := make(map[string]*engine.Face, len(sources))
	for id, path := range sources {
		face, err := s.loadIdentity(handle, path)
		if err != nil {
			return "", err
		}
		identities[id] = face
	}

	out := input.Clone()
	defer out.Close()
	for _, b := range valid {
		identity, ok := identities[b.SourceID]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrFaceSourceNotFound, b.SourceID)
		}
		box, _ := geometry.Clamp(b.Region.X, b.Region.Y, b.Region.W, b.Region.H, input.Cols(), input.Rows())
		s.swapRegions(handle, input, &out, []geometry.Box{box}, func(geometry.Box) *engine.Face {
			return identity
		})
	}
	return s.writeResult(s.outputImagePath(inputImage), out)
}

// VideoDetection is the result of a key-frame face query on a video.
type VideoDetection struct {
	Boxes       []geometry.Box
	FrameWidth  int
	FrameHeight int
	FrameIndex  int
}

// DetectFaceBoxesInImage returns squared, deduplicated face boxes for
// the image, restricted to regions when any are given.
func (s *Service) DetectFaceBoxesInImage(inputImage string, regions []Region) ([]geometry.Box, error) {
	if err := requireFile(inputImage); err != nil {
		return nil, err
	}

	handle, _, err := s.provider.Select(s.cfg.Pipeline.Accelerated)
	if err != nil {
		return nil, fmt.Errorf("%w: engine init: %v", ErrInternal, err)
	}

	img, err := imaging.ReadImage(inputImage)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrImageDecodeFailed, inputImage, err)
	}
	defer img.Close()

	width, height := img.Cols(), img.Rows()
	scale := 1.0
	working := img
	if longEdge := maxIntOf(width, height); longEdge > detectMaxSize {
		scale = float64(detectMaxSize) / float64(longEdge)
		resized := gocv.NewMat()
		gocv.Resize(img, &resized,
			image.Pt(int(float64(width)*scale), int(float64(height)*scale)),
			0, 0, gocv.InterpolationLinear)
		defer resized.Close()
		working = resized
		s.logger.Debug("downscaling for detection",
			"from", fmt.Sprintf("%dx%d", width, height),
			"to", fmt.Sprintf("%dx%d", resized.Cols(), resized.Rows()))
	}

	areas := normalizeRegions(regions, width, height)
	if scale != 1.0 {
		for i, a := range areas {
			areas[i] = scaleBox(a, scale)
		}
	}
	if len(areas) == 0 {
		areas = []geometry.Box{{X: 0, Y: 0, W: working.Cols(), H: working.Rows()}}
	}

	boxes := s.detectBoxesInFrame(handle, working, areas)
	if scale != 1.0 {
		for i, b := range boxes {
			boxes[i] = scaleBox(b, 1/scale)
		}
	}
	return boxes, nil
}

// DetectFaceBoxesInVideo runs the same query against one key frame of a
// video, selected by millisecond offset.
func (s *Service) DetectFaceBoxesInVideo(inputVideo string, keyFrameOffsetMs float64, regions []Region) (VideoDetection, error) {
	if err := requireFile(inputVideo); err != nil {
		return VideoDetection{}, err
	}

	handle, _, err := s.provider.Select(s.cfg.Pipeline.Accelerated)
	if err != nil {
		return VideoDetection{}, fmt.Errorf("%w: engine init: %v", ErrInternal, err)
	}

	src, err := video.Open(inputVideo)
	if err != nil {
		return VideoDetection{}, fmt.Errorf("%w: %v", ErrVideoOpenFailed, err)
	}
	defer src.Close()

	meta := src.Meta()
	frameIndex := meta.FrameIndexAt(keyFrameOffsetMs)
	src.Seek(frameIndex)

	frame := gocv.NewMat()
	defer frame.Close()
	if !src.Read(&frame) {
		return VideoDetection{}, fmt.Errorf("%w: frame %d", ErrFrameReadFailed, frameIndex)
	}

	areas := normalizeRegions(regions, meta.Width, meta.Height)
	if len(areas) == 0 {
		areas = []geometry.Box{{X: 0, Y: 0, W: meta.Width, H: meta.Height}}
	}

	return VideoDetection{
		Boxes:       s.detectBoxesInFrame(handle, frame, areas),
		FrameWidth:  meta.Width,
		FrameHeight: meta.Height,
		FrameIndex:  frameIndex,
	}, nil
}

// swapWholeImage swaps the single most prominent face of the input.
func (s *Service) swapWholeImage(handle *engine.Handle, inputImage, faceImage string) (gocv.Mat, error) {
	input, err := imaging.ReadImage(inputImage)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %s: %v", ErrImageDecodeFailed, inputImage, err)
	}
	defer input.Close()

	reference, err := handle.DetectOne(input)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: detect in %s: %v", ErrInternal, inputImage, err)
	}
	if reference == nil {
		return gocv.Mat{}, fmt.Errorf("%w: %s", ErrNoFaceDetected, inputImage)
	}
	identity, err := s.loadIdentity(handle, faceImage)
	if err != nil {
		return gocv.Mat{}, err
	}

	out, err := handle.Swap(input, reference, identity)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrSwapFailed, err)
	}
	return out, nil
}

// swapRegions crops each box out of input, swaps the face found there
// and pastes the result into out. Boxes without a face are skipped. It
// returns the number of regions actually swapped.
func (s *Service) swapRegions(handle *engine.Handle, input gocv.Mat, out *gocv.Mat, boxes []geometry.Box, identityFor func(geometry.Box) *engine.Face) int {
	swapped := 0
	for _, box := range boxes {
		rect := image.Rect(box.X, box.Y, box.X+box.W, box.Y+box.H)
		crop := input.Region(rect)

		reference, err := handle.DetectOne(crop)
		if err != nil || reference == nil {
			crop.Close()
			continue
		}
		result, err := handle.Swap(crop, reference, identityFor(box))
		crop.Close()
		if err != nil {
			s.logger.Debug("region swap failed", "box", box, "error", err)
			continue
		}

		dst := out.Region(rect)
		result.CopyTo(&dst)
		dst.Close()
		result.Close()
		swapped++
	}
	return swapped
}

// detectBoxesInFrame detects faces inside each search area, squares the
// boxes and deduplicates overlaps, returning them in reading order.
func (s *Service) detectBoxesInFrame(handle *engine.Handle, frame gocv.Mat, areas []geometry.Box) []geometry.Box {
	frameW, frameH := frame.Cols(), frame.Rows()
	var boxes []geometry.Box
	for _, area := range areas {
		rect := image.Rect(area.X, area.Y, area.X+area.W, area.Y+area.H)
		crop := frame.Region(rect)
		dets, err := handle.DetectAll(crop)
		crop.Close()
		if err != nil {
			s.logger.Debug("area detection failed", "area", area, "error", err)
			continue
		}
		for _, d := range dets {
			global := geometry.Box{X: area.X + d.Box.X, Y: area.Y + d.Box.Y, W: d.Box.W, H: d.Box.H}
			if sq, ok := geometry.ExpandToSquare(global, frameW, frameH); ok {
				boxes = append(boxes, sq)
			}
		}
	}

	boxes = geometry.Dedupe(boxes, 0.45)
	sort.Slice(boxes, func(i, j int) bool {
		if boxes[i].Y != boxes[j].Y {
			return boxes[i].Y < boxes[j].Y
		}
		return boxes[i].X < boxes[j].X
	})
	return boxes
}

func (s *Service) writeResult(path string, img gocv.Mat) (string, error) {
	written, err := imaging.WriteImage(path, img)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOutputWriteFailed, err)
	}
	return written, nil
}

// validBindings drops bindings with no source ID or an empty rectangle,
// mirroring how callers' UI payloads are tolerated elsewhere.
func validBindings(bindings []Binding, frameW, frameH int) []Binding {
	out := make([]Binding, 0, len(bindings))
	for _, b := range bindings {
		if b.SourceID == "" {
			continue
		}
		if _, ok := geometry.Clamp(b.Region.X, b.Region.Y, b.Region.W, b.Region.H, frameW, frameH); !ok {
			continue
		}
		out = append(out, b)
	}
	return out
}

func scaleBox(b geometry.Box, factor float64) geometry.Box {
	return geometry.Box{
		X: int(float64(b.X) * factor),
		Y: int(float64(b.Y) * factor),
		W: int(float64(b.W) * factor),
		H: int(float64(b.H) * factor),
	}
}

func maxIntOf(a, b int) int {
	if a > b {
		return a
	}
	return b
}

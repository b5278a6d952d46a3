// Package imaging holds the pixel-buffer plumbing around the engine:
// tolerant image decode, encode with a PNG fallback, and output-frame
// normalization to the writer's fixed format.
package imaging

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
)

// ReadImage decodes the image at path into an 8-bit 3-channel BGR Mat.
// 16-bit inputs are range-normalized down to 8 bits; grayscale and alpha
// images are converted to BGR.
func ReadImage(path string) (gocv.Mat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("read image %s: %w", path, err)
	}

	img, err := gocv.IMDecode(data, gocv.IMReadUnchanged)
	if err != nil || img.Empty() {
		if err == nil {
			err = fmt.Errorf("empty result")
		}
		return gocv.NewMat(), fmt.Errorf("decode image %s: %w", path, err)
	}

	if depth(img) != gocv.MatTypeCV8U {
		converted := gocv.NewMat()
		gocv.Normalize(img, &converted, 0, 255, gocv.NormMinMax)
		converted.ConvertTo(&converted, gocv.MatTypeCV8U)
		img.Close()
		img = converted
	}

	switch img.Channels() {
	case 1:
		bgr := gocv.NewMat()
		gocv.CvtColor(img, &bgr, gocv.ColorGrayToBGR)
		img.Close()
		img = bgr
	case 4:
		bgr := gocv.NewMat()
		gocv.CvtColor(img, &bgr, gocv.ColorBGRAToBGR)
		img.Close()
		img = bgr
	}

	return img, nil
}

// WriteImage encodes img to path using the path's extension, falling back
// to PNG (with the extension rewritten) when that codec cannot encode.
// It returns the path actually written.
func WriteImage(path string, img gocv.Mat) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		ext = ".png"
		path += ext
	}

	if err := tryWrite(path, ext, img); err == nil {
		return path, nil
	}

	fallback := strings.TrimSuffix(path, filepath.Ext(path)) + ".png"
	if err := tryWrite(fallback, ".png", img); err != nil {
		return "", fmt.Errorf("encode image %s: %w", path, err)
	}
	return fallback, nil
}

func tryWrite(path, ext string, img gocv.Mat) error {
	buf, err := gocv.IMEncode(gocv.FileExt(ext), img)
	if err != nil {
		return err
	}
	defer buf.Close()
	return os.WriteFile(path, buf.GetBytes(), 0o644)
}

// NormalizeFrame forces a frame into the writer's fixed format: 8-bit
// 3-channel BGR at width x height. A nil-equivalent (empty) frame becomes
// a black frame. The input is consumed; the returned Mat may be the same
// one when no conversion was needed.
func NormalizeFrame(frame gocv.Mat, width, height int) gocv.Mat {
	if frame.Empty() {
		frame.Close()
		return gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	}

	switch frame.Channels() {
	case 1:
		bgr := gocv.NewMat()
		gocv.CvtColor(frame, &bgr, gocv.ColorGrayToBGR)
		frame.Close()
		frame = bgr
	case 4:
		bgr := gocv.NewMat()
		gocv.CvtColor(frame, &bgr, gocv.ColorBGRAToBGR)
		frame.Close()
		frame = bgr
	}

	if frame.Cols() != width || frame.Rows() != height {
		resized := gocv.NewMat()
		gocv.Resize(frame, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
		frame.Close()
		frame = resized
	}

	if depth(frame) != gocv.MatTypeCV8U {
		converted := gocv.NewMat()
		gocv.Normalize(frame, &converted, 0, 255, gocv.NormMinMax)
		converted.ConvertTo(&converted, gocv.MatTypeCV8U)
		frame.Close()
		frame = converted
	}

	return frame
}

// depth extracts the element depth from a Mat type (the low 3 bits in
// OpenCV's type encoding).
func depth(m gocv.Mat) gocv.MatType {
	return gocv.MatType(int(m.Type()) & 7)
}

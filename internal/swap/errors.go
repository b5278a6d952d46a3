package swap

import "errors"

// Job failures carry one of these sentinels so callers can branch on the
// failure class with errors.Is and surface a stable code string.
var (
	ErrInputNotFound            = errors.New("input-not-found")
	ErrNoFaceDetected           = errors.New("no-face-detected")
	ErrNoFaceInSeedRegions      = errors.New("no-face-in-seed-regions")
	ErrVideoOpenFailed          = errors.New("video-open-failed")
	ErrVideoWriteFailed         = errors.New("video-write-failed")
	ErrVideoOutputMissing       = errors.New("video-output-missing")
	ErrFrameReadFailed          = errors.New("frame-read-failed")
	ErrImageDecodeFailed        = errors.New("image-decode-failed")
	ErrOutputWriteFailed        = errors.New("output-write-failed")
	ErrInvalidFaceSourceBinding = errors.New("invalid-face-source-binding")
	ErrFaceSourceNotFound       = errors.New("face-source-not-found")
	ErrSwapFailed               = errors.New("swap-failed")
	ErrInternal                 = errors.New("internal")
)

var codes = []error{
	ErrInputNotFound,
	ErrNoFaceDetected,
	ErrNoFaceInSeedRegions,
	ErrVideoOpenFailed,
	ErrVideoWriteFailed,
	ErrVideoOutputMissing,
	ErrFrameReadFailed,
	ErrImageDecodeFailed,
	ErrOutputWriteFailed,
	ErrInvalidFaceSourceBinding,
	ErrFaceSourceNotFound,
	ErrSwapFailed,
	ErrInternal,
}

// Code maps an error to its taxonomy code. Unclassified errors fall into
// the internal bucket.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, sentinel := range codes {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ErrInternal.Error()
}

package video

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const muxTimeout = 5 * time.Minute

// muxArgs builds the ffmpeg argument list that copies the processed
// video stream and grafts the audio track from the original input onto
// it. The audio map is optional so silent inputs still mux cleanly.
func muxArgs(processed, original, out string) []string {
	return []string{
		"-y",
		"-i", processed,
		"-i", original,
		"-map", "0:v:0",
		"-map", "1:a?",
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		out,
	}
}

// MuxAudio re-attaches the original file's audio track to the processed
// video in place. It is best effort: when ffmpeg is missing or fails the
// processed file is left untouched and the error is returned for
// logging, never for failing the job.
func MuxAudio(ctx context.Context, logger *slog.Logger, processed, original string) error {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return fmt.Errorf("mux audio: ffmpeg not found: %w", err)
	}

	dir := filepath.Dir(processed)
	tmp := filepath.Join(dir, uuid.NewString()+filepath.Ext(processed))

	ctx, cancel := context.WithTimeout(ctx, muxTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpeg, muxArgs(processed, original, tmp)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(tmp)
		logger.Debug("ffmpeg mux output", "output", string(output))
		return fmt.Errorf("mux audio: ffmpeg failed: %w", err)
	}

	if err := os.Rename(tmp, processed); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("mux audio: replace output: %w", err)
	}
	return nil
}

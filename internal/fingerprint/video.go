package fingerprint

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FrameSource provides the video operations needed for fingerprinting. The
// ffmpeg-backed implementation lives in the transcoder package.
type FrameSource interface {
	// Duration returns the total duration of the video in seconds.
	Duration(ctx context.Context, path string) (float64, error)
	// ExtractFrame writes a single frame at the given offset to outPath.
	ExtractFrame(ctx context.Context, path string, offsetSeconds float64, outPath string) error
}

// SampleTimestamps returns the frame sample offsets for a video of the given
// duration in seconds. Short clips sample thirds, medium clips quarters, and
// longer clips every 20% plus the end.
func SampleTimestamps(duration float64) []float64 {
	end := math.Max(duration-0.5, 0)

	switch {
	case duration < 10:
		return []float64{duration / 3, 2 * duration / 3, end}
	case duration < 60:
		return []float64{duration / 4, duration / 2, 3 * duration / 4, end}
	default:
		ts := make([]float64, 0, 6)
		for i := 0; i < 5; i++ {
			ts = append(ts, duration*float64(i)/5)
		}
		return append(ts, end)
	}
}

// VideoHasher computes multi-frame perceptual hashes for video files.
type VideoHasher struct {
	frames FrameSource
	log    *slog.Logger
}

// NewVideoHasher creates a VideoHasher backed by the given frame source.
func NewVideoHasher(frames FrameSource, log *slog.Logger) *VideoHasher {
	return &VideoHasher{frames: frames, log: log}
}

// HashVideo samples frames across the video and hashes each one. A frame
// that cannot be extracted or decoded contributes a zero hash instead of
// failing the whole fingerprint.
func (h *VideoHasher) HashVideo(ctx context.Context, path string) ([]uint64, error) {
	duration, err := h.frames.Duration(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("probe duration of %s: %w", path, err)
	}

	timestamps := SampleTimestamps(duration)
	hashes := make([]uint64, len(timestamps))

	for i, ts := range timestamps {
		framePath := filepath.Join(os.TempDir(), fmt.Sprintf("frame_%s.jpg", uuid.New().String()))

		if err := h.frames.ExtractFrame(ctx, path, ts, framePath); err != nil {
			h.log.WarnContext(ctx, "Frame extraction failed, using zero hash",
				"path", path, "offset", ts, "error", err)
			continue
		}

		hash, err := ImageHashFile(framePath)
		if err != nil {
			h.log.WarnContext(ctx, "Frame decode failed, using zero hash",
				"path", path, "offset", ts, "error", err)
		} else {
			hashes[i] = hash
		}
		_ = os.Remove(framePath)
	}

	return hashes, nil
}

// HashVideoString computes the video fingerprint in its string encoding.
func (h *VideoHasher) HashVideoString(ctx context.Context, path string) (string, error) {
	hashes, err := h.HashVideo(ctx, path)
	if err != nil {
		return "", err
	}
	return VideoHashToString(hashes), nil
}

// Package transcoder wraps the ffmpeg and ffprobe binaries for HLS encoding,
// duration probing, and single-frame extraction.
package transcoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"babylog/internal/metrics"
	"babylog/pkg/models"
)

const (
	// HLSSegmentDuration is the duration of each HLS segment in seconds.
	HLSSegmentDuration = 10
	// HLSVideoCRF is the constant rate factor for the x264 encode.
	HLSVideoCRF = 21
	// HLSAudioBitrate is the AAC audio bitrate.
	HLSAudioBitrate = "128k"
)

var tracer = otel.Tracer("babylog-transcoder")

// FFmpeg executes ffmpeg and ffprobe commands.
type FFmpeg struct {
	log *slog.Logger
}

// New creates an FFmpeg wrapper.
func New(log *slog.Logger) *FFmpeg {
	return &FFmpeg{log: log}
}

// TranscodeToHLS converts the input video into a single-rendition HLS stream
// under outDir: index.m3u8 plus numbered transport-stream segments.
func (f *FFmpeg) TranscodeToHLS(ctx context.Context, inputPath, outDir string) error {
	ctx, span := tracer.Start(ctx, "transcode-hls",
		trace.WithAttributes(attribute.String("input", inputPath)))
	defer span.End()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create HLS output dir: %w", err)
	}

	start := time.Now()
	if err := f.runFFmpeg(ctx, buildHLSArgs(inputPath, outDir)); err != nil {
		span.RecordError(err)
		return err
	}
	metrics.TranscodeDuration.Observe(time.Since(start).Seconds())

	return nil
}

// buildHLSArgs constructs the ffmpeg argument list for the HLS encode.
func buildHLSArgs(inputPath, outDir string) []string {
	return []string{
		"-i", inputPath,
		"-c:v", "libx264",
		"-crf", fmt.Sprintf("%d", HLSVideoCRF),
		"-preset", "medium",
		"-c:a", "aac",
		"-b:a", HLSAudioBitrate,
		"-hls_time", fmt.Sprintf("%d", HLSSegmentDuration),
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(outDir, "segment_%03d.ts"),
		filepath.Join(outDir, "index.m3u8"),
	}
}

// runFFmpeg executes ffmpeg and monitors its output streams.
func (f *FFmpeg) runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.monitorOutput(ctx, stderrPipe)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(io.Discard, stdoutPipe)
	}()

	cmdErr := cmd.Wait()
	wg.Wait()

	if cmdErr != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: context canceled", models.ErrFFmpegFailed)
		}
		return fmt.Errorf("%w: %v", models.ErrFFmpegFailed, cmdErr)
	}
	return nil
}

// monitorOutput reads and logs ffmpeg progress and warnings.
func (f *FFmpeg) monitorOutput(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
			line := scanner.Text()
			if strings.Contains(line, "frame=") || strings.Contains(line, "time=") {
				f.log.Debug("FFmpeg progress", "output", line)
			} else if strings.Contains(line, "error") || strings.Contains(line, "Error") {
				f.log.Warn("FFmpeg warning", "output", line)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		f.log.Warn("FFmpeg output scanner error", "error", err)
	}
}

// ExtractFrame writes a single frame at the given offset to outPath.
func (f *FFmpeg) ExtractFrame(ctx context.Context, path string, offsetSeconds float64, outPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-ss", fmt.Sprintf("%.3f", offsetSeconds),
		"-i", path,
		"-frames:v", "1",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w at %.2fs: %v: %s", models.ErrFrameExtract, offsetSeconds, err, firstLine(out))
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("%w at %.2fs: no output written", models.ErrFrameExtract, offsetSeconds)
	}
	return nil
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

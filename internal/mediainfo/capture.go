// Package mediainfo extracts capture timestamps from media files: EXIF tags
// for images, container metadata for videos, and filename patterns as a
// last resort.
package mediainfo

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// VideoProber reads container-level metadata from a video file.
type VideoProber interface {
	CreationTime(ctx context.Context, path string) (time.Time, error)
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true,
}

var audioExtensions = map[string]bool{
	".mp3": true, ".m4a": true, ".wav": true, ".aac": true,
}

// IsImage reports whether the file name has a recognized image extension.
func IsImage(fileName string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(fileName))]
}

// IsVideo reports whether the file name has a recognized video extension.
func IsVideo(fileName string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(fileName))]
}

// IsAudio reports whether the file name has a recognized audio extension.
func IsAudio(fileName string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(fileName))]
}

// Extractor resolves capture times for media files.
type Extractor struct {
	probe VideoProber
	log   *slog.Logger
}

// NewExtractor creates an Extractor. probe may be nil if video metadata is
// not needed.
func NewExtractor(probe VideoProber, log *slog.Logger) *Extractor {
	return &Extractor{probe: probe, log: log}
}

// CaptureTime determines when the media at path was captured. fileName is
// the original name, used for extension sniffing and the filename fallback.
// The second return is false when no capture time could be determined.
func (e *Extractor) CaptureTime(ctx context.Context, path, fileName string) (time.Time, bool) {
	var t time.Time

	switch {
	case IsImage(fileName):
		t = e.exifCaptureTime(path)
	case IsVideo(fileName):
		t = e.videoCaptureTime(ctx, path)
	}

	if t.IsZero() {
		base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
		t = TimeFromFileName(base)
	}
	return t, !t.IsZero()
}

// exifCaptureTime reads DateTimeOriginal (falling back to DateTime) from the
// image's EXIF profile.
func (e *Extractor) exifCaptureTime(path string) time.Time {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return time.Time{}
	}

	t, err := x.DateTime()
	if err != nil {
		return time.Time{}
	}
	return t
}

func (e *Extractor) videoCaptureTime(ctx context.Context, path string) time.Time {
	if e.probe == nil {
		return time.Time{}
	}
	t, err := e.probe.CreationTime(ctx, path)
	if err != nil {
		e.log.DebugContext(ctx, "No creation time in video metadata", "path", path, "error", err)
		return time.Time{}
	}
	return t
}

// Filename timestamp patterns, most specific first.
var fileNamePatterns = []*regexp.Regexp{
	// IMG_20210101_123045
	regexp.MustCompile(`IMG_(\d{8})_(\d{6})`),
	// 20210101_123045, 2021-01-01 12.30.45 and similar
	regexp.MustCompile(`(\d{4})[-_]?(\d{2})[-_]?(\d{2})[-_ ]?(\d{2})[-_:.]?(\d{2})[-_:.]?(\d{2})`),
	// 20210101, 2021-01-01
	regexp.MustCompile(`(\d{4})[-_]?(\d{2})[-_]?(\d{2})`),
}

// TimeFromFileName extracts a date or datetime embedded in a file name.
// Returns the zero time when no plausible timestamp is found.
func TimeFromFileName(name string) time.Time {
	for _, pattern := range fileNamePatterns {
		m := pattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}

		var parts []int
		switch len(m) {
		case 3: // IMG_YYYYMMDD_HHMMSS
			date, clock := m[1], m[2]
			parts = atoiAll(date[0:4], date[4:6], date[6:8], clock[0:2], clock[2:4], clock[4:6])
		case 7:
			parts = atoiAll(m[1], m[2], m[3], m[4], m[5], m[6])
		case 4:
			parts = atoiAll(m[1], m[2], m[3], "0", "0", "0")
		default:
			continue
		}

		if t, ok := buildTime(parts); ok {
			return t
		}
	}
	return time.Time{}
}

func atoiAll(fields ...string) []int {
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil
		}
		out[i] = n
	}
	return out
}

func buildTime(p []int) (time.Time, bool) {
	if len(p) != 6 {
		return time.Time{}, false
	}
	year, month, day, hour, minute, second := p[0], p[1], p[2], p[3], p[4], p[5]

	if year < 1970 || year > time.Now().Year()+1 {
		return time.Time{}, false
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	if hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, false
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.Local)
	// Reject dates the calendar normalized (e.g. Feb 31).
	if t.Day() != day || t.Month() != time.Month(month) {
		return time.Time{}, false
	}
	return t, true
}

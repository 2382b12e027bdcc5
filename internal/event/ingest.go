package event

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"babylog/internal/fingerprint"
	"babylog/internal/mediainfo"
	"babylog/internal/queue"
	"babylog/pkg/models"
)

// VideoHasher computes the perceptual fingerprint of a video file.
type VideoHasher interface {
	HashVideoString(ctx context.Context, path string) (string, error)
}

// Ingestor attaches finished upload artifacts to events: it moves the file
// into the event's media directory, fingerprints it, resolves its capture
// time and enqueues transcoding for videos.
type Ingestor struct {
	store   *Store
	hasher  VideoHasher
	capture *mediainfo.Extractor
	queue   *queue.Queue
	hlsDir  string
	log     *slog.Logger
}

// NewIngestor creates an Ingestor. hasher and capture may be nil; media is
// then stored without a fingerprint or capture time.
func NewIngestor(store *Store, hasher VideoHasher, capture *mediainfo.Extractor, q *queue.Queue, hlsDir string, log *slog.Logger) *Ingestor {
	return &Ingestor{
		store:   store,
		hasher:  hasher,
		capture: capture,
		queue:   q,
		hlsDir:  hlsDir,
		log:     log,
	}
}

// AttachMedia moves the staged artifact into the event's media directory
// and records it on the event. originalName decides the media kind and the
// stored file name; collisions get a numeric suffix.
func (g *Ingestor) AttachMedia(ctx context.Context, eventID int, stagedPath, originalName, desc string) (*models.MediaItem, error) {
	e, err := g.store.Get(eventID)
	if err != nil {
		return nil, err
	}

	dir := g.store.MediaDir(eventID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}

	destName := uniqueName(dir, filepath.Base(originalName))
	destPath := filepath.Join(dir, destName)
	if err := moveFile(stagedPath, destPath); err != nil {
		return nil, fmt.Errorf("move artifact: %w", err)
	}

	item := models.MediaItem{FileName: destName, Desc: desc}

	switch {
	case mediainfo.IsImage(destName):
		if hash, err := g.imageHash(destPath); err != nil {
			g.log.WarnContext(ctx, "Image fingerprint failed", "event_id", eventID, "file", destName, "error", err)
		} else {
			item.Hash = hash
		}
	case mediainfo.IsVideo(destName):
		if g.hasher != nil {
			if hash, err := g.hasher.HashVideoString(ctx, destPath); err != nil {
				g.log.WarnContext(ctx, "Video fingerprint failed", "event_id", eventID, "file", destName, "error", err)
			} else {
				item.Hash = hash
			}
		}
	}

	if g.capture != nil && !mediainfo.IsAudio(destName) {
		if t, ok := g.capture.CaptureTime(ctx, destPath, destName); ok {
			item.CaptureTime = &t
			adoptCaptureDate(e, t)
		}
	}

	appendMedia(e, item)
	if err := g.store.Update(e); err != nil {
		return nil, err
	}

	if mediainfo.IsVideo(destName) && g.queue != nil {
		if err := g.queue.Enqueue(eventID, destName); err != nil {
			g.log.ErrorContext(ctx, "Transcode enqueue failed", "event_id", eventID, "file", destName, "error", err)
		}
	}

	g.log.InfoContext(ctx, "Media attached",
		"event_id", eventID, "file", destName, "has_hash", item.Hash != "")
	return &item, nil
}

func (g *Ingestor) imageHash(path string) (string, error) {
	h, err := fingerprint.ImageHashFile(path)
	if err != nil {
		return "", err
	}
	return fingerprint.HashToString(h), nil
}

// DetachMedia removes one media file from the event: the file itself, its
// processed sentinel, any pending transcode marker, its HLS output and the
// record entry.
func (g *Ingestor) DetachMedia(ctx context.Context, eventID int, fileName string) error {
	e, err := g.store.Get(eventID)
	if err != nil {
		return err
	}

	if !removeMedia(e, fileName) {
		return models.ErrEventNotFound
	}
	if err := g.store.Update(e); err != nil {
		return err
	}

	path := g.store.MediaPath(eventID, fileName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	_ = os.Remove(path + queue.ProcessedSuffix)
	g.removeHLS(eventID, fileName)

	g.log.InfoContext(ctx, "Media detached", "event_id", eventID, "file", fileName)
	return nil
}

// RemoveEvent deletes the event record, its media, pending transcode
// markers and HLS output.
func (g *Ingestor) RemoveEvent(ctx context.Context, eventID int) error {
	if err := g.store.Delete(eventID); err != nil {
		return err
	}
	if g.queue != nil {
		if err := g.queue.Drop(eventID); err != nil {
			g.log.ErrorContext(ctx, "Marker cleanup failed", "event_id", eventID, "error", err)
		}
	}
	if g.hlsDir != "" {
		if err := os.RemoveAll(filepath.Join(g.hlsDir, strconv.Itoa(eventID))); err != nil {
			g.log.ErrorContext(ctx, "HLS cleanup failed", "event_id", eventID, "error", err)
		}
	}

	g.log.InfoContext(ctx, "Event removed", "event_id", eventID)
	return nil
}

func (g *Ingestor) removeHLS(eventID int, fileName string) {
	if g.hlsDir == "" {
		return
	}
	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	_ = os.RemoveAll(filepath.Join(g.hlsDir, strconv.Itoa(eventID), base))
}

// adoptCaptureDate moves the event date onto capture-time evidence: the
// first capture time claims the date, later ones only pull it earlier.
func adoptCaptureDate(e *models.Event, t time.Time) {
	date := t.Format("2006-01-02")
	if !e.IsDateValid || date < e.Date {
		e.Date = date
		e.IsDateValid = true
	}
}

func appendMedia(e *models.Event, item models.MediaItem) {
	if e.Media == nil {
		e.Media = &models.Media{}
	}
	switch {
	case mediainfo.IsImage(item.FileName):
		e.Media.Images = append(e.Media.Images, item)
	case mediainfo.IsVideo(item.FileName):
		e.Media.Videos = append(e.Media.Videos, item)
	default:
		e.Media.Audios = append(e.Media.Audios, item)
	}
}

func removeMedia(e *models.Event, fileName string) bool {
	if e.Media == nil {
		return false
	}
	for _, list := range []*[]models.MediaItem{&e.Media.Images, &e.Media.Videos, &e.Media.Audios} {
		for i, item := range *list {
			if item.FileName == fileName {
				*list = append((*list)[:i], (*list)[i+1:]...)
				return true
			}
		}
	}
	return false
}

// uniqueName appends " (n)" before the extension until the name is free in
// dir.
func uniqueName(dir, name string) string {
	if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate
		}
	}
}

// moveFile renames src to dst, copying when the rename crosses filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

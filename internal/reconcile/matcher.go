// Package reconcile recovers capture times for media that carries no
// metadata of its own. When another event holds a perceptually identical
// file with a known capture time, that timestamp (and the larger copy of
// the file) is adopted.
package reconcile

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"babylog/internal/event"
	"babylog/internal/fingerprint"
	"babylog/internal/metrics"
	"babylog/pkg/models"
)

var tracer = otel.Tracer("babylog-reconcile")

// Matcher matches unfingerprinted-in-time media against the rest of the
// library.
type Matcher struct {
	store       *event.Store
	maxDistance int
	log         *slog.Logger

	// mu serializes runs; concurrent triggers coalesce into waiting.
	mu sync.Mutex
}

// NewMatcher creates a Matcher. maxDistance is the largest Hamming distance
// still treated as the same picture or clip.
func NewMatcher(store *event.Store, maxDistance int, log *slog.Logger) *Matcher {
	return &Matcher{store: store, maxDistance: maxDistance, log: log}
}

// candidate is one piece of evidence: a fingerprinted media item with a
// known capture time, belonging to some event.
type candidate struct {
	eventID int
	item    models.MediaItem
	isImage bool
}

// ReconcileEvent tries to recover capture times for the given event.
// Returns the number of media items that adopted a timestamp. Events that
// already carry capture-time evidence are left untouched.
func (m *Matcher) ReconcileEvent(ctx context.Context, eventID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := tracer.Start(ctx, "reconcile.Event",
		trace.WithAttributes(attribute.Int("event_id", eventID)))
	defer span.End()

	e, err := m.store.Get(eventID)
	if err != nil {
		return 0, err
	}
	if e.HasCaptureTime() {
		return 0, nil
	}

	candidates, err := m.collectCandidates(eventID)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	matched := m.matchEvent(ctx, e, candidates)
	if matched == 0 {
		return 0, nil
	}

	if err := m.store.Update(e); err != nil {
		return 0, err
	}
	return matched, nil
}

// ReconcileAll runs ReconcileEvent over every event lacking capture-time
// evidence.
func (m *Matcher) ReconcileAll(ctx context.Context) error {
	events, err := m.store.List()
	if err != nil {
		return err
	}

	for _, e := range events {
		if e.HasCaptureTime() {
			continue
		}
		if _, err := m.ReconcileEvent(ctx, e.ID); err != nil {
			m.log.ErrorContext(ctx, "Reconciliation failed", "event_id", e.ID, "error", err)
		}
	}
	return nil
}

func (m *Matcher) collectCandidates(excludeEventID int) ([]candidate, error) {
	events, err := m.store.List()
	if err != nil {
		return nil, err
	}

	var out []candidate
	for _, other := range events {
		if other.ID == excludeEventID || other.Media == nil {
			continue
		}
		for _, it := range other.Media.Images {
			if it.Hash != "" && it.CaptureTime != nil {
				out = append(out, candidate{eventID: other.ID, item: it, isImage: true})
			}
		}
		for _, it := range other.Media.Videos {
			if it.Hash != "" && it.CaptureTime != nil {
				out = append(out, candidate{eventID: other.ID, item: it, isImage: false})
			}
		}
	}
	return out, nil
}

func (m *Matcher) matchEvent(ctx context.Context, e *models.Event, candidates []candidate) int {
	if e.Media == nil {
		return 0
	}

	matched := 0
	for i := range e.Media.Images {
		if m.matchItem(ctx, e, &e.Media.Images[i], true, candidates) {
			matched++
		}
	}
	for i := range e.Media.Videos {
		if m.matchItem(ctx, e, &e.Media.Videos[i], false, candidates) {
			matched++
		}
	}
	return matched
}

func (m *Matcher) matchItem(ctx context.Context, e *models.Event, item *models.MediaItem, isImage bool, candidates []candidate) bool {
	if item.Hash == "" || item.CaptureTime != nil {
		return false
	}

	best, bestDistance := m.bestCandidate(item.Hash, isImage, candidates)
	if best == nil || bestDistance > m.maxDistance {
		return false
	}

	item.CaptureTime = best.item.CaptureTime
	m.adoptDate(e, *best.item.CaptureTime)
	metrics.ReconcileMatches.WithLabelValues("timestamp").Inc()
	m.log.InfoContext(ctx, "Adopted capture time from matching media",
		"event_id", e.ID,
		"file", item.FileName,
		"source_event_id", best.eventID,
		"source_file", best.item.FileName,
		"distance", bestDistance,
		"capture_time", best.item.CaptureTime)

	m.adoptLargerFile(ctx, e.ID, item.FileName, best.eventID, best.item.FileName)
	return true
}

// bestCandidate returns the closest same-kind candidate, breaking distance
// ties in favor of the earlier capture time. Candidates whose file is gone
// from disk are skipped; a deleted file cannot donate its timestamp.
func (m *Matcher) bestCandidate(hash string, isImage bool, candidates []candidate) (*candidate, int) {
	var best *candidate
	bestDistance := 0

	for i := range candidates {
		c := &candidates[i]
		if c.isImage != isImage {
			continue
		}
		if _, err := os.Stat(m.store.MediaPath(c.eventID, c.item.FileName)); err != nil {
			continue
		}
		d, err := fingerprint.StringDistance(hash, c.item.Hash, isImage)
		if err != nil {
			continue
		}
		if best == nil || d < bestDistance ||
			(d == bestDistance && c.item.CaptureTime.Before(*best.item.CaptureTime)) {
			best = c
			bestDistance = d
		}
	}
	return best, bestDistance
}

// adoptLargerFile replaces the target media file with the matched one when
// the matched file is larger, on the assumption that the larger file is the
// less recompressed original.
func (m *Matcher) adoptLargerFile(ctx context.Context, eventID int, fileName string, srcEventID int, srcFileName string) {
	dstPath := m.store.MediaPath(eventID, fileName)
	srcPath := m.store.MediaPath(srcEventID, srcFileName)

	dstInfo, err := os.Stat(dstPath)
	if err != nil {
		return
	}
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		return
	}
	if srcInfo.Size() <= dstInfo.Size() {
		return
	}

	if err := copyFile(srcPath, dstPath); err != nil {
		m.log.ErrorContext(ctx, "Failed to adopt larger media file",
			"event_id", eventID, "file", fileName, "error", err)
		return
	}
	metrics.ReconcileMatches.WithLabelValues("file").Inc()
	m.log.InfoContext(ctx, "Replaced media with larger matching copy",
		"event_id", eventID,
		"file", fileName,
		"source_event_id", srcEventID,
		"source_file", srcFileName,
		"old_size", dstInfo.Size(),
		"new_size", srcInfo.Size())
}

func (m *Matcher) adoptDate(e *models.Event, t time.Time) {
	date := t.Format("2006-01-02")
	if !e.IsDateValid || date < e.Date {
		e.Date = date
		e.IsDateValid = true
	}
}

func copyFile(src, dst string) error {
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
	return out.Close()
}

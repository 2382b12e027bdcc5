// Package queue implements a filesystem-backed work queue for transcode
// jobs. Each pending job is a marker file named <eventID>_<fileName> whose
// JSON body tracks creation time and delivery attempts. A job that exhausts
// its attempts is renamed with a .dead suffix and left for inspection.
package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	markerDirName = "tasks"
	// DeadSuffix marks a job that exhausted its delivery attempts.
	DeadSuffix = ".dead"
	// ProcessedSuffix marks a media file whose transcode already finished.
	ProcessedSuffix = ".processed"
)

// Marker is one pending transcode job.
type Marker struct {
	EventID   int
	FileName  string
	Path      string
	CreatedAt time.Time
	Attempts  int
}

type markerBody struct {
	CreatedAt time.Time `json:"createdAt"`
	Attempts  int       `json:"attempts"`
}

// Queue manages marker files under <dataDir>/tasks.
type Queue struct {
	dir       string
	eventsDir string
	log       *slog.Logger
}

// New creates a Queue rooted at dataDir. eventsDir is where per-event media
// lives; it is consulted for .processed sentinels on enqueue.
func New(dataDir, eventsDir string, log *slog.Logger) *Queue {
	return &Queue{
		dir:       filepath.Join(dataDir, markerDirName),
		eventsDir: eventsDir,
		log:       log,
	}
}

func (q *Queue) markerPath(eventID int, fileName string) string {
	return filepath.Join(q.dir, fmt.Sprintf("%d_%s", eventID, fileName))
}

func (q *Queue) sentinelPath(eventID int, fileName string) string {
	return filepath.Join(q.eventsDir, strconv.Itoa(eventID), fileName+ProcessedSuffix)
}

// Enqueue creates a marker for the media file. It is a no-op when the
// marker already exists or the file already carries a processed sentinel.
func (q *Queue) Enqueue(eventID int, fileName string) error {
	if _, err := os.Stat(q.sentinelPath(eventID, fileName)); err == nil {
		return nil
	}
	path := q.markerPath(eventID, fileName)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		return fmt.Errorf("create marker dir: %w", err)
	}

	body, err := json.Marshal(markerBody{CreatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}

	q.log.Info("Transcode job enqueued", "event_id", eventID, "file_name", fileName)
	return nil
}

// List returns all pending markers. Dead-lettered markers are skipped.
// Marker files whose names do not parse are skipped with a warning.
func (q *Queue) List() ([]Marker, error) {
	entries, err := os.ReadDir(q.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var markers []Marker
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), DeadSuffix) {
			continue
		}
		m, err := q.readMarker(entry.Name())
		if err != nil {
			q.log.Warn("Skipping unreadable marker", "name", entry.Name(), "error", err)
			continue
		}
		markers = append(markers, m)
	}
	return markers, nil
}

func (q *Queue) readMarker(name string) (Marker, error) {
	eventID, fileName, err := parseMarkerName(name)
	if err != nil {
		return Marker{}, err
	}

	path := filepath.Join(q.dir, name)
	m := Marker{EventID: eventID, FileName: fileName, Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		return Marker{}, err
	}
	// Markers written by older builds have an empty body; treat them as
	// fresh jobs.
	var body markerBody
	if len(data) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			return Marker{}, fmt.Errorf("decode marker %s: %w", name, err)
		}
	}
	m.CreatedAt = body.CreatedAt
	m.Attempts = body.Attempts
	return m, nil
}

func parseMarkerName(name string) (int, string, error) {
	idx := strings.Index(name, "_")
	if idx <= 0 || idx == len(name)-1 {
		return 0, "", fmt.Errorf("malformed marker name %q", name)
	}
	eventID, err := strconv.Atoi(name[:idx])
	if err != nil {
		return 0, "", fmt.Errorf("malformed marker name %q: %w", name, err)
	}
	return eventID, name[idx+1:], nil
}

// RecordAttempt increments the marker's attempt counter and persists it.
// Returns the updated count.
func (q *Queue) RecordAttempt(m *Marker) (int, error) {
	m.Attempts++
	body, err := json.Marshal(markerBody{CreatedAt: m.CreatedAt, Attempts: m.Attempts})
	if err != nil {
		return m.Attempts, err
	}
	if err := os.WriteFile(m.Path, body, 0o644); err != nil {
		return m.Attempts, fmt.Errorf("update marker: %w", err)
	}
	return m.Attempts, nil
}

// Complete removes the marker and drops a processed sentinel next to the
// media file so the job is never re-enqueued.
func (q *Queue) Complete(m Marker) error {
	if err := os.WriteFile(q.sentinelPath(m.EventID, m.FileName), nil, 0o644); err != nil {
		return fmt.Errorf("write sentinel: %w", err)
	}
	if err := os.Remove(m.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker: %w", err)
	}
	return nil
}

// Delete removes the marker without leaving a sentinel. Used when the
// underlying media no longer exists.
func (q *Queue) Delete(m Marker) error {
	if err := os.Remove(m.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DeadLetter renames the marker with the dead suffix so routine listing no
// longer returns it.
func (q *Queue) DeadLetter(m Marker) error {
	if err := os.Rename(m.Path, m.Path+DeadSuffix); err != nil {
		return fmt.Errorf("dead-letter marker: %w", err)
	}
	q.log.Warn("Transcode job dead-lettered",
		"event_id", m.EventID, "file_name", m.FileName, "attempts", m.Attempts)
	return nil
}

// Drop removes every marker (pending or dead) that references the event.
// Used when an event is deleted.
func (q *Queue) Drop(eventID int) error {
	entries, err := os.ReadDir(q.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	prefix := strconv.Itoa(eventID) + "_"
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), prefix) {
			if err := os.Remove(filepath.Join(q.dir, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

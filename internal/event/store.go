// Package event persists diary events as per-event JSON records and owns
// the media files attached to them.
package event

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"babylog/pkg/models"
)

const eventsDirName = "events"

// Store reads and writes event records under <dataDir>/events. Record files
// are named <id>.json; the media files of event N live in the N/ directory
// next to its record.
type Store struct {
	dir string
	log *slog.Logger

	// mu serializes ID assignment and record writes.
	mu sync.Mutex
}

// NewStore creates a Store rooted at dataDir.
func NewStore(dataDir string, log *slog.Logger) *Store {
	return &Store{dir: filepath.Join(dataDir, eventsDirName), log: log}
}

// Dir returns the events root directory.
func (s *Store) Dir() string { return s.dir }

// MediaDir returns the media directory of an event.
func (s *Store) MediaDir(id int) string {
	return filepath.Join(s.dir, strconv.Itoa(id))
}

// MediaPath returns the path of one media file belonging to an event.
func (s *Store) MediaPath(id int, fileName string) string {
	return filepath.Join(s.MediaDir(id), fileName)
}

func (s *Store) recordPath(id int) string {
	return filepath.Join(s.dir, strconv.Itoa(id)+".json")
}

// Get loads one event. Returns models.ErrEventNotFound when the record does
// not exist.
func (s *Store) Get(id int) (*models.Event, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if os.IsNotExist(err) {
		return nil, models.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read event %d: %w", id, err)
	}

	var e models.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode event %d: %w", id, err)
	}
	return &e, nil
}

// List returns all events sorted by date descending, newest first. Records
// that fail to parse are skipped with a warning rather than failing the
// whole listing.
func (s *Store) List() ([]models.Event, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	events := make([]models.Event, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}

		e, err := s.Get(id)
		if err != nil {
			s.log.Warn("Skipping unreadable event record", "file", entry.Name(), "error", err)
			continue
		}
		events = append(events, *e)
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].Date != events[j].Date {
			return events[i].Date > events[j].Date
		}
		return events[i].ID > events[j].ID
	})
	return events, nil
}

// Create assigns the next free ID and persists the event.
func (s *Store) Create(e *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.nextID()
	if err != nil {
		return err
	}
	e.ID = id
	return s.write(e)
}

// Update persists an existing event. Returns models.ErrEventNotFound when
// no record with the event's ID exists.
func (s *Store) Update(e *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.recordPath(e.ID)); os.IsNotExist(err) {
		return models.ErrEventNotFound
	}
	return s.write(e)
}

// Delete removes the event record and its media directory.
func (s *Store) Delete(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.recordPath(id)); err != nil {
		if os.IsNotExist(err) {
			return models.ErrEventNotFound
		}
		return err
	}
	return os.RemoveAll(s.MediaDir(id))
}

func (s *Store) write(e *models.Event) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event %d: %w", e.ID, err)
	}
	if err := os.WriteFile(s.recordPath(e.ID), data, 0o644); err != nil {
		return fmt.Errorf("persist event %d: %w", e.ID, err)
	}
	return nil
}

// nextID scans record file names for the highest ID. Caller holds mu.
func (s *Store) nextID() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}

	max := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if id, err := strconv.Atoi(strings.TrimSuffix(entry.Name(), ".json")); err == nil && id > max {
			max = id
		}
	}
	return max + 1, nil
}

// Timeline groups all events by date, newest first, each group labeled with
// the age at that date relative to birthDate (format 2006-01-02).
func (s *Store) Timeline(birthDate string) ([]models.TimelineGroup, error) {
	events, err := s.List()
	if err != nil {
		return nil, err
	}

	birth, err := time.Parse("2006-01-02", birthDate)
	if err != nil {
		return nil, fmt.Errorf("parse birth date %q: %w", birthDate, err)
	}

	var groups []models.TimelineGroup
	for _, e := range events {
		if len(groups) > 0 && groups[len(groups)-1].Date == e.Date {
			g := &groups[len(groups)-1]
			g.Events = append(g.Events, e)
			continue
		}
		groups = append(groups, models.TimelineGroup{
			Age:    ageLabel(birth, e.Date),
			Date:   e.Date,
			Events: []models.Event{e},
		})
	}
	return groups, nil
}

// ageLabel renders the age at date, to month precision.
func ageLabel(birth time.Time, date string) string {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return ""
	}
	if d.Before(birth) {
		return "Before birth"
	}

	months := (d.Year()-birth.Year())*12 + int(d.Month()) - int(birth.Month())
	if d.Day() < birth.Day() {
		months--
	}

	switch {
	case months < 1:
		return "First month"
	case months == 1:
		return "1 month"
	case months < 24:
		return fmt.Sprintf("%d months", months)
	}

	years, rem := months/12, months%12
	if rem == 0 {
		return fmt.Sprintf("%d years", years)
	}
	return fmt.Sprintf("%d years %d months", years, rem)
}

package event

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"babylog/pkg/models"
)

func TestStoreCRUD(t *testing.T) {
	s := NewStore(t.TempDir(), slog.Default())

	e := &models.Event{Title: "First smile", Date: "2025-06-01"}
	require.NoError(t, s.Create(e))
	assert.Equal(t, 1, e.ID)

	e2 := &models.Event{Title: "First steps", Date: "2025-07-15"}
	require.NoError(t, s.Create(e2))
	assert.Equal(t, 2, e2.ID)

	got, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "First smile", got.Title)

	got.Location = "home"
	require.NoError(t, s.Update(got))

	got, err = s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "home", got.Location)

	require.NoError(t, s.Delete(1))
	_, err = s.Get(1)
	assert.ErrorIs(t, err, models.ErrEventNotFound)
	assert.ErrorIs(t, s.Delete(1), models.ErrEventNotFound)
}

func TestStore_UpdateMissing(t *testing.T) {
	s := NewStore(t.TempDir(), slog.Default())
	err := s.Update(&models.Event{ID: 99})
	assert.ErrorIs(t, err, models.ErrEventNotFound)
}

func TestStore_NextIDSkipsGaps(t *testing.T) {
	s := NewStore(t.TempDir(), slog.Default())

	for _, title := range []string{"a", "b", "c"} {
		require.NoError(t, s.Create(&models.Event{Title: title, Date: "2025-06-01"}))
	}
	require.NoError(t, s.Delete(2))

	e := &models.Event{Title: "d", Date: "2025-06-02"}
	require.NoError(t, s.Create(e))
	assert.Equal(t, 4, e.ID, "IDs are never reused")
}

func TestStore_ListSkipsUnreadableRecords(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, slog.Default())

	require.NoError(t, s.Create(&models.Event{Title: "ok", Date: "2025-06-01"}))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "2.json"), []byte("{broken"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "index.json"), []byte("[]"), 0o644))

	events, err := s.List()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].Title)
}

func TestStore_ListSortsNewestFirst(t *testing.T) {
	s := NewStore(t.TempDir(), slog.Default())

	require.NoError(t, s.Create(&models.Event{Title: "old", Date: "2025-05-01"}))
	require.NoError(t, s.Create(&models.Event{Title: "new", Date: "2025-08-01"}))
	require.NoError(t, s.Create(&models.Event{Title: "mid", Date: "2025-06-15"}))

	events, err := s.List()
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []string{"new", "mid", "old"},
		[]string{events[0].Title, events[1].Title, events[2].Title})
}

func TestTimeline(t *testing.T) {
	s := NewStore(t.TempDir(), slog.Default())

	require.NoError(t, s.Create(&models.Event{Title: "smile", Date: "2025-05-20"}))
	require.NoError(t, s.Create(&models.Event{Title: "bath", Date: "2025-05-20"}))
	require.NoError(t, s.Create(&models.Event{Title: "steps", Date: "2025-11-15"}))

	groups, err := s.Timeline("2025-05-09")
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "2025-11-15", groups[0].Date)
	assert.Equal(t, "6 months", groups[0].Age)
	require.Len(t, groups[0].Events, 1)

	assert.Equal(t, "2025-05-20", groups[1].Date)
	assert.Equal(t, "First month", groups[1].Age)
	require.Len(t, groups[1].Events, 2)
}

func TestTimeline_BadBirthDate(t *testing.T) {
	s := NewStore(t.TempDir(), slog.Default())
	_, err := s.Timeline("not-a-date")
	assert.Error(t, err)
}

func TestAgeLabel(t *testing.T) {
	birth := mustParse(t, "2025-05-09")

	tests := []struct {
		date string
		want string
	}{
		{"2025-05-01", "Before birth"},
		{"2025-05-20", "First month"},
		{"2025-06-09", "1 month"},
		{"2025-06-08", "First month"},
		{"2026-01-09", "8 months"},
		{"2027-05-09", "2 years"},
		{"2027-08-09", "2 years 3 months"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ageLabel(birth, tt.date), "date %s", tt.date)
	}
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return parsed
}

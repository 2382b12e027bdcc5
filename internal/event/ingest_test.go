package event

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"babylog/internal/mediainfo"
	"babylog/internal/queue"
	"babylog/pkg/models"
)

type fakeHasher struct {
	hash string
	err  error
}

func (f *fakeHasher) HashVideoString(ctx context.Context, path string) (string, error) {
	return f.hash, f.err
}

type ingestFixture struct {
	store    *Store
	queue    *queue.Queue
	ingestor *Ingestor
	dataDir  string
	hlsDir   string
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	dataDir := t.TempDir()
	hlsDir := t.TempDir()

	store := NewStore(dataDir, slog.Default())
	q := queue.New(dataDir, store.Dir(), slog.Default())
	capture := mediainfo.NewExtractor(nil, slog.Default())
	ing := NewIngestor(store, &fakeHasher{hash: "00000000DEADBEEF"}, capture, q, hlsDir, slog.Default())

	return &ingestFixture{store: store, queue: q, ingestor: ing, dataDir: dataDir, hlsDir: hlsDir}
}

func (f *ingestFixture) stage(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(f.dataDir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 4), 0, 255})
		}
	}
	path := filepath.Join(t.TempDir(), "img.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestAttachMedia_Image(t *testing.T) {
	fx := newIngestFixture(t)
	ctx := context.Background()

	e := &models.Event{Title: "park", Date: "2025-07-01"}
	require.NoError(t, fx.store.Create(e))

	staged := fx.stage(t, "staged_1.png", pngBytes(t))
	item, err := fx.ingestor.AttachMedia(ctx, e.ID, staged, "IMG_20250520_101500.png", "swing")
	require.NoError(t, err)

	assert.Equal(t, "IMG_20250520_101500.png", item.FileName)
	assert.NotEmpty(t, item.Hash)
	require.NotNil(t, item.CaptureTime)
	assert.Equal(t, time.Date(2025, 5, 20, 10, 15, 0, 0, time.Local), *item.CaptureTime)

	// The staged artifact moved into the media dir.
	_, err = os.Stat(staged)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fx.store.MediaPath(e.ID, item.FileName))
	assert.NoError(t, err)

	got, err := fx.store.Get(e.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Media)
	require.Len(t, got.Media.Images, 1)

	// Capture-time evidence rewrites the event date.
	assert.True(t, got.IsDateValid)
	assert.Equal(t, "2025-05-20", got.Date)

	// No transcode marker for images.
	markers, err := fx.queue.List()
	require.NoError(t, err)
	assert.Empty(t, markers)
}

func TestAttachMedia_VideoEnqueuesTranscode(t *testing.T) {
	fx := newIngestFixture(t)
	ctx := context.Background()

	e := &models.Event{Title: "bath", Date: "2025-07-01"}
	require.NoError(t, fx.store.Create(e))

	staged := fx.stage(t, "staged_2.mp4", []byte("not a real video"))
	item, err := fx.ingestor.AttachMedia(ctx, e.ID, staged, "clip.mp4", "")
	require.NoError(t, err)
	assert.Equal(t, "00000000DEADBEEF", item.Hash)

	got, err := fx.store.Get(e.ID)
	require.NoError(t, err)
	require.Len(t, got.Media.Videos, 1)

	markers, err := fx.queue.List()
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, e.ID, markers[0].EventID)
	assert.Equal(t, "clip.mp4", markers[0].FileName)
}

func TestAttachMedia_NameCollision(t *testing.T) {
	fx := newIngestFixture(t)
	ctx := context.Background()

	e := &models.Event{Title: "x", Date: "2025-07-01"}
	require.NoError(t, fx.store.Create(e))

	a := fx.stage(t, "a.mp3", []byte("one"))
	b := fx.stage(t, "b.mp3", []byte("two"))

	first, err := fx.ingestor.AttachMedia(ctx, e.ID, a, "song.mp3", "")
	require.NoError(t, err)
	second, err := fx.ingestor.AttachMedia(ctx, e.ID, b, "song.mp3", "")
	require.NoError(t, err)

	assert.Equal(t, "song.mp3", first.FileName)
	assert.Equal(t, "song (1).mp3", second.FileName)

	got, err := fx.store.Get(e.ID)
	require.NoError(t, err)
	assert.Len(t, got.Media.Audios, 2)
}

func TestAttachMedia_EarlierCaptureWins(t *testing.T) {
	fx := newIngestFixture(t)
	ctx := context.Background()

	e := &models.Event{Title: "x", Date: "2025-07-01"}
	require.NoError(t, fx.store.Create(e))

	later := fx.stage(t, "s1.png", pngBytes(t))
	_, err := fx.ingestor.AttachMedia(ctx, e.ID, later, "20250610_090000.png", "")
	require.NoError(t, err)

	earlier := fx.stage(t, "s2.png", pngBytes(t))
	_, err = fx.ingestor.AttachMedia(ctx, e.ID, earlier, "20250601_090000.png", "")
	require.NoError(t, err)

	got, err := fx.store.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01", got.Date)
	assert.True(t, got.IsDateValid)
}

func TestDetachMedia(t *testing.T) {
	fx := newIngestFixture(t)
	ctx := context.Background()

	e := &models.Event{Title: "x", Date: "2025-07-01"}
	require.NoError(t, fx.store.Create(e))

	staged := fx.stage(t, "s.mp4", []byte("video"))
	item, err := fx.ingestor.AttachMedia(ctx, e.ID, staged, "clip.mp4", "")
	require.NoError(t, err)

	require.NoError(t, fx.ingestor.DetachMedia(ctx, e.ID, item.FileName))

	got, err := fx.store.Get(e.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Media.Videos)

	_, err = os.Stat(fx.store.MediaPath(e.ID, item.FileName))
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, fx.ingestor.DetachMedia(ctx, e.ID, "missing.mp4"), models.ErrEventNotFound)
}

func TestRemoveEvent(t *testing.T) {
	fx := newIngestFixture(t)
	ctx := context.Background()

	e := &models.Event{Title: "x", Date: "2025-07-01"}
	require.NoError(t, fx.store.Create(e))

	staged := fx.stage(t, "s.mp4", []byte("video"))
	_, err := fx.ingestor.AttachMedia(ctx, e.ID, staged, "clip.mp4", "")
	require.NoError(t, err)

	hlsOut := filepath.Join(fx.hlsDir, "1", "clip")
	require.NoError(t, os.MkdirAll(hlsOut, 0o755))

	require.NoError(t, fx.ingestor.RemoveEvent(ctx, e.ID))

	_, err = fx.store.Get(e.ID)
	assert.ErrorIs(t, err, models.ErrEventNotFound)

	markers, err := fx.queue.List()
	require.NoError(t, err)
	assert.Empty(t, markers)

	_, statErr := os.Stat(hlsOut)
	assert.True(t, os.IsNotExist(statErr))
}

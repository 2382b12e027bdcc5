package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"babylog/internal/queue"
)

type fakeTranscoder struct {
	calls []string
	err   error
}

func (f *fakeTranscoder) TranscodeToHLS(ctx context.Context, inputPath, outDir string) error {
	f.calls = append(f.calls, inputPath)
	if f.err != nil {
		return f.err
	}
	return os.MkdirAll(outDir, 0o755)
}

type fixture struct {
	worker    *Worker
	queue     *queue.Queue
	trans     *fakeTranscoder
	eventsDir string
	hlsDir    string
}

func newFixture(t *testing.T, transErr error) *fixture {
	t.Helper()
	dataDir := t.TempDir()
	eventsDir := filepath.Join(dataDir, "events")
	hlsDir := t.TempDir()
	require.NoError(t, os.MkdirAll(eventsDir, 0o755))

	q := queue.New(dataDir, eventsDir, slog.Default())
	tr := &fakeTranscoder{err: transErr}
	w := New(q, tr, eventsDir, hlsDir, time.Minute, 3, slog.Default())
	return &fixture{worker: w, queue: q, trans: tr, eventsDir: eventsDir, hlsDir: hlsDir}
}

func (f *fixture) addVideo(t *testing.T, eventID int, name string) {
	t.Helper()
	dir := filepath.Join(f.eventsDir, strconv.Itoa(eventID))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("video"), 0o644))
	require.NoError(t, f.queue.Enqueue(eventID, name))
}

func TestProcessPending_Success(t *testing.T) {
	f := newFixture(t, nil)
	f.addVideo(t, 3, "clip.mp4")

	f.worker.ProcessPending(context.Background())

	require.Len(t, f.trans.calls, 1)
	assert.Equal(t, filepath.Join(f.eventsDir, "3", "clip.mp4"), f.trans.calls[0])

	// Marker gone, sentinel present, HLS output in place.
	markers, err := f.queue.List()
	require.NoError(t, err)
	assert.Empty(t, markers)

	_, err = os.Stat(filepath.Join(f.eventsDir, "3", "clip.mp4"+queue.ProcessedSuffix))
	assert.NoError(t, err)

	_, err = os.Stat(filepath.Join(f.hlsDir, "3", "clip"))
	assert.NoError(t, err)
}

func TestProcessPending_StaleMarkerDropped(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.queue.Enqueue(3, "gone.mp4"))

	f.worker.ProcessPending(context.Background())

	assert.Empty(t, f.trans.calls, "no transcode for missing media")
	markers, err := f.queue.List()
	require.NoError(t, err)
	assert.Empty(t, markers)
}

func TestProcessPending_RetriesThenDeadLetters(t *testing.T) {
	f := newFixture(t, errors.New("encode blew up"))
	f.addVideo(t, 3, "clip.mp4")

	// First two failures leave the marker pending with attempts recorded.
	for want := 1; want <= 2; want++ {
		f.worker.ProcessPending(context.Background())
		markers, err := f.queue.List()
		require.NoError(t, err)
		require.Len(t, markers, 1)
		assert.Equal(t, want, markers[0].Attempts)
	}

	// Third failure exhausts the attempt budget.
	f.worker.ProcessPending(context.Background())
	markers, err := f.queue.List()
	require.NoError(t, err)
	assert.Empty(t, markers)

	matches, err := filepath.Glob(filepath.Join(f.eventsDir, "..", "tasks", "*"+queue.DeadSuffix))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	// No sentinel for a failed job.
	_, statErr := os.Stat(filepath.Join(f.eventsDir, "3", "clip.mp4"+queue.ProcessedSuffix))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

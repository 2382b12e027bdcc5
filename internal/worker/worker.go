// Package worker runs the transcode loop: it polls the marker queue, feeds
// pending videos through ffmpeg and records the outcome on the queue.
package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"babylog/internal/metrics"
	"babylog/internal/queue"
)

var tracer = otel.Tracer("babylog-worker")

// Transcoder converts one media file into an HLS rendition.
type Transcoder interface {
	TranscodeToHLS(ctx context.Context, inputPath, outDir string) error
}

// Worker polls the queue and transcodes pending videos one at a time.
type Worker struct {
	queue       *queue.Queue
	transcoder  Transcoder
	eventsDir   string
	hlsDir      string
	interval    time.Duration
	maxAttempts int
	log         *slog.Logger
}

// New creates a Worker.
func New(q *queue.Queue, t Transcoder, eventsDir, hlsDir string, interval time.Duration, maxAttempts int, log *slog.Logger) *Worker {
	return &Worker{
		queue:       q,
		transcoder:  t,
		eventsDir:   eventsDir,
		hlsDir:      hlsDir,
		interval:    interval,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

// Run processes pending jobs until the context is canceled. A pass runs
// immediately on startup, then on every tick.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Worker started", "interval", w.interval, "max_attempts", w.maxAttempts)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.ProcessPending(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker stopping")
			return ctx.Err()
		case <-ticker.C:
			w.ProcessPending(ctx)
		}
	}
}

// ProcessPending runs one pass over the queue.
func (w *Worker) ProcessPending(ctx context.Context) {
	markers, err := w.queue.List()
	if err != nil {
		w.log.ErrorContext(ctx, "Queue listing failed", "error", err)
		return
	}

	for _, m := range markers {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.process(ctx, m)
	}
}

func (w *Worker) process(ctx context.Context, m queue.Marker) {
	ctx, span := tracer.Start(ctx, "worker.process",
		trace.WithAttributes(
			attribute.Int("event_id", m.EventID),
			attribute.String("file_name", m.FileName)))
	defer span.End()

	inputPath := filepath.Join(w.eventsDir, strconv.Itoa(m.EventID), m.FileName)
	if _, err := os.Stat(inputPath); os.IsNotExist(err) {
		// The media was deleted after the job was enqueued.
		w.log.WarnContext(ctx, "Dropping stale marker", "event_id", m.EventID, "file_name", m.FileName)
		if err := w.queue.Delete(m); err != nil {
			w.log.ErrorContext(ctx, "Stale marker removal failed", "error", err)
		}
		return
	}

	attempts, err := w.queue.RecordAttempt(&m)
	if err != nil {
		w.log.ErrorContext(ctx, "Attempt bookkeeping failed", "event_id", m.EventID, "error", err)
		return
	}

	base := strings.TrimSuffix(m.FileName, filepath.Ext(m.FileName))
	outDir := filepath.Join(w.hlsDir, strconv.Itoa(m.EventID), base)

	metrics.ActiveTranscodes.Inc()
	err = w.transcoder.TranscodeToHLS(ctx, inputPath, outDir)
	metrics.ActiveTranscodes.Dec()

	if err == nil {
		if err := w.queue.Complete(m); err != nil {
			w.log.ErrorContext(ctx, "Job completion bookkeeping failed", "event_id", m.EventID, "error", err)
			return
		}
		metrics.RecordTranscodeSuccess()
		w.log.InfoContext(ctx, "Transcode finished",
			"event_id", m.EventID, "file_name", m.FileName, "out_dir", outDir)
		return
	}

	w.log.ErrorContext(ctx, "Transcode failed",
		"event_id", m.EventID, "file_name", m.FileName, "attempts", attempts, "error", err)

	// Failed output would confuse playback probes; clear it before retry.
	_ = os.RemoveAll(outDir)

	if attempts >= w.maxAttempts {
		if err := w.queue.DeadLetter(m); err != nil {
			w.log.ErrorContext(ctx, "Dead-letter failed", "event_id", m.EventID, "error", err)
			return
		}
		metrics.RecordTranscodeDeadLetter()
		return
	}
	metrics.RecordTranscodeFailure()
}

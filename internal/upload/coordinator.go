// Package upload implements resumable chunked uploads: task initialization,
// out-of-order chunk receipt, ordered merge with digest verification, and
// expiry of abandoned tasks.
package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"babylog/internal/mediainfo"
	"babylog/internal/metrics"
	"babylog/pkg/models"
)

var tracer = otel.Tracer("babylog-upload")

// Coordinator drives the upload task lifecycle.
type Coordinator struct {
	registry  *Registry
	store     *ChunkStore
	capture   *mediainfo.Extractor
	retention time.Duration
	log       *slog.Logger

	sweepMu sync.Mutex
}

// NewCoordinator creates a Coordinator. capture may be nil; completed
// uploads then report no capture time.
func NewCoordinator(registry *Registry, store *ChunkStore, capture *mediainfo.Extractor, retention time.Duration, log *slog.Logger) *Coordinator {
	return &Coordinator{
		registry:  registry,
		store:     store,
		capture:   capture,
		retention: retention,
		log:       log,
	}
}

// InitRequest describes a new upload.
type InitRequest struct {
	FileName   string
	FileType   string
	FileSize   int64
	ChunkCount int
	FileMD5    string
}

// Init validates the request, creates the task record and returns the new
// task ID. Also kicks off an opportunistic sweep of expired tasks.
func (c *Coordinator) Init(ctx context.Context, req InitRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "upload.Init")
	defer span.End()

	if strings.TrimSpace(req.FileName) == "" {
		return "", models.ErrEmptyFileName
	}
	if req.FileSize <= 0 {
		return "", fmt.Errorf("%w: %d", models.ErrInvalidFileSize, req.FileSize)
	}
	if req.ChunkCount <= 0 {
		return "", fmt.Errorf("%w: %d", models.ErrInvalidChunkCount, req.ChunkCount)
	}

	now := time.Now().UTC()
	task := &models.UploadTask{
		TaskID:           uuid.New().String(),
		OriginalFileName: req.FileName,
		FileType:         req.FileType,
		TotalSize:        req.FileSize,
		TotalChunks:      req.ChunkCount,
		CompletedChunks:  []int{},
		Status:           models.TaskInitialized,
		CreatedAt:        now,
		DeclaredMD5:      strings.ToLower(req.FileMD5),
	}
	span.SetAttributes(attribute.String("task_id", task.TaskID))

	if err := c.registry.Put(task); err != nil {
		return "", err
	}

	metrics.UploadsInitiated.Inc()
	c.log.InfoContext(ctx, "Upload task created",
		"task_id", task.TaskID,
		"file_name", task.OriginalFileName,
		"total_chunks", task.TotalChunks,
		"total_size", task.TotalSize)

	go c.Sweep(context.WithoutCancel(ctx))

	return task.TaskID, nil
}

// ChunkResult reports progress after a chunk is accepted.
type ChunkResult struct {
	Index          int
	CompletedCount int
	TotalChunks    int
	Duplicate      bool
}

// UploadChunk stores one chunk. Re-sending an already recorded index is a
// no-op that still reports success.
func (c *Coordinator) UploadChunk(ctx context.Context, taskID string, index int, r io.Reader) (ChunkResult, error) {
	ctx, span := tracer.Start(ctx, "upload.UploadChunk",
		trace.WithAttributes(attribute.String("task_id", taskID), attribute.Int("chunk_index", index)))
	defer span.End()

	var result ChunkResult
	err := c.registry.WithLock(taskID, func() error {
		task, err := c.registry.Get(taskID)
		if err != nil {
			return err
		}

		if index < 0 || index >= task.TotalChunks {
			return fmt.Errorf("%w: index %d, task has %d chunks", models.ErrChunkIndexRange, index, task.TotalChunks)
		}
		switch task.Status {
		case models.TaskCompleted:
			return models.ErrTaskCompleted
		case models.TaskFailed:
			return models.ErrTaskFailed
		}

		if task.HasChunk(index) {
			result = ChunkResult{Index: index, CompletedCount: len(task.CompletedChunks), TotalChunks: task.TotalChunks, Duplicate: true}
			return nil
		}

		if err := c.store.WriteChunk(taskID, index, r); err != nil {
			return err
		}

		task.MarkChunk(index)
		task.Status = models.TaskInProgress
		if err := c.registry.Put(task); err != nil {
			return err
		}

		result = ChunkResult{Index: index, CompletedCount: len(task.CompletedChunks), TotalChunks: task.TotalChunks}
		return nil
	})
	if err != nil {
		metrics.ChunksReceived.WithLabelValues("error").Inc()
		return ChunkResult{}, err
	}

	if result.Duplicate {
		metrics.ChunksReceived.WithLabelValues("duplicate").Inc()
		c.log.InfoContext(ctx, "Duplicate chunk ignored", "task_id", taskID, "chunk_index", index)
	} else {
		metrics.ChunksReceived.WithLabelValues("ok").Inc()
	}
	return result, nil
}

// CompleteResult describes a finished upload.
type CompleteResult struct {
	OriginalName string
	StoredName   string
	Size         int64
	MD5          string
	MD5Verified  bool
	ExpectedMD5  string
	CaptureTime  *time.Time
}

// Complete merges all chunks into a staging artifact, verifies the declared
// digest when one was given, and marks the task completed. Calling Complete
// again on a completed task returns the recorded result without remerging.
func (c *Coordinator) Complete(ctx context.Context, taskID string) (*CompleteResult, error) {
	ctx, span := tracer.Start(ctx, "upload.Complete",
		trace.WithAttributes(attribute.String("task_id", taskID)))
	defer span.End()

	var result *CompleteResult
	err := c.registry.WithLock(taskID, func() error {
		task, err := c.registry.Get(taskID)
		if err != nil {
			return err
		}

		switch task.Status {
		case models.TaskCompleted:
			result = c.recordedResult(ctx, task)
			return nil
		case models.TaskFailed:
			return models.ErrTaskFailed
		}

		if len(task.CompletedChunks) != task.TotalChunks {
			return fmt.Errorf("%w: %d of %d", models.ErrChunksIncomplete, len(task.CompletedChunks), task.TotalChunks)
		}

		start := time.Now()
		storedName, size, digest, err := c.store.Merge(task)
		if err != nil {
			task.Status = models.TaskFailed
			if perr := c.registry.Put(task); perr != nil {
				c.log.ErrorContext(ctx, "Failed to persist failed task", "task_id", taskID, "error", perr)
			}
			return err
		}
		metrics.MergeDuration.Observe(time.Since(start).Seconds())

		task.Status = models.TaskCompleted
		task.ResultFileName = storedName
		task.ActualMD5 = digest
		task.MD5Verified = task.DeclaredMD5 == "" || strings.EqualFold(task.DeclaredMD5, digest)
		if err := c.registry.Put(task); err != nil {
			return err
		}

		result = c.recordedResult(ctx, task)

		// Chunk files are no longer needed; the task record stays for
		// idempotent re-query.
		go func() {
			if err := c.store.RemoveChunks(taskID); err != nil {
				c.log.Error("Chunk cleanup failed", "task_id", taskID, "error", err)
			}
		}()

		if !task.MD5Verified {
			c.log.WarnContext(ctx, "Digest mismatch on completed upload",
				"task_id", taskID, "expected", task.DeclaredMD5, "actual", digest)
			metrics.UploadsCompleted.WithLabelValues("mismatch").Inc()
		} else {
			metrics.UploadsCompleted.WithLabelValues("ok").Inc()
		}
		c.log.InfoContext(ctx, "Upload completed",
			"task_id", taskID, "stored_name", storedName, "size", size)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// recordedResult builds the Complete response from the persisted task, so a
// first completion and any later re-query report the same values. Size echoes
// the size declared at Init; the capture time is derived from the original
// file name when the staged bytes carry no metadata.
func (c *Coordinator) recordedResult(ctx context.Context, task *models.UploadTask) *CompleteResult {
	result := &CompleteResult{
		OriginalName: task.OriginalFileName,
		StoredName:   task.ResultFileName,
		Size:         task.TotalSize,
		MD5:          task.ActualMD5,
		MD5Verified:  task.MD5Verified,
		ExpectedMD5:  task.DeclaredMD5,
	}
	if c.capture != nil && task.ResultFileName != "" {
		if t, ok := c.capture.CaptureTime(ctx, c.store.StagingPath(task.ResultFileName), task.OriginalFileName); ok {
			result.CaptureTime = &t
		}
	}
	return result
}

// StagingPath returns the filesystem path of a merged artifact.
func (c *Coordinator) StagingPath(storedName string) string {
	return c.store.StagingPath(storedName)
}

// Status returns a snapshot of the task for progress polling.
func (c *Coordinator) Status(taskID string) (*models.UploadTask, error) {
	var snapshot *models.UploadTask
	err := c.registry.WithLock(taskID, func() error {
		task, err := c.registry.Get(taskID)
		if err != nil {
			return err
		}
		snapshot = task.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Sweep reclaims tasks idle longer than the retention window, in both the
// memory tier and on disk. Disk records that no longer parse are removed
// outright. Concurrent sweeps coalesce into one.
func (c *Coordinator) Sweep(ctx context.Context) {
	if !c.sweepMu.TryLock() {
		return
	}
	defer c.sweepMu.Unlock()

	cutoff := time.Now().UTC().Add(-c.retention)

	for _, task := range c.registry.Snapshot() {
		if task.LastUpdatedAt.Before(cutoff) {
			c.reclaim(ctx, task.TaskID, "expired")
		}
	}

	ids, err := c.store.ListTaskDirs()
	if err != nil {
		c.log.ErrorContext(ctx, "Task dir scan failed", "error", err)
		return
	}
	for _, id := range ids {
		task, err := c.registry.Get(id)
		if err != nil {
			// Missing or corrupt record; the directory is unrecoverable.
			c.reclaim(ctx, id, "unreadable")
			continue
		}
		if task.LastUpdatedAt.Before(cutoff) {
			c.reclaim(ctx, id, "expired")
		}
	}
}

func (c *Coordinator) reclaim(ctx context.Context, taskID, reason string) {
	if err := c.registry.Delete(taskID); err != nil {
		c.log.ErrorContext(ctx, "Task reclaim failed", "task_id", taskID, "error", err)
		return
	}
	metrics.TasksReclaimed.Inc()
	c.log.InfoContext(ctx, "Reclaimed upload task", "task_id", taskID, "reason", reason)
}

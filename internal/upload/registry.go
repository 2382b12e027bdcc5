package upload

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"babylog/pkg/models"
)

// Registry is a two-tier task store: an in-memory map backed by per-task
// JSON records on disk. Writes go through to disk; reads fall back to disk
// when the memory tier misses, so tasks survive process restarts.
//
// All read-mutate-persist sequences for a task must run under WithLock to
// keep the two tiers consistent under concurrent requests.
type Registry struct {
	store *ChunkStore
	log   *slog.Logger

	tasks sync.Map // taskID -> *models.UploadTask

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry creates a Registry persisting through the given ChunkStore.
func NewRegistry(store *ChunkStore, log *slog.Logger) *Registry {
	return &Registry{
		store: store,
		log:   log,
		locks: make(map[string]*sync.Mutex),
	}
}

// WithLock runs fn while holding the task's mutex. Operations on distinct
// tasks proceed in parallel.
func (r *Registry) WithLock(taskID string, fn func() error) error {
	r.mu.Lock()
	lock, ok := r.locks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[taskID] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// Get returns the task, hydrating the memory tier from disk on a miss.
// Returns models.ErrTaskNotFound when neither tier has it.
func (r *Registry) Get(taskID string) (*models.UploadTask, error) {
	if v, ok := r.tasks.Load(taskID); ok {
		return v.(*models.UploadTask), nil
	}

	task, err := r.loadRecord(taskID)
	if err != nil {
		return nil, err
	}
	r.tasks.Store(taskID, task)
	return task, nil
}

// Put stamps the task's LastUpdatedAt and writes it to both tiers.
func (r *Registry) Put(task *models.UploadTask) error {
	task.LastUpdatedAt = time.Now().UTC()

	if err := r.store.EnsureTaskDir(task.TaskID); err != nil {
		return fmt.Errorf("task dir: %w", err)
	}

	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.TaskID, err)
	}
	if err := os.WriteFile(r.store.TaskRecordPath(task.TaskID), data, 0o644); err != nil {
		return fmt.Errorf("persist task %s: %w", task.TaskID, err)
	}

	r.tasks.Store(task.TaskID, task)
	return nil
}

// Delete removes the task from both tiers, including its chunk directory.
func (r *Registry) Delete(taskID string) error {
	r.tasks.Delete(taskID)

	r.mu.Lock()
	delete(r.locks, taskID)
	r.mu.Unlock()

	return r.store.RemoveTaskDir(taskID)
}

// Forget drops the task from the memory tier only. Used when the disk
// record is the source of truth for a decision already made.
func (r *Registry) Forget(taskID string) {
	r.tasks.Delete(taskID)
}

// Snapshot returns the tasks currently held in memory.
func (r *Registry) Snapshot() []*models.UploadTask {
	var out []*models.UploadTask
	r.tasks.Range(func(_, v any) bool {
		out = append(out, v.(*models.UploadTask))
		return true
	})
	return out
}

func (r *Registry) loadRecord(taskID string) (*models.UploadTask, error) {
	data, err := os.ReadFile(r.store.TaskRecordPath(taskID))
	if os.IsNotExist(err) {
		return nil, models.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read task %s: %w", taskID, err)
	}

	var task models.UploadTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return &task, nil
}

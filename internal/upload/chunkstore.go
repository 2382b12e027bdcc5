package upload

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"babylog/pkg/models"
)

const (
	chunkDirName   = "chunks"
	stagingDirName = "staging"
	// taskRecordSuffix names the per-task JSON record inside the task dir.
	taskRecordSuffix = ".task.json"
)

// ChunkStore lays out per-task chunk directories on the local filesystem and
// merges completed chunks into staging artifacts.
type ChunkStore struct {
	chunkRoot   string
	stagingRoot string
}

// NewChunkStore creates a ChunkStore rooted at dataDir.
func NewChunkStore(dataDir string) *ChunkStore {
	return &ChunkStore{
		chunkRoot:   filepath.Join(dataDir, chunkDirName),
		stagingRoot: filepath.Join(dataDir, stagingDirName),
	}
}

// TaskDir returns the chunk directory for a task.
func (s *ChunkStore) TaskDir(taskID string) string {
	return filepath.Join(s.chunkRoot, taskID)
}

// TaskRecordPath returns the path of the task's JSON record.
func (s *ChunkStore) TaskRecordPath(taskID string) string {
	return filepath.Join(s.TaskDir(taskID), taskID+taskRecordSuffix)
}

// ChunkPath returns the path of one numbered chunk file.
func (s *ChunkStore) ChunkPath(taskID string, index int) string {
	return filepath.Join(s.TaskDir(taskID), fmt.Sprintf("chunk_%d", index))
}

// StagingPath returns the path of a merged artifact in the staging area.
func (s *ChunkStore) StagingPath(storedName string) string {
	return filepath.Join(s.stagingRoot, storedName)
}

// EnsureTaskDir creates the chunk directory for a task.
func (s *ChunkStore) EnsureTaskDir(taskID string) error {
	return os.MkdirAll(s.TaskDir(taskID), 0o755)
}

// WriteChunk streams one chunk to its numbered file. An interrupted write
// may leave a partial file behind; the caller only records the index as
// completed after WriteChunk returns nil.
func (s *ChunkStore) WriteChunk(taskID string, index int, r io.Reader) error {
	if err := s.EnsureTaskDir(taskID); err != nil {
		return fmt.Errorf("create chunk dir: %w", err)
	}

	f, err := os.Create(s.ChunkPath(taskID, index))
	if err != nil {
		return fmt.Errorf("create chunk file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write chunk %d: %w", index, err)
	}
	return f.Close()
}

// Merge concatenates all chunks of the task in ascending index order into a
// freshly named staging artifact, computing the MD5 digest as it streams.
// Returns the artifact name, its size and the lowercase hex digest.
func (s *ChunkStore) Merge(task *models.UploadTask) (storedName string, size int64, digest string, err error) {
	if err := os.MkdirAll(s.stagingRoot, 0o755); err != nil {
		return "", 0, "", fmt.Errorf("create staging dir: %w", err)
	}

	storedName = newStoredName(task.OriginalFileName)
	outPath := s.StagingPath(storedName)

	out, err := os.Create(outPath)
	if err != nil {
		return "", 0, "", fmt.Errorf("create artifact: %w", err)
	}
	defer out.Close()

	sum := md5.New()
	w := io.MultiWriter(out, sum)

	for i := 0; i < task.TotalChunks; i++ {
		n, err := s.appendChunk(w, task.TaskID, i)
		if err != nil {
			// Leave chunk files in place for diagnostics; remove the
			// partial artifact.
			out.Close()
			_ = os.Remove(outPath)
			return "", 0, "", err
		}
		size += n
	}

	if err := out.Close(); err != nil {
		return "", 0, "", fmt.Errorf("close artifact: %w", err)
	}
	return storedName, size, hex.EncodeToString(sum.Sum(nil)), nil
}

func (s *ChunkStore) appendChunk(w io.Writer, taskID string, index int) (int64, error) {
	path := s.ChunkPath(taskID, index)
	in, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: chunk %d: %v", models.ErrMergeFailed, index, err)
	}
	defer in.Close()

	n, err := io.Copy(w, in)
	if err != nil {
		return n, fmt.Errorf("%w: chunk %d: %v", models.ErrMergeFailed, index, err)
	}
	return n, nil
}

// RemoveChunks deletes the task's chunk files while preserving the task
// record for idempotent re-query.
func (s *ChunkStore) RemoveChunks(taskID string) error {
	entries, err := os.ReadDir(s.TaskDir(taskID))
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), taskRecordSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.TaskDir(taskID), entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// RemoveTaskDir deletes the task directory including its record.
func (s *ChunkStore) RemoveTaskDir(taskID string) error {
	return os.RemoveAll(s.TaskDir(taskID))
}

// ListTaskDirs returns the IDs of all task directories on disk.
func (s *ChunkStore) ListTaskDirs() ([]string, error) {
	entries, err := os.ReadDir(s.chunkRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// FileMD5 computes the lowercase hex MD5 digest of a file.
func FileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum := md5.New()
	if _, err := io.Copy(sum, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// newStoredName builds a collision-resistant artifact name that keeps the
// original extension.
func newStoredName(originalName string) string {
	ts := time.Now().Format("20060102150405.000")
	ts = strings.ReplaceAll(ts, ".", "")
	rand := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	return ts + "_" + rand + strings.ToLower(filepath.Ext(originalName))
}

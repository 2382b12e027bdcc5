package models

import "time"

// TaskStatus represents the lifecycle state of a chunked upload task.
// Transitions are monotonic: Initialized -> InProgress -> Completed, with
// Failed reachable from any non-terminal state.
type TaskStatus string

const (
	TaskInitialized TaskStatus = "initialized"
	TaskInProgress  TaskStatus = "in_progress"
	TaskCompleted   TaskStatus = "completed"
	TaskFailed      TaskStatus = "failed"
)

// Terminal returns true if no further transitions may leave the status.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// UploadTask is the durable record of one chunked upload. It is mirrored
// between the in-memory registry tier and a per-task JSON file.
type UploadTask struct {
	TaskID           string     `json:"taskId"`
	OriginalFileName string     `json:"originalFileName"`
	FileType         string     `json:"fileType"`
	TotalSize        int64      `json:"totalSize"`
	TotalChunks      int        `json:"totalChunks"`
	CompletedChunks  []int      `json:"completedChunks"`
	Status           TaskStatus `json:"status"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastUpdatedAt    time.Time  `json:"lastUpdatedAt"`
	ResultFileName   string     `json:"resultFileName,omitempty"`
	DeclaredMD5      string     `json:"declaredMd5,omitempty"`
	ActualMD5        string     `json:"actualMd5,omitempty"`
	MD5Verified      bool       `json:"md5Verified"`
}

// HasChunk reports whether the given chunk index is recorded as completed.
func (t *UploadTask) HasChunk(index int) bool {
	for _, c := range t.CompletedChunks {
		if c == index {
			return true
		}
	}
	return false
}

// MarkChunk records a chunk index as completed. Duplicate indices are ignored.
func (t *UploadTask) MarkChunk(index int) {
	if !t.HasChunk(index) {
		t.CompletedChunks = append(t.CompletedChunks, index)
	}
}

// Clone returns a deep copy so callers can hand tasks across goroutines
// without sharing the completed-chunk slice.
func (t *UploadTask) Clone() *UploadTask {
	cp := *t
	cp.CompletedChunks = append([]int(nil), t.CompletedChunks...)
	return &cp
}

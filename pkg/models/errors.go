package models

import "errors"

// Sentinel errors for upload and media operations. Callers distinguish
// outcome classes with errors.Is rather than matching message text.
var (
	// Not-found conditions
	ErrTaskNotFound  = errors.New("upload task not found")
	ErrEventNotFound = errors.New("event not found")

	// Validation errors
	ErrEmptyFileName      = errors.New("file name is required")
	ErrInvalidFileSize    = errors.New("file size must be positive")
	ErrInvalidChunkCount  = errors.New("chunk count must be positive")
	ErrChunkIndexRange    = errors.New("chunk index out of range")
	ErrHashLengthMismatch = errors.New("video hash arrays must have the same length")
	ErrInvalidHashString  = errors.New("malformed fingerprint string")

	// Lifecycle errors
	ErrTaskCompleted    = errors.New("upload task already completed")
	ErrTaskFailed       = errors.New("upload task already failed")
	ErrChunksIncomplete = errors.New("not all chunks have been uploaded")

	// Processing errors
	ErrMergeFailed     = errors.New("failed to merge chunks")
	ErrTranscodeFailed = errors.New("failed to transcode video")
	ErrFFmpegFailed    = errors.New("ffmpeg execution failed")
	ErrFrameExtract    = errors.New("failed to extract video frame")
)

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"babylog/internal/auth"
	"babylog/internal/config"
	"babylog/internal/event"
	"babylog/internal/reconcile"
	"babylog/internal/upload"
	"babylog/pkg/models"
)

var tracer = otel.Tracer("babylog-api")

// Configuration constants
const (
	MaxFilenameLength = 255
	MaxJSONBodySize   = 1 << 20  // 1 MB
	MaxChunkSize      = 32 << 20 // 32 MB
	MaxMetadataMemory = 1 << 20
)

// Allowed upload extensions, covering all three media kinds.
var AllowedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".mp4": true, ".mov": true,
	".mp3": true, ".m4a": true, ".wav": true, ".aac": true,
}

// Handlers contains all HTTP handlers for the API.
type Handlers struct {
	cfg         *config.Config
	log         *slog.Logger
	coordinator *upload.Coordinator
	events      *event.Store
	ingestor    *event.Ingestor
	matcher     *reconcile.Matcher
	jwtService  *auth.JWTService
}

// HandlersConfig holds dependencies for handlers.
type HandlersConfig struct {
	Config      *config.Config
	Logger      *slog.Logger
	Coordinator *upload.Coordinator
	EventStore  *event.Store
	Ingestor    *event.Ingestor
	Matcher     *reconcile.Matcher
	JWTService  *auth.JWTService
}

// NewHandlers creates a Handlers instance.
func NewHandlers(cfg *HandlersConfig) *Handlers {
	return &Handlers{
		cfg:         cfg.Config,
		log:         cfg.Logger,
		coordinator: cfg.Coordinator,
		events:      cfg.EventStore,
		ingestor:    cfg.Ingestor,
		matcher:     cfg.Matcher,
		jwtService:  cfg.JWTService,
	}
}

// writeJSON writes a JSON response.
func (h *Handlers) writeJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.ErrorContext(ctx, "Failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response.
func (h *Handlers) writeError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	h.writeJSON(ctx, w, status, map[string]string{"error": message})
}

func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBodySize)
	return json.NewDecoder(r.Body).Decode(dst)
}

// uploadStatus maps upload errors onto HTTP status codes.
func uploadStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrTaskNotFound), errors.Is(err, models.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrTaskCompleted),
		errors.Is(err, models.ErrTaskFailed),
		errors.Is(err, models.ErrChunksIncomplete):
		return http.StatusConflict
	case errors.Is(err, models.ErrEmptyFileName),
		errors.Is(err, models.ErrInvalidFileSize),
		errors.Is(err, models.ErrInvalidChunkCount),
		errors.Is(err, models.ErrChunkIndexRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// LoginHandler authenticates with basic credentials and returns a JWT.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientIP := auth.GetClientIP(r)

	username, password, ok := r.BasicAuth()
	if !ok {
		h.writeError(ctx, w, http.StatusUnauthorized, "Missing credentials")
		return
	}

	expectedUsername, expectedPassword, err := h.cfg.GetAPICredentials()
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to get API credentials", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Server configuration error")
		return
	}

	if username != expectedUsername || password != expectedPassword {
		h.log.WarnContext(ctx, "Failed login attempt", "username", username, "ip", clientIP)
		h.writeError(ctx, w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.jwtService.GenerateToken(username)
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to generate token", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	h.log.InfoContext(ctx, "Successful login", "username", username, "ip", clientIP)
	h.writeJSON(ctx, w, http.StatusOK, map[string]string{"token": token})
}

// InitUploadRequest is the request payload for upload initialization.
type InitUploadRequest struct {
	FileName   string `json:"fileName"`
	FileType   string `json:"fileType"`
	FileSize   int64  `json:"fileSize"`
	ChunkCount int    `json:"chunkCount"`
	FileMD5    string `json:"fileMd5,omitempty"`
}

// InitUploadResponse is the response payload for upload initialization.
type InitUploadResponse struct {
	TaskID string `json:"taskId"`
}

// InitUploadHandler creates an upload task.
func (h *Handlers) InitUploadHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "init-upload-handler")
	defer span.End()

	var req InitUploadRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		span.RecordError(err)
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		h.writeError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := validateFileName(req.FileName); err != nil {
		span.RecordError(err)
		h.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	taskID, err := h.coordinator.Init(ctx, upload.InitRequest{
		FileName:   req.FileName,
		FileType:   req.FileType,
		FileSize:   req.FileSize,
		ChunkCount: req.ChunkCount,
		FileMD5:    req.FileMD5,
	})
	if err != nil {
		span.RecordError(err)
		h.writeError(ctx, w, uploadStatus(err), err.Error())
		return
	}

	span.SetAttributes(attribute.String("task.id", taskID))
	h.writeJSON(ctx, w, http.StatusOK, InitUploadResponse{TaskID: taskID})
}

// ChunkResponse is the response payload for one accepted chunk.
type ChunkResponse struct {
	Index          int  `json:"index"`
	CompletedCount int  `json:"completedCount"`
	TotalChunks    int  `json:"totalChunks"`
	Duplicate      bool `json:"duplicate,omitempty"`
}

// UploadChunkHandler receives one chunk as multipart form data.
func (h *Handlers) UploadChunkHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload-chunk-handler")
	defer span.End()

	r.Body = http.MaxBytesReader(w, r.Body, MaxChunkSize)
	if err := r.ParseMultipartForm(MaxMetadataMemory); err != nil {
		span.RecordError(err)
		h.writeError(ctx, w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	taskID := r.FormValue("taskId")
	if taskID == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "taskId is required")
		return
	}
	index, err := strconv.Atoi(r.FormValue("index"))
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "index must be an integer")
		return
	}

	file, _, err := r.FormFile("chunk")
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "chunk file is required")
		return
	}
	defer file.Close()

	span.SetAttributes(attribute.String("task.id", taskID), attribute.Int("chunk.index", index))

	result, err := h.coordinator.UploadChunk(ctx, taskID, index, file)
	if err != nil {
		span.RecordError(err)
		h.writeError(ctx, w, uploadStatus(err), err.Error())
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, ChunkResponse{
		Index:          result.Index,
		CompletedCount: result.CompletedCount,
		TotalChunks:    result.TotalChunks,
		Duplicate:      result.Duplicate,
	})
}

// CompleteUploadRequest is the request payload for completing an upload.
type CompleteUploadRequest struct {
	TaskID string `json:"taskId"`
	// EventID, when set, attaches the artifact to the event.
	EventID int    `json:"eventId,omitempty"`
	Desc    string `json:"desc,omitempty"`
}

// CompleteUploadResponse is the response payload for completed uploads.
type CompleteUploadResponse struct {
	OriginalName string `json:"originalName"`
	StoredName   string `json:"storedName"`
	Size         int64  `json:"size"`
	MD5          string `json:"md5"`
	MD5Verified  bool   `json:"md5Verified"`
	ExpectedMD5  string `json:"expectedMd5,omitempty"`
	// CaptureTime is the capture timestamp sniffed from the merged artifact,
	// when one could be determined.
	CaptureTime *time.Time `json:"captureTime,omitempty"`
	FileName    string     `json:"fileName,omitempty"`
	EventID     int        `json:"eventId,omitempty"`
}

// CompleteUploadHandler merges the chunks and optionally attaches the
// artifact to an event, triggering fingerprint reconciliation.
func (h *Handlers) CompleteUploadHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "complete-upload-handler")
	defer span.End()

	var req CompleteUploadRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		span.RecordError(err)
		h.writeError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TaskID == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "taskId is required")
		return
	}
	span.SetAttributes(attribute.String("task.id", req.TaskID))

	result, err := h.coordinator.Complete(ctx, req.TaskID)
	if err != nil {
		span.RecordError(err)
		h.writeError(ctx, w, uploadStatus(err), err.Error())
		return
	}

	resp := CompleteUploadResponse{
		OriginalName: result.OriginalName,
		StoredName:   result.StoredName,
		Size:         result.Size,
		MD5:          result.MD5,
		MD5Verified:  result.MD5Verified,
		ExpectedMD5:  result.ExpectedMD5,
		CaptureTime:  result.CaptureTime,
	}

	if req.EventID > 0 {
		item, err := h.ingestor.AttachMedia(ctx, req.EventID, h.coordinator.StagingPath(result.StoredName), result.OriginalName, req.Desc)
		if err != nil {
			span.RecordError(err)
			h.writeError(ctx, w, uploadStatus(err), err.Error())
			return
		}
		resp.FileName = item.FileName
		resp.EventID = req.EventID

		go func() {
			if _, err := h.matcher.ReconcileEvent(context.WithoutCancel(ctx), req.EventID); err != nil {
				h.log.Error("Reconciliation after ingest failed", "event_id", req.EventID, "error", err)
			}
		}()
	}

	h.writeJSON(ctx, w, http.StatusOK, resp)
}

// UploadStatusHandler reports task progress.
func (h *Handlers) UploadStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	taskID := r.PathValue("taskId")
	task, err := h.coordinator.Status(taskID)
	if err != nil {
		h.writeError(ctx, w, uploadStatus(err), err.Error())
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, task)
}

// ListEventsHandler returns all events, newest first.
func (h *Handlers) ListEventsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	events, err := h.events.List()
	if err != nil {
		h.log.ErrorContext(ctx, "Event listing failed", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to list events")
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, events)
}

// CreateEventHandler creates an event record.
func (h *Handlers) CreateEventHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var e models.Event
	if err := h.decodeJSON(w, r, &e); err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(e.Title) == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "title is required")
		return
	}
	if e.Date == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "date is required")
		return
	}
	// Client-supplied dates are provisional until media evidence confirms
	// them.
	e.IsDateValid = false
	e.Media = nil

	if err := h.events.Create(&e); err != nil {
		h.log.ErrorContext(ctx, "Event creation failed", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to create event")
		return
	}

	h.log.InfoContext(ctx, "Event created", "event_id", e.ID, "title", e.Title)
	h.writeJSON(ctx, w, http.StatusCreated, e)
}

// GetEventHandler returns one event.
func (h *Handlers) GetEventHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "invalid event id")
		return
	}

	e, err := h.events.Get(id)
	if err != nil {
		if errors.Is(err, models.ErrEventNotFound) {
			h.writeError(ctx, w, http.StatusNotFound, "Event not found")
			return
		}
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to load event")
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, e)
}

// UpdateEventHandler updates the editable fields of an event. Media and
// date validity are managed by ingestion and reconciliation.
func (h *Handlers) UpdateEventHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "invalid event id")
		return
	}

	var req models.Event
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return
	}

	e, err := h.events.Get(id)
	if err != nil {
		if errors.Is(err, models.ErrEventNotFound) {
			h.writeError(ctx, w, http.StatusNotFound, "Event not found")
			return
		}
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to load event")
		return
	}

	if strings.TrimSpace(req.Title) != "" {
		e.Title = req.Title
	}
	e.Description = req.Description
	e.Location = req.Location
	if req.Date != "" && req.Date != e.Date {
		e.Date = req.Date
		e.IsDateValid = false
	}

	if err := h.events.Update(e); err != nil {
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to update event")
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, e)
}

// DeleteEventHandler removes an event along with its media, markers and
// HLS output.
func (h *Handlers) DeleteEventHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "invalid event id")
		return
	}

	if err := h.ingestor.RemoveEvent(ctx, id); err != nil {
		if errors.Is(err, models.ErrEventNotFound) {
			h.writeError(ctx, w, http.StatusNotFound, "Event not found")
			return
		}
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to delete event")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteMediaHandler removes one media file from an event.
func (h *Handlers) DeleteMediaHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "invalid event id")
		return
	}
	fileName := r.PathValue("file")
	if fileName == "" || strings.Contains(fileName, "..") {
		h.writeError(ctx, w, http.StatusBadRequest, "invalid file name")
		return
	}

	if err := h.ingestor.DetachMedia(ctx, id, fileName); err != nil {
		if errors.Is(err, models.ErrEventNotFound) {
			h.writeError(ctx, w, http.StatusNotFound, "Media not found")
			return
		}
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to delete media")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TimelineHandler returns events grouped by date with age labels.
func (h *Handlers) TimelineHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	groups, err := h.events.Timeline(h.cfg.Timeline.BirthDate)
	if err != nil {
		h.log.ErrorContext(ctx, "Timeline build failed", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to build timeline")
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, groups)
}

// ReconcileHandler triggers a full reconciliation pass.
func (h *Handlers) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "reconcile-handler",
		trace.WithAttributes(attribute.String("trigger", "api")))
	defer span.End()

	go func() {
		if err := h.matcher.ReconcileAll(context.WithoutCancel(ctx)); err != nil {
			h.log.Error("Full reconciliation failed", "error", err)
		}
	}()

	h.writeJSON(ctx, w, http.StatusAccepted, map[string]string{"status": "reconciliation started"})
}

func validateFileName(fileName string) error {
	if fileName == "" {
		return models.ErrEmptyFileName
	}
	if len(fileName) > MaxFilenameLength {
		return errors.New("file name too long")
	}
	if strings.Contains(fileName, "..") || strings.ContainsAny(fileName, `/\`) {
		return errors.New("file name must not contain path separators")
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	if !AllowedExtensions[ext] {
		return fmt.Errorf("unsupported file extension %q", ext)
	}
	return nil
}

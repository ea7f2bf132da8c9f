package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nextconvert/shorts/internal/api/middleware"
	"github.com/nextconvert/shorts/internal/modules/compose"
	"github.com/nextconvert/shorts/internal/modules/jobs"
	"github.com/nextconvert/shorts/internal/shared/storage"
	"go.uber.org/zap"
)

const downloadURLExpiry = 15 * time.Minute

// OperationRoutes maps URL segments to composition operations.
var OperationRoutes = map[string]string{
	"merge-audio":     compose.OpMergeAudio,
	"images-to-video": compose.OpImagesToVideo,
	"videos-to-video": compose.OpVideosToVideo,
	"burn-captions":   compose.OpBurnCaptions,
}

// JobService manages job records. jobs.Module implements it.
type JobService interface {
	CreateJob(ctx context.Context, params jobs.CreateJobParams) (*jobs.Job, error)
	GetJob(ctx context.Context, jobID string) (*jobs.Job, error)
	ListJobs(ctx context.Context, userID string) ([]*jobs.Job, error)
}

// FileStore holds job inputs and outputs. storage.Service implements it.
type FileStore interface {
	Store(ctx context.Context, zone storage.Zone, originalName string, reader io.Reader) (*storage.Object, error)
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	DownloadURL(ctx context.Context, path string, expiry time.Duration) (string, error)
}

// JobHandler handles job-related endpoints
type JobHandler struct {
	jobs   JobService
	files  FileStore
	logger *zap.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(service JobService, files FileStore, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		jobs:   service,
		files:  files,
		logger: logger,
	}
}

// JobResponse is a job as returned to clients.
type JobResponse struct {
	*jobs.Job
	DownloadURL string `json:"downloadUrl,omitempty"`
}

func newJobResponse(job *jobs.Job) JobResponse {
	resp := JobResponse{Job: job}
	if job.Status == jobs.StatusCompleted {
		resp.DownloadURL = fmt.Sprintf("/api/v1/jobs/%s/download", job.ID)
	}
	return resp
}

// CreateJob stores the uploads and queues a composition. The multipart form
// must already be parsed by middleware.ValidateUploads.
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	operation, ok := OperationRoutes[chi.URLParam(r, "operation")]
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "unknown operation", "validation")
		return
	}
	if r.MultipartForm == nil {
		middleware.WriteError(w, http.StatusBadRequest, "expected a multipart/form-data body", "validation")
		return
	}

	inputs, err := h.storeUploads(r)
	if err != nil {
		h.logger.Error("Failed to store job inputs", zap.Error(err))
		h.deleteInputs(r.Context(), inputs)
		middleware.WriteError(w, http.StatusInternalServerError, "failed to store uploads", "internal")
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), jobs.CreateJobParams{
		UserID:    middleware.UserID(r.Context()),
		Operation: operation,
		Settings:  r.FormValue(SettingsField),
		Inputs:    inputs,
	})
	if err != nil {
		h.deleteInputs(context.WithoutCancel(r.Context()), inputs)
		var verr *compose.ValidationError
		if errors.As(err, &verr) {
			middleware.WriteError(w, http.StatusBadRequest, verr.Error(), "validation")
			return
		}
		h.logger.Error("Failed to create job", zap.String("operation", operation), zap.Error(err))
		middleware.WriteError(w, http.StatusServiceUnavailable, "failed to queue job", "queue")
		return
	}

	writeJSON(w, http.StatusAccepted, newJobResponse(job))
}

// storeUploads saves every file to the upload zone. On error the keys
// stored so far are returned for cleanup.
func (h *JobHandler) storeUploads(r *http.Request) (map[string][]string, error) {
	files := r.MultipartForm.File
	fields := make([]string, 0, len(files))
	for field := range files {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	inputs := make(map[string][]string, len(files))
	for _, field := range fields {
		for _, fh := range files[field] {
			f, err := fh.Open()
			if err != nil {
				return inputs, err
			}
			info, err := h.files.Store(r.Context(), storage.ZoneUpload, fh.Filename, f)
			f.Close()
			if err != nil {
				return inputs, err
			}
			inputs[field] = append(inputs[field], info.Key)
		}
	}
	return inputs, nil
}

func (h *JobHandler) deleteInputs(ctx context.Context, inputs map[string][]string) {
	for _, paths := range inputs {
		for _, path := range paths {
			if err := h.files.Delete(ctx, path); err != nil {
				h.logger.Warn("Failed to delete orphaned upload", zap.String("path", path), zap.Error(err))
			}
		}
	}
}

// ListJobs lists the caller's recent jobs
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.jobs.ListJobs(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		h.logger.Error("Failed to list jobs", zap.Error(err))
		middleware.WriteError(w, http.StatusInternalServerError, "failed to list jobs", "internal")
		return
	}

	resp := make([]JobResponse, 0, len(list))
	for _, job := range list {
		resp = append(resp, newJobResponse(job))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": resp})
}

// GetJob returns one of the caller's jobs
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

// Download redirects to a presigned URL when the backend supports one and
// streams the output otherwise.
func (h *JobHandler) Download(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	if job.Status != jobs.StatusCompleted || job.OutputPath == "" {
		middleware.WriteError(w, http.StatusConflict, fmt.Sprintf("job is %s", job.Status), "state")
		return
	}

	url, err := h.files.DownloadURL(r.Context(), job.OutputPath, downloadURLExpiry)
	if err != nil {
		h.logger.Warn("Failed to presign download, streaming instead", zap.String("job_id", job.ID), zap.Error(err))
	}
	if url != "" {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	rc, err := h.files.Retrieve(r.Context(), job.OutputPath)
	if errors.Is(err, storage.ErrNotFound) {
		middleware.WriteError(w, http.StatusGone, "output has expired", "state")
		return
	}
	if err != nil {
		h.logger.Error("Failed to open job output", zap.String("job_id", job.ID), zap.Error(err))
		middleware.WriteError(w, http.StatusInternalServerError, "failed to read output", "internal")
		return
	}
	defer rc.Close()

	ext := filepath.Ext(job.OutputPath)
	if ct := mime.TypeByExtension(ext); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.ID+ext))
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("Download interrupted", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// ownedJob loads the job named in the URL. Jobs of other users are reported
// as missing.
func (h *JobHandler) ownedJob(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	job, err := h.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, jobs.ErrJobNotFound) || (err == nil && job.UserID != middleware.UserID(r.Context())) {
		middleware.WriteError(w, http.StatusNotFound, "job not found", "not_found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("Failed to load job", zap.Error(err))
		middleware.WriteError(w, http.StatusInternalServerError, "failed to load job", "internal")
		return nil, false
	}
	return job, true
}

package handlers

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/nextconvert/shorts/internal/api/middleware"
	"github.com/nextconvert/shorts/internal/modules/compose"
	"github.com/nextconvert/shorts/internal/shared/metrics"
	"github.com/nextconvert/shorts/internal/shared/storage"
	"go.uber.org/zap"
)

// SettingsField is the form field carrying the JSON settings payload.
const SettingsField = "settings"

// Composer runs compositions. compose.Composer implements it.
type Composer interface {
	DecodeSettings(raw string) compose.Settings
	Run(ctx context.Context, operation string, req compose.Request) (*compose.Result, error)
}

// Workspaces hands out per-request staging directories.
type Workspaces interface {
	NewWorkspace() (*storage.Workspace, error)
}

// ComposeHandler renders compositions synchronously and returns the media.
type ComposeHandler struct {
	composer   Composer
	workspaces Workspaces
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewComposeHandler creates a new compose handler. m may be nil.
func NewComposeHandler(composer Composer, workspaces Workspaces, m *metrics.Metrics, logger *zap.Logger) *ComposeHandler {
	return &ComposeHandler{
		composer:   composer,
		workspaces: workspaces,
		metrics:    m,
		logger:     logger,
	}
}

// Handle returns the endpoint for one operation. The multipart form must
// already be parsed by middleware.ValidateUploads.
func (h *ComposeHandler) Handle(operation string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.MultipartForm == nil {
			middleware.WriteError(w, http.StatusBadRequest, "expected a multipart/form-data body", "validation")
			return
		}

		ws, err := h.workspaces.NewWorkspace()
		if err != nil {
			h.logger.Error("Failed to create workspace", zap.Error(err))
			middleware.WriteError(w, http.StatusInternalServerError, "internal error", "internal")
			return
		}
		defer ws.Close()

		if err := h.stage(ws, r.MultipartForm.File); err != nil {
			h.logger.Error("Failed to stage uploads", zap.String("workspace", ws.ID), zap.Error(err))
			middleware.WriteError(w, http.StatusInternalServerError, "failed to stage uploads", "internal")
			return
		}

		start := time.Now()
		result, err := h.composer.Run(r.Context(), operation, compose.Request{
			Files:    ws.Files(),
			Settings: h.composer.DecodeSettings(r.FormValue(SettingsField)),
			WorkDir:  ws.Dir(),
		})
		if err != nil {
			writeCompositionError(w, r, err, h.logger)
			return
		}

		h.logger.Info("Composition rendered",
			zap.String("operation", operation),
			zap.String("workspace", ws.ID),
			zap.Int("bytes", len(result.Data)),
			zap.Duration("elapsed", time.Since(start)),
		)

		w.Header().Set("Content-Type", result.MIMEType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename()))
		w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
		w.WriteHeader(http.StatusOK)
		w.Write(result.Data)
	}
}

// stage copies uploads into ws. Fields are staged in name order and files in
// upload order so clip order follows the form.
func (h *ComposeHandler) stage(ws *storage.Workspace, files map[string][]*multipart.FileHeader) error {
	fields := make([]string, 0, len(files))
	for field := range files {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		for _, fh := range files[field] {
			if err := h.stageOne(ws, field, fh); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *ComposeHandler) stageOne(ws *storage.Workspace, field string, fh *multipart.FileHeader) error {
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	_, n, err := ws.Stage(field, fh.Filename, f)
	if err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.RecordStagedFile(field, n)
	}
	return nil
}

package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nextconvert/shorts/internal/modules/compose"
	"github.com/nextconvert/shorts/internal/shared/storage"
	"go.uber.org/zap"
)

// progressStep is the minimum change in percent worth persisting.
const progressStep = 5

// Composer runs compositions. compose.Composer implements it.
type Composer interface {
	DecodeSettings(raw string) compose.Settings
	Run(ctx context.Context, operation string, req compose.Request) (*compose.Result, error)
}

// HandlerConfig contains dependencies for the job handler
type HandlerConfig struct {
	Module   *Module
	Storage  *storage.Service
	Composer Composer
	Logger   *zap.Logger
}

// Handler handles job task execution
type Handler struct {
	module   *Module
	storage  *storage.Service
	composer Composer
	logger   *zap.Logger
}

// NewHandler creates a new job handler
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		module:   cfg.Module,
		storage:  cfg.Storage,
		composer: cfg.Composer,
		logger:   cfg.Logger,
	}
}

// Register binds the task handlers to mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeCompositionRender, h.HandleComposition)
	mux.HandleFunc(TypeCleanupFiles, h.HandleCleanupFiles)
}

// HandleComposition stages a job's inputs into a fresh workspace, renders it
// and stores the output.
func (h *Handler) HandleComposition(ctx context.Context, task *asynq.Task) error {
	var payload CompositionPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	job, err := h.module.GetJob(ctx, payload.JobID)
	if errors.Is(err, ErrJobNotFound) {
		return fmt.Errorf("job %s: %w", payload.JobID, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	if job.Status == StatusCompleted {
		h.logger.Info("Skipping completed job", zap.String("job_id", job.ID))
		return nil
	}

	start := time.Now()
	if err := h.module.Start(ctx, job); err != nil {
		return err
	}
	h.logger.Info("Processing composition job",
		zap.String("job_id", job.ID),
		zap.String("operation", job.Operation),
	)

	outputPath, err := h.compose(ctx, job)
	if err != nil {
		retryable := isRetryable(ctx, err)
		h.logger.Error("Composition job failed",
			zap.String("job_id", job.ID),
			zap.Bool("retryable", retryable),
			zap.Error(err),
		)
		if ferr := h.module.FailJob(context.WithoutCancel(ctx), job, err, retryable, time.Since(start)); ferr != nil {
			h.logger.Error("Failed to record job failure", zap.String("job_id", job.ID), zap.Error(ferr))
		}
		if !retryable {
			h.releaseInputs(context.WithoutCancel(ctx), job)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if err := h.module.CompleteJob(ctx, job, outputPath, time.Since(start)); err != nil {
		return err
	}
	h.releaseInputs(ctx, job)
	h.logger.Info("Composition job completed",
		zap.String("job_id", job.ID),
		zap.String("output", outputPath),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (h *Handler) compose(ctx context.Context, job *Job) (string, error) {
	ws, err := h.storage.NewWorkspace()
	if err != nil {
		return "", err
	}
	defer ws.Close()

	fields := make([]string, 0, len(job.Inputs))
	for field := range job.Inputs {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		for _, path := range job.Inputs[field] {
			if _, err := h.storage.Fetch(ctx, ws, field, path); err != nil {
				return "", err
			}
		}
	}

	last := 0
	result, err := h.composer.Run(ctx, job.Operation, compose.Request{
		Files:    ws.Files(),
		Settings: h.composer.DecodeSettings(job.Settings),
		WorkDir:  ws.Dir(),
		OnProgress: func(percent int) {
			if percent-last < progressStep {
				return
			}
			last = percent
			if err := h.module.UpdateProgress(ctx, job, percent); err != nil {
				h.logger.Warn("Failed to update job progress", zap.String("job_id", job.ID), zap.Error(err))
			}
		},
	})
	if err != nil {
		return "", err
	}

	info, err := h.storage.Store(ctx, storage.ZoneOutput, result.Filename(), bytes.NewReader(result.Data))
	if err != nil {
		return "", err
	}
	return info.Key, nil
}

// releaseInputs deletes a terminal job's uploads.
func (h *Handler) releaseInputs(ctx context.Context, job *Job) {
	for _, paths := range job.Inputs {
		for _, path := range paths {
			if err := h.storage.Delete(ctx, path); err != nil {
				h.logger.Warn("Failed to delete job input", zap.String("job_id", job.ID), zap.String("path", path), zap.Error(err))
			}
		}
	}
}

// HandleCleanupFiles deletes expired files from a storage zone.
func (h *Handler) HandleCleanupFiles(ctx context.Context, task *asynq.Task) error {
	var payload CleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	zone := storage.Zone(payload.Zone)
	before := time.Now().Add(-storage.Retention(zone))
	removed, err := h.storage.Sweep(ctx, zone, before)
	if err != nil {
		h.logger.Error("Cleanup failed", zap.String("zone", payload.Zone), zap.Error(err))
		return err
	}

	h.logger.Info("Cleaned up files",
		zap.String("zone", payload.Zone),
		zap.Time("older_than", before),
		zap.Int("removed", removed),
	)
	return nil
}

// isRetryable reports whether another attempt could succeed. Bad input never
// improves, and the last attempt is final.
func isRetryable(ctx context.Context, err error) bool {
	var verr *compose.ValidationError
	var aerr *compose.GraphAssemblyError
	if errors.As(err, &verr) || errors.As(err, &aerr) {
		return false
	}
	retried, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if ok1 && ok2 && retried >= maxRetry {
		return false
	}
	return true
}

func errorCode(err error) string {
	var verr *compose.ValidationError
	var aerr *compose.GraphAssemblyError
	var rerr *compose.RenderError
	switch {
	case errors.As(err, &verr):
		return "VALIDATION_ERROR"
	case errors.As(err, &aerr):
		return "ASSEMBLY_ERROR"
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	case errors.As(err, &rerr):
		return "RENDER_ERROR"
	case errors.Is(err, storage.ErrNotFound):
		return "INPUT_MISSING"
	default:
		return "PROCESSING_ERROR"
	}
}

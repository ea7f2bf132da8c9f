package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/nextconvert/shorts/internal/modules/compose"
	"github.com/nextconvert/shorts/internal/shared/metrics"
	"go.uber.org/zap"
)

const listLimit = 50

// Enqueuer schedules a job for rendering. QueueClient implements it.
type Enqueuer interface {
	EnqueueComposition(ctx context.Context, jobID string) error
}

// CreateJobParams contains parameters for creating a job
type CreateJobParams struct {
	UserID    string
	Operation string
	Settings  string
	// Inputs maps upload fields to storage keys.
	Inputs map[string][]string
}

// Module handles job management
type Module struct {
	repo      Repository
	queue     Enqueuer
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewModule creates a new jobs module. publisher and m may be nil.
func NewModule(repo Repository, queue Enqueuer, publisher Publisher, m *metrics.Metrics, logger *zap.Logger) *Module {
	return &Module{
		repo:      repo,
		queue:     queue,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// CreateJob records a composition and queues it.
func (m *Module) CreateJob(ctx context.Context, params CreateJobParams) (*Job, error) {
	if !slices.Contains(compose.Operations, params.Operation) {
		return nil, &compose.ValidationError{Field: "operation", Reason: fmt.Sprintf("unknown operation %q", params.Operation)}
	}
	if len(params.Inputs) == 0 {
		return nil, &compose.ValidationError{Field: "files", Reason: "no files uploaded"}
	}

	job := &Job{
		ID:        uuid.New().String(),
		UserID:    params.UserID,
		Operation: params.Operation,
		Status:    StatusQueued,
		Settings:  params.Settings,
		Inputs:    params.Inputs,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.repo.Insert(ctx, job); err != nil {
		return nil, err
	}

	if err := m.queue.EnqueueComposition(ctx, job.ID); err != nil {
		jobErr := JobError{Code: "ENQUEUE_FAILED", Message: err.Error(), Retryable: true}
		if ferr := m.repo.Fail(ctx, job.ID, jobErr); ferr != nil {
			m.logger.Error("Failed to mark unqueued job", zap.String("job_id", job.ID), zap.Error(ferr))
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	if m.metrics != nil {
		m.metrics.RecordJobCreated(job.Operation)
	}
	m.logger.Info("Job created and queued",
		zap.String("job_id", job.ID),
		zap.String("operation", job.Operation),
		zap.Int("input_fields", len(job.Inputs)),
	)
	return job, nil
}

// GetJob retrieves a job by ID
func (m *Module) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return m.repo.Get(ctx, jobID)
}

// ListJobs returns the most recent jobs for a user, or for everyone when
// userID is empty.
func (m *Module) ListJobs(ctx context.Context, userID string) ([]*Job, error) {
	return m.repo.List(ctx, userID, listLimit)
}

// Start marks a job as processing.
func (m *Module) Start(ctx context.Context, job *Job) error {
	if err := m.repo.MarkProcessing(ctx, job.ID); err != nil {
		return err
	}
	job.Status = StatusProcessing
	job.Progress = 0
	if m.metrics != nil {
		m.metrics.RecordJobStarted()
	}
	m.publish(ctx, Event{Type: EventProgress, JobID: job.ID, Status: StatusProcessing})
	return nil
}

// UpdateProgress stores and broadcasts render progress.
func (m *Module) UpdateProgress(ctx context.Context, job *Job, percent int) error {
	if err := m.repo.UpdateProgress(ctx, job.ID, percent); err != nil {
		return err
	}
	job.Progress = percent
	m.publish(ctx, Event{Type: EventProgress, JobID: job.ID, Status: StatusProcessing, Percent: percent})
	return nil
}

// CompleteJob marks a job as completed
func (m *Module) CompleteJob(ctx context.Context, job *Job, outputPath string, elapsed time.Duration) error {
	if err := m.repo.Complete(ctx, job.ID, outputPath); err != nil {
		m.logger.Error("Failed to complete job", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	job.Status = StatusCompleted
	job.Progress = 100
	job.OutputPath = outputPath

	if m.metrics != nil {
		m.metrics.RecordJobCompleted(job.Operation, StatusCompleted, elapsed)
	}
	m.publish(ctx, Event{Type: EventCompleted, JobID: job.ID, Status: StatusCompleted, Percent: 100})
	return nil
}

// FailJob marks a job as failed
func (m *Module) FailJob(ctx context.Context, job *Job, cause error, retryable bool, elapsed time.Duration) error {
	jobErr := JobError{Code: errorCode(cause), Message: cause.Error(), Retryable: retryable}
	if err := m.repo.Fail(ctx, job.ID, jobErr); err != nil {
		return err
	}
	job.Status = StatusFailed
	job.Error = &jobErr

	if m.metrics != nil {
		m.metrics.RecordJobCompleted(job.Operation, StatusFailed, elapsed)
	}
	m.publish(ctx, Event{Type: EventFailed, JobID: job.ID, Status: StatusFailed, Percent: job.Progress, Error: jobErr.Message})
	return nil
}

func (m *Module) publish(ctx context.Context, ev Event) {
	if m.publisher == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := m.publisher.Publish(ctx, ProgressChannel, data); err != nil {
		m.logger.Warn("Failed to publish job event", zap.String("job_id", ev.JobID), zap.Error(err))
	}
}

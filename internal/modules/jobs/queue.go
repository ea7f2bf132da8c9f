package jobs

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nextconvert/shorts/internal/shared/storage"
	"go.uber.org/zap"
)

// Task types
const (
	TypeCompositionRender = "composition:render"
	TypeCleanupFiles      = "files:cleanup"
)

// Composition task options.
const (
	compositionMaxRetry = 3
	compositionTimeout  = 2 * time.Hour
)

// CompositionPayload identifies the job to render. Everything else is read
// from the jobs table so retries see current state.
type CompositionPayload struct {
	JobID string `json:"jobId"`
}

// CleanupPayload names the zone to sweep. The cutoff is computed when the
// task runs.
type CleanupPayload struct {
	Zone string `json:"zone"`
}

// QueueClient handles job queue operations
type QueueClient struct {
	client *asynq.Client
	logger *zap.Logger
}

// RedisConnOpt accepts either a bare host:port or a redis:// URL.
func RedisConnOpt(addr string) (asynq.RedisConnOpt, error) {
	if strings.Contains(addr, "://") {
		return asynq.ParseRedisURI(addr)
	}
	return asynq.RedisClientOpt{Addr: addr}, nil
}

// NewQueueClient creates a new queue client
func NewQueueClient(redis asynq.RedisConnOpt, logger *zap.Logger) *QueueClient {
	return &QueueClient{
		client: asynq.NewClient(redis),
		logger: logger,
	}
}

// Close closes the queue client
func (q *QueueClient) Close() error {
	return q.client.Close()
}

// EnqueueComposition queues a render task. The job ID doubles as the task ID
// so a job is never queued twice.
func (q *QueueClient) EnqueueComposition(ctx context.Context, jobID string) error {
	data, err := json.Marshal(CompositionPayload{JobID: jobID})
	if err != nil {
		return err
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(TypeCompositionRender, data),
		asynq.TaskID(jobID),
		asynq.MaxRetry(compositionMaxRetry),
		asynq.Timeout(compositionTimeout),
		asynq.Queue("default"),
	)
	if err != nil {
		q.logger.Error("Failed to enqueue composition task", zap.String("job_id", jobID), zap.Error(err))
		return err
	}

	q.logger.Info("Composition task enqueued",
		zap.String("task_id", info.ID),
		zap.String("job_id", jobID),
	)
	return nil
}

// NewCleanupScheduler registers periodic sweeps of every storage zone.
func NewCleanupScheduler(redis asynq.RedisConnOpt, logger *zap.Logger) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(redis, nil)

	specs := map[storage.Zone]string{
		storage.ZoneUpload:  "@hourly",
		storage.ZoneWorking: "@every 30m",
		storage.ZoneOutput:  "@daily",
	}
	for _, zone := range storage.Zones {
		payload, err := json.Marshal(CleanupPayload{Zone: string(zone)})
		if err != nil {
			return nil, err
		}
		entryID, err := scheduler.Register(specs[zone], asynq.NewTask(TypeCleanupFiles, payload),
			asynq.MaxRetry(1),
			asynq.Queue("low"),
		)
		if err != nil {
			return nil, err
		}
		logger.Debug("Cleanup scheduled", zap.String("zone", string(zone)), zap.String("entry_id", entryID))
	}
	return scheduler, nil
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/kinesia/kinesia/internal/jobs"
)

// TaskQueuePurge removes finished appointments past the retention window.
const TaskQueuePurge = "queue:purge"

// QueuePurgePayload carries the retention window.
type QueuePurgePayload struct {
	Retention time.Duration `json:"retention"`
}

// NewQueuePurgeTask constructs the nightly purge task.
func NewQueuePurgeTask(retention time.Duration) (*asynq.Task, error) {
	if retention <= 0 {
		return nil, errors.New("jobs: purge retention must be positive")
	}
	body, err := json.Marshal(QueuePurgePayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQueuePurge, body, asynq.Queue(QueueDefault)), nil
}

// Purger deletes finished appointments scheduled before a cutoff.
type Purger interface {
	PurgeFinished(ctx context.Context, before time.Time) (int64, error)
}

// QueuePurgeJob handles TaskQueuePurge.
type QueuePurgeJob struct {
	Purger  Purger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewQueuePurgeJob initialises the purge handler.
func NewQueuePurgeJob(purger Purger, logger *slog.Logger, metrics *jobmetrics.Metrics) *QueuePurgeJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueuePurgeJob{
		Purger:  purger,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the purge.
func (j *QueuePurgeJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Purger == nil {
		return errors.New("queue purge: handler not configured")
	}
	var payload QueuePurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Retention <= 0 {
		return fmt.Errorf("queue purge: bad payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskQueuePurge)
	defer func() { err = tracker.End(err) }()

	cutoff := j.clock().Add(-payload.Retention)
	removed, err := j.Purger.PurgeFinished(ctx, cutoff)
	if err != nil {
		j.Logger.Error("queue purge failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddPurged(removed)
	j.Logger.Info("queue purge completed", slog.Int64("removed", removed), slog.Time("cutoff", cutoff))
	return nil
}

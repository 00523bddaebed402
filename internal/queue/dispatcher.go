package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailflow/pkg/metrics"
)

// Publisher hands a due job to the broker for worker delivery.
type Publisher interface {
	PublishSendJob(env *Envelope) error
}

// Dispatcher moves due jobs from the delayed set to the broker. Each job is
// published before its member is removed, so a crash mid-dispatch re-delivers
// on the next poll rather than dropping the job. Several dispatchers may run;
// the worker's store-level claim keeps processing single-winner.
type Dispatcher struct {
	queue        *Queue
	publisher    Publisher
	logger       *zap.Logger
	pollInterval time.Duration
	batchSize    int64
}

func NewDispatcher(queue *Queue, publisher Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:        queue,
		publisher:    publisher,
		logger:       logger,
		pollInterval: time.Second,
		batchSize:    100,
	}
}

// Run polls until ctx is cancelled. It blocks; call it in a goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.logger.Info("Queue dispatcher started",
		zap.Duration("poll_interval", d.pollInterval),
		zap.Int64("batch_size", d.batchSize),
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Queue dispatcher stopped")
			return
		case <-ticker.C:
			d.dispatchDue(ctx)
		}
	}
}

func (d *Dispatcher) dispatchDue(ctx context.Context) {
	now := time.Now()

	ids, err := d.queue.Due(ctx, now, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to poll due jobs", zap.Error(err))
		return
	}

	for _, id := range ids {
		env, ok, err := d.queue.Load(ctx, id)
		if err != nil {
			d.logger.Error("Failed to load job", zap.String("job_id", id), zap.Error(err))
			continue
		}
		if !ok {
			// Cancelled between poll and load; drop the orphan member.
			if err := d.queue.MarkDispatched(ctx, id); err != nil {
				d.logger.Error("Failed to prune cancelled job", zap.String("job_id", id), zap.Error(err))
			}
			continue
		}

		if err := d.publisher.PublishSendJob(env); err != nil {
			// The member stays in the delayed set; the next poll retries.
			d.logger.Error("Failed to publish job, will retry",
				zap.String("job_id", env.ID),
				zap.Error(err),
			)
			continue
		}

		if err := d.queue.MarkDispatched(ctx, env.ID); err != nil {
			// Next poll publishes again; the worker absorbs the duplicate.
			d.logger.Error("Failed to mark job dispatched",
				zap.String("job_id", env.ID),
				zap.Error(err),
			)
		}

		metrics.RecordDispatchLag(now.Sub(env.DueAt))
		d.logger.Debug("Job dispatched",
			zap.String("job_id", env.ID),
			zap.String("message_id", env.Job.MessageID),
		)
	}

	if depth, err := d.queue.Depth(ctx); err == nil {
		metrics.DelayedJobs.Set(float64(depth))
	}
}

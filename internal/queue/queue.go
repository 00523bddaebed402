package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	delayedKey       = "queue:email:delayed"
	payloadKeyPrefix = "queue:email:job:"

	// Completed payloads are kept for a day for inspection, then expire.
	completedRetention = 24 * time.Hour
)

var (
	ErrDuplicateJob     = errors.New("queue: duplicate job id")
	ErrRetriesExhausted = errors.New("queue: retries exhausted")
)

// Queue is a durable delayed job queue on Redis: a sorted set orders jobs by
// due time (priority breaks ties) and a per-job payload key gives idempotent
// enqueue through its deterministic id. Delivery to workers happens over the
// broker; see Dispatcher.
type Queue struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func New(rdb *redis.Client, logger *zap.Logger) *Queue {
	return &Queue{rdb: rdb, logger: logger}
}

func payloadKey(jobID string) string {
	return payloadKeyPrefix + jobID
}

// Enqueue schedules one job. Returns ErrDuplicateJob when a job with the same
// deterministic id already exists.
func (q *Queue) Enqueue(ctx context.Context, job SendJob, opts Options) (string, error) {
	env := buildEnvelope(job, opts, time.Now())

	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	ok, err := q.rdb.SetNX(ctx, payloadKey(env.ID), body, 0).Result()
	if err != nil {
		return "", fmt.Errorf("failed to store job payload: %w", err)
	}
	if !ok {
		return env.ID, ErrDuplicateJob
	}

	err = q.rdb.ZAdd(ctx, delayedKey, redis.Z{
		Score:  score(env.DueAt, env.Priority),
		Member: env.ID,
	}).Err()
	if err != nil {
		// A payload without a delayed-set member would reject every
		// re-enqueue of this id as a duplicate. Roll it back so the
		// caller's retry starts clean.
		if delErr := q.rdb.Del(ctx, payloadKey(env.ID)).Err(); delErr != nil {
			q.logger.Error("Failed to roll back job payload",
				zap.String("job_id", env.ID),
				zap.Error(delErr),
			)
		}
		return "", fmt.Errorf("failed to add job to delayed set: %w", err)
	}

	return env.ID, nil
}

// BulkItem pairs a job with its per-job options for EnqueueBulk.
type BulkItem struct {
	Job  SendJob
	Opts Options
}

// EnqueueBulk schedules many jobs in one pipeline. Duplicates are skipped
// silently; the returned slice holds the job id for every input item.
func (q *Queue) EnqueueBulk(ctx context.Context, items []BulkItem) ([]string, error) {
	now := time.Now()
	envs := make([]*Envelope, len(items))
	jobIDs := make([]string, len(items))

	pipe := q.rdb.Pipeline()
	setCmds := make([]*redis.BoolCmd, len(items))
	for i, item := range items {
		env := buildEnvelope(item.Job, item.Opts, now)
		envs[i] = env
		jobIDs[i] = env.ID

		body, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal job %s: %w", env.ID, err)
		}
		setCmds[i] = pipe.SetNX(ctx, payloadKey(env.ID), body, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to store job payloads: %w", err)
	}

	pipe = q.rdb.Pipeline()
	for i, cmd := range setCmds {
		if !cmd.Val() {
			q.logger.Warn("Duplicate job skipped", zap.String("job_id", jobIDs[i]))
			continue
		}
		env := envs[i]
		pipe.ZAdd(ctx, delayedKey, redis.Z{
			Score:  score(env.DueAt, env.Priority),
			Member: env.ID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		// Roll back the payloads written above so a retry of the whole
		// batch is not rejected as duplicates. Members that did land in
		// the delayed set are removed too; the caller fails the batch.
		rollback := q.rdb.Pipeline()
		for i, cmd := range setCmds {
			if cmd.Val() {
				rollback.Del(ctx, payloadKey(jobIDs[i]))
				rollback.ZRem(ctx, delayedKey, jobIDs[i])
			}
		}
		if _, rbErr := rollback.Exec(ctx); rbErr != nil {
			q.logger.Error("Failed to roll back bulk enqueue", zap.Error(rbErr))
		}
		return nil, fmt.Errorf("failed to add jobs to delayed set: %w", err)
	}

	return jobIDs, nil
}

// Due returns ids of jobs whose due time has passed, ordered by
// (due time, priority).
func (q *Queue) Due(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	return q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(score(now, 999), 'f', 0, 64),
		Count: limit,
	}).Result()
}

// Load reads a job's payload without touching the delayed set. The member
// stays visible to pollers until MarkDispatched, so a crash between load and
// publish re-delivers instead of losing the job.
func (q *Queue) Load(ctx context.Context, jobID string) (*Envelope, bool, error) {
	body, err := q.rdb.Get(ctx, payloadKey(jobID)).Bytes()
	if err == redis.Nil {
		// Payload removed by cancellation between poll and load.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false, fmt.Errorf("failed to decode job %s: %w", jobID, err)
	}
	return &env, true, nil
}

// MarkDispatched removes a published job from the delayed set. Broker
// delivery is at least once: a job published but not yet marked is published
// again on the next poll, and the worker's store-level claim absorbs the
// duplicate.
func (q *Queue) MarkDispatched(ctx context.Context, jobID string) error {
	return q.rdb.ZRem(ctx, delayedKey, jobID).Err()
}

// Retry re-delays a delivered job after a retryable failure, with exponential
// backoff. Returns ErrRetriesExhausted once the attempts budget is spent.
func (q *Queue) Retry(ctx context.Context, env *Envelope) (time.Duration, error) {
	env.RetriesDone++
	if env.RetriesDone >= env.Attempts {
		return 0, ErrRetriesExhausted
	}

	delay := env.Backoff.Delay(env.RetriesDone)
	env.DueAt = time.Now().Add(delay)

	body, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal job %s: %w", env.ID, err)
	}
	if err := q.rdb.Set(ctx, payloadKey(env.ID), body, 0).Err(); err != nil {
		return 0, fmt.Errorf("failed to update job %s: %w", env.ID, err)
	}
	if err := q.rdb.ZAdd(ctx, delayedKey, redis.Z{
		Score:  score(env.DueAt, env.Priority),
		Member: env.ID,
	}).Err(); err != nil {
		return 0, fmt.Errorf("failed to re-delay job %s: %w", env.ID, err)
	}

	return delay, nil
}

// Complete marks a delivered job done; its payload expires after the
// retention window.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	return q.rdb.Expire(ctx, payloadKey(jobID), completedRetention).Err()
}

// Remove drops a pending job entirely. Used on cancellation cleanup.
func (q *Queue) Remove(ctx context.Context, jobID string) error {
	pipe := q.rdb.Pipeline()
	pipe.ZRem(ctx, delayedKey, jobID)
	pipe.Del(ctx, payloadKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// Depth reports how many jobs sit in the delayed set.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, delayedKey).Result()
}

func buildEnvelope(job SendJob, opts Options, now time.Time) *Envelope {
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Backoff.InitialDelay <= 0 {
		opts.Backoff.InitialDelay = 5 * time.Second
	}
	return &Envelope{
		ID:       JobID(job.MessageID, job.Attempt),
		Job:      job,
		DueAt:    now.Add(opts.Delay),
		Priority: opts.Priority,
		Attempts: opts.Attempts,
		Backoff:  opts.Backoff,
	}
}

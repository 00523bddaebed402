package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"mailflow/config"
	"mailflow/internal/model"
	"mailflow/internal/planner"
	"mailflow/internal/queue"
)

// ScheduleRequest is one validated batch submission.
type ScheduleRequest struct {
	Recipients   []string
	Subject      string
	Body         string
	StartTime    time.Time
	DelaySeconds int
	HourlyLimit  int
	SenderID     string
}

// ScheduleResult is what a successful submission returns.
type ScheduleResult struct {
	Batch    *model.Batch     `json:"batch"`
	Messages []*model.Message `json:"messages"`
}

type scheduleMessageStore interface {
	CreateBatch(ctx context.Context, messages []*model.Message) error
	SetJobID(ctx context.Context, id, jobID string) error
	FailBatch(ctx context.Context, batchID, reason string) error
}

type scheduleBatchStore interface {
	Create(ctx context.Context, b *model.Batch) error
}

type scheduleSenderStore interface {
	FindByID(ctx context.Context, id string) (*model.Sender, error)
	FindDefaultActive(ctx context.Context, userID string) (*model.Sender, error)
	FindAnyActive(ctx context.Context, userID string) (*model.Sender, error)
}

type bulkEnqueuer interface {
	EnqueueBulk(ctx context.Context, items []queue.BulkItem) ([]string, error)
}

// ScheduleService is the coordinator: it resolves the sender, plans the send
// times, persists the batch, and enqueues one job per message.
type ScheduleService struct {
	messages scheduleMessageStore
	batches  scheduleBatchStore
	senders  scheduleSenderStore
	queue    bulkEnqueuer

	maxRetries        int
	initialRetryDelay time.Duration
	loc               *time.Location
	logger            *zap.Logger
	now               func() time.Time
}

func NewScheduleService(
	messages scheduleMessageStore,
	batches scheduleBatchStore,
	senders scheduleSenderStore,
	q bulkEnqueuer,
	cfg config.WorkerConfig,
	sched config.SchedulerConfig,
	logger *zap.Logger,
) *ScheduleService {
	loc := time.UTC
	if sched.Timezone == "Local" {
		loc = time.Local
	}
	return &ScheduleService{
		messages:          messages,
		batches:           batches,
		senders:           senders,
		queue:             q,
		maxRetries:        cfg.MaxRetries,
		initialRetryDelay: time.Duration(cfg.InitialRetryDelayMs) * time.Millisecond,
		loc:               loc,
		logger:            logger,
		now:               time.Now,
	}
}

// ScheduleBatch plans and persists a batch, then enqueues its jobs. The rows
// are committed before enqueueing; if enqueueing fails the whole batch is
// marked FAILED rather than left half-queued.
func (s *ScheduleService) ScheduleBatch(ctx context.Context, userID string, req ScheduleRequest) (*ScheduleResult, error) {
	sender, err := s.resolveSender(ctx, userID, req.SenderID)
	if err != nil {
		return nil, err
	}

	start := req.StartTime
	if start.IsZero() || start.Before(s.now()) {
		start = s.now()
	}

	times := planner.Plan(len(req.Recipients), start,
		time.Duration(req.DelaySeconds)*time.Second, req.HourlyLimit, s.loc)

	batch := &model.Batch{
		ID:              uuid.NewString(),
		UserID:          userID,
		TotalEmails:     len(req.Recipients),
		ScheduledEmails: len(req.Recipients),
		StartTime:       start,
		DelaySeconds:    req.DelaySeconds,
		HourlyLimit:     req.HourlyLimit,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	messages := make([]*model.Message, len(req.Recipients))
	for i, recipient := range req.Recipients {
		messages[i] = &model.Message{
			ID:          uuid.NewString(),
			UserID:      userID,
			SenderID:    &sender.ID,
			Recipient:   recipient,
			Subject:     req.Subject,
			Body:        req.Body,
			ScheduledAt: times[i],
			Status:      model.StatusScheduled,
			MaxRetries:  s.maxRetries,
			BatchID:     batch.ID,
			BatchIndex:  i,
		}
	}
	if err := s.messages.CreateBatch(ctx, messages); err != nil {
		return nil, fmt.Errorf("failed to create messages: %w", err)
	}

	items := make([]queue.BulkItem, len(messages))
	for i, m := range messages {
		items[i] = queue.BulkItem{
			Job: queue.SendJob{
				MessageID: m.ID,
				Recipient: m.Recipient,
				Subject:   m.Subject,
				Body:      m.Body,
				SenderID:  m.SenderID,
				UserID:    userID,
				BatchID:   batch.ID,
				Attempt:   1,
			},
			Opts: queue.Options{
				Delay:    times[i].Sub(s.now()),
				Priority: i,
				Attempts: s.maxRetries,
				Backoff:  queue.Backoff{InitialDelay: s.initialRetryDelay},
			},
		}
	}

	jobIDs, err := s.queue.EnqueueBulk(ctx, items)
	if err != nil {
		s.logger.Error("Failed to enqueue batch, failing its messages",
			zap.String("batch_id", batch.ID),
			zap.Error(err),
		)
		if failErr := s.messages.FailBatch(ctx, batch.ID, "failed to enqueue send jobs"); failErr != nil {
			s.logger.Error("Failed to fail batch after enqueue error",
				zap.String("batch_id", batch.ID),
				zap.Error(failErr),
			)
		}
		return nil, fmt.Errorf("failed to enqueue batch: %w", err)
	}

	// Job id linkage is best effort; the worker re-links on claim anyway.
	for i, m := range messages {
		if err := s.messages.SetJobID(ctx, m.ID, jobIDs[i]); err != nil {
			s.logger.Warn("Failed to link job id",
				zap.String("message_id", m.ID),
				zap.Error(err),
			)
			continue
		}
		jobID := jobIDs[i]
		m.JobID = &jobID
	}

	s.logger.Info("Batch scheduled",
		zap.String("batch_id", batch.ID),
		zap.String("user_id", userID),
		zap.Int("total", batch.TotalEmails),
		zap.Time("start_time", start),
	)
	return &ScheduleResult{Batch: batch, Messages: messages}, nil
}

// resolveSender picks the sending identity: the requested one (which must be
// owned, present, and active) or the user's default, falling back to any
// active sender.
func (s *ScheduleService) resolveSender(ctx context.Context, userID, senderID string) (*model.Sender, error) {
	if senderID != "" {
		sender, err := s.senders.FindByID(ctx, senderID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidSender
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load sender: %w", err)
		}
		if sender.UserID != userID || !sender.IsActive {
			return nil, ErrInvalidSender
		}
		return sender, nil
	}

	sender, err := s.senders.FindDefaultActive(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		sender, err = s.senders.FindAnyActive(ctx, userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSender
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sender: %w", err)
	}
	return sender, nil
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"mailflow/internal/model"
	"mailflow/internal/repository"
)

type emailMessageStore interface {
	FindByIDForUser(ctx context.Context, id, userID string) (*model.Message, error)
	List(ctx context.Context, userID string, opts repository.ListOptions) ([]*model.Message, int, error)
	CountByStatus(ctx context.Context, userID string) (map[string]int, error)
	Delete(ctx context.Context, id, userID string) (bool, error)
}

type emailBatchStore interface {
	FindByID(ctx context.Context, id string) (*model.Batch, error)
}

type jobRemover interface {
	Remove(ctx context.Context, jobID string) error
}

// Stats summarises a user's messages by status.
type Stats struct {
	Total       int `json:"total"`
	Scheduled   int `json:"scheduled"`
	Processing  int `json:"processing"`
	Sent        int `json:"sent"`
	Failed      int `json:"failed"`
	RateLimited int `json:"rateLimited"`
}

// EmailService covers the read and cancel side of scheduled mail.
type EmailService struct {
	messages emailMessageStore
	batches  emailBatchStore
	queue    jobRemover
	logger   *zap.Logger
}

func NewEmailService(messages emailMessageStore, batches emailBatchStore, q jobRemover, logger *zap.Logger) *EmailService {
	return &EmailService{messages: messages, batches: batches, queue: q, logger: logger}
}

func (s *EmailService) List(ctx context.Context, userID string, opts repository.ListOptions) ([]*model.Message, int, error) {
	return s.messages.List(ctx, userID, opts)
}

func (s *EmailService) Get(ctx context.Context, userID, id string) (*model.Message, error) {
	m, err := s.messages.FindByIDForUser(ctx, id, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	return m, nil
}

func (s *EmailService) Stats(ctx context.Context, userID string) (*Stats, error) {
	counts, err := s.messages.CountByStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	stats := &Stats{
		Scheduled:   counts[model.StatusScheduled],
		Processing:  counts[model.StatusProcessing],
		Sent:        counts[model.StatusSent],
		Failed:      counts[model.StatusFailed],
		RateLimited: counts[model.StatusRateLimited],
	}
	stats.Total = stats.Scheduled + stats.Processing + stats.Sent + stats.Failed + stats.RateLimited
	return stats, nil
}

func (s *EmailService) GetBatch(ctx context.Context, userID, id string) (*model.Batch, error) {
	b, err := s.batches.FindByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}
	if b.UserID != userID {
		return nil, ErrBatchNotFound
	}
	return b, nil
}

// Cancel hard-deletes a pending message and removes its queued job. Messages
// already picked up, sent, or failed cannot be cancelled.
func (s *EmailService) Cancel(ctx context.Context, userID, id string) error {
	m, err := s.messages.FindByIDForUser(ctx, id, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load message: %w", err)
	}
	if m.Status != model.StatusScheduled && m.Status != model.StatusRateLimited {
		return ErrNotCancellable
	}

	deleted, err := s.messages.Delete(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if !deleted {
		// Lost the race with the dispatcher.
		return ErrNotCancellable
	}

	if m.JobID != nil {
		if err := s.queue.Remove(ctx, *m.JobID); err != nil {
			// The worker drops the job anyway once the row is gone.
			s.logger.Warn("Failed to remove queued job for cancelled message",
				zap.String("message_id", id),
				zap.String("job_id", *m.JobID),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("Message cancelled", zap.String("message_id", id), zap.String("user_id", userID))
	return nil
}

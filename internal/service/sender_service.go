package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"mailflow/internal/model"
)

// SenderInput carries the writable fields of a sender.
type SenderInput struct {
	Email        string
	Name         string
	SMTPHost     *string
	SMTPPort     *int
	SMTPUser     *string
	SMTPPassword *string
	IsDefault    bool
	IsActive     bool
}

type senderStore interface {
	Create(ctx context.Context, s *model.Sender) error
	Update(ctx context.Context, s *model.Sender) error
	FindByID(ctx context.Context, id string) (*model.Sender, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Sender, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, id, userID string) (bool, error)
}

type senderUsageChecker interface {
	HasMessagesForSender(ctx context.Context, senderID string) (bool, error)
}

// SenderService manages a user's outbound identities.
type SenderService struct {
	senders senderStore
	usage   senderUsageChecker
	logger  *zap.Logger
}

func NewSenderService(senders senderStore, usage senderUsageChecker, logger *zap.Logger) *SenderService {
	return &SenderService{senders: senders, usage: usage, logger: logger}
}

// Create adds a sender. The user's first sender becomes the default
// regardless of the request.
func (s *SenderService) Create(ctx context.Context, userID string, in SenderInput) (*model.Sender, error) {
	count, err := s.senders.CountByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count senders: %w", err)
	}

	sender := &model.Sender{
		ID:           uuid.NewString(),
		UserID:       userID,
		Email:        in.Email,
		Name:         in.Name,
		SMTPHost:     in.SMTPHost,
		SMTPPort:     in.SMTPPort,
		SMTPUser:     in.SMTPUser,
		SMTPPassword: in.SMTPPassword,
		IsDefault:    in.IsDefault || count == 0,
		IsActive:     in.IsActive,
	}
	if err := s.senders.Create(ctx, sender); err != nil {
		return nil, fmt.Errorf("failed to create sender: %w", err)
	}

	s.logger.Info("Sender created",
		zap.String("sender_id", sender.ID),
		zap.String("user_id", userID),
		zap.Bool("is_default", sender.IsDefault),
	)
	return sender, nil
}

func (s *SenderService) Update(ctx context.Context, userID, id string, in SenderInput) (*model.Sender, error) {
	sender, err := s.get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	sender.Email = in.Email
	sender.Name = in.Name
	sender.SMTPHost = in.SMTPHost
	sender.SMTPPort = in.SMTPPort
	sender.SMTPUser = in.SMTPUser
	if in.SMTPPassword != nil {
		sender.SMTPPassword = in.SMTPPassword
	}
	sender.IsDefault = in.IsDefault
	sender.IsActive = in.IsActive

	if err := s.senders.Update(ctx, sender); err != nil {
		return nil, fmt.Errorf("failed to update sender: %w", err)
	}
	return sender, nil
}

func (s *SenderService) List(ctx context.Context, userID string) ([]*model.Sender, error) {
	return s.senders.ListByUser(ctx, userID)
}

func (s *SenderService) Get(ctx context.Context, userID, id string) (*model.Sender, error) {
	return s.get(ctx, userID, id)
}

// Delete removes a sender. The last remaining sender cannot go while messages
// still reference it; deleted senders survive in sent history through the
// nulled foreign key.
func (s *SenderService) Delete(ctx context.Context, userID, id string) error {
	count, err := s.senders.CountByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to count senders: %w", err)
	}
	if count <= 1 {
		referenced, err := s.usage.HasMessagesForSender(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to check sender usage: %w", err)
		}
		if referenced {
			return ErrLastSender
		}
	}

	deleted, err := s.senders.Delete(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete sender: %w", err)
	}
	if !deleted {
		return ErrSenderNotFound
	}

	s.logger.Info("Sender deleted", zap.String("sender_id", id), zap.String("user_id", userID))
	return nil
}

func (s *SenderService) get(ctx context.Context, userID, id string) (*model.Sender, error) {
	sender, err := s.senders.FindByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSenderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sender: %w", err)
	}
	if sender.UserID != userID {
		return nil, ErrSenderNotFound
	}
	return sender, nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailflow/internal/model"
)

type SenderRepository struct {
	db *pgxpool.Pool
}

func NewSenderRepository(db *pgxpool.Pool) *SenderRepository {
	return &SenderRepository{db: db}
}

const senderColumns = `
    id, user_id, email, name, smtp_host, smtp_port, smtp_user, smtp_password,
    is_default, is_active, created_at, updated_at
`

func scanSender(row pgx.Row) (*model.Sender, error) {
	var s model.Sender
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Email,
		&s.Name,
		&s.SMTPHost,
		&s.SMTPPort,
		&s.SMTPUser,
		&s.SMTPPassword,
		&s.IsDefault,
		&s.IsActive,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a sender. When it is flagged default, the previous default of
// the same user is cleared in the same transaction.
func (r *SenderRepository) Create(ctx context.Context, s *model.Sender) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if s.IsDefault {
		if _, err := tx.Exec(ctx,
			`UPDATE senders SET is_default = FALSE, updated_at = NOW() WHERE user_id = $1 AND is_default`,
			s.UserID,
		); err != nil {
			return fmt.Errorf("failed to clear default sender: %w", err)
		}
	}

	query := `
        INSERT INTO senders (
            id, user_id, email, name, smtp_host, smtp_port, smtp_user, smtp_password,
            is_default, is_active, created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
        RETURNING created_at, updated_at
    `
	err = tx.QueryRow(ctx, query,
		s.ID,
		s.UserID,
		s.Email,
		s.Name,
		s.SMTPHost,
		s.SMTPPort,
		s.SMTPUser,
		s.SMTPPassword,
		s.IsDefault,
		s.IsActive,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert sender: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *SenderRepository) Update(ctx context.Context, s *model.Sender) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if s.IsDefault {
		if _, err := tx.Exec(ctx,
			`UPDATE senders SET is_default = FALSE, updated_at = NOW() WHERE user_id = $1 AND is_default AND id <> $2`,
			s.UserID, s.ID,
		); err != nil {
			return fmt.Errorf("failed to clear default sender: %w", err)
		}
	}

	query := `
        UPDATE senders
        SET email = $3, name = $4, smtp_host = $5, smtp_port = $6, smtp_user = $7,
            smtp_password = $8, is_default = $9, is_active = $10, updated_at = NOW()
        WHERE id = $1 AND user_id = $2
    `
	tag, err := tx.Exec(ctx, query,
		s.ID,
		s.UserID,
		s.Email,
		s.Name,
		s.SMTPHost,
		s.SMTPPort,
		s.SMTPUser,
		s.SMTPPassword,
		s.IsDefault,
		s.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to update sender: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	return tx.Commit(ctx)
}

func (r *SenderRepository) FindByID(ctx context.Context, id string) (*model.Sender, error) {
	query := `SELECT ` + senderColumns + ` FROM senders WHERE id = $1`
	return scanSender(r.db.QueryRow(ctx, query, id))
}

func (r *SenderRepository) ListByUser(ctx context.Context, userID string) ([]*model.Sender, error) {
	query := `SELECT ` + senderColumns + ` FROM senders WHERE user_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	senders := []*model.Sender{}
	for rows.Next() {
		s, err := scanSender(rows)
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}

	return senders, rows.Err()
}

// FindDefaultActive returns the user's default active sender, if any.
func (r *SenderRepository) FindDefaultActive(ctx context.Context, userID string) (*model.Sender, error) {
	query := `SELECT ` + senderColumns + ` FROM senders WHERE user_id = $1 AND is_default AND is_active`
	return scanSender(r.db.QueryRow(ctx, query, userID))
}

// FindAnyActive returns the oldest active sender of the user.
func (r *SenderRepository) FindAnyActive(ctx context.Context, userID string) (*model.Sender, error) {
	query := `SELECT ` + senderColumns + ` FROM senders WHERE user_id = $1 AND is_active ORDER BY created_at ASC LIMIT 1`
	return scanSender(r.db.QueryRow(ctx, query, userID))
}

func (r *SenderRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM senders WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// Delete removes a sender. Messages keep their rows; the FK sets sender_id NULL.
func (r *SenderRepository) Delete(ctx context.Context, id, userID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM senders WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailflow/internal/model"
)

type BatchRepository struct {
	db *pgxpool.Pool
}

func NewBatchRepository(db *pgxpool.Pool) *BatchRepository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) Create(ctx context.Context, b *model.Batch) error {
	query := `
        INSERT INTO batches (
            id, user_id, total_emails, scheduled_emails, sent_emails, failed_emails,
            start_time, delay_seconds, hourly_limit, created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, 0, 0, $5, $6, $7, NOW(), NOW())
        RETURNING created_at, updated_at
    `
	return r.db.QueryRow(ctx, query,
		b.ID,
		b.UserID,
		b.TotalEmails,
		b.ScheduledEmails,
		b.StartTime,
		b.DelaySeconds,
		b.HourlyLimit,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *BatchRepository) FindByID(ctx context.Context, id string) (*model.Batch, error) {
	query := `
        SELECT id, user_id, total_emails, scheduled_emails, sent_emails, failed_emails,
               start_time, delay_seconds, hourly_limit, created_at, updated_at
        FROM batches
        WHERE id = $1
    `
	var b model.Batch
	err := r.db.QueryRow(ctx, query, id).Scan(
		&b.ID,
		&b.UserID,
		&b.TotalEmails,
		&b.ScheduledEmails,
		&b.SentEmails,
		&b.FailedEmails,
		&b.StartTime,
		&b.DelaySeconds,
		&b.HourlyLimit,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// IncrementSent atomically bumps the sent counter.
func (r *BatchRepository) IncrementSent(ctx context.Context, id string) error {
	query := `UPDATE batches SET sent_emails = sent_emails + 1, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

// IncrementFailed atomically bumps the failed counter.
func (r *BatchRepository) IncrementFailed(ctx context.Context, id string) error {
	query := `UPDATE batches SET failed_emails = failed_emails + 1, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

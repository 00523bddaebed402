package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailflow/internal/model"
)

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `
    id, user_id, sender_id, recipient, subject, body,
    scheduled_at, sent_at, status, error_message, retry_count, max_retries,
    job_id, provider_message_id, preview_url, batch_id, batch_index,
    created_at, updated_at
`

func scanMessage(row pgx.Row) (*model.Message, error) {
	var m model.Message
	err := row.Scan(
		&m.ID,
		&m.UserID,
		&m.SenderID,
		&m.Recipient,
		&m.Subject,
		&m.Body,
		&m.ScheduledAt,
		&m.SentAt,
		&m.Status,
		&m.ErrorMessage,
		&m.RetryCount,
		&m.MaxRetries,
		&m.JobID,
		&m.ProviderMessageID,
		&m.PreviewURL,
		&m.BatchID,
		&m.BatchIndex,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateBatch inserts all messages of a batch in one transaction.
func (r *MessageRepository) CreateBatch(ctx context.Context, messages []*model.Message) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
        INSERT INTO messages (
            id, user_id, sender_id, recipient, subject, body,
            scheduled_at, status, retry_count, max_retries, batch_id, batch_index,
            created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, $11, NOW(), NOW())
    `
	for _, m := range messages {
		_, err := tx.Exec(ctx, query,
			m.ID,
			m.UserID,
			m.SenderID,
			m.Recipient,
			m.Subject,
			m.Body,
			m.ScheduledAt,
			m.Status,
			m.MaxRetries,
			m.BatchID,
			m.BatchIndex,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message %s: %w", m.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (r *MessageRepository) FindByID(ctx context.Context, id string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	return scanMessage(r.db.QueryRow(ctx, query, id))
}

func (r *MessageRepository) FindByIDForUser(ctx context.Context, id, userID string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 AND user_id = $2`
	return scanMessage(r.db.QueryRow(ctx, query, id, userID))
}

// MarkProcessing claims the message for a worker. A row already in PROCESSING is
// accepted: after a crash the broker redelivers the job and the new worker must
// retake the message. Returns false when the row is gone or terminal.
func (r *MessageRepository) MarkProcessing(ctx context.Context, id, jobID string) (bool, error) {
	query := `
        UPDATE messages
        SET status = $2, job_id = $3, updated_at = NOW()
        WHERE id = $1 AND status = ANY($4)
    `
	tag, err := r.db.Exec(ctx, query, id, model.StatusProcessing, jobID,
		[]string{model.StatusScheduled, model.StatusRateLimited, model.StatusProcessing})
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *MessageRepository) MarkSent(ctx context.Context, id string, sentAt time.Time, providerMessageID string, previewURL *string) error {
	query := `
        UPDATE messages
        SET status = $2, sent_at = $3, provider_message_id = $4, preview_url = $5,
            error_message = NULL, updated_at = NOW()
        WHERE id = $1
    `
	_, err := r.db.Exec(ctx, query, id, model.StatusSent, sentAt, providerMessageID, previewURL)
	return err
}

func (r *MessageRepository) MarkFailed(ctx context.Context, id, errorMessage string, retryCount int) error {
	query := `
        UPDATE messages
        SET status = $2, error_message = $3, retry_count = $4, updated_at = NOW()
        WHERE id = $1
    `
	_, err := r.db.Exec(ctx, query, id, model.StatusFailed, errorMessage, retryCount)
	return err
}

func (r *MessageRepository) MarkRateLimited(ctx context.Context, id string) error {
	query := `
        UPDATE messages
        SET status = $2, updated_at = NOW()
        WHERE id = $1
    `
	_, err := r.db.Exec(ctx, query, id, model.StatusRateLimited)
	return err
}

// Reschedule puts a message back to SCHEDULED after a transient failure
// (with the error recorded and the retry count bumped) or after a
// rate-limit deferral (scheduledAt moved to the next slot).
func (r *MessageRepository) Reschedule(ctx context.Context, id string, scheduledAt time.Time, errorMessage *string, retryCount int) error {
	query := `
        UPDATE messages
        SET status = $2, scheduled_at = $3, error_message = $4, retry_count = $5, updated_at = NOW()
        WHERE id = $1
    `
	_, err := r.db.Exec(ctx, query, id, model.StatusScheduled, scheduledAt, errorMessage, retryCount)
	return err
}

func (r *MessageRepository) SetJobID(ctx context.Context, id, jobID string) error {
	query := `UPDATE messages SET job_id = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id, jobID)
	return err
}

// Delete removes a message. Cancellation is a hard delete; only non-terminal,
// not-in-flight rows can go.
func (r *MessageRepository) Delete(ctx context.Context, id, userID string) (bool, error) {
	query := `
        DELETE FROM messages
        WHERE id = $1 AND user_id = $2 AND status = ANY($3)
    `
	tag, err := r.db.Exec(ctx, query, id, userID,
		[]string{model.StatusScheduled, model.StatusRateLimited})
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FailBatch marks every non-terminal message of a batch FAILED. Used by the
// coordinator when enqueueing fails after the rows were committed.
func (r *MessageRepository) FailBatch(ctx context.Context, batchID, reason string) error {
	query := `
        UPDATE messages
        SET status = $2, error_message = $3, updated_at = NOW()
        WHERE batch_id = $1 AND status <> ALL($4)
    `
	_, err := r.db.Exec(ctx, query, batchID, model.StatusFailed, reason,
		[]string{model.StatusSent, model.StatusFailed})
	return err
}

type ListOptions struct {
	Statuses  []string
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

var sortableColumns = map[string]string{
	"scheduledAt": "scheduled_at",
	"sentAt":      "sent_at",
	"createdAt":   "created_at",
	"status":      "status",
}

// List returns one page of a user's messages filtered by status.
func (r *MessageRepository) List(ctx context.Context, userID string, opts ListOptions) ([]*model.Message, int, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 || opts.Limit > 100 {
		opts.Limit = 20
	}
	column, ok := sortableColumns[opts.SortBy]
	if !ok {
		column = "scheduled_at"
	}
	order := "ASC"
	if opts.SortOrder == "desc" {
		order = "DESC"
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM messages WHERE user_id = $1 AND status = ANY($2)`
	if err := r.db.QueryRow(ctx, countQuery, userID, opts.Statuses).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + messageColumns + `
        FROM messages
        WHERE user_id = $1 AND status = ANY($2)
        ORDER BY ` + column + ` ` + order + `
        LIMIT $3 OFFSET $4`

	rows, err := r.db.Query(ctx, query, userID, opts.Statuses, opts.Limit, (opts.Page-1)*opts.Limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages := []*model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, m)
	}

	return messages, total, rows.Err()
}

// CountByStatus returns per-status counts for the stats endpoint.
func (r *MessageRepository) CountByStatus(ctx context.Context, userID string) (map[string]int, error) {
	query := `
        SELECT status, COUNT(*)
        FROM messages
        WHERE user_id = $1
        GROUP BY status
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}

	return counts, rows.Err()
}

// CountSentInWindow counts SENT messages in [start, end). This is the rate
// limiter's durable fallback when the fast-path counter is unreachable.
func (r *MessageRepository) CountSentInWindow(ctx context.Context, start, end time.Time, senderID string) (int, error) {
	var n int
	if senderID != "" {
		query := `
            SELECT COUNT(*) FROM messages
            WHERE status = $1 AND sent_at >= $2 AND sent_at < $3 AND sender_id = $4
        `
		err := r.db.QueryRow(ctx, query, model.StatusSent, start, end, senderID).Scan(&n)
		return n, err
	}

	query := `
        SELECT COUNT(*) FROM messages
        WHERE status = $1 AND sent_at >= $2 AND sent_at < $3
    `
	err := r.db.QueryRow(ctx, query, model.StatusSent, start, end).Scan(&n)
	return n, err
}

// HasMessagesForSender reports whether any message still references the sender.
func (r *MessageRepository) HasMessagesForSender(ctx context.Context, senderID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM messages WHERE sender_id = $1)`
	err := r.db.QueryRow(ctx, query, senderID).Scan(&exists)
	return exists, err
}

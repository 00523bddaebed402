package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RateCounterRepository persists the durable shadow of the fast-path hourly
// counters. Key format: "global:<hourStartIso>" or
// "sender:<senderId>:<hourStartIso>".
type RateCounterRepository struct {
	db *pgxpool.Pool
}

func NewRateCounterRepository(db *pgxpool.Pool) *RateCounterRepository {
	return &RateCounterRepository{db: db}
}

// Increment upserts the durable counter row for an hour window.
func (r *RateCounterRepository) Increment(ctx context.Context, key string, windowStart time.Time) error {
	query := `
        INSERT INTO rate_counters (key, count, window_start, window_end)
        VALUES ($1, 1, $2, $3)
        ON CONFLICT (key) DO UPDATE SET count = rate_counters.count + 1
    `
	_, err := r.db.Exec(ctx, query, key, windowStart, windowStart.Add(time.Hour))
	return err
}

// Get returns the counter for an hour-window key; a missing row reads as zero.
func (r *RateCounterRepository) Get(ctx context.Context, key string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count FROM rate_counters WHERE key = $1`, key).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// Prune drops counter rows whose window ended before the cutoff.
// Counters older than 24h carry no limiting information.
func (r *RateCounterRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM rate_counters WHERE window_end < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

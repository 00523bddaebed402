package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailflow/internal/model"
)

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// Upsert creates the user on first sign-in, otherwise refreshes the profile
// fields Google reported. The row's id is stable across sign-ins.
func (r *UserRepository) Upsert(ctx context.Context, u *model.User) error {
	query := `
        INSERT INTO users (id, google_id, email, name, avatar_url, created_at)
        VALUES ($1, $2, $3, $4, $5, NOW())
        ON CONFLICT (google_id) DO UPDATE
        SET email = EXCLUDED.email, name = EXCLUDED.name, avatar_url = EXCLUDED.avatar_url
        RETURNING id, created_at
    `
	return r.db.QueryRow(ctx, query,
		u.ID,
		u.GoogleID,
		u.Email,
		u.Name,
		u.AvatarURL,
	).Scan(&u.ID, &u.CreatedAt)
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	query := `
        SELECT id, google_id, email, name, avatar_url, created_at
        FROM users
        WHERE id = $1
    `
	var u model.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.GoogleID,
		&u.Email,
		&u.Name,
		&u.AvatarURL,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

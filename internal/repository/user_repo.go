package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"parentpal/internal/model"
)

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns a user, or nil if the id is unknown.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	query := `
        SELECT id, email, expo_push_token, google_refresh_token, created_at
        FROM users
        WHERE id = $1
    `
	var u model.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.Email,
		&u.ExpoPushToken,
		&u.GoogleRefreshToken,
		&u.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// PushToken returns the user's current push token snapshot, nil when the
// user has none registered.
func (r *UserRepository) PushToken(ctx context.Context, userID string) (*string, error) {
	u, err := r.FindByID(ctx, userID)
	if err != nil || u == nil {
		return nil, err
	}
	return u.ExpoPushToken, nil
}

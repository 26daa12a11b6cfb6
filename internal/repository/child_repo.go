package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"parentpal/internal/model"
)

type ChildRepository struct {
	db *pgxpool.Pool
}

func NewChildRepository(db *pgxpool.Pool) *ChildRepository {
	return &ChildRepository{db: db}
}

// ListByUser returns all children registered for a user.
func (r *ChildRepository) ListByUser(ctx context.Context, userID string) ([]model.Child, error) {
	query := `
        SELECT id, user_id, name
        FROM children
        WHERE user_id = $1
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	children := []model.Child{}
	for rows.Next() {
		var c model.Child
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name); err != nil {
			return nil, err
		}
		children = append(children, c)
	}

	return children, rows.Err()
}

package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"parentpal/internal/model"
)

type EventRepository struct {
	db *pgxpool.Pool
}

func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// ExistsBySourceMsgID reports whether an event was already created for the
// given inbound message.
func (r *EventRepository) ExistsBySourceMsgID(ctx context.Context, msgID string) (bool, error) {
	query := `
        SELECT EXISTS (SELECT 1 FROM events WHERE source_msg_id = $1)
    `
	var exists bool
	err := r.db.QueryRow(ctx, query, msgID).Scan(&exists)
	return exists, err
}

// Insert creates an event and returns its id. The unique constraint on
// source_msg_id makes this a conditional insert: on conflict no row is
// written and Insert returns ("", nil), so a racing second writer is a
// no-op rather than an error.
func (r *EventRepository) Insert(ctx context.Context, e *model.Event) (string, error) {
	query := `
        INSERT INTO events (id, user_id, source_msg_id, child_id, title, start_ts, end_ts,
                            location, prep_items, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
        ON CONFLICT (source_msg_id) DO NOTHING
        RETURNING id
    `
	id := uuid.NewString()
	err := r.db.QueryRow(ctx, query,
		id,
		e.UserID,
		e.SourceMsgID,
		e.ChildID,
		e.Title,
		e.StartTS,
		e.EndTS,
		e.Location,
		e.PrepItems,
		e.Status,
	).Scan(&id)
	if err == pgx.ErrNoRows {
		// Conflict: another writer already inserted for this message.
		return "", nil
	}
	if err != nil {
		return "", err
	}
	e.ID = id
	return id, nil
}

// ListPending returns events awaiting calendar sync and reminder creation.
func (r *EventRepository) ListPending(ctx context.Context) ([]model.Event, error) {
	query := `
        SELECT id, user_id, source_msg_id, child_id, title, start_ts, end_ts,
               location, prep_items, status, calendar_id, error_msg, created_at
        FROM events
        WHERE status = $1
    `
	rows, err := r.db.Query(ctx, query, model.EventStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		var e model.Event
		err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.SourceMsgID,
			&e.ChildID,
			&e.Title,
			&e.StartTS,
			&e.EndTS,
			&e.Location,
			&e.PrepItems,
			&e.Status,
			&e.CalendarID,
			&e.ErrorMsg,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// MarkSynced advances the event to synced, recording the external calendar
// id when the sync produced one.
func (r *EventRepository) MarkSynced(ctx context.Context, id string, calendarID *string) error {
	query := `
        UPDATE events
        SET status = $1, calendar_id = COALESCE($2, calendar_id)
        WHERE id = $3
    `
	_, err := r.db.Exec(ctx, query, model.EventStatusSynced, calendarID, id)
	return err
}

// MarkFailed advances the event to failed with the error recorded.
func (r *EventRepository) MarkFailed(ctx context.Context, id string, errMsg string) error {
	query := `
        UPDATE events
        SET status = $1, error_msg = $2
        WHERE id = $3
    `
	_, err := r.db.Exec(ctx, query, model.EventStatusFailed, errMsg, id)
	return err
}

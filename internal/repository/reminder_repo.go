package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"parentpal/internal/model"
	"parentpal/pkg/metrics"
)

type ReminderRepository struct {
	db *pgxpool.Pool
}

func NewReminderRepository(db *pgxpool.Pool) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// Upsert writes a reminder slot keyed by (event_id, notify_at). Re-running
// the scheduler updates the message and token bound to the slot instead of
// creating a duplicate row; sent/retry state is left untouched.
func (r *ReminderRepository) Upsert(ctx context.Context, rem *model.Reminder) error {
	query := `
        INSERT INTO reminders (id, event_id, user_id, notify_at, message, push_token, status, retry_count)
        VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
        ON CONFLICT (event_id, notify_at)
        DO UPDATE SET message = EXCLUDED.message, push_token = EXCLUDED.push_token
    `
	_, err := r.db.Exec(ctx, query,
		uuid.NewString(),
		rem.EventID,
		rem.UserID,
		rem.NotifyAt,
		rem.Message,
		rem.PushToken,
		model.ReminderStatusPending,
	)
	return err
}

// ListDue returns pending reminders whose notify time has passed and that
// have not been sent yet.
func (r *ReminderRepository) ListDue(ctx context.Context, now time.Time) ([]model.Reminder, error) {
	start := time.Now()
	defer func() {
		metrics.RecordDBQueryDuration("list_due", "reminders", time.Since(start))
	}()

	query := `
        SELECT id, event_id, user_id, notify_at, message, push_token, sent_at, status, retry_count, error_msg
        FROM reminders
        WHERE notify_at <= $1
          AND sent_at IS NULL
          AND status = $2
    `
	rows, err := r.db.Query(ctx, query, now, model.ReminderStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reminders := []model.Reminder{}
	for rows.Next() {
		var rem model.Reminder
		err := rows.Scan(
			&rem.ID,
			&rem.EventID,
			&rem.UserID,
			&rem.NotifyAt,
			&rem.Message,
			&rem.PushToken,
			&rem.SentAt,
			&rem.Status,
			&rem.RetryCount,
			&rem.ErrorMsg,
		)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, rem)
	}

	return reminders, rows.Err()
}

// MarkSent records a delivery. A non-empty note marks terminal conditions
// (missing token, unregistered device) that are treated as sent because
// retrying them is pointless.
func (r *ReminderRepository) MarkSent(ctx context.Context, id string, sentAt time.Time, note string) error {
	query := `
        UPDATE reminders
        SET status = $1, sent_at = $2, error_msg = NULLIF($3, '')
        WHERE id = $4
    `
	_, err := r.db.Exec(ctx, query, model.ReminderStatusSent, sentAt, note, id)
	return err
}

// RecordFailure bumps the retry counter after a transient delivery error,
// keeping the reminder pending so the next scan retries it.
func (r *ReminderRepository) RecordFailure(ctx context.Context, id string, retryCount int, errMsg string) error {
	query := `
        UPDATE reminders
        SET retry_count = $1, error_msg = $2
        WHERE id = $3
    `
	_, err := r.db.Exec(ctx, query, retryCount, errMsg, id)
	return err
}

// MarkFailed is the terminal state after the retry budget is exhausted.
func (r *ReminderRepository) MarkFailed(ctx context.Context, id string, retryCount int, errMsg string) error {
	query := `
        UPDATE reminders
        SET status = $1, retry_count = $2, error_msg = $3
        WHERE id = $4
    `
	_, err := r.db.Exec(ctx, query, model.ReminderStatusFailed, retryCount, errMsg, id)
	return err
}

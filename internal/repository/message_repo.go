package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"parentpal/internal/model"
	"parentpal/pkg/metrics"
)

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// ListUnprocessed returns all inbound messages not yet handled by the
// extraction loop, in no particular order.
func (r *MessageRepository) ListUnprocessed(ctx context.Context) ([]model.InboundMessage, error) {
	start := time.Now()
	defer func() {
		metrics.RecordDBQueryDuration("list_unprocessed", "inbound_emails", time.Since(start))
	}()

	query := `
        SELECT id, user_id, subject, raw_body, from_email, received_at, processed, processed_at
        FROM inbound_emails
        WHERE processed = FALSE
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []model.InboundMessage{}
	for rows.Next() {
		var m model.InboundMessage
		err := rows.Scan(
			&m.ID,
			&m.UserID,
			&m.Subject,
			&m.RawBody,
			&m.FromEmail,
			&m.ReceivedAt,
			&m.Processed,
			&m.ProcessedAt,
		)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// MarkProcessed flags a message as handled. Called exactly once per message
// regardless of the processing outcome.
func (r *MessageRepository) MarkProcessed(ctx context.Context, id string) error {
	query := `
        UPDATE inbound_emails
        SET processed = TRUE, processed_at = NOW()
        WHERE id = $1
    `
	_, err := r.db.Exec(ctx, query, id)
	return err
}

package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibast-solutions/ms-go-consultations/app/entity"
)

type OutboxRepository struct {
	db DBTX
}

func NewOutboxRepository(db DBTX) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Create(ctx context.Context, msg *entity.OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload, attempts, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		msg.ID,
		msg.AggregateType,
		msg.AggregateID,
		msg.EventType,
		msg.Payload,
		msg.Attempts,
		msg.CreatedAt,
	)
	return err
}

// ListUnpublishedForUpdate claims a batch of pending messages with fewer
// than maxAttempts failed publishes. Rows already claimed by another relay
// are skipped.
func (r *OutboxRepository) ListUnpublishedForUpdate(ctx context.Context, limit int32, maxAttempts int32) ([]*entity.OutboxMessage, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, attempts, last_error, created_at, published_at
		FROM outbox_messages
		WHERE published_at IS NULL
		  AND attempts < ?
		ORDER BY created_at ASC
		LIMIT ?
		FOR UPDATE SKIP LOCKED
	`

	rows, err := r.db.QueryContext(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]*entity.OutboxMessage, 0)
	for rows.Next() {
		msg := &entity.OutboxMessage{}
		var lastErr sql.NullString
		var publishedAt sql.NullTime
		if err := rows.Scan(
			&msg.ID,
			&msg.AggregateType,
			&msg.AggregateID,
			&msg.EventType,
			&msg.Payload,
			&msg.Attempts,
			&lastErr,
			&msg.CreatedAt,
			&publishedAt,
		); err != nil {
			return nil, err
		}
		msg.LastError = stringPtrFromNull(lastErr)
		msg.PublishedAt = timePtrFromNull(publishedAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_messages SET published_at = ?, attempts = attempts + 1, last_error = NULL WHERE id = ?`,
		at, id,
	)
	return err
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_messages SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		reason, id,
	)
	return err
}

package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vibast-solutions/ms-go-consultations/app/entity"
)

// ErrEventAlreadyApplied is returned when another applied event already
// holds the same idempotency key.
var ErrEventAlreadyApplied = errors.New("payment event already applied")

type PaymentEventRepository struct {
	db DBTX
}

func NewPaymentEventRepository(db DBTX) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

func (r *PaymentEventRepository) Create(ctx context.Context, event *entity.PaymentEvent) error {
	query := `
		INSERT INTO payment_events (
			payment_id, gateway, external_id, type, idempotency_key, applied_key,
			outcome, raw_payload, derived_data, error, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var appliedKey interface{}
	if event.Outcome == entity.PaymentEventApplied {
		appliedKey = event.IdempotencyKey
	}

	result, err := r.db.ExecContext(ctx, query,
		nullableUint64Value(event.PaymentID),
		event.Gateway,
		event.ExternalID,
		event.Type,
		event.IdempotencyKey,
		appliedKey,
		event.Outcome,
		event.RawPayload,
		nullableStringValue(event.DerivedData),
		nullableStringValue(event.Error),
		event.CreatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrEventAlreadyApplied
		}
		return err
	}

	event.ID, err = lastInsertID(result)
	return err
}

func (r *PaymentEventRepository) FindAppliedByKey(ctx context.Context, key string) (*entity.PaymentEvent, error) {
	query := `
		SELECT id, payment_id, gateway, external_id, type, idempotency_key,
			outcome, raw_payload, derived_data, error, created_at
		FROM payment_events
		WHERE applied_key = ?
	`

	event := &entity.PaymentEvent{}
	var paymentID sql.NullInt64
	var derived sql.NullString
	var eventErr sql.NullString

	err := r.db.QueryRowContext(ctx, query, key).Scan(
		&event.ID,
		&paymentID,
		&event.Gateway,
		&event.ExternalID,
		&event.Type,
		&event.IdempotencyKey,
		&event.Outcome,
		&event.RawPayload,
		&derived,
		&eventErr,
		&event.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	event.PaymentID = uint64PtrFromNull(paymentID)
	event.DerivedData = stringPtrFromNull(derived)
	event.Error = stringPtrFromNull(eventErr)
	return event, nil
}

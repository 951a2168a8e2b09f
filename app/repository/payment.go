package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/vibast-solutions/ms-go-consultations/app/entity"
)

const paymentColumns = `id, booking_id, amount_cents, currency, status,
	fee_cents, platform_fee_cents, gateway_fees_cents, net_amount_cents,
	preference_id, checkout_url, sandbox_url, gateway_transaction_id,
	paid_at, context_json, created_at, updated_at`

type PaymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *entity.Payment) error {
	contextJSON, err := json.Marshal(payment.Context)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payments (
			booking_id, amount_cents, currency, status,
			fee_cents, platform_fee_cents, gateway_fees_cents, net_amount_cents,
			preference_id, checkout_url, sandbox_url, gateway_transaction_id,
			paid_at, context_json, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		payment.BookingID,
		payment.AmountCents,
		payment.Currency,
		payment.Status,
		payment.FeeCents,
		payment.PlatformFeeCents,
		payment.GatewayFeesCents,
		payment.NetAmountCents,
		payment.PreferenceID,
		nullableStringValue(payment.CheckoutURL),
		nullableStringValue(payment.SandboxURL),
		nullableStringValue(payment.GatewayTransactionID),
		nullableTimeValue(payment.PaidAt),
		string(contextJSON),
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		return err
	}

	payment.ID, err = lastInsertID(result)
	return err
}

func (r *PaymentRepository) Update(ctx context.Context, payment *entity.Payment) error {
	query := `
		UPDATE payments SET
			status = ?,
			fee_cents = ?,
			platform_fee_cents = ?,
			gateway_fees_cents = ?,
			net_amount_cents = ?,
			gateway_transaction_id = ?,
			paid_at = ?,
			updated_at = ?
		WHERE id = ?
	`

	_, err := r.db.ExecContext(ctx, query,
		payment.Status,
		payment.FeeCents,
		payment.PlatformFeeCents,
		payment.GatewayFeesCents,
		payment.NetAmountCents,
		nullableStringValue(payment.GatewayTransactionID),
		nullableTimeValue(payment.PaidAt),
		payment.UpdatedAt,
		payment.ID,
	)
	return err
}

func (r *PaymentRepository) FindByID(ctx context.Context, id uint64) (*entity.Payment, error) {
	return r.findOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
}

func (r *PaymentRepository) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Payment, error) {
	return r.findOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ? FOR UPDATE`, id)
}

// FindLatestByBookingID returns the most recent checkout attempt for a booking.
func (r *PaymentRepository) FindLatestByBookingID(ctx context.Context, bookingID uint64) (*entity.Payment, error) {
	return r.findOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id = ? ORDER BY id DESC LIMIT 1`, bookingID)
}

func (r *PaymentRepository) ListStalePending(ctx context.Context, before time.Time, limit int32) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = ?
		  AND created_at <= ?
		ORDER BY created_at ASC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, entity.PaymentStatusPending, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]*entity.Payment, 0)
	for rows.Next() {
		item := &entity.Payment{}
		if err := scanPayment(rows, item); err != nil {
			return nil, err
		}
		payments = append(payments, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

// SumCompletedFees adds up the fee of completed payments paid inside the
// optional [start, end] window.
func (r *PaymentRepository) SumCompletedFees(ctx context.Context, start, end *time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(fee_cents), 0)
		FROM payments
		WHERE status = ?
		  AND (? IS NULL OR paid_at >= ?)
		  AND (? IS NULL OR paid_at <= ?)
	`

	startValue := nullableTimeValue(start)
	endValue := nullableTimeValue(end)

	var total int64
	err := r.db.QueryRowContext(ctx, query,
		entity.PaymentStatusCompleted,
		startValue, startValue,
		endValue, endValue,
	).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *PaymentRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.Payment, error) {
	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, args...), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return payment, nil
}

func scanPayment(scan rowScanner, payment *entity.Payment) error {
	var checkoutURL sql.NullString
	var sandboxURL sql.NullString
	var transactionID sql.NullString
	var paidAt sql.NullTime
	var contextJSON string

	err := scan.Scan(
		&payment.ID,
		&payment.BookingID,
		&payment.AmountCents,
		&payment.Currency,
		&payment.Status,
		&payment.FeeCents,
		&payment.PlatformFeeCents,
		&payment.GatewayFeesCents,
		&payment.NetAmountCents,
		&payment.PreferenceID,
		&checkoutURL,
		&sandboxURL,
		&transactionID,
		&paidAt,
		&contextJSON,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return err
	}

	payment.CheckoutURL = stringPtrFromNull(checkoutURL)
	payment.SandboxURL = stringPtrFromNull(sandboxURL)
	payment.GatewayTransactionID = stringPtrFromNull(transactionID)
	payment.PaidAt = timePtrFromNull(paidAt)

	return json.Unmarshal([]byte(contextJSON), &payment.Context)
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-consultations/app/entity"
)

var ErrMeetingRoomTokenTaken = errors.New("meeting room token already in use")

const bookingColumns = `id, client_id, professional_id, professional_user_id,
	scheduled_at, duration_minutes, price_cents, currency,
	status, meeting_status, meeting_room_token,
	meeting_accepted_at, meeting_start_time, meeting_end_time,
	payment_id, created_at, updated_at`

type BookingRepository struct {
	db DBTX
}

func NewBookingRepository(db DBTX) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) Create(ctx context.Context, booking *entity.Booking) error {
	query := `
		INSERT INTO bookings (
			client_id, professional_id, professional_user_id,
			scheduled_at, duration_minutes, price_cents, currency,
			status, meeting_status, meeting_room_token,
			meeting_accepted_at, meeting_start_time, meeting_end_time,
			payment_id, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		booking.ClientID,
		booking.ProfessionalID,
		booking.ProfessionalUserID,
		booking.ScheduledAt,
		booking.DurationMinutes,
		booking.PriceCents,
		booking.Currency,
		booking.Status,
		booking.MeetingStatus,
		booking.MeetingRoomToken,
		nullableTimeValue(booking.MeetingAcceptedAt),
		nullableTimeValue(booking.MeetingStartTime),
		nullableTimeValue(booking.MeetingEndTime),
		nullableUint64Value(booking.PaymentID),
		booking.CreatedAt,
		booking.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrMeetingRoomTokenTaken
		}
		return err
	}

	booking.ID, err = lastInsertID(result)
	return err
}

func (r *BookingRepository) Update(ctx context.Context, booking *entity.Booking) error {
	query := `
		UPDATE bookings SET
			status = ?,
			meeting_status = ?,
			meeting_accepted_at = ?,
			meeting_start_time = ?,
			meeting_end_time = ?,
			payment_id = ?,
			updated_at = ?
		WHERE id = ?
	`

	_, err := r.db.ExecContext(ctx, query,
		booking.Status,
		booking.MeetingStatus,
		nullableTimeValue(booking.MeetingAcceptedAt),
		nullableTimeValue(booking.MeetingStartTime),
		nullableTimeValue(booking.MeetingEndTime),
		nullableUint64Value(booking.PaymentID),
		booking.UpdatedAt,
		booking.ID,
	)
	return err
}

func (r *BookingRepository) FindByID(ctx context.Context, id uint64) (*entity.Booking, error) {
	return r.findOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
}

// FindByIDForUpdate locks the booking row until the surrounding transaction ends.
func (r *BookingRepository) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Booking, error) {
	return r.findOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ? FOR UPDATE`, id)
}

// CountMeetingLoad counts the professional's running meetings and the
// accepted ones still waiting to start. excludeID is left out of both counts.
// Waiting counts CONFIRMED bookings only: a paid booking the professional has
// not accepted yet holds no slot.
func (r *BookingRepository) CountMeetingLoad(ctx context.Context, professionalID, excludeID uint64) (entity.MeetingLoad, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN meeting_status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN meeting_status = ? AND status = ? THEN 1 ELSE 0 END), 0)
		FROM bookings
		WHERE professional_id = ?
		  AND id <> ?
		  AND meeting_status IN (?, ?)
	`

	var load entity.MeetingLoad
	err := r.db.QueryRowContext(ctx, query,
		entity.MeetingStatusActive,
		entity.MeetingStatusWaiting,
		entity.BookingStatusConfirmed,
		professionalID,
		excludeID,
		entity.MeetingStatusActive,
		entity.MeetingStatusWaiting,
	).Scan(&load.Active, &load.Waiting)
	if err != nil {
		return entity.MeetingLoad{}, err
	}
	return load, nil
}

// CompleteIfActive finishes a running meeting. It reports false when the
// meeting was no longer active, which makes repeated calls harmless.
func (r *BookingRepository) CompleteIfActive(ctx context.Context, id uint64, now time.Time) (bool, error) {
	query := `
		UPDATE bookings SET
			status = ?,
			meeting_status = ?,
			updated_at = ?
		WHERE id = ? AND meeting_status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		entity.BookingStatusCompleted,
		entity.MeetingStatusCompleted,
		now,
		id,
		entity.MeetingStatusActive,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListActiveEndingBefore returns running meetings whose scheduled end is at
// or before cutoff, oldest end first.
func (r *BookingRepository) ListActiveEndingBefore(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE meeting_status = ?
		  AND meeting_end_time IS NOT NULL
		  AND meeting_end_time <= ?
		ORDER BY meeting_end_time ASC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, entity.MeetingStatusActive, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := make([]*entity.Booking, 0)
	for rows.Next() {
		item := &entity.Booking{}
		if err := scanBooking(rows, item); err != nil {
			return nil, err
		}
		bookings = append(bookings, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

func (r *BookingRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.Booking, error) {
	booking := &entity.Booking{}
	if err := scanBooking(r.db.QueryRowContext(ctx, query, args...), booking); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return booking, nil
}

func scanBooking(scan rowScanner, booking *entity.Booking) error {
	var acceptedAt sql.NullTime
	var startTime sql.NullTime
	var endTime sql.NullTime
	var paymentID sql.NullInt64

	err := scan.Scan(
		&booking.ID,
		&booking.ClientID,
		&booking.ProfessionalID,
		&booking.ProfessionalUserID,
		&booking.ScheduledAt,
		&booking.DurationMinutes,
		&booking.PriceCents,
		&booking.Currency,
		&booking.Status,
		&booking.MeetingStatus,
		&booking.MeetingRoomToken,
		&acceptedAt,
		&startTime,
		&endTime,
		&paymentID,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		return err
	}

	booking.MeetingAcceptedAt = timePtrFromNull(acceptedAt)
	booking.MeetingStartTime = timePtrFromNull(startTime)
	booking.MeetingEndTime = timePtrFromNull(endTime)
	booking.PaymentID = uint64PtrFromNull(paymentID)
	return nil
}

package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-consultations/app/entity"
)

type ProfessionalRepository struct {
	db DBTX
}

func NewProfessionalRepository(db DBTX) *ProfessionalRepository {
	return &ProfessionalRepository{db: db}
}

func (r *ProfessionalRepository) FindByID(ctx context.Context, id uint64) (*entity.Professional, error) {
	return r.findOne(ctx, `
		SELECT id, user_id, name, email, phone, hourly_rate_cents, currency, created_at, updated_at
		FROM professionals
		WHERE id = ?
	`, id)
}

// FindByIDForUpdate locks the professional row. Accepting a meeting holds
// this lock while it counts the professional's load.
func (r *ProfessionalRepository) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Professional, error) {
	return r.findOne(ctx, `
		SELECT id, user_id, name, email, phone, hourly_rate_cents, currency, created_at, updated_at
		FROM professionals
		WHERE id = ?
		FOR UPDATE
	`, id)
}

func (r *ProfessionalRepository) findOne(ctx context.Context, query string, id uint64) (*entity.Professional, error) {
	professional := &entity.Professional{}
	var phone sql.NullString

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&professional.ID,
		&professional.UserID,
		&professional.Name,
		&professional.Email,
		&phone,
		&professional.HourlyRateCents,
		&professional.Currency,
		&professional.CreatedAt,
		&professional.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	professional.Phone = stringPtrFromNull(phone)
	return professional, nil
}

package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-consultations/app/entity"
)

type CommissionRuleRepository struct {
	db DBTX
}

func NewCommissionRuleRepository(db DBTX) *CommissionRuleRepository {
	return &CommissionRuleRepository{db: db}
}

// FindActive returns the earliest created active rule, or nil when no rule
// is active.
func (r *CommissionRuleRepository) FindActive(ctx context.Context) (*entity.CommissionRule, error) {
	query := `
		SELECT id, percentage, fixed_fee_cents, is_active, created_at
		FROM commission_rules
		WHERE is_active = TRUE
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`

	rule := &entity.CommissionRule{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&rule.ID,
		&rule.Percentage,
		&rule.FixedFeeCents,
		&rule.IsActive,
		&rule.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return rule, nil
}

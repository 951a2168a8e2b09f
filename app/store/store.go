package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vibast-solutions/ms-go-consultations/app/repository"
	"github.com/vibast-solutions/ms-go-consultations/app/service"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Repos() service.Repositories {
	return reposFor(s.db)
}

func (s *SQLStore) WithinTx(ctx context.Context, fn func(repos service.Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(reposFor(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func reposFor(db repository.DBTX) service.Repositories {
	return service.Repositories{
		Bookings:        repository.NewBookingRepository(db),
		Payments:        repository.NewPaymentRepository(db),
		PaymentEvents:   repository.NewPaymentEventRepository(db),
		Professionals:   repository.NewProfessionalRepository(db),
		CommissionRules: repository.NewCommissionRuleRepository(db),
		Outbox:          repository.NewOutboxRepository(db),
	}
}

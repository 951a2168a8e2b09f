package service

import (
	"context"
	"time"

	"github.com/vibast-solutions/ms-go-consultations/app/entity"
)

type BookingRepository interface {
	Create(ctx context.Context, booking *entity.Booking) error
	Update(ctx context.Context, booking *entity.Booking) error
	FindByID(ctx context.Context, id uint64) (*entity.Booking, error)
	FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Booking, error)
	CountMeetingLoad(ctx context.Context, professionalID, excludeID uint64) (entity.MeetingLoad, error)
	CompleteIfActive(ctx context.Context, id uint64, now time.Time) (bool, error)
	ListActiveEndingBefore(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Booking, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *entity.Payment) error
	Update(ctx context.Context, payment *entity.Payment) error
	FindByID(ctx context.Context, id uint64) (*entity.Payment, error)
	FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Payment, error)
	FindLatestByBookingID(ctx context.Context, bookingID uint64) (*entity.Payment, error)
	ListStalePending(ctx context.Context, before time.Time, limit int32) ([]*entity.Payment, error)
	SumCompletedFees(ctx context.Context, start, end *time.Time) (int64, error)
}

type PaymentEventRepository interface {
	Create(ctx context.Context, event *entity.PaymentEvent) error
	FindAppliedByKey(ctx context.Context, key string) (*entity.PaymentEvent, error)
}

type ProfessionalRepository interface {
	FindByID(ctx context.Context, id uint64) (*entity.Professional, error)
	FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Professional, error)
}

type CommissionRuleRepository interface {
	FindActive(ctx context.Context) (*entity.CommissionRule, error)
}

type OutboxRepository interface {
	Create(ctx context.Context, msg *entity.OutboxMessage) error
	ListUnpublishedForUpdate(ctx context.Context, limit int32, maxAttempts int32) ([]*entity.OutboxMessage, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// Repositories is one consistent view of storage: either the plain
// connection pool or a single open transaction.
type Repositories struct {
	Bookings        BookingRepository
	Payments        PaymentRepository
	PaymentEvents   PaymentEventRepository
	Professionals   ProfessionalRepository
	CommissionRules CommissionRuleRepository
	Outbox          OutboxRepository
}

type Store interface {
	Repos() Repositories
	// WithinTx commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(repos Repositories) error) error
}

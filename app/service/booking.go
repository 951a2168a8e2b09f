package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-consultations/app/entity"
	"github.com/vibast-solutions/ms-go-consultations/app/factory"
	"github.com/vibast-solutions/ms-go-consultations/app/gateway"
	"github.com/vibast-solutions/ms-go-consultations/app/metrics"
	"github.com/vibast-solutions/ms-go-consultations/app/repository"
	"github.com/vibast-solutions/ms-go-consultations/config"
)

const (
	defaultMeetingLength = 18 * time.Minute
	defaultBatchSize     = int32(100)
	roomTokenAttempts    = 3
)

type CreateBookingRequest interface {
	GetProfessionalId() uint64
	GetScheduledAt() time.Time
	GetDurationMinutes() int32
}

type BookingService struct {
	store       Store
	gateways    *gateway.Registry
	bookingsCfg config.BookingsConfig
	gatewayCfg  config.GatewayConfig
	timers      *MeetingTimers
	metrics     *metrics.Collectors
	logger      logrus.FieldLogger
	now         func() time.Time
}

func NewBookingService(
	store Store,
	gateways *gateway.Registry,
	bookingsCfg config.BookingsConfig,
	gatewayCfg config.GatewayConfig,
	timers *MeetingTimers,
	collectors *metrics.Collectors,
) *BookingService {
	if bookingsCfg.MeetingLength <= 0 {
		bookingsCfg.MeetingLength = defaultMeetingLength
	}

	return &BookingService{
		store:       store,
		gateways:    gateways,
		bookingsCfg: bookingsCfg,
		gatewayCfg:  gatewayCfg,
		timers:      timers,
		metrics:     collectors,
		logger:      factory.NewModuleLogger("booking-service"),
		now:         time.Now,
	}
}

func (s *BookingService) CreateBooking(ctx context.Context, clientID uint64, req CreateBookingRequest) (*entity.Booking, error) {
	if clientID == 0 || req.GetProfessionalId() == 0 || req.GetDurationMinutes() <= 0 || req.GetScheduledAt().IsZero() {
		return nil, ErrInvalidRequest
	}

	repos := s.store.Repos()
	professional, err := repos.Professionals.FindByID(ctx, req.GetProfessionalId())
	if err != nil {
		return nil, err
	}
	if professional == nil {
		return nil, ErrProfessionalNotFound
	}
	if professional.UserID == clientID {
		return nil, ErrInvalidRequest
	}

	now := s.now().UTC()
	booking := &entity.Booking{
		ClientID:           clientID,
		ProfessionalID:     professional.ID,
		ProfessionalUserID: professional.UserID,
		ScheduledAt:        req.GetScheduledAt().UTC(),
		DurationMinutes:    req.GetDurationMinutes(),
		PriceCents:         priceForDuration(professional.HourlyRateCents, req.GetDurationMinutes()),
		Currency:           professional.Currency,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	booking.SetStatus(entity.BookingStatusPendingPayment)

	for attempt := 0; attempt < roomTokenAttempts; attempt++ {
		booking.MeetingRoomToken = newMeetingRoomToken(professional.ID)
		err = repos.Bookings.Create(ctx, booking)
		if !errors.Is(err, repository.ErrMeetingRoomTokenTaken) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	s.metrics.BookingTransition(string(booking.Status))
	return booking, nil
}

// StartCheckout opens a gateway checkout for a booking awaiting payment. A
// pending checkout that already exists is returned as is.
func (s *BookingService) StartCheckout(ctx context.Context, bookingID, callerID uint64, payerEmail *string) (*entity.Payment, error) {
	repos := s.store.Repos()
	booking, err := repos.Bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, ErrBookingNotFound
	}
	if booking.ClientID != callerID {
		return nil, ErrForbidden
	}
	if booking.Status != entity.BookingStatusPendingPayment {
		return nil, ErrInvalidState
	}
	if existing, err := s.pendingPayment(ctx, repos, booking); err != nil || existing != nil {
		return existing, err
	}

	professional, err := repos.Professionals.FindByID(ctx, booking.ProfessionalID)
	if err != nil {
		return nil, err
	}
	if professional == nil {
		return nil, ErrProfessionalNotFound
	}

	gw, err := s.gateways.Primary()
	if err != nil {
		return nil, ErrGatewayUnsupported
	}
	checkout, err := gw.CreateCheckout(ctx, &gateway.CheckoutInput{
		AmountCents:       booking.PriceCents,
		Currency:          booking.Currency,
		Description:       fmt.Sprintf("Consultation with %s", professional.Name),
		ExternalReference: strconv.FormatUint(booking.ID, 10),
		PayerEmail:        payerEmail,
		ReturnURLs: gateway.ReturnURLs{
			Success: s.gatewayCfg.SuccessURL,
			Pending: s.gatewayCfg.PendingURL,
			Failure: s.gatewayCfg.FailureURL,
		},
		AutoReturn: s.gatewayCfg.AutoReturn,
	})
	if err != nil {
		return nil, mapGatewayError(err)
	}

	var payment *entity.Payment
	err = s.store.WithinTx(ctx, func(tx Repositories) error {
		locked, err := tx.Bookings.FindByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if locked == nil {
			return ErrBookingNotFound
		}
		if locked.Status != entity.BookingStatusPendingPayment {
			return ErrInvalidState
		}
		if existing, err := s.pendingPayment(ctx, tx, locked); err != nil || existing != nil {
			payment = existing
			return err
		}

		now := s.now().UTC()
		payment = &entity.Payment{
			BookingID:    locked.ID,
			AmountCents:  locked.PriceCents,
			Currency:     locked.Currency,
			Status:       entity.PaymentStatusPending,
			PreferenceID: checkout.CheckoutID,
			CheckoutURL:  optionalString(checkout.CheckoutURL),
			SandboxURL:   optionalString(checkout.SandboxURL),
			Context:      entity.NewBookingPaymentContext(locked),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Payments.Create(ctx, payment); err != nil {
			return err
		}

		locked.PaymentID = &payment.ID
		locked.UpdatedAt = now
		return tx.Bookings.Update(ctx, locked)
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *BookingService) pendingPayment(ctx context.Context, repos Repositories, booking *entity.Booking) (*entity.Payment, error) {
	if booking.PaymentID == nil {
		return nil, nil
	}
	payment, err := repos.Payments.FindByID(ctx, *booking.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment != nil && payment.Status == entity.PaymentStatusPending {
		return payment, nil
	}
	return nil, nil
}

func (s *BookingService) MarkPaid(ctx context.Context, bookingID uint64) (*entity.Booking, error) {
	var booking *entity.Booking
	err := s.store.WithinTx(ctx, func(tx Repositories) error {
		var err error
		booking, err = s.markPaidTx(ctx, tx, bookingID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

func (s *BookingService) markPaidTx(ctx context.Context, tx Repositories, bookingID uint64) (*entity.Booking, error) {
	booking, err := tx.Bookings.FindByIDForUpdate(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, ErrBookingNotFound
	}
	if booking.Status != entity.BookingStatusPendingPayment {
		return nil, ErrInvalidState
	}

	booking.SetStatus(entity.BookingStatusWaitingForProfessional)
	booking.UpdatedAt = s.now().UTC()
	if err := tx.Bookings.Update(ctx, booking); err != nil {
		return nil, err
	}

	s.metrics.BookingTransition(string(booking.Status))
	return booking, nil
}

func (s *BookingService) CancelBooking(ctx context.Context, bookingID, callerID uint64) (*entity.Booking, error) {
	var booking *entity.Booking
	err := s.store.WithinTx(ctx, func(tx Repositories) error {
		var err error
		booking, err = tx.Bookings.FindByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if booking == nil {
			return ErrBookingNotFound
		}
		if !booking.IsParty(callerID) {
			return ErrForbidden
		}
		if booking.Status != entity.BookingStatusPendingPayment {
			return ErrInvalidState
		}

		booking.SetStatus(entity.BookingStatusCancelled)
		booking.UpdatedAt = s.now().UTC()
		return tx.Bookings.Update(ctx, booking)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.BookingTransition(string(booking.Status))
	return booking, nil
}

func (s *BookingService) GetBooking(ctx context.Context, bookingID, callerID uint64) (*entity.Booking, error) {
	booking, err := s.store.Repos().Bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, ErrBookingNotFound
	}
	if !booking.IsParty(callerID) {
		return nil, ErrForbidden
	}
	return booking, nil
}

func (s *BookingService) batchSize() int32 {
	if s.bookingsCfg.JobBatchSize <= 0 {
		return defaultBatchSize
	}
	return s.bookingsCfg.JobBatchSize
}

// priceForDuration prorates the hourly rate, rounding half-up to cents.
func priceForDuration(hourlyRateCents int64, durationMinutes int32) int64 {
	return decimal.NewFromInt(hourlyRateCents).
		Mul(decimal.NewFromInt(int64(durationMinutes))).
		Div(decimal.NewFromInt(60)).
		Round(0).
		IntPart()
}

func newMeetingRoomToken(professionalID uint64) string {
	return strconv.FormatUint(professionalID, 10) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func mapGatewayError(err error) error {
	switch {
	case errors.Is(err, gateway.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	case errors.Is(err, gateway.ErrInvalidCheckoutConfig), errors.Is(err, gateway.ErrNotConfigured):
		return fmt.Errorf("%w: %v", ErrCheckoutConfig, err)
	default:
		return err
	}
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

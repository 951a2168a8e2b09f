package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-consultations/app/commission"
	"github.com/vibast-solutions/ms-go-consultations/app/entity"
	"github.com/vibast-solutions/ms-go-consultations/app/factory"
	"github.com/vibast-solutions/ms-go-consultations/app/gateway"
	"github.com/vibast-solutions/ms-go-consultations/app/metrics"
	"github.com/vibast-solutions/ms-go-consultations/app/repository"
	"github.com/vibast-solutions/ms-go-consultations/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultIdempotencyBucket = 24 * time.Hour

// NotificationRequest is an inbound gateway notification as received.
type NotificationRequest interface {
	GetGateway() string
	GetType() string
	GetDataId() string
	GetSignature() string
	GetPayload() []byte
}

type NotificationResult struct {
	Outcome   entity.PaymentEventOutcome
	Processed bool
	Payment   *entity.Payment
}

type ReconciliationService struct {
	store       Store
	gateways    *gateway.Registry
	bookings    *BookingService
	commissions *commission.Engine
	bookingsCfg config.BookingsConfig
	metrics     *metrics.Collectors
	logger      logrus.FieldLogger
	now         func() time.Time
}

func NewReconciliationService(
	store Store,
	gateways *gateway.Registry,
	bookings *BookingService,
	commissions *commission.Engine,
	bookingsCfg config.BookingsConfig,
	collectors *metrics.Collectors,
) *ReconciliationService {
	if bookingsCfg.IdempotencyBucket <= 0 {
		bookingsCfg.IdempotencyBucket = defaultIdempotencyBucket
	}

	return &ReconciliationService{
		store:       store,
		gateways:    gateways,
		bookings:    bookings,
		commissions: commissions,
		bookingsCfg: bookingsCfg,
		metrics:     collectors,
		logger:      factory.NewModuleLogger("reconciliation-service"),
		now:         time.Now,
	}
}

// MapGatewayStatus folds gateway payment statuses into local ones. Anything
// unrecognised stays pending.
func MapGatewayStatus(status string) entity.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case gateway.StatusApproved:
		return entity.PaymentStatusCompleted
	case gateway.StatusRejected, gateway.StatusCancelled:
		return entity.PaymentStatusFailed
	default:
		return entity.PaymentStatusPending
	}
}

// IdempotencyKey identifies a notification by type, gateway id and the
// arrival time bucket.
func IdempotencyKey(notificationType, externalID string, receivedAt time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = defaultIdempotencyBucket
	}
	return fmt.Sprintf("%s:%s:%d", notificationType, externalID, receivedAt.UTC().Truncate(bucket).Unix())
}

func (s *ReconciliationService) HandleNotification(ctx context.Context, req NotificationRequest) (*NotificationResult, error) {
	ctx, span := tracer.Start(ctx, "ReconciliationService.HandleNotification")
	defer span.End()

	now := s.now().UTC()
	notificationType := strings.ToLower(strings.TrimSpace(req.GetType()))
	externalID := strings.TrimSpace(req.GetDataId())
	span.SetAttributes(
		attribute.String("notification.type", notificationType),
		attribute.String("notification.external_id", externalID),
	)

	event := &entity.PaymentEvent{
		Gateway:        req.GetGateway(),
		ExternalID:     externalID,
		Type:           notificationType,
		IdempotencyKey: IdempotencyKey(notificationType, externalID, now, s.bookingsCfg.IdempotencyBucket),
		RawPayload:     string(req.GetPayload()),
		CreatedAt:      now,
	}

	gw, err := s.gateways.Get(req.GetGateway())
	if err != nil {
		s.recordOutcome(ctx, event, entity.PaymentEventRejected, "gateway not supported")
		return s.result(event, nil), ErrGatewayUnsupported
	}
	event.Gateway = gw.Name()

	if !gw.VerifySignature(req.GetPayload(), req.GetSignature()) {
		s.recordOutcome(ctx, event, entity.PaymentEventRejected, "invalid signature")
		span.SetStatus(codes.Error, "invalid signature")
		return s.result(event, nil), ErrInvalidSignature
	}

	var result *NotificationResult
	switch notificationType {
	case entity.NotificationTypePayment:
		result, err = s.handlePaymentNotification(ctx, gw, event)
	case entity.NotificationTypeMerchantOrder:
		result, err = s.handleLookupNotification(ctx, event, func() (interface{}, string, error) {
			order, err := gw.FetchMerchantOrder(ctx, externalID)
			if err != nil {
				return nil, "", err
			}
			return merchantOrderDerivedData(order), order.ExternalReference, nil
		})
	case entity.NotificationTypePreference:
		result, err = s.handleLookupNotification(ctx, event, func() (interface{}, string, error) {
			pref, err := gw.FetchPreference(ctx, externalID)
			if err != nil {
				return nil, "", err
			}
			return preferenceDerivedData(pref), pref.ExternalReference, nil
		})
	default:
		s.recordOutcome(ctx, event, entity.PaymentEventIgnored, "unsupported notification type")
		result = s.result(event, nil)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (s *ReconciliationService) handlePaymentNotification(ctx context.Context, gw gateway.Gateway, event *entity.PaymentEvent) (*NotificationResult, error) {
	if event.ExternalID == "" {
		s.recordOutcome(ctx, event, entity.PaymentEventIgnored, "missing payment id")
		return s.result(event, nil), nil
	}

	applied, err := s.store.Repos().PaymentEvents.FindAppliedByKey(ctx, event.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if applied != nil {
		event.PaymentID = applied.PaymentID
		s.recordOutcome(ctx, event, entity.PaymentEventReplayed, "")
		return s.result(event, nil), nil
	}

	record, err := gw.FetchPayment(ctx, event.ExternalID)
	if err != nil {
		return s.lookupFailed(ctx, event, err)
	}
	return s.applyPaymentRecord(ctx, record, event)
}

// applyPaymentRecord moves the local payment to the status the gateway
// reports. The payment update, the applied event carrying the idempotency
// key and, on approval, the booking transition and outbox message all
// commit together. A key collision rolls everything back and is recorded
// as a replay.
func (s *ReconciliationService) applyPaymentRecord(ctx context.Context, record *gateway.PaymentRecord, event *entity.PaymentEvent) (*NotificationResult, error) {
	mapped := MapGatewayStatus(record.Status)
	event.DerivedData = encodeDerivedData(&paymentDerivedData{
		GatewayPaymentID: record.ID,
		GatewayStatus:    record.Status,
		StatusDetail:     record.StatusDetail,
		MappedStatus:     string(mapped),
		AmountCents:      record.AmountCents,
		GatewayFeesCents: record.FeeCents,
	})

	bookingID, err := strconv.ParseUint(strings.TrimSpace(record.ExternalReference), 10, 64)
	if err != nil || bookingID == 0 {
		s.recordOutcome(ctx, event, entity.PaymentEventIgnored, "unresolvable external reference")
		return s.result(event, nil), nil
	}

	payment, err := s.store.Repos().Payments.FindLatestByBookingID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		s.logger.WithField("booking_id", bookingID).WithField("gateway_payment_id", record.ID).Warn("notification_without_local_payment")
		s.recordOutcome(ctx, event, entity.PaymentEventIgnored, "no local payment for external reference")
		return s.result(event, nil), nil
	}
	event.PaymentID = &payment.ID
	if payment.Context.Kind != entity.PaymentContextBooking {
		s.recordOutcome(ctx, event, entity.PaymentEventIgnored, "payment is not a booking payment")
		return s.result(event, payment), nil
	}
	if record.AmountCents != 0 && record.AmountCents != payment.AmountCents {
		s.logger.WithFields(logrus.Fields{
			"payment_id":     payment.ID,
			"local_amount":   payment.AmountCents,
			"gateway_amount": record.AmountCents,
		}).Warn("gateway_amount_mismatch")
	}

	var updated *entity.Payment
	var outcome entity.PaymentEventOutcome
	err = s.store.WithinTx(ctx, func(tx Repositories) error {
		locked, err := tx.Payments.FindByIDForUpdate(ctx, payment.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return ErrNotFound
		}
		updated = locked

		txEvent := *event
		if locked.IsTerminal() || mapped == entity.PaymentStatusPending || staleFailure(record, mapped, locked) {
			outcome = entity.PaymentEventNoop
			txEvent.Outcome = outcome
			return tx.PaymentEvents.Create(ctx, &txEvent)
		}

		now := s.now().UTC()
		gatewayPaymentID := record.ID
		locked.Status = mapped
		locked.GatewayTransactionID = &gatewayPaymentID
		locked.UpdatedAt = now
		if mapped == entity.PaymentStatusCompleted {
			split, err := s.commissions.Calculate(ctx, tx.CommissionRules, locked.AmountCents)
			if err != nil {
				return err
			}
			paidAt := now
			if record.ApprovedAt != nil {
				paidAt = record.ApprovedAt.UTC()
			}
			locked.PlatformFeeCents = split.PlatformFeeCents
			locked.FeeCents = split.FeeCents
			locked.NetAmountCents = split.NetAmountCents
			locked.GatewayFeesCents = record.FeeCents
			locked.PaidAt = &paidAt
		}
		if err := tx.Payments.Update(ctx, locked); err != nil {
			return err
		}

		outcome = entity.PaymentEventApplied
		txEvent.Outcome = outcome
		if err := tx.PaymentEvents.Create(ctx, &txEvent); err != nil {
			return err
		}

		if mapped == entity.PaymentStatusCompleted {
			return s.advanceBooking(ctx, tx, locked, now)
		}
		return nil
	})
	if errors.Is(err, repository.ErrEventAlreadyApplied) {
		s.recordOutcome(ctx, event, entity.PaymentEventReplayed, "")
		return s.result(event, payment), nil
	}
	if err != nil {
		s.recordOutcome(ctx, event, entity.PaymentEventFailed, err.Error())
		return nil, err
	}

	event.Outcome = outcome
	s.metrics.Notification(event.Type, string(outcome))
	if outcome == entity.PaymentEventApplied {
		s.logger.WithFields(logrus.Fields{
			"payment_id": updated.ID,
			"booking_id": updated.BookingID,
			"status":     updated.Status,
		}).Info("payment_status_applied")
	}
	return s.result(event, updated), nil
}

// advanceBooking moves the paid booking forward and queues the payment
// notice. A booking that is no longer awaiting payment leaves the payment
// completed without a booking transition.
func (s *ReconciliationService) advanceBooking(ctx context.Context, tx Repositories, payment *entity.Payment, now time.Time) error {
	booking, err := s.bookings.markPaidTx(ctx, tx, payment.BookingID)
	if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrNotFound) {
		s.logger.WithError(err).WithField("booking_id", payment.BookingID).Warn("paid_booking_not_awaiting_payment")
		return nil
	}
	if err != nil {
		return err
	}

	professional, err := tx.Professionals.FindByID(ctx, booking.ProfessionalID)
	if err != nil {
		return err
	}
	completed := &entity.PaymentCompletedEvent{
		BookingID:      booking.ID,
		PaymentID:      payment.ID,
		ProfessionalID: booking.ProfessionalID,
		AmountCents:    payment.AmountCents,
		Currency:       payment.Currency,
	}
	if professional != nil {
		completed.ProfessionalEmail = professional.Email
		completed.ProfessionalPhone = professional.Phone
	}
	return enqueueEvent(ctx, tx.Outbox, entity.AggregatePayment, payment.ID, entity.EventPaymentCompleted, completed, now)
}

// handleLookupNotification fetches the referenced gateway object and keeps
// it in the audit log. These notifications never change local state.
func (s *ReconciliationService) handleLookupNotification(ctx context.Context, event *entity.PaymentEvent, fetch func() (interface{}, string, error)) (*NotificationResult, error) {
	if event.ExternalID == "" {
		s.recordOutcome(ctx, event, entity.PaymentEventIgnored, "missing resource id")
		return s.result(event, nil), nil
	}

	derived, externalReference, err := fetch()
	if err != nil {
		return s.lookupFailed(ctx, event, err)
	}
	event.DerivedData = encodeDerivedData(derived)

	var payment *entity.Payment
	if bookingID, err := strconv.ParseUint(strings.TrimSpace(externalReference), 10, 64); err == nil && bookingID > 0 {
		payment, err = s.store.Repos().Payments.FindLatestByBookingID(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if payment != nil {
			event.PaymentID = &payment.ID
		}
	}

	s.recordOutcome(ctx, event, entity.PaymentEventLogged, "")
	return s.result(event, payment), nil
}

func (s *ReconciliationService) lookupFailed(ctx context.Context, event *entity.PaymentEvent, err error) (*NotificationResult, error) {
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		s.recordOutcome(ctx, event, entity.PaymentEventIgnored, "resource not found on gateway")
		return s.result(event, nil), nil
	case errors.Is(err, gateway.ErrUnavailable):
		s.recordOutcome(ctx, event, entity.PaymentEventFailed, err.Error())
		return s.result(event, nil), fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	default:
		s.recordOutcome(ctx, event, entity.PaymentEventFailed, err.Error())
		return s.result(event, nil), err
	}
}

// staleFailure reports a rejection that belongs to an earlier checkout of
// the same booking.
func staleFailure(record *gateway.PaymentRecord, mapped entity.PaymentStatus, payment *entity.Payment) bool {
	return mapped == entity.PaymentStatusFailed && record.CreatedAt != nil && record.CreatedAt.Before(payment.CreatedAt)
}

func (s *ReconciliationService) TotalCommissions(ctx context.Context, start, end *time.Time) (int64, error) {
	total, err := s.commissions.TotalCommissions(ctx, s.store.Repos().Payments, start, end)
	if errors.Is(err, commission.ErrInvalidRange) {
		return 0, ErrInvalidRequest
	}
	return total, err
}

// recordOutcome writes an audit entry outside any transaction. Audit
// failures are logged and never fail the notification.
func (s *ReconciliationService) recordOutcome(ctx context.Context, event *entity.PaymentEvent, outcome entity.PaymentEventOutcome, reason string) {
	event.Outcome = outcome
	if reason != "" {
		trimmed := truncate(reason, 1024)
		event.Error = &trimmed
	}
	s.metrics.Notification(event.Type, string(outcome))

	if err := s.store.Repos().PaymentEvents.Create(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"external_id": event.ExternalID,
			"type":        event.Type,
			"outcome":     outcome,
		}).Error("payment_event_record_failed")
	}
}

func (s *ReconciliationService) result(event *entity.PaymentEvent, payment *entity.Payment) *NotificationResult {
	return &NotificationResult{
		Outcome:   event.Outcome,
		Processed: event.Outcome == entity.PaymentEventApplied || event.Outcome == entity.PaymentEventLogged,
		Payment:   payment,
	}
}

type paymentDerivedData struct {
	GatewayPaymentID string `json:"gateway_payment_id"`
	GatewayStatus    string `json:"gateway_status"`
	StatusDetail     string `json:"status_detail,omitempty"`
	MappedStatus     string `json:"mapped_status"`
	AmountCents      int64  `json:"amount_cents"`
	GatewayFeesCents int64  `json:"gateway_fees_cents"`
}

type merchantOrderDerived struct {
	Status       string   `json:"status"`
	PreferenceID string   `json:"preference_id"`
	TotalAmount  string   `json:"total_amount"`
	PaidAmount   string   `json:"paid_amount"`
	PaymentIDs   []string `json:"payment_ids"`
}

type preferenceDerived struct {
	ExternalReference string `json:"external_reference"`
	CheckoutURL       string `json:"checkout_url"`
}

func merchantOrderDerivedData(order *gateway.MerchantOrderRecord) *merchantOrderDerived {
	return &merchantOrderDerived{
		Status:       order.Status,
		PreferenceID: order.PreferenceID,
		TotalAmount:  order.TotalAmount.StringFixed(2),
		PaidAmount:   order.PaidAmount.StringFixed(2),
		PaymentIDs:   order.PaymentIDs,
	}
}

func preferenceDerivedData(pref *gateway.PreferenceRecord) *preferenceDerived {
	return &preferenceDerived{
		ExternalReference: pref.ExternalReference,
		CheckoutURL:       pref.CheckoutURL,
	}
}

func encodeDerivedData(v interface{}) *string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(encoded)
	return &s
}

// truncate caps s at max bytes without splitting a character. Invalid
// UTF-8 is dropped so the result always fits a utf8mb4 column.
func truncate(s string, max int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vibast-solutions/ms-go-consultations/app/entity"
	"github.com/vibast-solutions/ms-go-consultations/app/gateway"
	"go.opentelemetry.io/otel/attribute"
)

// RunReconcileBatch looks up stale pending payments on the gateway and
// applies any terminal status found there. It covers notifications the
// gateway never delivered.
func (s *ReconciliationService) RunReconcileBatch(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "ReconciliationService.RunReconcileBatch")
	defer span.End()

	now := s.now().UTC()
	before := now.Add(-s.bookingsCfg.ReconcileStaleAfter)
	items, err := s.store.Repos().Payments.ListStalePending(ctx, before, s.batchSize())
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("payments.stale", len(items)))
	if len(items) == 0 {
		return nil
	}

	gw, err := s.gateways.Primary()
	if err != nil {
		return ErrGatewayUnsupported
	}

	var firstErr error
	for _, payment := range items {
		if payment == nil {
			continue
		}

		records, err := gw.SearchPaymentsByExternalReference(ctx, strconv.FormatUint(payment.BookingID, 10))
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}

		record := decisiveRecord(records, payment.CreatedAt)
		if record == nil {
			continue
		}

		key := fmt.Sprintf("reconcile:%s:%s", record.ID, MapGatewayStatus(record.Status))
		applied, err := s.store.Repos().PaymentEvents.FindAppliedByKey(ctx, key)
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if applied != nil {
			continue
		}

		event := &entity.PaymentEvent{
			Gateway:        gw.Name(),
			ExternalID:     record.ID,
			Type:           entity.NotificationTypeReconcile,
			IdempotencyKey: key,
			RawPayload:     string(record.Raw),
			CreatedAt:      now,
		}
		if _, err := s.applyPaymentRecord(ctx, record, event); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

// decisiveRecord picks the gateway payment that settles a checkout: any
// approved attempt wins, otherwise the most recent failed one made after the
// checkout was opened. Failures from earlier checkouts of the same booking
// are skipped.
func decisiveRecord(records []*gateway.PaymentRecord, openedAt time.Time) *gateway.PaymentRecord {
	var failed *gateway.PaymentRecord
	for _, record := range records {
		if record == nil {
			continue
		}
		switch MapGatewayStatus(record.Status) {
		case entity.PaymentStatusCompleted:
			return record
		case entity.PaymentStatusFailed:
			if failed == nil && (record.CreatedAt == nil || !record.CreatedAt.Before(openedAt)) {
				failed = record
			}
		}
	}
	return failed
}

func (s *ReconciliationService) batchSize() int32 {
	if s.bookingsCfg.JobBatchSize <= 0 {
		return defaultBatchSize
	}
	return s.bookingsCfg.JobBatchSize
}

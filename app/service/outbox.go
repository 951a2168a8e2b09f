package service

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-consultations/app/entity"
	"github.com/vibast-solutions/ms-go-consultations/app/events"
	"github.com/vibast-solutions/ms-go-consultations/app/factory"
	"github.com/vibast-solutions/ms-go-consultations/app/metrics"
)

// enqueueEvent writes a domain event to the outbox through the given
// repository, so it commits or rolls back with the state change around it.
func enqueueEvent(ctx context.Context, outbox OutboxRepository, aggregateType string, aggregateID uint64, eventType string, payload interface{}, now time.Time) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return outbox.Create(ctx, &entity.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       string(body),
		CreatedAt:     now,
	})
}

// maxPublishAttempts parks a message after this many failed publishes so a
// message the broker always refuses does not block the ones behind it.
const maxPublishAttempts = 10

type EventPublisher interface {
	Publish(ctx context.Context, msg events.Message) error
}

// OutboxRelay publishes committed outbox messages. Claimed rows stay locked
// until the batch commits, so parallel relays never publish the same row.
type OutboxRelay struct {
	store     Store
	publisher EventPublisher
	batch     int32
	timeout   time.Duration
	metrics   *metrics.Collectors
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewOutboxRelay(store Store, publisher EventPublisher, batchSize int32, collectors *metrics.Collectors) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &OutboxRelay{
		store:     store,
		publisher: publisher,
		batch:     batchSize,
		metrics:   collectors,
		logger:    factory.NewModuleLogger("outbox-relay"),
		now:       time.Now,
	}
}

// SetPublishTimeout bounds each broker publish. Zero disables the bound.
func (r *OutboxRelay) SetPublishTimeout(d time.Duration) {
	r.timeout = d
}

func (r *OutboxRelay) publish(ctx context.Context, msg events.Message) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.publisher.Publish(ctx, msg)
}

func (r *OutboxRelay) RunBatch(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "OutboxRelay.RunBatch")
	defer span.End()

	var pubErr error
	err := r.store.WithinTx(ctx, func(tx Repositories) error {
		messages, err := tx.Outbox.ListUnpublishedForUpdate(ctx, r.batch, maxPublishAttempts)
		if err != nil {
			return err
		}

		for _, msg := range messages {
			pubErr = r.publish(ctx, events.Message{
				ID:        msg.ID,
				Key:       strconv.FormatUint(msg.AggregateID, 10),
				EventType: msg.EventType,
				Payload:   []byte(msg.Payload),
			})
			r.metrics.OutboxPublished(msg.EventType, pubErr == nil)
			if pubErr != nil {
				// Remaining messages wait for the next batch.
				r.logger.WithError(pubErr).WithField("message_id", msg.ID).Warn("outbox_publish_failed")
				return tx.Outbox.MarkFailed(ctx, msg.ID, truncate(pubErr.Error(), 1024))
			}
			if err := tx.Outbox.MarkPublished(ctx, msg.ID, r.now().UTC()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return pubErr
}

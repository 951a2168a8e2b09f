package events

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-consultations/config"
)

const (
	BrokerKafka    = "kafka"
	BrokerRabbitMQ = "rabbitmq"
	BrokerNone     = "none"
)

type Message struct {
	ID        string
	Key       string
	EventType string
	Payload   []byte
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

func NewPublisher(cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Broker {
	case BrokerKafka:
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.TopicPrefix), nil
	case BrokerRabbitMQ:
		return NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitExchange)
	case BrokerNone, "":
		return NewLogPublisher(logrus.WithField("module", "events")), nil
	default:
		return nil, fmt.Errorf("unsupported events broker %q", cfg.Broker)
	}
}

// LogPublisher only logs messages. It keeps the relay draining the outbox
// when no broker is configured.
type LogPublisher struct {
	logger logrus.FieldLogger
}

func NewLogPublisher(logger logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	p.logger.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"event_type": msg.EventType,
		"key":        msg.Key,
		"payload":    string(msg.Payload),
	}).Info("event_published")
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}

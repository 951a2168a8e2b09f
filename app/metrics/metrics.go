package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "consultations"

// Collectors groups the service counters. A nil *Collectors is valid and
// records nothing.
type Collectors struct {
	bookingTransitions   *prometheus.CounterVec
	capacityRejections   prometheus.Counter
	notifications        *prometheus.CounterVec
	meetingsCompleted    *prometheus.CounterVec
	outboxPublished      *prometheus.CounterVec
	scheduledCompletions prometheus.Gauge
}

func NewCollectors(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)

	return &Collectors{
		bookingTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions by target status.",
		}, []string{"status"}),
		capacityRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meeting_capacity_rejections_total",
			Help:      "Meeting accepts rejected because the professional was at capacity.",
		}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_notifications_total",
			Help:      "Gateway notifications by type and outcome.",
		}, []string{"type", "outcome"}),
		meetingsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meetings_completed_total",
			Help:      "Meetings completed by trigger.",
		}, []string{"trigger"}),
		outboxPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_messages_total",
			Help:      "Outbox relay attempts by event type and result.",
		}, []string{"event_type", "result"}),
		scheduledCompletions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_meeting_completions",
			Help:      "In-process completion timers currently armed.",
		}),
	}
}

func (c *Collectors) BookingTransition(status string) {
	if c == nil {
		return
	}
	c.bookingTransitions.WithLabelValues(status).Inc()
}

func (c *Collectors) CapacityRejected() {
	if c == nil {
		return
	}
	c.capacityRejections.Inc()
}

func (c *Collectors) Notification(notificationType, outcome string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(notificationType, outcome).Inc()
}

func (c *Collectors) MeetingCompleted(trigger string) {
	if c == nil {
		return
	}
	c.meetingsCompleted.WithLabelValues(trigger).Inc()
}

func (c *Collectors) OutboxPublished(eventType string, ok bool) {
	if c == nil {
		return
	}
	result := "published"
	if !ok {
		result = "failed"
	}
	c.outboxPublished.WithLabelValues(eventType, result).Inc()
}

func (c *Collectors) ScheduledCompletions(n int) {
	if c == nil {
		return
	}
	c.scheduledCompletions.Set(float64(n))
}

package entity

import "time"

const (
	AggregateBooking = "booking"
	AggregatePayment = "payment"

	EventBookingConfirmed = "booking.confirmed"
	EventPaymentCompleted = "payment.completed"
)

type OutboxMessage struct {
	ID string

	AggregateType string
	AggregateID   uint64
	EventType     string
	Payload       string

	Attempts  int32
	LastError *string

	CreatedAt   time.Time
	PublishedAt *time.Time
}

type BookingConfirmedEvent struct {
	BookingID        uint64 `json:"booking_id"`
	ClientID         uint64 `json:"client_id"`
	ProfessionalName string `json:"professional_name"`
	MeetingRoomToken string `json:"meeting_room_token"`
}

type PaymentCompletedEvent struct {
	BookingID         uint64  `json:"booking_id"`
	PaymentID         uint64  `json:"payment_id"`
	ProfessionalID    uint64  `json:"professional_id"`
	AmountCents       int64   `json:"amount_cents"`
	Currency          string  `json:"currency"`
	ProfessionalEmail string  `json:"professional_email"`
	ProfessionalPhone *string `json:"professional_phone,omitempty"`
}

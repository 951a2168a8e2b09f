package entity

import "time"

const (
	NotificationTypePayment       = "payment"
	NotificationTypeMerchantOrder = "merchant_order"
	NotificationTypePreference    = "preference"
	NotificationTypeReconcile     = "reconcile"
)

type PaymentEventOutcome string

const (
	// PaymentEventApplied marks the single event that moved a payment to a
	// new status. Only applied events carry an idempotency key constraint.
	PaymentEventApplied  PaymentEventOutcome = "APPLIED"
	PaymentEventReplayed PaymentEventOutcome = "REPLAYED"
	PaymentEventNoop     PaymentEventOutcome = "NOOP"
	PaymentEventLogged   PaymentEventOutcome = "LOGGED"
	PaymentEventIgnored  PaymentEventOutcome = "IGNORED"
	PaymentEventRejected PaymentEventOutcome = "REJECTED"
	PaymentEventFailed   PaymentEventOutcome = "FAILED"
)

type PaymentEvent struct {
	ID uint64

	PaymentID *uint64

	Gateway        string
	ExternalID     string
	Type           string
	IdempotencyKey string
	Outcome        PaymentEventOutcome

	RawPayload  string
	DerivedData *string
	Error       *string

	CreatedAt time.Time
}

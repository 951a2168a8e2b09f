package entity

import "time"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

type Payment struct {
	ID uint64

	BookingID uint64

	AmountCents int64
	Currency    string

	Status PaymentStatus

	FeeCents         int64
	PlatformFeeCents int64
	GatewayFeesCents int64
	NetAmountCents   int64

	PreferenceID         string
	CheckoutURL          *string
	SandboxURL           *string
	GatewayTransactionID *string

	PaidAt *time.Time

	Context PaymentContext

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentStatusCompleted || p.Status == PaymentStatusFailed
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound              = errors.New("gateway resource not found")
	ErrUnavailable           = errors.New("gateway unavailable")
	ErrInvalidSignature      = errors.New("invalid gateway signature")
	ErrInvalidCheckoutConfig = errors.New("invalid checkout configuration")
	ErrNotConfigured         = errors.New("gateway is not configured")
)

// Gateway status strings as reported on fetched payments.
const (
	StatusApproved    = "approved"
	StatusPending     = "pending"
	StatusInProcess   = "in_process"
	StatusAuthorized  = "authorized"
	StatusRejected    = "rejected"
	StatusCancelled   = "cancelled"
	StatusRefunded    = "refunded"
	StatusChargedBack = "charged_back"
	StatusInMediation = "in_mediation"
)

type ReturnURLs struct {
	Success string
	Pending string
	Failure string
}

type CheckoutInput struct {
	AmountCents       int64
	Currency          string
	Description       string
	ExternalReference string
	PayerEmail        *string
	ReturnURLs        ReturnURLs
	AutoReturn        bool
}

type Checkout struct {
	CheckoutID  string
	CheckoutURL string
	SandboxURL  string
}

type PaymentRecord struct {
	ID                string
	Status            string
	StatusDetail      string
	ExternalReference string
	AmountCents       int64
	Currency          string
	FeeCents          int64
	CreatedAt         *time.Time
	ApprovedAt        *time.Time
	Raw               json.RawMessage
}

type MerchantOrderRecord struct {
	ID                string
	Status            string
	ExternalReference string
	PreferenceID      string
	TotalAmount       decimal.Decimal
	PaidAmount        decimal.Decimal
	PaymentIDs        []string
	Raw               json.RawMessage
}

type PreferenceRecord struct {
	ID                string
	ExternalReference string
	CheckoutURL       string
	SandboxURL        string
	Raw               json.RawMessage
}

type Gateway interface {
	Name() string
	CreateCheckout(ctx context.Context, input *CheckoutInput) (*Checkout, error)
	FetchPayment(ctx context.Context, paymentID string) (*PaymentRecord, error)
	FetchMerchantOrder(ctx context.Context, orderID string) (*MerchantOrderRecord, error)
	FetchPreference(ctx context.Context, preferenceID string) (*PreferenceRecord, error)
	SearchPaymentsByExternalReference(ctx context.Context, reference string) ([]*PaymentRecord, error)
	VerifySignature(payload []byte, signatureHeader string) bool
}

package entity

import (
	"encoding/json"
	"errors"
	"fmt"
)

type PaymentContextKind string

const (
	PaymentContextBooking  PaymentContextKind = "booking"
	PaymentContextTestCard PaymentContextKind = "test_card"
)

// PaymentContext says what a payment is for. Exactly one of Booking or
// TestCard is set, matching Kind.
type PaymentContext struct {
	Kind     PaymentContextKind
	Booking  *BookingPaymentContext
	TestCard *TestCardPaymentContext
}

type BookingPaymentContext struct {
	BookingID      uint64 `json:"booking_id"`
	ClientID       uint64 `json:"client_id"`
	ProfessionalID uint64 `json:"professional_id"`
}

type TestCardPaymentContext struct {
	Label string `json:"label"`
}

func NewBookingPaymentContext(b *Booking) PaymentContext {
	return PaymentContext{
		Kind: PaymentContextBooking,
		Booking: &BookingPaymentContext{
			BookingID:      b.ID,
			ClientID:       b.ClientID,
			ProfessionalID: b.ProfessionalID,
		},
	}
}

type paymentContextJSON struct {
	Type     PaymentContextKind      `json:"type"`
	Booking  *BookingPaymentContext  `json:"booking,omitempty"`
	TestCard *TestCardPaymentContext `json:"test_card,omitempty"`
}

func (c PaymentContext) MarshalJSON() ([]byte, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(paymentContextJSON{Type: c.Kind, Booking: c.Booking, TestCard: c.TestCard})
}

func (c *PaymentContext) UnmarshalJSON(data []byte) error {
	var raw paymentContextJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded := PaymentContext{Kind: raw.Type, Booking: raw.Booking, TestCard: raw.TestCard}
	if err := decoded.validate(); err != nil {
		return err
	}
	*c = decoded
	return nil
}

func (c PaymentContext) validate() error {
	switch c.Kind {
	case PaymentContextBooking:
		if c.Booking == nil || c.TestCard != nil {
			return errors.New("booking payment context requires booking details only")
		}
	case PaymentContextTestCard:
		if c.TestCard == nil || c.Booking != nil {
			return errors.New("test card payment context requires test card details only")
		}
	default:
		return fmt.Errorf("unknown payment context type %q", c.Kind)
	}
	return nil
}

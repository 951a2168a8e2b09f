package types

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

const maxDurationMinutes = 240

type CreateBookingRequest struct {
	ProfessionalId  uint64    `json:"professional_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int32     `json:"duration_minutes"`
	PayerEmail      string    `json:"payer_email,omitempty"`
}

func (r *CreateBookingRequest) GetProfessionalId() uint64 {
	if r == nil {
		return 0
	}
	return r.ProfessionalId
}

func (r *CreateBookingRequest) GetScheduledAt() time.Time {
	if r == nil {
		return time.Time{}
	}
	return r.ScheduledAt
}

func (r *CreateBookingRequest) GetDurationMinutes() int32 {
	if r == nil {
		return 0
	}
	return r.DurationMinutes
}

func (r *CreateBookingRequest) GetPayerEmail() string {
	if r == nil {
		return ""
	}
	return r.PayerEmail
}

func NewCreateBookingRequestFromContext(ctx echo.Context) (*CreateBookingRequest, error) {
	var body CreateBookingRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.PayerEmail = strings.TrimSpace(body.PayerEmail)
	return &body, nil
}

func (r *CreateBookingRequest) Validate() error {
	if r.GetProfessionalId() == 0 {
		return errors.New("professional_id is required")
	}
	if r.GetScheduledAt().IsZero() {
		return errors.New("scheduled_at is required")
	}
	if r.GetDurationMinutes() <= 0 || r.GetDurationMinutes() > maxDurationMinutes {
		return errors.New("duration_minutes must be between 1 and 240")
	}
	if r.GetPayerEmail() != "" && !strings.Contains(r.GetPayerEmail(), "@") {
		return errors.New("payer_email is invalid")
	}
	return nil
}

// BookingActionRequest addresses a single booking by path id.
type BookingActionRequest struct {
	Id uint64 `json:"id"`
}

func (r *BookingActionRequest) GetId() uint64 {
	if r == nil {
		return 0
	}
	return r.Id
}

func NewBookingActionRequestFromContext(ctx echo.Context) (*BookingActionRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &BookingActionRequest{Id: id}, nil
}

func (r *BookingActionRequest) Validate() error {
	if r.GetId() == 0 {
		return errors.New("invalid booking id")
	}
	return nil
}

type StartCheckoutRequest struct {
	Id         uint64 `json:"id"`
	PayerEmail string `json:"payer_email,omitempty"`
}

func (r *StartCheckoutRequest) GetId() uint64 {
	if r == nil {
		return 0
	}
	return r.Id
}

func (r *StartCheckoutRequest) GetPayerEmail() string {
	if r == nil {
		return ""
	}
	return r.PayerEmail
}

func NewStartCheckoutRequestFromContext(ctx echo.Context) (*StartCheckoutRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}

	var body StartCheckoutRequest
	if err = ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.Id = id
	body.PayerEmail = strings.TrimSpace(body.PayerEmail)

	return &body, nil
}

func (r *StartCheckoutRequest) Validate() error {
	if r.GetId() == 0 {
		return errors.New("invalid booking id")
	}
	if r.GetPayerEmail() != "" && !strings.Contains(r.GetPayerEmail(), "@") {
		return errors.New("payer_email is invalid")
	}
	return nil
}

type ProfessionalLoadRequest struct {
	ProfessionalId uint64 `json:"professional_id"`
}

func (r *ProfessionalLoadRequest) GetProfessionalId() uint64 {
	if r == nil {
		return 0
	}
	return r.ProfessionalId
}

func NewProfessionalLoadRequestFromContext(ctx echo.Context) (*ProfessionalLoadRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &ProfessionalLoadRequest{ProfessionalId: id}, nil
}

func (r *ProfessionalLoadRequest) Validate() error {
	if r.GetProfessionalId() == 0 {
		return errors.New("invalid professional id")
	}
	return nil
}

type Booking struct {
	Id                uint64 `json:"id"`
	ClientId          uint64 `json:"client_id"`
	ProfessionalId    uint64 `json:"professional_id"`
	ScheduledAt       string `json:"scheduled_at"`
	DurationMinutes   int32  `json:"duration_minutes"`
	PriceCents        int64  `json:"price_cents"`
	Currency          string `json:"currency"`
	Status            string `json:"status"`
	MeetingStatus     string `json:"meeting_status"`
	MeetingAcceptedAt string `json:"meeting_accepted_at,omitempty"`
	MeetingStartTime  string `json:"meeting_start_time,omitempty"`
	MeetingEndTime    string `json:"meeting_end_time,omitempty"`
	PaymentId         uint64 `json:"payment_id,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

func (b *Booking) GetId() uint64 {
	if b == nil {
		return 0
	}
	return b.Id
}

func (b *Booking) GetStatus() string {
	if b == nil {
		return ""
	}
	return b.Status
}

func (b *Booking) GetMeetingStatus() string {
	if b == nil {
		return ""
	}
	return b.MeetingStatus
}

type BookingEnvelopeResponse struct {
	Booking       *Booking `json:"booking"`
	Payment       *Payment `json:"payment,omitempty"`
	CheckoutError string   `json:"checkout_error,omitempty"`
}

func (r *BookingEnvelopeResponse) GetBooking() *Booking {
	if r == nil {
		return nil
	}
	return r.Booking
}

func (r *BookingEnvelopeResponse) GetPayment() *Payment {
	if r == nil {
		return nil
	}
	return r.Payment
}

type JoinMeetingResponse struct {
	BookingId        uint64 `json:"booking_id"`
	MeetingRoomToken string `json:"meeting_room_token"`
	MeetingStatus    string `json:"meeting_status"`
	MeetingEndTime   string `json:"meeting_end_time,omitempty"`
}

type ProfessionalLoadResponse struct {
	ProfessionalId uint64 `json:"professional_id"`
	Active         int    `json:"active"`
	Waiting        int    `json:"waiting"`
	AtCapacity     bool   `json:"at_capacity"`
}

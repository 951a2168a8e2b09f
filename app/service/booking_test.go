package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-consultations/app/entity"
	"github.com/vibast-solutions/ms-go-consultations/app/gateway"
)

func seedProfessional(env *testEnv) *entity.Professional {
	return env.store.addProfessional(entity.Professional{
		UserID:          50,
		Name:            "Dr. Ana",
		Email:           "ana@example.com",
		HourlyRateCents: 6000,
		Currency:        "BRL",
	})
}

func createTestBooking(t *testing.T, env *testEnv, professional *entity.Professional) *entity.Booking {
	t.Helper()
	booking, err := env.bookings.CreateBooking(context.Background(), 10, bookingRequest{
		professionalID: professional.ID,
		scheduledAt:    env.clock.Now().Add(time.Hour),
		duration:       30,
	})
	if err != nil {
		t.Fatalf("CreateBooking() error = %v", err)
	}
	return booking
}

func TestCreateBookingPricesAndStartsPendingPayment(t *testing.T) {
	env := newTestEnv()
	professional := seedProfessional(env)

	booking := createTestBooking(t, env, professional)

	if booking.Status != entity.BookingStatusPendingPayment || booking.MeetingStatus != entity.MeetingStatusPending {
		t.Fatalf("unexpected statuses %s/%s", booking.Status, booking.MeetingStatus)
	}
	if booking.PriceCents != 3000 {
		t.Fatalf("expected price 3000, got %d", booking.PriceCents)
	}
	if booking.ProfessionalUserID != 50 {
		t.Fatalf("expected professional user 50, got %d", booking.ProfessionalUserID)
	}
	prefix := strconv.FormatUint(professional.ID, 10) + "-"
	if !strings.HasPrefix(booking.MeetingRoomToken, prefix) || len(booking.MeetingRoomToken) != len(prefix)+32 {
		t.Fatalf("unexpected room token %q", booking.MeetingRoomToken)
	}
}

func TestCreateBookingValidation(t *testing.T) {
	env := newTestEnv()
	professional := seedProfessional(env)
	ctx := context.Background()
	when := env.clock.Now().Add(time.Hour)

	cases := []struct {
		name     string
		clientID uint64
		req      bookingRequest
		want     error
	}{
		{"zero duration", 10, bookingRequest{professional.ID, when, 0}, ErrInvalidRequest},
		{"missing schedule", 10, bookingRequest{professional.ID, time.Time{}, 30}, ErrInvalidRequest},
		{"unknown professional", 10, bookingRequest{999, when, 30}, ErrNotFound},
		{"self booking", 50, bookingRequest{professional.ID, when, 30}, ErrInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.bookings.CreateBooking(ctx, tc.clientID, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestPriceForDurationRoundsHalfUp(t *testing.T) {
	cases := []struct {
		rate     int64
		minutes  int32
		expected int64
	}{
		{6000, 60, 6000},
		{6000, 18, 1800},
		{1001, 30, 501},
		{1000, 1, 17},
	}
	for _, tc := range cases {
		if got := priceForDuration(tc.rate, tc.minutes); got != tc.expected {
			t.Fatalf("priceForDuration(%d, %d) = %d, want %d", tc.rate, tc.minutes, got, tc.expected)
		}
	}
}

func TestStartCheckoutCreatesPendingPayment(t *testing.T) {
	env := newTestEnv()
	booking := createTestBooking(t, env, seedProfessional(env))

	payment, err := env.bookings.StartCheckout(context.Background(), booking.ID, 10, nil)
	if err != nil {
		t.Fatalf("StartCheckout() error = %v", err)
	}
	if payment.Status != entity.PaymentStatusPending || payment.AmountCents != 3000 {
		t.Fatalf("unexpected payment %+v", payment)
	}
	if payment.PreferenceID != "pref-1" || payment.CheckoutURL == nil || *payment.CheckoutURL != "https://pay.example/pref-1" {
		t.Fatalf("unexpected checkout data %+v", payment)
	}
	if payment.Context.Kind != entity.PaymentContextBooking || payment.Context.Booking.BookingID != booking.ID {
		t.Fatalf("unexpected payment context %+v", payment.Context)
	}
	if env.gateway.lastCheckout.ExternalReference != strconv.FormatUint(booking.ID, 10) {
		t.Fatalf("unexpected external reference %q", env.gateway.lastCheckout.ExternalReference)
	}

	stored := env.store.booking(booking.ID)
	if stored.PaymentID == nil || *stored.PaymentID != payment.ID {
		t.Fatalf("booking not linked to payment: %+v", stored.PaymentID)
	}
}

func TestStartCheckoutReusesPendingPayment(t *testing.T) {
	env := newTestEnv()
	booking := createTestBooking(t, env, seedProfessional(env))
	ctx := context.Background()

	first, err := env.bookings.StartCheckout(ctx, booking.ID, 10, nil)
	if err != nil {
		t.Fatalf("StartCheckout() error = %v", err)
	}
	second, err := env.bookings.StartCheckout(ctx, booking.ID, 10, nil)
	if err != nil {
		t.Fatalf("StartCheckout() error = %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same payment, got %d and %d", first.ID, second.ID)
	}
	if env.gateway.checkoutCalls != 1 {
		t.Fatalf("expected one gateway call, got %d", env.gateway.checkoutCalls)
	}
}

func TestStartCheckoutRejectsOtherCaller(t *testing.T) {
	env := newTestEnv()
	booking := createTestBooking(t, env, seedProfessional(env))

	_, err := env.bookings.StartCheckout(context.Background(), booking.ID, 11, nil)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestStartCheckoutMapsGatewayErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"unavailable", gateway.ErrUnavailable, ErrGatewayUnavailable},
		{"bad config", gateway.ErrInvalidCheckoutConfig, ErrCheckoutConfig},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			booking := createTestBooking(t, env, seedProfessional(env))
			env.gateway.checkoutErr = tc.err

			_, err := env.bookings.StartCheckout(context.Background(), booking.ID, 10, nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if stored := env.store.booking(booking.ID); stored.PaymentID != nil {
				t.Fatalf("expected no payment link after failed checkout")
			}
		})
	}
}

func TestMarkPaidOnlyFromPendingPayment(t *testing.T) {
	env := newTestEnv()
	booking := createTestBooking(t, env, seedProfessional(env))
	ctx := context.Background()

	paid, err := env.bookings.MarkPaid(ctx, booking.ID)
	if err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}
	if paid.Status != entity.BookingStatusWaitingForProfessional || paid.MeetingStatus != entity.MeetingStatusWaiting {
		t.Fatalf("unexpected statuses %s/%s", paid.Status, paid.MeetingStatus)
	}

	if _, err := env.bookings.MarkPaid(ctx, booking.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second mark, got %v", err)
	}
	if _, err := env.bookings.MarkPaid(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelBooking(t *testing.T) {
	env := newTestEnv()
	professional := seedProfessional(env)
	ctx := context.Background()

	booking := createTestBooking(t, env, professional)
	if _, err := env.bookings.CancelBooking(ctx, booking.ID, 77); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	cancelled, err := env.bookings.CancelBooking(ctx, booking.ID, professional.UserID)
	if err != nil {
		t.Fatalf("CancelBooking() error = %v", err)
	}
	if cancelled.Status != entity.BookingStatusCancelled || cancelled.MeetingStatus != entity.MeetingStatusCancelled {
		t.Fatalf("unexpected statuses %s/%s", cancelled.Status, cancelled.MeetingStatus)
	}

	paid := createTestBooking(t, env, professional)
	if _, err := env.bookings.MarkPaid(ctx, paid.ID); err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}
	if _, err := env.bookings.CancelBooking(ctx, paid.ID, 10); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for paid booking, got %v", err)
	}
}

func TestGetBookingRequiresParticipant(t *testing.T) {
	env := newTestEnv()
	booking := createTestBooking(t, env, seedProfessional(env))
	ctx := context.Background()

	if _, err := env.bookings.GetBooking(ctx, booking.ID, 10); err != nil {
		t.Fatalf("client lookup error = %v", err)
	}
	if _, err := env.bookings.GetBooking(ctx, booking.ID, 50); err != nil {
		t.Fatalf("professional lookup error = %v", err)
	}
	if _, err := env.bookings.GetBooking(ctx, booking.ID, 99); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := env.bookings.GetBooking(ctx, 12345, 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

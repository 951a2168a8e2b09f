package controller

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-consultations/app/entity"
	"github.com/vibast-solutions/ms-go-consultations/app/factory"
	"github.com/vibast-solutions/ms-go-consultations/app/mapper"
	"github.com/vibast-solutions/ms-go-consultations/app/middleware"
	"github.com/vibast-solutions/ms-go-consultations/app/service"
	"github.com/vibast-solutions/ms-go-consultations/app/types"
)

type bookingService interface {
	CreateBooking(ctx context.Context, clientID uint64, req service.CreateBookingRequest) (*entity.Booking, error)
	StartCheckout(ctx context.Context, bookingID, callerID uint64, payerEmail *string) (*entity.Payment, error)
	GetBooking(ctx context.Context, bookingID, callerID uint64) (*entity.Booking, error)
	CancelBooking(ctx context.Context, bookingID, callerID uint64) (*entity.Booking, error)
	AcceptMeeting(ctx context.Context, bookingID, professionalUserID uint64) (*entity.Booking, error)
	CanJoin(ctx context.Context, bookingID, userID uint64) (*entity.Booking, error)
	StartMeeting(ctx context.Context, bookingID, userID uint64) (*entity.Booking, error)
	EndMeeting(ctx context.Context, bookingID, userID uint64) (*entity.Booking, error)
	GetActiveLoad(ctx context.Context, professionalID uint64) (entity.MeetingLoad, error)
}

type BookingController struct {
	bookingService bookingService
	logger         logrus.FieldLogger
}

func NewBookingController(bookingService bookingService) *BookingController {
	return &BookingController{
		bookingService: bookingService,
		logger:         factory.NewModuleLogger("bookings-controller"),
	}
}

// CreateBooking creates the booking and opens its checkout in one request.
// A checkout failure still returns the booking so the client can retry the
// checkout alone.
func (c *BookingController) CreateBooking(ctx echo.Context) error {
	caller, err := requireCaller(ctx)
	if caller == nil {
		return err
	}
	req, err := types.NewCreateBookingRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	booking, err := c.bookingService.CreateBooking(ctx.Request().Context(), caller.UserID, req)
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Create booking")
	}

	resp := &types.BookingEnvelopeResponse{Booking: mapper.BookingToResponse(booking)}
	payment, err := c.bookingService.StartCheckout(ctx.Request().Context(), booking.ID, caller.UserID, optionalString(req.GetPayerEmail()))
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).WithField("booking_id", booking.ID).Warn("Checkout after create failed")
		resp.CheckoutError = "checkout could not be started"
	} else {
		resp.Payment = mapper.PaymentToResponse(payment)
	}

	return ctx.JSON(http.StatusCreated, resp)
}

func (c *BookingController) GetBooking(ctx echo.Context) error {
	caller, req, err := c.bookingAction(ctx)
	if req == nil {
		return err
	}

	booking, err := c.bookingService.GetBooking(ctx.Request().Context(), req.GetId(), caller.UserID)
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Get booking")
	}
	return ctx.JSON(http.StatusOK, &types.BookingEnvelopeResponse{Booking: mapper.BookingToResponse(booking)})
}

func (c *BookingController) StartCheckout(ctx echo.Context) error {
	caller, err := requireCaller(ctx)
	if caller == nil {
		return err
	}
	req, err := types.NewStartCheckoutRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	payment, err := c.bookingService.StartCheckout(ctx.Request().Context(), req.GetId(), caller.UserID, optionalString(req.GetPayerEmail()))
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Start checkout")
	}
	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(payment)})
}

func (c *BookingController) CancelBooking(ctx echo.Context) error {
	return c.transition(ctx, "Cancel booking", c.bookingService.CancelBooking)
}

func (c *BookingController) AcceptMeeting(ctx echo.Context) error {
	return c.transition(ctx, "Accept meeting", c.bookingService.AcceptMeeting)
}

func (c *BookingController) StartMeeting(ctx echo.Context) error {
	return c.transition(ctx, "Start meeting", c.bookingService.StartMeeting)
}

func (c *BookingController) CompleteMeeting(ctx echo.Context) error {
	return c.transition(ctx, "Complete meeting", c.bookingService.EndMeeting)
}

func (c *BookingController) JoinMeeting(ctx echo.Context) error {
	caller, req, err := c.bookingAction(ctx)
	if req == nil {
		return err
	}

	booking, err := c.bookingService.CanJoin(ctx.Request().Context(), req.GetId(), caller.UserID)
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Join meeting")
	}
	return ctx.JSON(http.StatusOK, mapper.JoinToResponse(booking))
}

func (c *BookingController) ProfessionalLoad(ctx echo.Context) error {
	req, err := types.NewProfessionalLoadRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	load, err := c.bookingService.GetActiveLoad(ctx.Request().Context(), req.GetProfessionalId())
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Professional load")
	}
	return ctx.JSON(http.StatusOK, mapper.LoadToResponse(req.GetProfessionalId(), load))
}

func (c *BookingController) transition(
	ctx echo.Context,
	operation string,
	fn func(ctx context.Context, bookingID, userID uint64) (*entity.Booking, error),
) error {
	caller, req, err := c.bookingAction(ctx)
	if req == nil {
		return err
	}

	booking, err := fn(ctx.Request().Context(), req.GetId(), caller.UserID)
	if err != nil {
		return writeServiceError(ctx, c.logger, err, operation)
	}
	return ctx.JSON(http.StatusOK, &types.BookingEnvelopeResponse{Booking: mapper.BookingToResponse(booking)})
}

// bookingAction resolves the caller and the booking id. A nil request means
// the error response has already been written.
func (c *BookingController) bookingAction(ctx echo.Context) (*middleware.Caller, *types.BookingActionRequest, error) {
	caller, err := requireCaller(ctx)
	if caller == nil {
		return nil, nil, err
	}
	req, err := types.NewBookingActionRequestFromContext(ctx)
	if err != nil {
		return nil, nil, writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return nil, nil, writeError(ctx, http.StatusBadRequest, err.Error())
	}
	return caller, req, nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

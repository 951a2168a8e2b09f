package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-consultations/app/factory"
	"github.com/vibast-solutions/ms-go-consultations/app/middleware"
	"github.com/vibast-solutions/ms-go-consultations/app/service"
	"github.com/vibast-solutions/ms-go-consultations/app/types"
)

func writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}

// writeServiceError maps domain errors to HTTP responses. Anything
// unrecognised is logged and reported as a 500.
func writeServiceError(ctx echo.Context, logger logrus.FieldLogger, err error, operation string) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return writeError(ctx, http.StatusNotFound, notFoundMessage(err))
	case errors.Is(err, service.ErrForbidden):
		return writeError(ctx, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrCapacityExceeded):
		return writeError(ctx, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidState):
		return writeError(ctx, http.StatusConflict, "booking is not in a valid state for this operation")
	case errors.Is(err, service.ErrInvalidRequest):
		return writeError(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrGatewayUnavailable):
		return writeError(ctx, http.StatusServiceUnavailable, "payment gateway unavailable")
	case errors.Is(err, service.ErrCheckoutConfig), errors.Is(err, service.ErrGatewayUnsupported):
		factory.LoggerWithContext(logger, ctx).WithError(err).Error(operation + " failed: payment gateway configuration")
		return writeError(ctx, http.StatusBadGateway, "checkout is misconfigured")
	default:
		factory.LoggerWithContext(logger, ctx).WithError(err).Error(operation + " failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrBookingNotFound):
		return "booking not found"
	case errors.Is(err, service.ErrProfessionalNotFound):
		return "professional not found"
	default:
		return "not found"
	}
}

func requireCaller(ctx echo.Context) (*middleware.Caller, error) {
	caller, ok := middleware.CallerFromContext(ctx)
	if !ok {
		return nil, writeError(ctx, http.StatusUnauthorized, "caller identity is required")
	}
	return caller, nil
}

package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-consultations/app/factory"
	"github.com/vibast-solutions/ms-go-consultations/app/middleware"
	"github.com/vibast-solutions/ms-go-consultations/app/service"
	"github.com/vibast-solutions/ms-go-consultations/app/types"
)

type reconciliationService interface {
	HandleNotification(ctx context.Context, req service.NotificationRequest) (*service.NotificationResult, error)
	TotalCommissions(ctx context.Context, start, end *time.Time) (int64, error)
}

type PaymentController struct {
	reconciliationService reconciliationService
	logger                logrus.FieldLogger
}

func NewPaymentController(reconciliationService reconciliationService) *PaymentController {
	return &PaymentController{
		reconciliationService: reconciliationService,
		logger:                factory.NewModuleLogger("payments-controller"),
	}
}

func (c *PaymentController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

// HandleGatewayNotification always acknowledges with 200 so the gateway
// stops retrying. Failures are kept in the payment event log instead.
func (c *PaymentController) HandleGatewayNotification(ctx echo.Context) error {
	l := factory.LoggerWithContext(c.logger, ctx)

	req, err := types.NewGatewayNotificationRequestFromContext(ctx)
	if err != nil {
		l.WithError(err).Warn("Gateway notification could not be read")
		return ctx.JSON(http.StatusOK, &types.WebhookAckResponse{Status: "ok", Error: "unreadable notification"})
	}

	result, err := c.reconciliationService.HandleNotification(ctx.Request().Context(), req)
	ack := &types.WebhookAckResponse{Status: "ok"}
	if result != nil {
		ack.Processed = result.Processed
	}
	if err != nil {
		ack.Error = notificationErrorMessage(err)
		entry := l.WithError(err).WithField("gateway", req.GetGateway()).WithField("type", req.GetType()).WithField("data_id", req.GetDataId())
		if errors.Is(err, service.ErrInvalidSignature) || errors.Is(err, service.ErrGatewayUnsupported) {
			entry.Warn("Gateway notification rejected")
		} else {
			entry.Error("Gateway notification failed")
		}
	}

	return ctx.JSON(http.StatusOK, ack)
}

func (c *PaymentController) TotalCommissions(ctx echo.Context) error {
	caller, err := requireCaller(ctx)
	if caller == nil {
		return err
	}
	if caller.Role != middleware.RoleAdmin {
		return writeError(ctx, http.StatusForbidden, "admin role is required")
	}

	req, err := types.NewCommissionTotalRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid time range")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	total, err := c.reconciliationService.TotalCommissions(ctx.Request().Context(), req.GetStart(), req.GetEnd())
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Total commissions")
	}

	resp := &types.CommissionTotalResponse{TotalCents: total}
	if req.GetStart() != nil {
		resp.Start = req.GetStart().Format(time.RFC3339)
	}
	if req.GetEnd() != nil {
		resp.End = req.GetEnd().Format(time.RFC3339)
	}
	return ctx.JSON(http.StatusOK, resp)
}

func notificationErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidSignature):
		return "invalid signature"
	case errors.Is(err, service.ErrGatewayUnsupported):
		return "gateway not supported"
	case errors.Is(err, service.ErrGatewayUnavailable):
		return "gateway unavailable"
	default:
		return "processing failed"
	}
}

package types

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

const SignatureHeader = "X-Signature"

type Payment struct {
	Id               uint64 `json:"id"`
	BookingId        uint64 `json:"booking_id"`
	AmountCents      int64  `json:"amount_cents"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	PlatformFeeCents int64  `json:"platform_fee_cents"`
	NetAmountCents   int64  `json:"net_amount_cents"`
	GatewayFeesCents int64  `json:"gateway_fees_cents"`
	CheckoutId       string `json:"checkout_id,omitempty"`
	CheckoutUrl      string `json:"checkout_url,omitempty"`
	SandboxUrl       string `json:"sandbox_url,omitempty"`
	PaidAt           string `json:"paid_at,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

func (p *Payment) GetId() uint64 {
	if p == nil {
		return 0
	}
	return p.Id
}

func (p *Payment) GetCheckoutUrl() string {
	if p == nil {
		return ""
	}
	return p.CheckoutUrl
}

type PaymentEnvelopeResponse struct {
	Payment *Payment `json:"payment"`
}

func (r *PaymentEnvelopeResponse) GetPayment() *Payment {
	if r == nil {
		return nil
	}
	return r.Payment
}

// GatewayNotificationRequest is an inbound webhook. Payload keeps the raw
// body so the signature can be checked against exactly what was sent.
type GatewayNotificationRequest struct {
	Gateway   string
	Type      string
	Action    string
	DataId    string
	Signature string
	Payload   []byte
}

func (r *GatewayNotificationRequest) GetGateway() string {
	if r == nil {
		return ""
	}
	return r.Gateway
}

func (r *GatewayNotificationRequest) GetType() string {
	if r == nil {
		return ""
	}
	return r.Type
}

func (r *GatewayNotificationRequest) GetDataId() string {
	if r == nil {
		return ""
	}
	return r.DataId
}

func (r *GatewayNotificationRequest) GetSignature() string {
	if r == nil {
		return ""
	}
	return r.Signature
}

func (r *GatewayNotificationRequest) GetPayload() []byte {
	if r == nil {
		return nil
	}
	return r.Payload
}

type notificationBody struct {
	ID     flexibleID `json:"id"`
	Type   string     `json:"type"`
	Topic  string     `json:"topic"`
	Action string     `json:"action"`
	Data   struct {
		ID flexibleID `json:"id"`
	} `json:"data"`
}

// flexibleID accepts ids sent either as JSON strings or numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

// MaxNotificationBodyBytes bounds what a webhook delivery may send.
const MaxNotificationBodyBytes = 64 << 10

var ErrNotificationTooLarge = errors.New("notification body is too large")

// NewGatewayNotificationRequestFromContext reads the notification from the
// JSON body and falls back to the query string (type or topic, data.id or
// id) for fields the body does not carry. A malformed body is not an error;
// the raw bytes are still kept for the audit log.
func NewGatewayNotificationRequestFromContext(ctx echo.Context) (*GatewayNotificationRequest, error) {
	rawBody, err := io.ReadAll(io.LimitReader(ctx.Request().Body, MaxNotificationBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(rawBody) > MaxNotificationBodyBytes {
		return nil, ErrNotificationTooLarge
	}

	req := &GatewayNotificationRequest{
		Gateway:   strings.TrimSpace(strings.ToLower(ctx.Param("gateway"))),
		Signature: strings.TrimSpace(ctx.Request().Header.Get(SignatureHeader)),
		Payload:   rawBody,
	}

	var body notificationBody
	if len(rawBody) > 0 && json.Unmarshal(rawBody, &body) == nil {
		req.Type = firstNonEmpty(body.Type, body.Topic)
		req.Action = strings.TrimSpace(body.Action)
		req.DataId = firstNonEmpty(string(body.Data.ID), string(body.ID))
	}
	if req.Type == "" {
		req.Type = firstNonEmpty(ctx.QueryParam("type"), ctx.QueryParam("topic"))
	}
	if req.DataId == "" {
		req.DataId = firstNonEmpty(ctx.QueryParam("data.id"), ctx.QueryParam("id"))
	}

	return req, nil
}

type WebhookAckResponse struct {
	Status    string `json:"status"`
	Processed bool   `json:"processed"`
	Error     string `json:"error,omitempty"`
}

type CommissionTotalRequest struct {
	Start *time.Time
	End   *time.Time
}

func (r *CommissionTotalRequest) GetStart() *time.Time {
	if r == nil {
		return nil
	}
	return r.Start
}

func (r *CommissionTotalRequest) GetEnd() *time.Time {
	if r == nil {
		return nil
	}
	return r.End
}

func NewCommissionTotalRequestFromContext(ctx echo.Context) (*CommissionTotalRequest, error) {
	req := &CommissionTotalRequest{}
	for name, target := range map[string]**time.Time{"start": &req.Start, "end": &req.End} {
		raw := strings.TrimSpace(ctx.QueryParam(name))
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, err
		}
		parsed = parsed.UTC()
		*target = &parsed
	}
	return req, nil
}

func (r *CommissionTotalRequest) Validate() error {
	if r.GetStart() != nil && r.GetEnd() != nil && r.GetStart().After(*r.GetEnd()) {
		return errors.New("start must not be after end")
	}
	return nil
}

type CommissionTotalResponse struct {
	TotalCents int64  `json:"total_cents"`
	Start      string `json:"start,omitempty"`
	End        string `json:"end,omitempty"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

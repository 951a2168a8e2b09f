package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const MercadoPagoName = "mercadopago"

type MercadoPagoConfig struct {
	AccessToken               string
	WebhookSecret             string
	BaseURL                   string
	NotificationURL           string
	SignatureToleranceSeconds int64
	HTTPTimeout               time.Duration
}

type MercadoPagoGateway struct {
	cfg    MercadoPagoConfig
	client *http.Client
	now    func() time.Time
}

func NewMercadoPagoGateway(cfg MercadoPagoConfig) *MercadoPagoGateway {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.SignatureToleranceSeconds <= 0 {
		cfg.SignatureToleranceSeconds = 300
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mercadopago.com"
	}

	return &MercadoPagoGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

func (g *MercadoPagoGateway) Name() string {
	return MercadoPagoName
}

func (g *MercadoPagoGateway) CreateCheckout(ctx context.Context, input *CheckoutInput) (*Checkout, error) {
	if strings.TrimSpace(g.cfg.AccessToken) == "" {
		return nil, ErrNotConfigured
	}
	if err := validateReturnURLs(input.ReturnURLs, input.AutoReturn); err != nil {
		return nil, err
	}

	body := preferenceRequest{
		Items: []preferenceItem{{
			Title:      input.Description,
			Quantity:   1,
			UnitPrice:  json.Number(amountFromCents(input.AmountCents).StringFixed(2)),
			CurrencyID: strings.ToUpper(input.Currency),
		}},
		ExternalReference: input.ExternalReference,
		NotificationURL:   g.cfg.NotificationURL,
	}
	if input.PayerEmail != nil && strings.TrimSpace(*input.PayerEmail) != "" {
		body.Payer = &preferencePayer{Email: strings.TrimSpace(*input.PayerEmail)}
	}
	if !input.ReturnURLs.empty() {
		body.BackURLs = &preferenceBackURLs{
			Success: input.ReturnURLs.Success,
			Pending: input.ReturnURLs.Pending,
			Failure: input.ReturnURLs.Failure,
		}
		if input.AutoReturn {
			body.AutoReturn = "approved"
		}
	}

	var created preferencePayload
	if err := g.doJSON(ctx, http.MethodPost, "/checkout/preferences", body, &created); err != nil {
		return nil, err
	}
	if strings.TrimSpace(created.ID) == "" {
		return nil, errors.New("mercadopago preference id missing")
	}

	return &Checkout{
		CheckoutID:  created.ID,
		CheckoutURL: created.InitPoint,
		SandboxURL:  created.SandboxInitPoint,
	}, nil
}

func (g *MercadoPagoGateway) FetchPayment(ctx context.Context, paymentID string) (*PaymentRecord, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, ErrNotFound
	}

	var raw json.RawMessage
	if err := g.doJSON(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &raw); err != nil {
		return nil, err
	}
	return decodePaymentRecord(raw)
}

func (g *MercadoPagoGateway) FetchMerchantOrder(ctx context.Context, orderID string) (*MerchantOrderRecord, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, ErrNotFound
	}

	var raw json.RawMessage
	if err := g.doJSON(ctx, http.MethodGet, "/merchant_orders/"+url.PathEscape(orderID), nil, &raw); err != nil {
		return nil, err
	}

	var payload struct {
		ID                json.Number     `json:"id"`
		Status            string          `json:"status"`
		ExternalReference string          `json:"external_reference"`
		PreferenceID      string          `json:"preference_id"`
		TotalAmount       decimal.Decimal `json:"total_amount"`
		PaidAmount        decimal.Decimal `json:"paid_amount"`
		Payments          []struct {
			ID json.Number `json:"id"`
		} `json:"payments"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}

	record := &MerchantOrderRecord{
		ID:                payload.ID.String(),
		Status:            payload.Status,
		ExternalReference: payload.ExternalReference,
		PreferenceID:      payload.PreferenceID,
		TotalAmount:       payload.TotalAmount,
		PaidAmount:        payload.PaidAmount,
		PaymentIDs:        make([]string, 0, len(payload.Payments)),
		Raw:               raw,
	}
	for _, p := range payload.Payments {
		record.PaymentIDs = append(record.PaymentIDs, p.ID.String())
	}
	return record, nil
}

func (g *MercadoPagoGateway) FetchPreference(ctx context.Context, preferenceID string) (*PreferenceRecord, error) {
	if strings.TrimSpace(preferenceID) == "" {
		return nil, ErrNotFound
	}

	var raw json.RawMessage
	if err := g.doJSON(ctx, http.MethodGet, "/checkout/preferences/"+url.PathEscape(preferenceID), nil, &raw); err != nil {
		return nil, err
	}

	var payload preferencePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &PreferenceRecord{
		ID:                payload.ID,
		ExternalReference: payload.ExternalReference,
		CheckoutURL:       payload.InitPoint,
		SandboxURL:        payload.SandboxInitPoint,
		Raw:               raw,
	}, nil
}

func (g *MercadoPagoGateway) SearchPaymentsByExternalReference(ctx context.Context, reference string) ([]*PaymentRecord, error) {
	query := url.Values{}
	query.Set("external_reference", reference)
	query.Set("sort", "date_created")
	query.Set("criteria", "desc")

	var payload struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := g.doJSON(ctx, http.MethodGet, "/v1/payments/search?"+query.Encode(), nil, &payload); err != nil {
		return nil, err
	}

	records := make([]*PaymentRecord, 0, len(payload.Results))
	for _, raw := range payload.Results {
		record, err := decodePaymentRecord(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (g *MercadoPagoGateway) VerifySignature(payload []byte, signatureHeader string) bool {
	return verifyPayloadSignature(payload, signatureHeader, g.cfg.WebhookSecret, g.cfg.SignatureToleranceSeconds, g.now())
}

func (g *MercadoPagoGateway) doJSON(ctx context.Context, method, path string, in interface{}, out interface{}) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.AccessToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status=%d body=%s", ErrUnavailable, resp.StatusCode, string(respBody))
	case resp.StatusCode >= 400:
		return fmt.Errorf("mercadopago request failed: path=%s status=%d body=%s", path, resp.StatusCode, string(respBody))
	}

	return json.Unmarshal(respBody, out)
}

func decodePaymentRecord(raw json.RawMessage) (*PaymentRecord, error) {
	var payload struct {
		ID                json.Number     `json:"id"`
		Status            string          `json:"status"`
		StatusDetail      string          `json:"status_detail"`
		ExternalReference string          `json:"external_reference"`
		TransactionAmount decimal.Decimal `json:"transaction_amount"`
		CurrencyID        string          `json:"currency_id"`
		DateCreated       *time.Time      `json:"date_created"`
		DateApproved      *time.Time      `json:"date_approved"`
		FeeDetails        []struct {
			Amount decimal.Decimal `json:"amount"`
		} `json:"fee_details"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}

	fees := decimal.Zero
	for _, fee := range payload.FeeDetails {
		fees = fees.Add(fee.Amount)
	}

	return &PaymentRecord{
		ID:                payload.ID.String(),
		Status:            payload.Status,
		StatusDetail:      payload.StatusDetail,
		ExternalReference: payload.ExternalReference,
		AmountCents:       centsFromAmount(payload.TransactionAmount),
		Currency:          payload.CurrencyID,
		FeeCents:          centsFromAmount(fees),
		CreatedAt:         payload.DateCreated,
		ApprovedAt:        payload.DateApproved,
		Raw:               raw,
	}, nil
}

// validateReturnURLs rejects loopback return URLs when auto-return is on;
// the gateway refuses to redirect to them.
func validateReturnURLs(urls ReturnURLs, autoReturn bool) error {
	if !autoReturn {
		return nil
	}
	if strings.TrimSpace(urls.Success) == "" {
		return fmt.Errorf("%w: auto-return needs a success url", ErrInvalidCheckoutConfig)
	}
	for _, raw := range []string{urls.Success, urls.Pending, urls.Failure} {
		if raw == "" {
			continue
		}
		if isLoopbackURL(raw) {
			return fmt.Errorf("%w: loopback return url %q with auto-return", ErrInvalidCheckoutConfig, raw)
		}
	}
	return nil
}

func isLoopbackURL(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (u ReturnURLs) empty() bool {
	return u.Success == "" && u.Pending == "" && u.Failure == ""
}

type preferenceRequest struct {
	Items             []preferenceItem    `json:"items"`
	ExternalReference string              `json:"external_reference"`
	Payer             *preferencePayer    `json:"payer,omitempty"`
	BackURLs          *preferenceBackURLs `json:"back_urls,omitempty"`
	AutoReturn        string              `json:"auto_return,omitempty"`
	NotificationURL   string              `json:"notification_url,omitempty"`
}

type preferenceItem struct {
	Title      string      `json:"title"`
	Quantity   int         `json:"quantity"`
	UnitPrice  json.Number `json:"unit_price"`
	CurrencyID string      `json:"currency_id"`
}

type preferencePayer struct {
	Email string `json:"email"`
}

type preferenceBackURLs struct {
	Success string `json:"success,omitempty"`
	Pending string `json:"pending,omitempty"`
	Failure string `json:"failure,omitempty"`
}

type preferencePayload struct {
	ID                string `json:"id"`
	ExternalReference string `json:"external_reference"`
	InitPoint         string `json:"init_point"`
	SandboxInitPoint  string `json:"sandbox_init_point"`
}

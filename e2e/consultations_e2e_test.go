//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-consultations/app/middleware"
	"github.com/vibast-solutions/ms-go-consultations/app/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	defaultConsultationsHTTPBase = "http://localhost:48081"
	defaultConsultationsGRPCAddr = "localhost:49091"
)

type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string) *httpClient {
	return &httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type requestOptions struct {
	apiKey    string
	bearer    string
	requestID bool
}

func (c *httpClient) do(t *testing.T, method, path string, body any, opts requestOptions) (*http.Response, []byte) {
	t.Helper()

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json marshal failed: %v", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if opts.requestID {
		req.Header.Set("X-Request-ID", fmt.Sprintf("e2e-http-%d", time.Now().UnixNano()))
	}
	if opts.apiKey != "" {
		req.Header.Set("X-API-Key", opts.apiKey)
	}
	if opts.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+opts.bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("http request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response failed: %v", err)
	}

	return resp, bodyBytes
}

func (c *httpClient) doAs(t *testing.T, method, path string, body any, bearer string) (*http.Response, []byte) {
	return c.do(t, method, path, body, requestOptions{apiKey: consultationsCallerAPIKey(), bearer: bearer, requestID: true})
}

func issueToken(t *testing.T, userID uint64, role string) string {
	t.Helper()
	token, err := middleware.NewIdentity(consultationsJWTSecret()).Issue(middleware.Caller{UserID: userID, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}
	return token
}

func waitForHTTP(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}
	for time.Now().Before(deadline) {
		req, _ := http.NewRequest(http.MethodGet, baseURL+"/health", nil)
		req.Header.Set("X-Request-ID", fmt.Sprintf("wait-http-%d", time.Now().UnixNano()))
		req.Header.Set("X-API-Key", consultationsCallerAPIKey())
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("http service not ready at %s", baseURL)
}

func waitForGRPC(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("grpc service not ready at %s", addr)
}

func TestConsultationsE2E(t *testing.T) {
	httpBase := envOrDefault("CONSULTATIONS_HTTP_URL", defaultConsultationsHTTPBase)
	grpcAddr := envOrDefault("CONSULTATIONS_GRPC_ADDR", defaultConsultationsGRPCAddr)

	if err := waitForHTTP(httpBase, 30*time.Second); err != nil {
		t.Fatalf("http not ready: %v", err)
	}
	if err := waitForGRPC(grpcAddr, 30*time.Second); err != nil {
		t.Fatalf("grpc not ready: %v", err)
	}

	client := newHTTPClient(httpBase)
	clientToken := issueToken(t, 501, middleware.RoleClient)
	adminToken := issueToken(t, 1, middleware.RoleAdmin)

	t.Run("HTTPMissingRequestID", func(t *testing.T) {
		resp, _ := client.do(t, http.MethodGet, "/health", nil, requestOptions{apiKey: consultationsCallerAPIKey()})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for missing x-request-id, got %d", resp.StatusCode)
		}
	})

	t.Run("HTTPUnauthorizedMissingAPIKey", func(t *testing.T) {
		resp, _ := client.do(t, http.MethodGet, "/health", nil, requestOptions{requestID: true})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for missing x-api-key, got %d", resp.StatusCode)
		}
	})

	t.Run("HTTPForbiddenInsufficientAccess", func(t *testing.T) {
		resp, _ := client.do(t, http.MethodGet, "/health", nil, requestOptions{apiKey: consultationsNoAccessAPIKey(), requestID: true})
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403 for insufficient access, got %d", resp.StatusCode)
		}
	})

	t.Run("HTTPMissingBearer", func(t *testing.T) {
		resp, _ := client.doAs(t, http.MethodGet, "/bookings/1", nil, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 without bearer token, got %d", resp.StatusCode)
		}
	})

	t.Run("HTTPValidationCreate", func(t *testing.T) {
		resp, body := client.doAs(t, http.MethodPost, "/bookings", map[string]any{}, clientToken)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for invalid create request, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("HTTPCreateUnknownProfessional", func(t *testing.T) {
		resp, body := client.doAs(t, http.MethodPost, "/bookings", map[string]any{
			"professional_id":  999999,
			"scheduled_at":     time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
			"duration_minutes": 30,
		}, clientToken)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404 for unknown professional, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("HTTPGetNotFound", func(t *testing.T) {
		resp, body := client.doAs(t, http.MethodGet, "/bookings/999999", nil, clientToken)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("HTTPJoinNotFound", func(t *testing.T) {
		resp, body := client.doAs(t, http.MethodGet, "/bookings/999999/join", nil, clientToken)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("HTTPProfessionalLoadNotFound", func(t *testing.T) {
		resp, body := client.doAs(t, http.MethodGet, "/professionals/999999/load", nil, clientToken)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("HTTPCommissionsRequireAdmin", func(t *testing.T) {
		resp, _ := client.doAs(t, http.MethodGet, "/commissions/total", nil, clientToken)
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403 for non-admin, got %d", resp.StatusCode)
		}
	})

	t.Run("HTTPCommissionsTotal", func(t *testing.T) {
		resp, body := client.doAs(t, http.MethodGet, "/commissions/total", nil, adminToken)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", resp.StatusCode, string(body))
		}
		var payload types.CommissionTotalResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal total failed: %v body=%s", err, string(body))
		}
	})

	t.Run("HTTPWebhookInvalidSignatureIsAcknowledged", func(t *testing.T) {
		resp, body := client.do(t, http.MethodPost, "/webhooks/gateways/mercadopago?type=payment&data.id=123", map[string]any{
			"type": "payment",
			"data": map[string]any{"id": "123"},
		}, requestOptions{})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", resp.StatusCode, string(body))
		}
		var ack types.WebhookAckResponse
		if err := json.Unmarshal(body, &ack); err != nil {
			t.Fatalf("unmarshal ack failed: %v body=%s", err, string(body))
		}
		if ack.Processed || ack.Error == "" {
			t.Fatalf("expected unprocessed ack with error, got %+v", ack)
		}
	})

	t.Run("GRPCHealthWithoutCredentials", func(t *testing.T) {
		conn, err := grpc.Dial(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			t.Fatalf("grpc dial failed: %v", err)
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
		if err != nil {
			t.Fatalf("grpc health check failed: %v", err)
		}
		if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("expected SERVING, got %v", res.GetStatus())
		}
	})
}

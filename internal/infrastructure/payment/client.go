package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	domain "github.com/smartuniversity/marketplace-service/internal/domain/payment"
	"github.com/smartuniversity/marketplace-service/internal/observability"
	"github.com/smartuniversity/marketplace-service/internal/observability/logctx"
)

const (
	headerTenantID       = "X-Tenant-Id"
	headerIdempotencyKey = "Idempotency-Key"
)

// Client talks to the payment authority over HTTP/JSON. Transport failures,
// timeouts, and 5xx responses map to payment.ErrServiceUnavailable so the
// resilience layer can retry them; an explicit decline maps to
// payment.ErrDeclined and is final.
type Client struct {
	baseURL string
	http    *http.Client
	log     observability.Logger

	requests observability.Counter
	duration observability.Histogram
}

func NewClient(baseURL string, timeout time.Duration, logger observability.Logger, requests observability.Counter, duration observability.Histogram) *Client {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if requests == nil {
		requests = observability.NopCounter()
	}
	if duration == nil {
		duration = observability.NopHistogram()
	}
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
		log:      logger.With(observability.F("component", "payment_client")),
		requests: requests,
		duration: duration,
	}
}

type authorizeRequest struct {
	OrderID        string `json:"order_id"`
	AmountCents    int64  `json:"amount_cents"`
	IdempotencyKey string `json:"idempotency_key"`
}

type authorizeResponse struct {
	Status            string `json:"status"`
	ProviderReference string `json:"provider_reference"`
	Message           string `json:"message"`
}

func (c *Client) Authorize(ctx context.Context, tenantID, orderID string, amountCents int64, idempotencyKey string) (domain.Authorization, error) {
	body, err := json.Marshal(authorizeRequest{
		OrderID:        orderID,
		AmountCents:    amountCents,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return domain.Authorization{}, fmt.Errorf("payment client: marshal: %w", err)
	}

	resp, err := c.post(ctx, tenantID, idempotencyKey, c.baseURL+"/payments/authorize", body, "authorize")
	if err != nil {
		return domain.Authorization{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		return domain.Authorization{}, fmt.Errorf("%w: authority returned %d", domain.ErrServiceUnavailable, resp.StatusCode)
	}

	var out authorizeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return domain.Authorization{}, fmt.Errorf("%w: decode response: %v", domain.ErrServiceUnavailable, err)
	}

	switch out.Status {
	case "APPROVED":
		return domain.Authorization{ProviderReference: out.ProviderReference}, nil
	case "DECLINED":
		return domain.Authorization{}, fmt.Errorf("%w: %s", domain.ErrDeclined, out.Message)
	default:
		return domain.Authorization{}, fmt.Errorf("%w: unexpected status %q", domain.ErrServiceUnavailable, out.Status)
	}
}

func (c *Client) Cancel(ctx context.Context, tenantID, providerReference string) error {
	resp, err := c.post(ctx, tenantID, "", c.baseURL+"/payments/cancel/"+providerReference, nil, "cancel")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: authority returned %d", domain.ErrServiceUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, tenantID, idempotencyKey, url string, body []byte, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("payment client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerTenantID, tenantID)
	if idempotencyKey != "" {
		req.Header.Set(headerIdempotencyKey, idempotencyKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.requests.Add(1,
		observability.L("peer", "payment_authority"),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	)
	c.duration.Observe(time.Since(start).Seconds(),
		observability.L("peer", "payment_authority"),
		observability.L("endpoint", endpoint),
	)

	if err != nil {
		logger := logctx.FromOr(ctx, c.log)
		logger.Warn("payment_request_failed",
			observability.F("endpoint", endpoint),
			observability.F("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	return resp, nil
}

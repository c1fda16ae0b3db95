package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ErrGatewayRejected marks a refund the processor answered and declined.
// It does not count against the circuit breaker and is not worth retrying.
var ErrGatewayRejected = errors.New("gateway rejected refund")

// GatewayRefundRequest is sent to the payment processor to reverse a charge.
type GatewayRefundRequest struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
}

// GatewayRefundResponse is returned by the processor.
type GatewayRefundResponse struct {
	Status  string `json:"status"` // "succeeded" | "failed"
	Message string `json:"message"`
}

// GatewayClient calls the external payment processor for refunds only.
// Every call is bounded by the client timeout and guarded by a circuit
// breaker, so a processor outage fails fast instead of stacking requests.
// It implements service.PaymentGateway.
type GatewayClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cb         *CircuitBreaker
}

func NewGatewayClient(baseURL, apiKey string, timeout time.Duration, cb *CircuitBreaker) *GatewayClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cb == nil {
		cb = NewCircuitBreaker(DefaultCBConfig())
	}
	return &GatewayClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		cb:         cb,
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (c *GatewayClient) Breaker() *CircuitBreaker { return c.cb }

// Refund reverses amount on the charge identified by reference.
func (c *GatewayClient) Refund(ctx context.Context, reference string, amount decimal.Decimal) error {
	return c.cb.Execute(func() error {
		return c.refund(ctx, reference, amount)
	})
}

func (c *GatewayClient) refund(ctx context.Context, reference string, amount decimal.Decimal) error {
	body, err := json.Marshal(GatewayRefundRequest{Reference: reference, Amount: amount})
	if err != nil {
		return fmt.Errorf("gateway: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/refunds", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gateway: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: returned %d", ErrGatewayRejected, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("gateway: returned %d", resp.StatusCode)
	}

	var result GatewayRefundResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("gateway: decode response: %w", err)
	}
	if result.Status != "succeeded" {
		return fmt.Errorf("%w: %s: %s", ErrGatewayRejected, result.Status, result.Message)
	}
	return nil
}

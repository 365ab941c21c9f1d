package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrFacilitator marks a facilitator that could not be reached or answered
// with an unexpected status.
var ErrFacilitator = errors.New("payment facilitator unavailable")

// VerifyResponse is the facilitator's verdict on a signed payment.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the outcome of broadcasting a verified payment.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

// Facilitator verifies and settles x402 payments.
type Facilitator interface {
	Verify(ctx context.Context, p *Payload, req Requirements) (*VerifyResponse, error)
	Settle(ctx context.Context, p *Payload, req Requirements) (*SettleResponse, error)
}

type facilitatorRequest struct {
	X402Version         int          `json:"x402Version"`
	PaymentPayload      *Payload     `json:"paymentPayload"`
	PaymentRequirements Requirements `json:"paymentRequirements"`
}

// FacilitatorClient talks to an x402 facilitator over HTTP.
type FacilitatorClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewFacilitatorClient creates a client for the facilitator at baseURL.
func NewFacilitatorClient(baseURL string) *FacilitatorClient {
	return &FacilitatorClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Verify sends POST /verify. It never moves funds.
func (c *FacilitatorClient) Verify(ctx context.Context, p *Payload, req Requirements) (*VerifyResponse, error) {
	var out VerifyResponse
	if err := c.post(ctx, "/verify", p, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle sends POST /settle, which charges the payer.
func (c *FacilitatorClient) Settle(ctx context.Context, p *Payload, req Requirements) (*SettleResponse, error) {
	var out SettleResponse
	if err := c.post(ctx, "/settle", p, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *FacilitatorClient) post(ctx context.Context, path string, p *Payload, req Requirements, out any) error {
	body, err := json.Marshal(facilitatorRequest{X402Version: Version, PaymentPayload: p, PaymentRequirements: req})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFacilitator, path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	// facilitators report declines in the body, sometimes with a 400
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return fmt.Errorf("%w: %s returned %d: %s", ErrFacilitator, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %s: failed to parse response: %v", ErrFacilitator, path, err)
	}
	return nil
}

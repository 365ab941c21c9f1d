package payout

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

// ErrRejected marks a transfer the payment service refused outright.
// Retrying the same request will not succeed.
var ErrRejected = errors.New("transfer rejected")

// TransferRequest is one on-chain transfer.
type TransferRequest struct {
	To             string `json:"to"`
	Amount         string `json:"amount"`
	Asset          string `json:"asset"`
	Network        string `json:"network"`
	IdempotencyKey string `json:"idempotency_key"`
}

type transferResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error"`
}

// TransferClient calls the wallet service that signs and broadcasts transfers.
type TransferClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewTransferClient creates a client for the wallet service at baseURL.
func NewTransferClient(baseURL, token string) *TransferClient {
	return &TransferClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Transfer sends POST /transfers and returns the transaction hash.
// The idempotency key lets the wallet service drop a repeated transfer.
func (c *TransferClient) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal transfer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("transfer request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var out transferResponse
	_ = json.Unmarshal(respBody, &out)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		return "", fmt.Errorf("%w (%d): %s", ErrRejected, resp.StatusCode, reason(out.Error, respBody))
	default:
		return "", fmt.Errorf("transfer service returned %d: %s", resp.StatusCode, reason(out.Error, respBody))
	}

	if out.TxHash == "" {
		return "", errors.New("transfer service returned no tx_hash")
	}
	return out.TxHash, nil
}

func reason(msg string, body []byte) string {
	if msg != "" {
		return msg
	}
	return strings.TrimSpace(string(body))
}

package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"moltstudio/pkg/api"
)

// StudioClient handles API calls to the studio controller.
type StudioClient struct {
	BaseURL    string
	Secret     string
	HTTPClient *http.Client
}

// NewStudioClient creates a new client with the given base URL and internal secret.
func NewStudioClient(baseURL, secret string) *StudioClient {
	return &StudioClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Secret:  secret,
		HTTPClient: &http.Client{
			// Production ticks wait for a whole generation batch.
			Timeout: 30 * time.Minute,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// VotingTick sends POST /internal/ticks/voting.
func (c *StudioClient) VotingTick() (*api.VotingTickResponse, error) {
	return call[api.VotingTickResponse](c, http.MethodPost, "/internal/ticks/voting", nil)
}

// ProductionTick sends POST /internal/ticks/production.
func (c *StudioClient) ProductionTick() (*api.ProductionTickResponse, error) {
	return call[api.ProductionTickResponse](c, http.MethodPost, "/internal/ticks/production", nil)
}

// PayoutTick sends POST /internal/ticks/payouts.
func (c *StudioClient) PayoutTick() (*api.PayoutTickResponse, error) {
	return call[api.PayoutTickResponse](c, http.MethodPost, "/internal/ticks/payouts", nil)
}

// OpenPeriod sends POST /internal/periods/open.
func (c *StudioClient) OpenPeriod(req api.OpenPeriodRequest) (*api.PeriodResponse, error) {
	return call[api.PeriodResponse](c, http.MethodPost, "/internal/periods/open", req)
}

// ClosePeriod sends POST /internal/periods/close.
func (c *StudioClient) ClosePeriod() (*api.ClosePeriodResponse, error) {
	return call[api.ClosePeriodResponse](c, http.MethodPost, "/internal/periods/close", nil)
}

// Produce sends POST /internal/scripts/{id}/produce.
func (c *StudioClient) Produce(scriptID string) (*api.ProduceResponse, error) {
	return call[api.ProduceResponse](c, http.MethodPost, "/internal/scripts/"+url.PathEscape(scriptID)+"/produce", nil)
}

// ResetEpisode sends POST /internal/episodes/{id}/reset.
func (c *StudioClient) ResetEpisode(episodeID string) (*api.ResetResponse, error) {
	return call[api.ResetResponse](c, http.MethodPost, "/internal/episodes/"+url.PathEscape(episodeID)+"/reset", nil)
}

// ResetSeries sends POST /internal/series/{id}/reset.
func (c *StudioClient) ResetSeries(seriesID string) (*api.ResetResponse, error) {
	return call[api.ResetResponse](c, http.MethodPost, "/internal/series/"+url.PathEscape(seriesID)+"/reset", nil)
}

// ListJobs sends GET /internal/jobs.
func (c *StudioClient) ListJobs(status string, limit int) (*api.ListJobsResponse, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/internal/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return call[api.ListJobsResponse](c, http.MethodGet, path, nil)
}

// Leaderboard sends GET /episodes/{id}/clips.
func (c *StudioClient) Leaderboard(episodeID string) (*api.LeaderboardResponse, error) {
	return call[api.LeaderboardResponse](c, http.MethodGet, "/episodes/"+url.PathEscape(episodeID)+"/clips", nil)
}

func call[T any](c *StudioClient, method, path string, body any) (*T, error) {
	var result T
	if err := c.do(method, path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *StudioClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Secret))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage prefers the JSON error field and falls back to the raw body.
func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

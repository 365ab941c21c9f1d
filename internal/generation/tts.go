package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// TTSConfig configures the async-invoke speech client.
type TTSConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	PollInterval time.Duration
	MaxWait      time.Duration
	RatePerSec   float64
	HTTPClient   *http.Client
}

// TTSClient submits narration to an async-invoke inference API and polls for the result.
type TTSClient struct {
	cfg     TTSConfig
	http    *http.Client
	limiter *rate.Limiter
}

// NewTTSClient applies defaults and returns a client.
func NewTTSClient(cfg TTSConfig) *TTSClient {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 10 * time.Minute
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TTSClient{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
	}
}

type asyncInvokeRequest struct {
	ModelID string            `json:"model_id"`
	Input   map[string]string `json:"input"`
	Tags    []asyncInvokeTag  `json:"tags,omitempty"`
}

type asyncInvokeTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type asyncInvokeResult struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	AudioURL  string `json:"audio_url"`
	Output    struct {
		AudioURL string `json:"audio_url"`
	} `json:"output"`
	Error string `json:"error"`
}

// Synthesize converts narration text to speech and returns the audio URL.
// It blocks until the request completes, fails, or MaxWait elapses.
func (c *TTSClient) Synthesize(ctx context.Context, episodeID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", Terminal("narration text is empty")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", Retryable("rate limiter: %v", err)
	}

	var submitted asyncInvokeResult
	err := c.do(ctx, http.MethodPost, "/v1/async-invoke", asyncInvokeRequest{
		ModelID: c.cfg.Model,
		Input:   map[string]string{"text": text},
		Tags:    []asyncInvokeTag{{Key: "episode_id", Value: episodeID}},
	}, &submitted)
	if err != nil {
		return "", err
	}
	if submitted.RequestID == "" {
		return "", Terminal("tts submit returned no request_id")
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.MaxWait)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", Retryable("tts request %s did not finish within %s", submitted.RequestID, c.cfg.MaxWait)
		case <-ticker.C:
		}

		var status asyncInvokeResult
		if err := c.do(waitCtx, http.MethodGet, "/v1/async-invoke/"+submitted.RequestID+"/status", nil, &status); err != nil {
			if Classify(err) == OutcomeTerminal {
				return "", err
			}
			// transient poll errors: keep polling until MaxWait
			continue
		}

		switch strings.ToUpper(status.Status) {
		case "COMPLETE", "COMPLETED":
			return c.fetchResult(waitCtx, submitted.RequestID)
		case "FAILED", "ERROR":
			return "", Retryable("tts request %s failed: %s", submitted.RequestID, status.Error)
		}
	}
}

func (c *TTSClient) fetchResult(ctx context.Context, requestID string) (string, error) {
	var result asyncInvokeResult
	if err := c.do(ctx, http.MethodGet, "/v1/async-invoke/"+requestID, nil, &result); err != nil {
		return "", err
	}
	if result.AudioURL != "" {
		return result.AudioURL, nil
	}
	if result.Output.AudioURL != "" {
		return result.Output.AudioURL, nil
	}
	return "", Terminal("tts request %s completed without an audio url", requestID)
}

func (c *TTSClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return Terminal("encode tts request: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return Terminal("build tts request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Retryable("tts %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("tts", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return Retryable("decode tts response: %v", err)
	}
	return nil
}


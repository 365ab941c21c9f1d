package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultNegativePrompt = "worst quality, inconsistent motion, blurry, jittery, distorted"

// VideoConfig configures the clip rendering client.
type VideoConfig struct {
	URL        string
	Timeout    time.Duration
	RatePerSec float64
	HTTPClient *http.Client
}

// VideoClient renders clips on the video generation endpoint.
type VideoClient struct {
	url     string
	http    *http.Client
	limiter *rate.Limiter
}

// NewVideoClient applies defaults and returns a client.
func NewVideoClient(cfg VideoConfig) *VideoClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Minute
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &VideoClient{
		url:     cfg.URL,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
	}
}

// VideoRequest is the body of a render call.
type VideoRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	NumFrames      int    `json:"num_frames"`
	FPS            int    `json:"fps"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Seed           int64  `json:"seed"`
}

// Video is a rendered clip.
type Video struct {
	Data            []byte
	DurationSeconds float64
	Width           int
	Height          int
	FPS             int
	Seed            int64
	Model           string
}

type videoResponse struct {
	VideoBase64     string  `json:"video_base64"`
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FPS             int     `json:"fps"`
	Seed            int64   `json:"seed"`
	Model           string  `json:"model"`
	Error           string  `json:"error"`
}

// Render generates a clip for prompt using seed. Unset dimensions default to
// 85 frames of 1280x720 at 24 fps.
func (c *VideoClient) Render(ctx context.Context, r VideoRequest) (*Video, error) {
	if strings.TrimSpace(r.Prompt) == "" {
		return nil, Terminal("prompt is required")
	}
	if r.NegativePrompt == "" {
		r.NegativePrompt = defaultNegativePrompt
	}
	if r.NumFrames == 0 {
		r.NumFrames = 85
	}
	if r.FPS == 0 {
		r.FPS = 24
	}
	if r.Width == 0 || r.Height == 0 {
		r.Width, r.Height = 1280, 720
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, Retryable("rate limiter: %v", err)
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return nil, Terminal("encode video request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, Terminal("build video request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, Retryable("video render: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Retryable("read video response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("video", resp.StatusCode, truncateBody(data))
	}

	var out videoResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, Retryable("decode video response: %v", err)
	}
	if out.Error != "" {
		return nil, Terminal("video render rejected: %s", out.Error)
	}
	if out.VideoBase64 == "" {
		return nil, Terminal("video response has no video data")
	}
	raw, err := base64.StdEncoding.DecodeString(out.VideoBase64)
	if err != nil {
		return nil, Terminal("decode video data: %v", err)
	}

	return &Video{
		Data:            raw,
		DurationSeconds: out.DurationSeconds,
		Width:           out.Width,
		Height:          out.Height,
		FPS:             out.FPS,
		Seed:            out.Seed,
		Model:           out.Model,
	}, nil
}

func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 512 {
		return s[:512]
	}
	return s
}

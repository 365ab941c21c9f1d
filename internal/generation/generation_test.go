package generation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"moltstudio/internal/screenplay"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"terminal marker", Terminal("bad input"), OutcomeTerminal},
		{"wrapped terminal", fmt.Errorf("episode 3: %w", Terminal("bad input")), OutcomeTerminal},
		{"invalid script", &screenplay.ValidationError{Field: "title", Reason: "required"}, OutcomeTerminal},
		{"retryable marker", Retryable("429"), OutcomeRetryable},
		{"deadline", context.DeadlineExceeded, OutcomeRetryable},
		{"unknown", errors.New("connection reset by peer"), OutcomeRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestStatusError(t *testing.T) {
	for code, want := range map[int]Outcome{
		http.StatusBadRequest:          OutcomeTerminal,
		http.StatusUnauthorized:        OutcomeTerminal,
		http.StatusUnprocessableEntity: OutcomeTerminal,
		http.StatusTooManyRequests:     OutcomeRetryable,
		http.StatusRequestTimeout:      OutcomeRetryable,
		http.StatusBadGateway:          OutcomeRetryable,
		http.StatusServiceUnavailable:  OutcomeRetryable,
	} {
		assert.Equalf(t, want, Classify(statusError("tts", code, "")), "status %d", code)
	}
}

func newTTS(url string) *TTSClient {
	return NewTTSClient(TTSConfig{
		BaseURL:      url,
		APIKey:       "key",
		Model:        "tts-model",
		PollInterval: 5 * time.Millisecond,
		MaxWait:      500 * time.Millisecond,
		RatePerSec:   1000,
	})
}

func TestSynthesize_PollsUntilComplete(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/async-invoke", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var body asyncInvokeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tts-model", body.ModelID)
		assert.Equal(t, "Once upon a tide.", body.Input["text"])
		assert.Equal(t, []asyncInvokeTag{{Key: "episode_id", Value: "ep-1"}}, body.Tags)
		fmt.Fprint(w, `{"request_id":"req-1"}`)
	})
	mux.HandleFunc("GET /v1/async-invoke/req-1/status", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			fmt.Fprint(w, `{"status":"IN_PROGRESS"}`)
			return
		}
		fmt.Fprint(w, `{"status":"COMPLETE"}`)
	})
	mux.HandleFunc("GET /v1/async-invoke/req-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"output":{"audio_url":"https://cdn.example/ep-1.mp3"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url, err := newTTS(srv.URL).Synthesize(context.Background(), "ep-1", "Once upon a tide.")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/ep-1.mp3", url)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestSynthesize_Failures(t *testing.T) {
	tests := []struct {
		name    string
		submit  int
		status  string
		result  string
		outcome Outcome
	}{
		{"rejected submit", http.StatusUnprocessableEntity, "", "", OutcomeTerminal},
		{"rate limited submit", http.StatusTooManyRequests, "", "", OutcomeRetryable},
		{"upstream failure", http.StatusOK, `{"status":"FAILED","error":"gpu oom"}`, "", OutcomeRetryable},
		{"complete without url", http.StatusOK, `{"status":"COMPLETE"}`, `{}`, OutcomeTerminal},
		{"never finishes", http.StatusOK, `{"status":"QUEUED"}`, "", OutcomeRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("POST /v1/async-invoke", func(w http.ResponseWriter, r *http.Request) {
				if tt.submit != http.StatusOK {
					http.Error(w, "nope", tt.submit)
					return
				}
				fmt.Fprint(w, `{"request_id":"req-2"}`)
			})
			mux.HandleFunc("GET /v1/async-invoke/req-2/status", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.status)
			})
			mux.HandleFunc("GET /v1/async-invoke/req-2", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.result)
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			client := newTTS(srv.URL)
			client.cfg.MaxWait = 50 * time.Millisecond
			_, err := client.Synthesize(context.Background(), "ep-2", "text")
			require.Error(t, err)
			assert.Equal(t, tt.outcome, Classify(err))
		})
	}
}

func TestSynthesize_EmptyTextIsTerminal(t *testing.T) {
	_, err := newTTS("http://unused").Synthesize(context.Background(), "ep", "   ")
	assert.Equal(t, OutcomeTerminal, Classify(err))
}

type fakeAssets struct {
	path, contentType string
	data              []byte
}

func (f *fakeAssets) Upload(_ context.Context, path, contentType string, data []byte) (string, error) {
	f.path, f.contentType, f.data = path, contentType, data
	return "https://storage.example/" + path, nil
}

func TestRenderClip_UploadsDecodedVideo(t *testing.T) {
	clip := []byte("\x00\x00\x00\x18ftypmp42")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req VideoRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a lighthouse at dusk", req.Prompt)
		assert.Equal(t, int64(42), req.Seed)
		assert.Equal(t, 85, req.NumFrames)
		assert.Equal(t, 1280, req.Width)
		json.NewEncoder(w).Encode(videoResponse{
			VideoBase64: base64.StdEncoding.EncodeToString(clip),
			Seed:        42,
			FPS:         24,
		})
	}))
	defer srv.Close()

	assets := &fakeAssets{}
	renderer := NewClipRenderer(NewVideoClient(VideoConfig{URL: srv.URL, RatePerSec: 1000}), assets)

	seriesID := uuid.New()
	url, err := renderer.RenderClip(context.Background(), ClipRequest{
		SeriesID: seriesID, EpisodeNumber: 2, VariantNumber: 3, Prompt: "a lighthouse at dusk", Seed: 42,
	})
	require.NoError(t, err)

	wantPath := fmt.Sprintf("series/%s/episodes/2/variant-3.mp4", seriesID)
	assert.Equal(t, "https://storage.example/"+wantPath, url)
	assert.Equal(t, wantPath, assets.path)
	assert.Equal(t, "video/mp4", assets.contentType)
	assert.Equal(t, clip, assets.data)
}

func TestRenderClip_ErrorBodyIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"prompt is required"}`)
	}))
	defer srv.Close()

	renderer := NewClipRenderer(NewVideoClient(VideoConfig{URL: srv.URL, RatePerSec: 1000}), &fakeAssets{})
	_, err := renderer.RenderClip(context.Background(), ClipRequest{Prompt: "x"})
	assert.Equal(t, OutcomeTerminal, Classify(err))
}

func TestRenderClip_WithoutStorageIsTerminal(t *testing.T) {
	renderer := NewClipRenderer(NewVideoClient(VideoConfig{URL: "http://unused"}), nil)
	_, err := renderer.RenderClip(context.Background(), ClipRequest{Prompt: "x"})
	assert.Equal(t, OutcomeTerminal, Classify(err))
}

func TestSeedFor(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	assert.Equal(t, SeedFor(a), SeedFor(a))
	assert.NotEqual(t, SeedFor(a), SeedFor(b))
	assert.GreaterOrEqual(t, SeedFor(a), int64(0))
}

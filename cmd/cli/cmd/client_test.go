package cmd

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"moltstudio/pkg/api"
)

func TestStudioClient_SendsSecret(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tick-secret" {
			t.Errorf("Authorization = %q, want Bearer tick-secret", got)
		}
		if r.URL.Path != "/internal/ticks/payouts" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(api.PayoutTickResponse{Sent: 2})
	}))
	defer server.Close()

	resp, err := NewStudioClient(server.URL+"/", "tick-secret").PayoutTick()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Sent != 2 {
		t.Errorf("sent = %d, want 2", resp.Sent)
	}
}

func TestStudioClient_APIError(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		wantMsg string
	}{
		{"json error", `{"error":"episode is not failed","code":"CONFLICT"}`, http.StatusConflict, "episode is not failed"},
		{"plain text", "Invalid authorization token\n", http.StatusUnauthorized, "Invalid authorization token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewStudioClient(server.URL, "s").ResetEpisode("ep-1")

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %v", err)
			}
			if apiErr.StatusCode != tt.status || apiErr.Message != tt.wantMsg {
				t.Errorf("got %d %q, want %d %q", apiErr.StatusCode, apiErr.Message, tt.status, tt.wantMsg)
			}
		})
	}
}

func TestStudioClient_ListJobsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "queued" || q.Get("limit") != "5" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(api.ListJobsResponse{Jobs: []api.JobResponse{}})
	}))
	defer server.Close()

	if _, err := NewStudioClient(server.URL, "s").ListJobs("queued", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStudioClient_AcceptsCreated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.OpenPeriodRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Duration != "48h0m0s" {
			t.Errorf("duration = %q, want 48h0m0s", req.Duration)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.PeriodResponse{ID: "p-1", Created: true})
	}))
	defer server.Close()

	resp, err := NewStudioClient(server.URL, "s").OpenPeriod(api.OpenPeriodRequest{Duration: "48h0m0s"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Created || resp.ID != "p-1" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

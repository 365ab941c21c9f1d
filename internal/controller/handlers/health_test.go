package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestProbes(t *testing.T) {
	tests := []struct {
		name           string
		endpoint       string
		pingErr        error
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "Healthz Always OK",
			endpoint:       "/healthz",
			expectedStatus: http.StatusOK,
			expectedBody:   "healthy",
		},
		{
			name:           "Readyz Success",
			endpoint:       "/readyz",
			expectedStatus: http.StatusOK,
			expectedBody:   "ready",
		},
		{
			name:           "Readyz Database Fail",
			endpoint:       "/readyz",
			pingErr:        errors.New("db down"),
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   "Database unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.store.pingErr = tt.pingErr

			req := httptest.NewRequest(http.MethodGet, tt.endpoint, nil)
			rr := httptest.NewRecorder()

			// Route manually since we are testing specific handler functions
			if tt.endpoint == "/healthz" {
				f.h.Healthz(rr, req)
			} else {
				f.h.Readyz(rr, req)
			}

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedBody) {
				t.Errorf("handler returned unexpected body: got %v want substring %v", rr.Body.String(), tt.expectedBody)
			}
		})
	}
}

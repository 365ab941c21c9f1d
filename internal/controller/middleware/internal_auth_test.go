package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireInternalAuth_MissingHeader(t *testing.T) {
	systemSecret := "tick-secret-7"
	middleware := RequireInternalAuth(systemSecret)

	// Dummy handler that should NOT be called
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not have been called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal/ticks/voting", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	if body := rr.Body.String(); body != "Missing authorization header\n" {
		t.Errorf("got body %q, want %q", body, "Missing authorization header\n")
	}
}

func TestRequireInternalAuth_InvalidHeaderFormat(t *testing.T) {
	systemSecret := "tick-secret-7"
	middleware := RequireInternalAuth(systemSecret)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not have been called")
	}))

	invalidHeaders := []string{
		"Basic tick-secret-7",
		"Bearer",
		"Token tick-secret-7",
		"tick-secret-7",
		"Bearer  tick-secret-7", // Double space
	}

	for _, h := range invalidHeaders {
		req := httptest.NewRequest(http.MethodGet, "/internal/ticks/voting", nil)
		req.Header.Set("Authorization", h)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("header %q: got status %d, want %d", h, rr.Code, http.StatusUnauthorized)
		}
	}
}

func TestRequireInternalAuth_InvalidToken(t *testing.T) {
	systemSecret := "correct-secret"
	middleware := RequireInternalAuth(systemSecret)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not have been called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal/ticks/voting", nil)
	req.Header.Set("Authorization", "Bearer wrong-secret")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestRequireInternalAuth_Success(t *testing.T) {
	systemSecret := "super-secret-system-key"
	middleware := RequireInternalAuth(systemSecret)

	called := false
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("success"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal/ticks/voting", nil)
	req.Header.Set("Authorization", "Bearer "+systemSecret)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusOK)
	}
	if !called {
		t.Error("Next handler was not called")
	}
}

func TestRequireInternalAuth_EmptySecretRejectsAll(t *testing.T) {
	middleware := RequireInternalAuth("")

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not have been called")
	}))

	for _, h := range []string{"Bearer ", "Bearer anything"} {
		req := httptest.NewRequest(http.MethodPost, "/internal/ticks/voting", nil)
		req.Header.Set("Authorization", h)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("header %q: got status %d, want %d", h, rr.Code, http.StatusUnauthorized)
		}
	}
}

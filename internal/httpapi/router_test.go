package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthzEndpoint(t *testing.T) {
	r := testRouter("test-secret", time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.handleHealthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := rec.Body.String(); body != "ok" {
		t.Errorf("body = %q, want %q", body, "ok")
	}
}

func TestCreateSession(t *testing.T) {
	r := testRouter("test-secret", time.Hour)
	r.cfg.PublicBaseURL = "https://widget.example.com"

	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	rec := httptest.NewRecorder()
	r.handleCreateSession(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Token     string `json:"token"`
		WSURL     string `json:"ws_url"`
		ExpiresAt string `json:"expires_at"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" {
		t.Error("token is empty")
	}
	if resp.WSURL != "wss://widget.example.com/ws" {
		t.Errorf("ws_url = %q, want %q", resp.WSURL, "wss://widget.example.com/ws")
	}
	if _, err := time.Parse(time.RFC3339, resp.ExpiresAt); err != nil {
		t.Errorf("expires_at = %q, want RFC3339 timestamp", resp.ExpiresAt)
	}

	// The minted token must verify against the same secret.
	if err := r.verifySessionToken(resp.Token); err != nil {
		t.Errorf("verifySessionToken() error = %v", err)
	}
}

func TestCreateSessionWithoutSecret(t *testing.T) {
	r := testRouter("", time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	rec := httptest.NewRecorder()
	r.handleCreateSession(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestCreateSessionRejectsDuringDrain(t *testing.T) {
	r := testRouter("test-secret", time.Hour)
	r.sessions.StartDraining()

	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	rec := httptest.NewRecorder()
	r.handleCreateSession(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestWSURLFromPublicBase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://api.example.com", "wss://api.example.com"},
		{"http://localhost:8080", "ws://localhost:8080"},
		{"api.example.com", "wss://api.example.com"},
	}

	for _, tt := range tests {
		if got := wsURLFromPublicBase(tt.in); got != tt.want {
			t.Errorf("wsURLFromPublicBase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := withCORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight should not reach the next handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/session", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "*")
	}
}

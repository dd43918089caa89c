package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestServeWSRejectsInvalidRequests tests the pre-upgrade validation.
func TestServeWSRejectsInvalidRequests(t *testing.T) {
	hub := NewHub(nil, nil)

	tests := []struct {
		name       string
		method     string
		query      string
		wantStatus int
	}{
		{"post method", http.MethodPost, "role=client&room=r1", http.StatusMethodNotAllowed},
		{"missing role", http.MethodGet, "room=r1", http.StatusBadRequest},
		{"invalid role", http.MethodGet, "role=viewer", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/ws?"+tt.query, nil)
			rec := httptest.NewRecorder()
			hub.ServeWS(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

// TestAdminPageGate tests that the admin page is unreachable without the
// shared passphrase.
func TestAdminPageGate(t *testing.T) {
	webDir := t.TempDir()
	page := []byte("<html>admin console</html>")
	if err := os.WriteFile(filepath.Join(webDir, "admin.html"), page, 0o644); err != nil {
		t.Fatalf("Failed to write test page: %v", err)
	}
	handler := AdminPageHandler("letmein", webDir)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 without passphrase, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/admin?pass=wrong", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 with wrong passphrase, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/admin?pass=letmein", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with correct passphrase, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "admin console") {
		t.Error("Expected admin page content in response")
	}

	// An empty configured passphrase locks the page rather than opening it.
	rec = httptest.NewRecorder()
	AdminPageHandler("", webDir)(rec, httptest.NewRequest(http.MethodGet, "/admin?pass=", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 with empty configured passphrase, got %d", rec.Code)
	}
}

// TestSubscribePushHandler tests push subscription intake.
func TestSubscribePushHandler(t *testing.T) {
	var gotRoom string
	var gotSub json.RawMessage
	handler := SubscribePushHandler(subscriptionStoreFunc(func(room string, sub json.RawMessage) error {
		gotRoom, gotSub = room, sub
		return nil
	}))

	body := strings.NewReader(`{"room":"r1","subscription":{"endpoint":"https://push.example/abc"}}`)
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/subscribe-push", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if gotRoom != "r1" || !strings.Contains(string(gotSub), "push.example") {
		t.Errorf("Store received room=%q sub=%s", gotRoom, gotSub)
	}
	if !strings.Contains(rec.Body.String(), `"success":true`) {
		t.Errorf("Expected success body, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/subscribe-push", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/subscribe-push", strings.NewReader("{}")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without a room, got %d", rec.Code)
	}
}

// TestHealthHandler tests the liveness endpoint.
func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "running") {
		t.Errorf("Unexpected health body: %s", rec.Body.String())
	}
}

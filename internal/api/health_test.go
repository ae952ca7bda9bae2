package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/fitbot/internal/store"
)

type stubChecker bool

func (s stubChecker) Available(context.Context) bool { return bool(s) }

type failingStore struct {
	store.Repository
}

func (failingStore) Ping(context.Context) error { return errors.New("store down") }

func getHealth(t *testing.T, handler *HealthHandler) (int, healthResponse) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var body healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	return rec.Code, body
}

func TestMethodNotAllowedRepliesJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rec := httptest.NewRecorder()
	MethodNotAllowed(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if body["error"] != "method not allowed" {
		t.Errorf("unexpected error body: %v", body)
	}
}

func TestHealthOK(t *testing.T) {
	handler := NewHealthHandler(store.NewMemory(), stubChecker(true))

	code, body := getHealth(t, handler)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body.Status != "ok" || !body.LMClientAvailable {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestHealthReportsUnavailableProvider(t *testing.T) {
	handler := NewHealthHandler(store.NewMemory(), stubChecker(false))

	code, body := getHealth(t, handler)
	if code != http.StatusOK {
		t.Fatalf("provider outage must not fail the probe, got %d", code)
	}
	if body.Status != "ok" || body.LMClientAvailable {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestHealthDegradedWhenStoreUnreachable(t *testing.T) {
	handler := NewHealthHandler(failingStore{store.NewMemory()}, stubChecker(true))

	code, body := getHealth(t, handler)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	if body.Status != "degraded" {
		t.Errorf("unexpected body: %+v", body)
	}
}

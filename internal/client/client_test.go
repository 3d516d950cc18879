package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/apperr"
)

func writeError(w http.ResponseWriter, status int, code string, retryable bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": code, "retryable": retryable},
	})
}

func TestDoSendsCallerAndDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Caller"); got != "admin" {
			t.Errorf("expected X-Caller admin, got %q", got)
		}
		if r.URL.Path != "/v1/admin/funds/credit" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["amount"] != "12.5" {
			t.Errorf("decimal should travel as a string, got %v", body["amount"])
		}
		json.NewEncoder(w).Encode(map[string]any{"balance": "12.5"})
	}))
	defer server.Close()

	c := NewClient(server.URL, "admin", 10, 5*time.Second, time.Millisecond, 2, zap.NewNop())
	out, err := c.Credit(context.Background(), "alice", "USDC", decimal.RequireFromString("12.5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["balance"] != "12.5" {
		t.Errorf("unexpected response %v", out)
	}
}

func TestErrorsMapToSentinels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusConflict, "ORDER_ALREADY_FILLED", false)
	}))
	defer server.Close()

	c := NewClient(server.URL, "taker", 10, 5*time.Second, time.Millisecond, 3, zap.NewNop())
	_, err := c.Fill(context.Background(), map[string]any{}, "00")
	if !errors.Is(err, apperr.ErrOrderAlreadyFilled) {
		t.Fatalf("expected ErrOrderAlreadyFilled, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Errorf("expected an APIError with status 409, got %v", err)
	}
}

func TestRetriesRetryableRejections(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeError(w, http.StatusServiceUnavailable, "STALE_PRICE_DATA", true)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	c := NewClient(server.URL, "holder", 10, 5*time.Second, time.Millisecond, 3, zap.NewNop())
	if _, err := c.Exercise(context.Background(), 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestPostIsNotRetriedOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeError(w, http.StatusInternalServerError, "INTERNAL", false)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", 10, 5*time.Second, time.Millisecond, 3, zap.NewNop())
	if _, err := c.Expire(context.Background(), []uint64{1}); err == nil {
		t.Fatal("expected an error")
	}
	if calls.Load() != 1 {
		t.Errorf("POST should not be retried, got %d calls", calls.Load())
	}

	calls.Store(0)
	if _, err := c.Health(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	if calls.Load() != 4 {
		t.Errorf("GET should be retried, got %d calls", calls.Load())
	}
}

func TestNonJSONErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such route", http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", 10, 5*time.Second, time.Millisecond, 0, zap.NewNop())
	_, err := c.Price(context.Background(), "ETH")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "HTTP_404" || apiErr.Message != "no such route" {
		t.Errorf("unexpected error %v", err)
	}
	if errors.Unwrap(apiErr) != nil {
		t.Error("unknown codes should not unwrap")
	}
}

func TestAccountOptions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts/alice/options" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"ids": []uint64{1, 4}})
	}))
	defer server.Close()

	c := NewClient(server.URL, "", 10, 5*time.Second, time.Millisecond, 0, zap.NewNop())
	ids, err := c.AccountOptions(context.Background(), "alice")
	if err != nil || len(ids) != 2 || ids[1] != 4 {
		t.Errorf("unexpected ids %v, %v", ids, err)
	}
}

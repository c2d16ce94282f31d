package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nullsync/toska/internal/configcache"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAccessControlAuthDisabledWhenTokenEmpty(t *testing.T) {
	cache := configcache.New(configcache.Snapshot{})
	ac := New(cache)
	handler := ac.Wrap(okHandler())

	req := httptest.NewRequest("GET", "/kv/foo", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with auth disabled, got %d", rec.Code)
	}
}

func TestAccessControlRejectsMissingToken(t *testing.T) {
	cache := configcache.New(configcache.Snapshot{AuthToken: "secret"})
	ac := New(cache)
	handler := ac.Wrap(okHandler())

	req := httptest.NewRequest("GET", "/kv/foo", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAccessControlAcceptsBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
	}{
		{"bearer prefix", "Authorization", "Bearer secret"},
		{"bare authorization", "Authorization", "secret"},
		{"custom header", "X-Toska-Token", "secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := configcache.New(configcache.Snapshot{AuthToken: "secret"})
			ac := New(cache)
			handler := ac.Wrap(okHandler())

			req := httptest.NewRequest("GET", "/kv/foo", nil)
			req.Header.Set(tt.header, tt.value)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
		})
	}
}

func TestAccessControlRateLimitDisabledWhenNonPositive(t *testing.T) {
	cache := configcache.New(configcache.Snapshot{RateLimitPerSec: 0, RateLimitBurst: 0})
	ac := New(cache)
	handler := ac.Wrap(okHandler())

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/kv/foo", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 with rate limiting disabled, got %d", i, rec.Code)
		}
	}
}

func TestAccessControlRateLimitRejectsBurstOverflow(t *testing.T) {
	cache := configcache.New(configcache.Snapshot{RateLimitPerSec: 1, RateLimitBurst: 2})
	ac := New(cache)
	handler := ac.Wrap(okHandler())

	makeReq := func() *http.Request {
		req := httptest.NewRequest("GET", "/kv/foo", nil)
		req.RemoteAddr = "10.0.0.2:1234"
		return req
	}

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, makeReq())
		if rec.Code != http.StatusOK {
			t.Fatalf("burst request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, makeReq())
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst exhausted, got %d", rec.Code)
	}
}

func TestAccessControlRateLimitRefillsOverTime(t *testing.T) {
	rl := newRateLimiter()
	now := time.Now()

	if !rl.allow("client", 10, 1, now) {
		t.Fatal("expected first request to be allowed")
	}
	if rl.allow("client", 10, 1, now) {
		t.Fatal("expected immediate second request to be rejected")
	}
	later := now.Add(200 * time.Millisecond)
	if !rl.allow("client", 10, 1, later) {
		t.Fatal("expected request after refill window to be allowed")
	}
}

func TestAccessControlReadOnlyGateRejectsMutationsOnFollower(t *testing.T) {
	cache := configcache.New(configcache.Snapshot{ReplicaURL: "http://leader:7070"})
	ac := New(cache)
	handler := ac.Wrap(okHandler())

	tests := []struct {
		method       string
		path         string
		expectStatus int
	}{
		{"PUT", "/kv/foo", http.StatusForbidden},
		{"DELETE", "/kv/foo", http.StatusForbidden},
		{"GET", "/kv/foo", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.expectStatus {
				t.Fatalf("expected %d, got %d", tt.expectStatus, rec.Code)
			}
		})
	}
}

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAboveRate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 3, time.Minute)
	limited := rl.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "http://localhost/ws", nil)
		req.RemoteAddr = "192.0.2.10:40000"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d should pass, got %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest("GET", "http://localhost/ws", nil)
	req.RemoteAddr = "192.0.2.10:40000"
	rec := httptest.NewRecorder()
	limited.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 above the rate, got %d", rec.Code)
	}

	// A different client is unaffected.
	other := httptest.NewRequest("GET", "http://localhost/ws", nil)
	other.RemoteAddr = "192.0.2.99:40000"
	rec = httptest.NewRecorder()
	limited.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected a fresh client to pass, got %d", rec.Code)
	}
}

func TestClientIPIgnoresForwardedWithoutTrustedProxy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 10, time.Minute)
	req := httptest.NewRequest("GET", "http://localhost", nil)
	req.RemoteAddr = "192.0.2.10:54321"
	req.Header.Set("X-Forwarded-For", "203.0.113.50")

	if got := rl.clientIP(req); got != "192.0.2.10" {
		t.Fatalf("expected direct remote IP, got %q", got)
	}
}

func TestClientIPUsesNearestUntrustedForwardedHop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 10, time.Minute)
	rl.SetTrustedProxies([]string{"10.0.0.0/8"})

	req := httptest.NewRequest("GET", "http://localhost", nil)
	req.RemoteAddr = "10.1.2.3:44321"
	req.Header.Set("X-Forwarded-For", "198.51.100.66, 203.0.113.10, 10.1.2.3")

	if got := rl.clientIP(req); got != "203.0.113.10" {
		t.Fatalf("expected nearest untrusted forwarded hop, got %q", got)
	}
}

func TestClientIPFallsBackToOldestWhenAllForwardedTrusted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 10, time.Minute)
	rl.SetTrustedProxies([]string{"10.0.0.0/8"})

	req := httptest.NewRequest("GET", "http://localhost", nil)
	req.RemoteAddr = "10.1.2.3:44321"
	req.Header.Set("X-Forwarded-For", "10.9.9.9, 10.2.2.2")

	if got := rl.clientIP(req); got != "10.9.9.9" {
		t.Fatalf("expected oldest forwarded hop when all are trusted, got %q", got)
	}
}

package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/DukeRupert/renova/internal/auth"
	"github.com/google/uuid"
)

func newTestRateLimiter(t *testing.T, perSecond float64, burst int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(perSecond, burst, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(rl.Stop)
	return rl
}

// =============================================================================
// RateLimiter Tests
// =============================================================================

func TestRateLimiter_Reserve_BurstThenDeny(t *testing.T) {
	rl := newTestRateLimiter(t, 0.01, 3)

	for i := 0; i < 3; i++ {
		if d := rl.Reserve("ip:192.168.1.1"); d != 0 {
			t.Fatalf("request %d should be allowed, got delay %v", i+1, d)
		}
	}
	if d := rl.Reserve("ip:192.168.1.1"); d <= 0 {
		t.Error("4th request should be delayed")
	}
}

func TestRateLimiter_Reserve_KeysAreIndependent(t *testing.T) {
	rl := newTestRateLimiter(t, 0.01, 1)

	if d := rl.Reserve("ip:10.0.0.1"); d != 0 {
		t.Fatalf("first key should be allowed, got %v", d)
	}
	if d := rl.Reserve("ip:10.0.0.2"); d != 0 {
		t.Errorf("second key should have its own bucket, got %v", d)
	}
}

func TestRateLimiter_Reserve_RefusalDoesNotConsume(t *testing.T) {
	rl := newTestRateLimiter(t, 1, 1)

	rl.Reserve("k")
	first := rl.Reserve("k")
	second := rl.Reserve("k")

	// A consumed refusal would push the second wait a full interval further out.
	if second > first+100*time.Millisecond {
		t.Errorf("refused reservations should be canceled: first=%v second=%v", first, second)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := newTestRateLimiter(t, 1, 1)
	rl.Stop()
	rl.Stop()
}

// =============================================================================
// Rate Limit Middleware Tests
// =============================================================================

func TestRateLimiter_Limit_Returns429WithRetryAfter(t *testing.T) {
	rl := newTestRateLimiter(t, 0.5, 1)
	handler := rl.Limit(okHandler())

	req := httptest.NewRequest("POST", "/api/v1/estimates", nil)
	req.RemoteAddr = "192.168.1.1:12345"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 || retryAfter > 2 {
		t.Errorf("expected Retry-After between 1 and 2, got %q", rec.Header().Get("Retry-After"))
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON response, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"rate_limit"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestRateLimiter_Limit_KeysByUser(t *testing.T) {
	rl := newTestRateLimiter(t, 0.01, 1)
	handler := rl.Limit(okHandler())

	// Two users behind the same NAT address get separate buckets.
	for _, userID := range []uuid.UUID{uuid.New(), uuid.New()} {
		req := httptest.NewRequest("POST", "/api/v1/estimates", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req = req.WithContext(auth.SetIdentity(req.Context(), &auth.Identity{UserID: userID}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("user %s should not be limited, got %d", userID, rec.Code)
		}
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.168.1.1:12345", nil, "192.168.1.1"},
		{"remote addr without port", "192.168.1.1", nil, "192.168.1.1"},
		{"forwarded for", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "203.0.113.195, 70.41.3.18"}, "203.0.113.195"},
		{"real ip", "10.0.0.1:80", map[string]string{"X-Real-IP": " 198.51.100.7 "}, "198.51.100.7"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := getClientIP(req); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

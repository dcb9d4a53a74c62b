package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestRateLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	var buf bytes.Buffer
	rl := NewRateLimiter(cfg, newTestLogger(&buf))
	t.Cleanup(rl.Stop)
	return rl
}

func requestFrom(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/signin", nil)
	req.RemoteAddr = remoteAddr
	return req
}

// TestRateLimiter_AllowsWithinBurst はバースト内のリクエストが通ることを検証する。
func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{Rate: 1, Burst: 5, CleanupInterval: time.Minute})
	handler := rl.Middleware(ClientIP)(okHandler())

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("203.0.113.10:51000"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i, w.Code)
		}
	}
}

// TestRateLimiter_Returns429 は上限超過時に429とRetry-Afterを返すことを検証する。
func TestRateLimiter_Returns429(t *testing.T) {
	rl := newTestRateLimiter(t, PerMinute(2))
	handler := rl.Middleware(ClientIP)(okHandler())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestFrom("203.0.113.10:51000"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("203.0.113.10:51001"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "30" {
		t.Errorf("Retry-After = %q, want 30", got)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != ErrCodeRateLimitExceeded {
		t.Errorf("code = %q, want %q", body.Code, ErrCodeRateLimitExceeded)
	}
}

// TestRateLimiter_IsolatesKeys はクライアントIPごとに独立して制限することを検証する。
func TestRateLimiter_IsolatesKeys(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{Rate: 0.01, Burst: 1, CleanupInterval: time.Minute})
	handler := rl.Middleware(ClientIP)(okHandler())

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, requestFrom("198.51.100.1:40000"))
	blocked := httptest.NewRecorder()
	handler.ServeHTTP(blocked, requestFrom("198.51.100.1:40001"))
	other := httptest.NewRecorder()
	handler.ServeHTTP(other, requestFrom("198.51.100.2:40000"))

	if first.Code != http.StatusOK || blocked.Code != http.StatusTooManyRequests || other.Code != http.StatusOK {
		t.Errorf("statuses = (%d, %d, %d), want (200, 429, 200)", first.Code, blocked.Code, other.Code)
	}
	if rl.LimiterCount() != 2 {
		t.Errorf("LimiterCount() = %d, want 2", rl.LimiterCount())
	}
}

// TestRateLimiter_Cleanup は期限切れエントリが削除されることを検証する。
func TestRateLimiter_Cleanup(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{Rate: 1, Burst: 1, CleanupInterval: time.Hour})
	rl.limiter("192.0.2.1")
	rl.limiter("192.0.2.2")

	rl.cleanup(time.Now().Add(time.Hour))
	if rl.LimiterCount() != 2 {
		t.Errorf("LimiterCount() = %d, want 2 before ttl", rl.LimiterCount())
	}

	rl.cleanup(time.Now().Add(3 * time.Hour))
	if rl.LimiterCount() != 0 {
		t.Errorf("LimiterCount() = %d, want 0 after ttl", rl.LimiterCount())
	}
}

// TestClientIP はRemoteAddrからIPアドレスを取り出すことを検証する。
func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"203.0.113.5:1234", "203.0.113.5"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"203.0.113.5", "203.0.113.5"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remoteAddr
		if got := ClientIP(req); got != tt.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}

// TestPerMinute は1分あたりの許可数から設定を生成することを検証する。
func TestPerMinute(t *testing.T) {
	cfg := PerMinute(10)
	if cfg.Burst != 10 {
		t.Errorf("Burst = %d, want 10", cfg.Burst)
	}
	if got := float64(cfg.Rate) * 60; got < 9.999 || got > 10.001 {
		t.Errorf("Rate = %v req/min, want 10", got)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}

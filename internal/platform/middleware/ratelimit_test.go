package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/auth"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(okHandler)

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

		if err := handler(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 2})(okHandler)

	for i := 0; i < 2; i++ {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
		if err := handler(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	rec := httptest.NewRecorder()
	err := handler(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("expected Retry-After '2' at half a request per second, got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining '0', got %q", got)
	}
}

func TestRateLimit_SitesAreIsolated(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(okHandler)

	call := func(site string) error {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
		c.Set("jwt_site_id", site)
		return handler(c)
	}

	if err := call("north"); err != nil {
		t.Fatalf("north first request: %v", err)
	}
	if err := call("north"); err == nil {
		t.Fatal("expected north second request to be limited")
	}
	if err := call("south"); err != nil {
		t.Fatalf("south has its own budget, got %v", err)
	}
}

func TestRateLimit_KeysByUserWhenAuthenticated(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(okHandler)

	call := func(user string) error {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, user))
		return handler(e.NewContext(req, httptest.NewRecorder()))
	}

	if err := call("nurse-1"); err != nil {
		t.Fatalf("nurse-1 first request: %v", err)
	}
	if err := call("nurse-2"); err != nil {
		t.Fatalf("nurse-2 shares an IP but has its own bucket, got %v", err)
	}
	if err := call("nurse-1"); err == nil {
		t.Fatal("expected nurse-1 second request to be limited")
	}
}

func TestClientKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5000"
	c := e.NewContext(req, httptest.NewRecorder())

	if got := clientKey(c); got != "10.0.0.7" {
		t.Errorf("expected ip key, got %q", got)
	}
	c.Set("jwt_site_id", "north")
	if got := clientKey(c); got != "north:10.0.0.7" {
		t.Errorf("expected site-scoped ip key, got %q", got)
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		rps  float64
		want int
	}{
		{100, 1},
		{1, 1},
		{0.25, 4},
		{0, 1},
	}
	for _, tt := range tests {
		if got := retryAfter(tt.rps); got != tt.want {
			t.Errorf("retryAfter(%v) = %d, want %d", tt.rps, got, tt.want)
		}
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 || cfg.BurstSize != 200 || cfg.IdleExpiry <= 0 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

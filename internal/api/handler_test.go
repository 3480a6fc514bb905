package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lucidarc/observatory/internal/ratelimit"
)

func TestWriteRateLimitHeadersSetsRetryAfterOnlyWhenBlocked(t *testing.T) {
	rec := httptest.NewRecorder()
	writeRateLimitHeaders(rec, ratelimit.Decision{Allowed: true, Limit: 10, Remaining: 9})
	if rec.Header().Get("Retry-After") != "" {
		t.Error("expected no Retry-After header when the request was allowed")
	}
	if rec.Header().Get("X-RateLimit-Limit") != "10" {
		t.Errorf("X-RateLimit-Limit = %q, want 10", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec2 := httptest.NewRecorder()
	writeRateLimitHeaders(rec2, ratelimit.Decision{Allowed: false, Limit: 10, Remaining: 0, RetryAfter: 30 * time.Second})
	if rec2.Header().Get("Retry-After") != "30" {
		t.Errorf("Retry-After = %q, want 30", rec2.Header().Get("Retry-After"))
	}
}

package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lucidarc/observatory/internal/credential"
)

func setupLimiter(t *testing.T) (*miniredis.Miniredis, *Limiter) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limits := map[credential.Tier]Limits{
		credential.TierPublic:  {PerMinute: 2, PerHour: 10, PerDay: 20},
		credential.TierAPIKey:  {PerMinute: 5, PerHour: 50, PerDay: 100},
		credential.TierPartner: {PerMinute: 20, PerHour: 500, PerDay: 1000},
	}
	return mr, New(rdb, limits)
}

func TestCheckAllowsUnderLimit(t *testing.T) {
	_, l := setupLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Check(ctx, credential.TierPublic, "fp1")
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		if !d.Allowed {
			t.Errorf("request %d should be allowed, remaining=%d", i, d.Remaining)
		}
	}
}

func TestCheckBlocksOverLimit(t *testing.T) {
	_, l := setupLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.Check(ctx, credential.TierPublic, "fp1"); err != nil {
			t.Fatalf("Check() error = %v", err)
		}
	}

	d, err := l.Check(ctx, credential.TierPublic, "fp1")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if d.Allowed {
		t.Error("expected third request in the same minute to be blocked")
	}
	if d.RetryAfter <= 0 {
		t.Error("expected a positive RetryAfter when blocked")
	}
}

func TestCheckIsolatesFingerprints(t *testing.T) {
	_, l := setupLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		l.Check(ctx, credential.TierPublic, "fp1")
	}

	d, err := l.Check(ctx, credential.TierPublic, "fp2")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !d.Allowed {
		t.Error("a different fingerprint should have its own quota")
	}
}

func TestCheckFailsOpenForAuthenticatedTiers(t *testing.T) {
	mr, l := setupLimiter(t)
	ctx := context.Background()
	mr.Close()

	d, err := l.Check(ctx, credential.TierAPIKey, "fp1")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !d.Allowed || !d.FailedOpen {
		t.Errorf("expected api_key tier to fail open on Redis outage, got %+v", d)
	}
}

func TestCheckFailsClosedForPublicTier(t *testing.T) {
	mr, l := setupLimiter(t)
	ctx := context.Background()
	mr.Close()

	d, err := l.Check(ctx, credential.TierPublic, "fp1")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if d.Allowed || d.FailedOpen {
		t.Errorf("expected public tier to fail closed (deny the request) on Redis outage, got %+v", d)
	}
}

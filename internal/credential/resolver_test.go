package credential

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lucidarc/observatory/internal/apierr"
)

func TestCacheGetSetExpiry(t *testing.T) {
	c := newCache(10, 20*time.Millisecond)
	rec := Record{ID: uuid.New(), Tier: TierAPIKey}
	c.set("k1", rec)

	got, ok := c.get("k1")
	if !ok || got.ID != rec.ID {
		t.Fatalf("expected cached record, got %v, %v", got, ok)
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.get("k1"); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newCache(2, time.Minute)
	c.set("a", Record{ID: uuid.New()})
	c.set("b", Record{ID: uuid.New()})
	c.get("a") // touch a, making b the LRU entry
	c.set("c", Record{ID: uuid.New()})

	if _, ok := c.get("b"); ok {
		t.Error("expected b to have been evicted")
	}
	if _, ok := c.get("a"); !ok {
		t.Error("expected a to remain cached")
	}
	if _, ok := c.get("c"); !ok {
		t.Error("expected c to be cached")
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := newCache(10, time.Minute)
	c.set("k", Record{ID: uuid.New()})
	c.invalidate("k")
	if _, ok := c.get("k"); ok {
		t.Fatal("expected entry to be gone after invalidate")
	}
}

func TestResolveAnonymousFingerprint(t *testing.T) {
	r := NewResolver(nil, 10, time.Minute)

	req1 := httptest.NewRequest(http.MethodPost, "/v1/analyze", nil)
	req1.RemoteAddr = "203.0.113.5:1234"
	cred1, err := r.Resolve(req1.Context(), req1)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cred1.Tier != TierPublic {
		t.Errorf("Tier = %v, want public", cred1.Tier)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/v1/analyze", nil)
	req2.RemoteAddr = "203.0.113.5:5678"
	cred2, _ := r.Resolve(req2.Context(), req2)

	if cred1.Fingerprint != cred2.Fingerprint {
		t.Error("same client IP with different ports should fingerprint identically")
	}

	req3 := httptest.NewRequest(http.MethodPost, "/v1/analyze", nil)
	req3.RemoteAddr = "198.51.100.9:1234"
	cred3, _ := r.Resolve(req3.Context(), req3)

	if cred1.Fingerprint == cred3.Fingerprint {
		t.Error("different client IPs should fingerprint differently")
	}
}

// bearerRequest builds a GET request carrying raw as a bearer credential.
func bearerRequest(raw string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/analyze/x", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	return req
}

func TestResolveRejectsExpiredCredentialEvenWhenCached(t *testing.T) {
	r := NewResolver(nil, 10, time.Minute)
	past := time.Now().Add(-time.Hour)
	r.cache.set(hashKey("tok-expired"), Record{ID: uuid.New(), Tier: TierAPIKey, ExpiresAt: &past})

	req := bearerRequest("tok-expired")
	_, err := r.Resolve(req.Context(), req)
	if err == nil {
		t.Fatal("expected an expired credential to be rejected")
	}
	e, ok := apierr.As(err)
	if !ok || e.Kind != apierr.KindInvalidCredential {
		t.Errorf("expected invalid_credential, got %v", err)
	}
}

func TestResolveRejectsRevokedCredentialEvenWhenCached(t *testing.T) {
	r := NewResolver(nil, 10, time.Minute)
	r.cache.set(hashKey("tok-revoked"), Record{ID: uuid.New(), Tier: TierAPIKey, Revoked: true})

	req := bearerRequest("tok-revoked")
	_, err := r.Resolve(req.Context(), req)
	if err == nil {
		t.Fatal("expected a revoked credential to be rejected")
	}
	e, ok := apierr.As(err)
	if !ok || e.Kind != apierr.KindInvalidCredential {
		t.Errorf("expected invalid_credential, got %v", err)
	}
}

func TestResolveAllowsCredentialWithFutureExpiry(t *testing.T) {
	r := NewResolver(nil, 10, time.Minute)
	future := time.Now().Add(time.Hour)
	r.cache.set(hashKey("tok-valid"), Record{ID: uuid.New(), Tier: TierPartner, ExpiresAt: &future})

	req := bearerRequest("tok-valid")
	cred, err := r.Resolve(req.Context(), req)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cred.Tier != TierPartner {
		t.Errorf("Tier = %v, want partner", cred.Tier)
	}
}

func TestResolveAllowsCredentialWithNoExpiry(t *testing.T) {
	r := NewResolver(nil, 10, time.Minute)
	r.cache.set(hashKey("tok-noexpiry"), Record{ID: uuid.New(), Tier: TierAPIKey})

	req := bearerRequest("tok-noexpiry")
	cred, err := r.Resolve(req.Context(), req)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cred.Tier != TierAPIKey {
		t.Errorf("Tier = %v, want api_key", cred.Tier)
	}
}

package credential

import (
	"container/list"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lucidarc/observatory/internal/apierr"
)

// cacheEntry is one bounded-TTL cache slot holding a resolved credential.
type cacheEntry struct {
	key       string
	record    Record
	expiresAt time.Time
	elem      *list.Element
}

// cache is a bounded, TTL-expiring, LRU-evicted lookup cache for credential
// hash → Record. No suitable cache library appears in the example corpus,
// so this is a small hand-rolled structure rather than a dependency.
type cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	maxSize  int
	items    map[string]*cacheEntry
	order    *list.List // front = most recently used
}

func newCache(maxSize int, ttl time.Duration) *cache {
	return &cache{
		ttl:     ttl,
		maxSize: maxSize,
		items:   make(map[string]*cacheEntry, maxSize),
		order:   list.New(),
	}
}

func (c *cache) get(key string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return Record{}, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeLocked(e)
		return Record{}, false
	}
	c.order.MoveToFront(e.elem)
	return e.record, true
}

func (c *cache) set(key string, rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.record = rec
		e.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(e.elem)
		return
	}

	e := &cacheEntry{key: key, record: rec, expiresAt: time.Now().Add(c.ttl)}
	e.elem = c.order.PushFront(e)
	c.items[key] = e

	for len(c.items) > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*cacheEntry))
	}
}

// removeLocked removes e from the cache. Callers must hold c.mu.
func (c *cache) removeLocked(e *cacheEntry) {
	delete(c.items, e.key)
	c.order.Remove(e.elem)
}

// invalidate drops a cached entry, used after revoke/relabel so stale
// tier/label data doesn't serve for up to the cache TTL.
func (c *cache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.removeLocked(e)
	}
}

// Resolver resolves inbound requests to a Credential: bearer-token lookups
// hit a bounded in-process cache before falling through to Postgres;
// unauthenticated callers are fingerprinted by network identity
// (spec.md §4.1).
type Resolver struct {
	store *Store
	cache *cache
}

// NewResolver creates a Resolver with the given cache bound and TTL
// (spec.md §5: ~10k entries, 60s TTL).
func NewResolver(store *Store, cacheSize int, cacheTTL time.Duration) *Resolver {
	return &Resolver{store: store, cache: newCache(cacheSize, cacheTTL)}
}

// Resolve determines the caller's Credential from the request's
// Authorization header, falling back to an anonymous public-tier
// fingerprint when no bearer token is presented.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (Credential, error) {
	raw, ok := bearerToken(req)
	if !ok {
		return Credential{Tier: TierPublic, Fingerprint: anonymousFingerprint(req)}, nil
	}

	hash := hashKey(raw)

	rec, ok := r.cache.get(hash)
	if !ok {
		fetched, err := r.store.GetByHash(ctx, hash)
		if err != nil {
			if err == ErrNotFound {
				return Credential{}, apierr.New(apierr.KindInvalidCredential, "credential is invalid or revoked")
			}
			return Credential{}, apierr.Internal(err)
		}
		rec = fetched
		r.cache.set(hash, rec)
		go func() {
			_ = r.store.TouchLastUsed(context.Background(), rec.ID)
		}()
	}

	// Expiration and active-flag are checked in that order (spec.md §4.1),
	// against wall-clock time on every resolve so a cached record that has
	// since expired is still rejected rather than served until its cache
	// entry ages out.
	if rec.ExpiresAt != nil && rec.ExpiresAt.Before(time.Now()) {
		return Credential{}, apierr.New(apierr.KindInvalidCredential, "credential is invalid or revoked")
	}
	if rec.Revoked {
		return Credential{}, apierr.New(apierr.KindInvalidCredential, "credential is invalid or revoked")
	}

	return credentialFromRecord(rec), nil
}

// Invalidate drops a cached lookup so a revoke or relabel takes effect
// immediately rather than waiting out the cache TTL.
func (r *Resolver) Invalidate(raw string) {
	r.cache.invalidate(hashKey(raw))
}

// InvalidateHash is Invalidate for callers that only have the stored key
// hash, not the raw key (e.g. the admin revoke/relabel handlers).
func (r *Resolver) InvalidateHash(hash string) {
	r.cache.invalidate(hash)
}

func credentialFromRecord(rec Record) Credential {
	return Credential{
		Tier:        rec.Tier,
		Fingerprint: "cred_" + rec.ID.String(),
		KeyID:       rec.ID,
		Label:       rec.Label,
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

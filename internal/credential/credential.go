// Package credential resolves an inbound request to a tier: anonymous
// public access fingerprinted by network identity, or an api_key/partner
// credential presented via bearer token (spec.md §4.1).
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tier is the access tier a credential resolves to (spec.md §4.2 rate
// limit tiers).
type Tier string

const (
	TierPublic  Tier = "public"
	TierAPIKey  Tier = "api_key"
	TierPartner Tier = "partner"
)

// Credential is a resolved identity: either an anonymous public caller
// (fingerprinted by network identity) or a stored key's tier and label.
type Credential struct {
	Tier        Tier
	Fingerprint string // rate-limit and job-ownership key
	KeyID       uuid.UUID
	Label       string
}

// Record is the persisted row for an issued credential.
type Record struct {
	ID         uuid.UUID
	KeyHash    string
	Tier       Tier
	Label      string
	Revoked    bool
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
}

// hashKey returns the stable SHA-256 hex digest of a raw credential key,
// the value actually stored and looked up (raw keys are never persisted).
func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// generateKey creates a new random credential key with a tier-scoped prefix
// for display, and its stored hash.
func generateKey(tier Tier) (raw, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating credential key: %w", err)
	}
	raw = fmt.Sprintf("obs_%s_%x", tier, b)
	return raw, hashKey(raw), nil
}

// clientIP extracts the caller's network address, honoring a reverse
// proxy's forwarding headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// anonymousFingerprint derives a stable owner fingerprint for an
// unauthenticated caller from its network identity, so public-tier jobs
// remain scoped to the caller that submitted them (spec.md §4.1) without
// persisting raw IP addresses.
func anonymousFingerprint(r *http.Request) string {
	h := sha256.Sum256([]byte("anon:" + clientIP(r)))
	return "anon_" + hex.EncodeToString(h[:16])
}

// Package ratelimit enforces per-tier request quotas across three fixed
// windows (minute/hour/day) using Redis counters, generalizing the
// INCR+EXPIRE pattern used elsewhere in this codebase for login attempts
// to a multi-window admission check (spec.md §4.2).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lucidarc/observatory/internal/credential"
	"github.com/lucidarc/observatory/internal/telemetry"
)

// Window is one of the three fixed counting windows.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

func (w Window) ttl() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Limits holds the per-window quota for one tier.
type Limits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

func (l Limits) forWindow(w Window) int {
	switch w {
	case WindowMinute:
		return l.PerMinute
	case WindowHour:
		return l.PerHour
	case WindowDay:
		return l.PerDay
	default:
		return 0
	}
}

// Decision is the outcome of a rate limit admission check, carrying enough
// to populate the X-RateLimit-* / Retry-After response headers (spec.md §6).
type Decision struct {
	Allowed     bool
	Limit       int
	Remaining   int
	RetryAfter  time.Duration
	FailedOpen  bool // true if a Redis error let the request through (spec.md §4.2 fail-open tiers)
}

// admitScript atomically increments all three window counters, setting
// their expirations only on first increment, and reports which window (if
// any) is over quota. Doing this as one script keeps the 3-window check a
// single Redis round trip instead of 6.
var admitScript = redis.NewScript(`
local base = KEYS[1]
local minuteKey, hourKey, dayKey = base .. ":m", base .. ":h", base .. ":d"
local minuteLimit, hourLimit, dayLimit = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3])

local minuteCount = redis.call("INCR", minuteKey)
if minuteCount == 1 then redis.call("EXPIRE", minuteKey, 60) end
local hourCount = redis.call("INCR", hourKey)
if hourCount == 1 then redis.call("EXPIRE", hourKey, 3600) end
local dayCount = redis.call("INCR", dayKey)
if dayCount == 1 then redis.call("EXPIRE", dayKey, 86400) end

if minuteLimit > 0 and minuteCount > minuteLimit then
	return {0, minuteCount, minuteLimit, redis.call("TTL", minuteKey)}
end
if hourLimit > 0 and hourCount > hourLimit then
	return {0, hourCount, hourLimit, redis.call("TTL", hourKey)}
end
if dayLimit > 0 and dayCount > dayLimit then
	return {0, dayCount, dayLimit, redis.call("TTL", dayKey)}
end

return {1, minuteCount, minuteLimit, 60}
`)

// Limiter enforces per-tier quotas in Redis.
type Limiter struct {
	rdb    *redis.Client
	limits map[credential.Tier]Limits
}

// New creates a Limiter with the given per-tier limits.
func New(rdb *redis.Client, limits map[credential.Tier]Limits) *Limiter {
	return &Limiter{rdb: rdb, limits: limits}
}

// failOpen reports whether a Redis outage should let requests through for
// this tier. Public (anonymous, low-trust) traffic fails closed so an
// outage can't be used to bypass the one control keeping it bounded;
// authenticated tiers fail open so a Redis blip doesn't take down paying
// integrations (spec.md §4.2).
func failOpen(tier credential.Tier) bool {
	return tier != credential.TierPublic
}

// Check performs the atomic 3-window admission check for fingerprint under
// tier's configured limits.
func (l *Limiter) Check(ctx context.Context, tier credential.Tier, fingerprint string) (Decision, error) {
	lim, ok := l.limits[tier]
	if !ok {
		lim = l.limits[credential.TierPublic]
	}

	key := fmt.Sprintf("ratelimit:%s:%s", tier, fingerprint)
	res, err := admitScript.Run(ctx, l.rdb, []string{key}, lim.PerMinute, lim.PerHour, lim.PerDay).Result()
	if err != nil {
		if failOpen(tier) {
			telemetry.RateLimitDecisionsTotal.WithLabelValues(string(tier), "fail_open").Inc()
			return Decision{Allowed: true, FailedOpen: true}, nil
		}
		// Public tier fails closed (spec.md §4.2): a store outage denies the
		// request rather than surfacing as an internal error, so the caller
		// gets an ordinary 429 instead of a 500.
		telemetry.RateLimitDecisionsTotal.WithLabelValues(string(tier), "fail_closed").Inc()
		return Decision{Allowed: false, Limit: lim.PerMinute, RetryAfter: time.Minute, FailedOpen: false}, nil
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 4 {
		return Decision{}, fmt.Errorf("unexpected rate limit script result: %v", res)
	}

	allowed := toInt64(values[0]) == 1
	count := toInt64(values[1])
	limit := toInt64(values[2])
	ttlSeconds := toInt64(values[3])

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	result := "allowed"
	if !allowed {
		result = "denied"
	}
	telemetry.RateLimitDecisionsTotal.WithLabelValues(string(tier), result).Inc()

	return Decision{
		Allowed:    allowed,
		Limit:      int(limit),
		Remaining:  int(remaining),
		RetryAfter: time.Duration(ttlSeconds) * time.Second,
	}, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	default:
		return 0
	}
}

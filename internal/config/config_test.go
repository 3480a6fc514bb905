package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name  string
		check func(*Config) bool
	}{
		{"default mode is api", func(c *Config) bool { return c.Mode == "api" }},
		{"default host", func(c *Config) bool { return c.Host == "0.0.0.0" }},
		{"default port", func(c *Config) bool { return c.Port == 8080 }},
		{"default max input chars", func(c *Config) bool { return c.MaxInputChars == 100000 }},
		{"default pending ttl is 5m", func(c *Config) bool { return c.PendingTTL.String() == "5m0s" }},
		{"default result ttl is 30 days", func(c *Config) bool { return c.ResultTTL.Hours() == 720 }},
		{"default backend timeout is 120s", func(c *Config) bool { return c.BackendTimeout.Seconds() == 120 }},
		{"default max retries is 2", func(c *Config) bool { return c.MaxRetries == 2 }},
		{"default public per-minute limit", func(c *Config) bool { return c.RateLimitPublicPerMinute == 10 }},
		{"default partner per-day limit", func(c *Config) bool { return c.RateLimitPartnerPerDay == 100000 }},
		{"listen addr format", func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" }},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("unexpected config value for %s", tt.name)
			}
		})
	}
}

func TestValidateRejectsDecreasingTiers(t *testing.T) {
	cfg := &Config{
		MaxInputChars: 100, PendingTTL: 1, ResultTTL: 1, CancelledTTL: 1,
		WorkerCount: 1, QueueDepth: 1,
		RateLimitPublicPerMinute: 100, RateLimitAPIKeyPerMinute: 10,
	}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for decreasing tier limits")
	}
}

func TestValidateRejectsNonPositiveTTL(t *testing.T) {
	cfg := &Config{MaxInputChars: 100, PendingTTL: 0, WorkerCount: 1, QueueDepth: 1}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for zero pending ttl")
	}
}

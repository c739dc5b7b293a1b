package oauth

import (
	"log/slog"
	"testing"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	config := Config{}
	config.applyDefaults()

	if config.Realm != DefaultRealm {
		t.Errorf("Realm = %q, want %q", config.Realm, DefaultRealm)
	}
	if config.Logger == nil {
		t.Error("Logger should default to slog.Default()")
	}
	if config.RateLimit.Rate != 0 {
		t.Errorf("RateLimit.Rate = %v, rate limiting should be off by default", config.RateLimit.Rate)
	}
	if config.RateLimit.Burst != 0 {
		t.Errorf("RateLimit.Burst = %d, want 0 when limiting is off", config.RateLimit.Burst)
	}
}

func TestConfig_ApplyDefaultsKeepsExplicitValues(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	config := Config{
		Realm:  "api",
		Logger: logger,
		RateLimit: RateLimitConfig{
			Rate:              5,
			Burst:             7,
			TrustProxy:        true,
			TrustedProxyCount: 2,
		},
	}
	config.applyDefaults()

	if config.Realm != "api" {
		t.Errorf("Realm = %q, want api", config.Realm)
	}
	if config.Logger != logger {
		t.Error("Logger was replaced")
	}
	if config.RateLimit.Burst != 7 {
		t.Errorf("Burst = %d, want 7", config.RateLimit.Burst)
	}
	if config.RateLimit.TrustedProxyCount != 2 {
		t.Errorf("TrustedProxyCount = %d, want 2", config.RateLimit.TrustedProxyCount)
	}
}

func TestRateLimitConfig_Defaults(t *testing.T) {
	tests := []struct {
		name      string
		in        RateLimitConfig
		wantBurst int
		wantCount int
	}{
		{
			name:      "rate without burst",
			in:        RateLimitConfig{Rate: DefaultRateLimitRate},
			wantBurst: DefaultRateLimitBurst,
		},
		{
			name:      "trust proxy without count",
			in:        RateLimitConfig{Rate: 1, Burst: 1, TrustProxy: true},
			wantBurst: 1,
			wantCount: 1,
		},
		{
			name:      "proxy count ignored without trust",
			in:        RateLimitConfig{Rate: 1, Burst: 3},
			wantBurst: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Config{RateLimit: tt.in}
			config.applyDefaults()
			if config.RateLimit.Burst != tt.wantBurst {
				t.Errorf("Burst = %d, want %d", config.RateLimit.Burst, tt.wantBurst)
			}
			if config.RateLimit.TrustedProxyCount != tt.wantCount {
				t.Errorf("TrustedProxyCount = %d, want %d", config.RateLimit.TrustedProxyCount, tt.wantCount)
			}
		})
	}
}

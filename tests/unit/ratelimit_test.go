package unit_test

import (
	"testing"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/lobbynet/lobby"
)

// TestDefaultRateLimitConfig tests the default rate limit configuration
func TestDefaultRateLimitConfig(t *testing.T) {
	t.Parallel()

	config := lobby.DefaultRateLimitConfig()

	if config == nil {
		t.Fatal("DefaultRateLimitConfig() returned nil")
	}

	if !config.Enabled {
		t.Error("Default rate limit should be enabled")
	}

	if config.MessagesPerSecond <= 0 {
		t.Error("MessagesPerSecond should be positive")
	}

	if config.Burst <= 0 {
		t.Error("Burst should be positive")
	}

	// Verify sensible defaults
	if config.MessagesPerSecond != 100 {
		t.Errorf("Default MessagesPerSecond = %v, want 100", config.MessagesPerSecond)
	}

	if config.Burst != 200 {
		t.Errorf("Default Burst = %v, want 200", config.Burst)
	}
}

// TestNoRateLimit tests the no rate limit configuration
func TestNoRateLimit(t *testing.T) {
	t.Parallel()

	config := lobby.NoRateLimit()

	if config == nil {
		t.Fatal("NoRateLimit() returned nil")
	}

	if config.Enabled {
		t.Error("NoRateLimit should have Enabled = false")
	}
}

// TestTokenBucket tests the limiter semantics the engine relies on
func TestTokenBucket(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		mps   rate.Limit
		burst int
	}{
		{"burst of one", 1, 1},
		{"burst of ten", 5, 10},
		{"default", 100, 200},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			config := &lobby.RateLimitConfig{MessagesPerSecond: tt.mps, Burst: tt.burst, Enabled: true}
			limiter := rate.NewLimiter(config.MessagesPerSecond, config.Burst)

			for i := 0; i < tt.burst; i++ {
				if !limiter.Allow() {
					t.Fatalf("message %d rejected within burst %d", i, tt.burst)
				}
			}
			if limiter.Allow() {
				t.Error("message beyond burst allowed")
			}
		})
	}
}

package security

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"zero never expires", time.Time{}, false},
		{"future", now.Add(time.Second), false},
		{"exactly now", now, true},
		{"past", now.Add(-time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.expiresAt, now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsExpiredWithGracePeriod(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	if IsExpiredWithGracePeriod(now.Add(-3*time.Second), now, DefaultClockSkewGracePeriod) {
		t.Error("record expired 3s ago should still be within the grace period")
	}
	if !IsExpiredWithGracePeriod(now.Add(-10*time.Second), now, DefaultClockSkewGracePeriod) {
		t.Error("record expired 10s ago should be past the grace period")
	}
	if IsExpiredWithGracePeriod(time.Time{}, now, 0) {
		t.Error("zero expiry never expires")
	}
}

func TestSecondsUntil(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	if got := SecondsUntil(now.Add(3600*time.Second), now); got != 3600 {
		t.Errorf("SecondsUntil() = %d, want 3600", got)
	}
	if got := SecondsUntil(now.Add(1500*time.Millisecond), now); got != 1 {
		t.Errorf("SecondsUntil() = %d, want 1 (rounded down)", got)
	}
	if got := SecondsUntil(now.Add(-time.Minute), now); got != 0 {
		t.Errorf("SecondsUntil() = %d, want 0 for past expiry", got)
	}
}

package security

import "time"

// DefaultClockSkewGracePeriod is how long storage backends keep an expired record before
// purging it. Expiry checks in the engine itself use IsExpired and have no grace period.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired reports whether expiresAt is at or before now.
// A zero expiresAt never expires.
func IsExpired(expiresAt, now time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return !now.Before(expiresAt)
}

// IsExpiredWithGracePeriod reports whether expiresAt lies more than gracePeriod before now.
func IsExpiredWithGracePeriod(expiresAt, now time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(gracePeriod))
}

// SecondsUntil returns the whole seconds from now until expiresAt, rounded down,
// never negative. Used for expires_in.
func SecondsUntil(expiresAt, now time.Time) int64 {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

package security

import "time"

// DefaultClockSkewGracePeriod absorbs minor clock drift between the
// host that issued an authorization code and the host checking it, so
// a code is not rejected a moment before the issuer considers it
// expired. Five seconds comfortably covers typical NTP drift.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired reports whether a credential with the given deadline is
// expired, allowing the default clock skew grace period. A zero
// deadline never expires.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod is IsExpired with a custom grace period.
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}

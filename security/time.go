package security

import "time"

// DefaultClockSkewGracePeriod absorbs NTP drift between the server and the
// systems that minted a token. Tokens stay usable for this long past their
// nominal expiry.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsTokenExpired reports whether expiresAt has passed now by more than the
// default grace period. A zero expiry never expires.
func IsTokenExpired(expiresAt, now time.Time) bool {
	return IsTokenExpiredWithGracePeriod(expiresAt, now, DefaultClockSkewGracePeriod)
}

// IsTokenExpiredWithGracePeriod is IsTokenExpired with a custom grace period.
func IsTokenExpiredWithGracePeriod(expiresAt, now time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(gracePeriod))
}

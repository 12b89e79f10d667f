// Package token owns the bearer-token lifecycle for the OAuth-backed
// backends. A single Manager per process holds one live token per service,
// refreshes proactively in a background cycle, and hands out only the token
// value so callers can never observe a partially updated token.
package token

import "time"

// DefaultBuffer is the safety margin subtracted from a token's expiry when
// deciding validity: a token expiring inside the buffer is already expired.
const DefaultBuffer = 30 * time.Second

// Token is a bearer token for one service. Exclusively owned by the
// Manager; adapters receive only Value at call time.
type Token struct {
	Service    string
	Value      string
	ExpiresAt  time.Time
	ObtainedAt time.Time
}

// ExpiredAt reports whether the token is expired at now, applying buffer:
// now > expires_at - buffer. A zero token is always expired.
func (t Token) ExpiredAt(now time.Time, buffer time.Duration) bool {
	if t.Value == "" {
		return true
	}
	return now.After(t.ExpiresAt.Add(-buffer))
}

// Status is a read-only view of one managed token for the admin surface.
type Status struct {
	Service    string    `json:"service"`
	ObtainedAt time.Time `json:"obtained_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Valid      bool      `json:"valid"`
}

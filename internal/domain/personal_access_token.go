package domain

import "time"

// PersonalAccessToken is a row of personal_access_tokens. TokenHash is the
// sha256 hex of the secret part of "<id>|<secret>".
type PersonalAccessToken struct {
	ID        int64
	TokenHash string
	UserID    int64
	Abilities string
	ExpiresAt *time.Time
}

// Expired reports whether the token has an expiry at or before now.
func (t PersonalAccessToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

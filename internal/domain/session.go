package domain

import "time"

// Session is a logged-in browser, created after a successful identity-provider exchange.
type Session struct {
	ID         string
	UserID     string
	Username   string
	AvatarURL  string
	TrustLevel int
	CSRFToken  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Profile is what the identity provider returns about a user.
type Profile struct {
	UserID     string
	Username   string
	AvatarURL  string
	TrustLevel int
}

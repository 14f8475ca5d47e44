package session

import "time"

// Session is a revocable server-side record an access token's sid claim is
// checked against. Revoked sessions stay listable until their record expires.
type Session struct {
	ID          string
	IdentityID  string
	UserAgent   string
	IPAddress   string
	DeviceID    string
	LoginMethod string

	CreatedAt time.Time
	LastUsed  time.Time
	RevokedAt time.Time

	IsActive bool
}

// Metadata is the client information bound to a session at creation.
type Metadata struct {
	UserAgent   string
	IPAddress   string
	DeviceID    string
	LoginMethod string
}

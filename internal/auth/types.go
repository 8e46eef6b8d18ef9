package auth

import (
	"strings"
	"time"
)

// User is an account that can authenticate. Email is stored lower-cased and
// doubles as the username.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Superuser    bool      `json:"is_superuser"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity is the authenticated caller as seen by authorization checks. The
// zero value is the anonymous identity.
type Identity struct {
	UserID    string
	Email     string
	Superuser bool
}

// Anonymous is the identity of an unauthenticated caller.
var Anonymous = Identity{}

// IdentityOf builds the identity for an authenticated user.
func IdentityOf(u User) Identity {
	return Identity{UserID: u.ID, Email: u.Email, Superuser: u.Superuser}
}

// Authenticated reports whether the identity belongs to a known user.
func (i Identity) Authenticated() bool {
	return i.UserID != ""
}

// TokenPair is the session credential handed to clients after login or an
// OTP exchange. RefreshToken is empty on responses from a refresh call.
type TokenPair struct {
	AccessToken      string    `json:"access"`
	RefreshToken     string    `json:"refresh,omitempty"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitzero"`
}

// NormalizeEmail lower-cases and trims an email address. Every lookup and
// cache key uses the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

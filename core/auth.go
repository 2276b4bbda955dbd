package core

import "time"

// Nonce is a single-use anti-replay value bound to one session scope
type Nonce struct {
	Value     string    // Random alphanumeric token embedded in the sign-in message
	Scope     string    // Session ID the nonce was issued to
	IssuedAt  time.Time // When the nonce was created
	ExpiresAt time.Time // Absolute expiry, checked on every consume
}

// Session represents a browser session, anonymous until an address signs in
type Session struct {
	ID        string    // Unique session identifier, rotated on login and logout
	Address   string    // Lower-cased Ethereum address, empty for anonymous sessions
	UserID    int64     // ID of the signed-in user, zero for anonymous sessions
	CSRFToken string    // Anti-forgery token required by state-changing requests
	IssuedAt  time.Time // When the session was created
	ExpiresAt time.Time // When the session expires
}

// Authenticated reports whether the session is bound to an address
func (s *Session) Authenticated() bool {
	return s != nil && s.Address != ""
}

// User is the account created the first time an address signs in
type User struct {
	ID              int64
	Address         string
	Email           string
	EmailVerifiedAt time.Time
	CreatedAt       time.Time
}

// EmailVerified reports whether the linked email was confirmed
func (u *User) EmailVerified() bool {
	return !u.EmailVerifiedAt.IsZero()
}

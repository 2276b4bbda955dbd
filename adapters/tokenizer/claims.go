package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims combines standard claims with session-specific ones.
// Subject carries the address and is empty for anonymous sessions.
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID int64  `json:"uid,omitempty"`
	CSRF   string `json:"csrf"`
}

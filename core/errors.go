package core

import (
	"errors"
	"fmt"
)

var (
	ErrNonceMissingOrExpired = errors.New("nonce missing or expired")
	ErrMalformedSignature    = errors.New("malformed signature")
	ErrRecoveryFailure       = errors.New("public key recovery failed")
	ErrAddressMismatch       = errors.New("recovered address does not match")
	ErrUnauthenticated       = errors.New("unauthenticated")

	ErrMalformedMessage     = errors.New("malformed sign-in message")
	ErrMessageMismatch      = errors.New("sign-in message does not match server parameters")
	ErrInvalidAddress       = errors.New("invalid ethereum address")
	ErrInvalidToken         = errors.New("invalid token")
	ErrTokenExpired         = errors.New("token has expired")
	ErrCSRFMismatch         = errors.New("csrf token mismatch")
	ErrStoreOperationFailed = errors.New("store operation failed")
	ErrUserNotFound         = errors.New("user not found")
)

// ErrNonceScopeMissing is returned when a login arrives without the session a nonce was issued to
var ErrNonceScopeMissing = fmt.Errorf("nonce scope missing: %w", ErrNonceMissingOrExpired)

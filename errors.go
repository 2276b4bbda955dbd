package vaultgate

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthenticated is returned when the session is not signed in
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidSignature is returned when the server rejected the signed message
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrNonceNotFound is returned when the login carried no session to look the nonce up in
	ErrNonceNotFound = errors.New("nonce not found")

	// ErrCSRFMismatch is returned when the request did not carry the session's CSRF token
	ErrCSRFMismatch = errors.New("csrf token mismatch")

	// ErrValidation is returned when the server rejected a request field
	ErrValidation = errors.New("validation failed")

	// ErrServer is returned for server-side failures
	ErrServer = errors.New("server error")
)

// APIError is the decoded error body of a failed request
type APIError struct {
	Status  int                 `json:"-"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vaultgate: %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return ErrUnauthenticated
	case e.Status == statusCSRFMismatch:
		return ErrCSRFMismatch
	case e.Status == http.StatusUnprocessableEntity && e.Message == "Invalid signature.":
		return ErrInvalidSignature
	case e.Status == http.StatusUnprocessableEntity && e.Message == "Nonce not found.":
		return ErrNonceNotFound
	case e.Status == http.StatusUnprocessableEntity:
		return ErrValidation
	case e.Status >= http.StatusInternalServerError:
		return ErrServer
	}
	return nil
}

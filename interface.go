package vaultgate

import "context"

// Client represents the public interface for interacting with the sign-in service
type Client interface {
	// Nonce starts or resumes a session and returns a fresh nonce.
	// When address is set the response carries the message to sign.
	Nonce(ctx context.Context, address string, chainID uint64) (*NonceResponse, error)

	// Login submits a signed message and rotates the client into an authenticated session
	Login(ctx context.Context, message, signature, address string) error

	// SignIn runs the whole handshake with the given signer
	SignIn(ctx context.Context, signer Signer) (*User, error)

	// Me returns the signed-in user
	Me(ctx context.Context) (*User, error)

	// Logout ends the session; it succeeds for anonymous sessions too
	Logout(ctx context.Context) error
}

// Signer produces EIP-191 personal-message signatures for one account
type Signer interface {
	Address() string
	SignText(msg []byte) ([]byte, error)
}

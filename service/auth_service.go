package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/layer-3/vaultgate/core"
	"github.com/layer-3/vaultgate/internal/eth"
	"github.com/layer-3/vaultgate/ports"
)

const (
	DefaultSessionTTL = 2 * time.Hour
	csrfTokenSize     = 32
)

// Config holds the parameters a sign-in message is checked against
type Config struct {
	Domain    string   // host the message must name, e.g. "app.example.com"
	URI       string   // optional; when set the message URI must match exactly
	Statement string   // human-readable line placed in server-built messages
	ChainIDs  []uint64 // accepted chains; empty accepts any chain
	ChainID   uint64   // chain used for server-built messages when the client names none

	SessionTTL time.Duration
	NonceTTL   time.Duration
	NonceSize  int
}

// LoginRequest is the payload a wallet submits after signing
type LoginRequest struct {
	Message   string
	Signature string
	Address   string
}

// NonceRequest optionally names the address and chain so the service can build the message
type NonceRequest struct {
	Address string
	ChainID uint64
}

// Challenge is everything a client needs to produce a sign-in signature
type Challenge struct {
	Nonce     core.Nonce
	Domain    string
	URI       string
	Version   string
	Statement string
	ChainID   uint64
	IssuedAt  time.Time
	Message   string // canonical text, set when the request named an address
}

// AuthService handles authentication business logic
type AuthService struct {
	tokenizer ports.Tokenizer
	store     ports.Store
	users     ports.UserRepository
	eventPub  ports.EventPublisher
	nonces    *NonceIssuer
	logger    zerolog.Logger

	cfg  Config
	rand io.Reader
	now  func() time.Time
}

// NewAuthService creates a new authentication service
func NewAuthService(
	cfg Config,
	tokenizer ports.Tokenizer,
	store ports.Store,
	users ports.UserRepository,
	eventPub ports.EventPublisher,
	logger zerolog.Logger,
) *AuthService {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
		if len(cfg.ChainIDs) > 0 {
			cfg.ChainID = cfg.ChainIDs[0]
		}
	}
	return &AuthService{
		tokenizer: tokenizer,
		store:     store,
		users:     users,
		eventPub:  eventPub,
		nonces:    NewNonceIssuer(store, cfg.NonceTTL, cfg.NonceSize),
		logger:    logger,
		cfg:       cfg,
		rand:      rand.Reader,
		now:       time.Now,
	}
}

// StartAnonymousSession creates the pre-session nonces are scoped to
func (s *AuthService) StartAnonymousSession(ctx context.Context) (*core.Session, error) {
	return s.newSession("", 0)
}

// ResumeSession restores the session carried by a cookie token
func (s *AuthService) ResumeSession(ctx context.Context, token string) (*core.Session, error) {
	session, err := s.tokenizer.TokenToSession(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUnauthenticated, err)
	}

	invalidated, err := s.store.IsSessionInvalidated(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check session invalidation: %w", err)
	}
	if invalidated {
		return nil, fmt.Errorf("%w: session revoked", core.ErrUnauthenticated)
	}

	return session, nil
}

// SessionToken signs the session for transport in a cookie
func (s *AuthService) SessionToken(session *core.Session) (string, error) {
	return s.tokenizer.SessionToToken(session)
}

// IssueNonce creates a nonce in the session's scope and describes the message to sign
func (s *AuthService) IssueNonce(ctx context.Context, session *core.Session, req NonceRequest) (*Challenge, error) {
	if session == nil {
		return nil, core.ErrNonceScopeMissing
	}

	chainID := req.ChainID
	if chainID == 0 {
		chainID = s.cfg.ChainID
	}
	if !s.chainAllowed(chainID) {
		return nil, fmt.Errorf("%w: chain %d not accepted", core.ErrMessageMismatch, chainID)
	}
	if req.Address != "" && !eth.IsAddress(req.Address) {
		return nil, core.ErrInvalidAddress
	}

	nonce, err := s.nonces.Issue(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	challenge := &Challenge{
		Nonce:     nonce,
		Domain:    s.cfg.Domain,
		URI:       s.messageURI(),
		Version:   eth.Version,
		Statement: s.cfg.Statement,
		ChainID:   chainID,
		IssuedAt:  nonce.IssuedAt.UTC().Truncate(time.Second),
	}

	if req.Address != "" {
		challenge.Message, err = eth.Build(eth.Message{
			Domain:         challenge.Domain,
			Address:        req.Address,
			Statement:      challenge.Statement,
			URI:            challenge.URI,
			Version:        challenge.Version,
			ChainID:        chainID,
			Nonce:          nonce.Value,
			IssuedAt:       challenge.IssuedAt,
			ExpirationTime: nonce.ExpiresAt.UTC().Truncate(time.Second),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build message: %w", err)
		}
	}

	return challenge, nil
}

// Login verifies a signed sign-in message and promotes the caller to an authenticated session
func (s *AuthService) Login(ctx context.Context, current *core.Session, req LoginRequest) (*core.Session, *core.User, error) {
	if current == nil || current.ID == "" {
		return nil, nil, core.ErrNonceScopeMissing
	}

	msg, err := eth.ParseMessage(req.Message)
	if err != nil {
		return nil, nil, err
	}

	sig, err := eth.DecodeSignature(req.Signature)
	if err != nil {
		return nil, nil, err
	}

	// The exact submitted bytes are what the wallet signed
	if err := eth.Verify(req.Address, []byte(req.Message), sig); err != nil {
		return nil, nil, err
	}

	if !strings.EqualFold(msg.Address, req.Address) {
		return nil, nil, fmt.Errorf("%w: message names %s", core.ErrAddressMismatch, msg.Address)
	}

	if err := s.checkMessage(msg); err != nil {
		return nil, nil, err
	}

	if err := s.nonces.ValidateAndConsume(ctx, current.ID, msg.Nonce); err != nil {
		return nil, nil, err
	}

	return s.CompleteLogin(ctx, req.Address, current)
}

func (s *AuthService) checkMessage(msg *eth.Message) error {
	if msg.Domain != s.cfg.Domain {
		return fmt.Errorf("%w: domain %q", core.ErrMessageMismatch, msg.Domain)
	}
	if s.cfg.URI != "" && msg.URI != s.cfg.URI {
		return fmt.Errorf("%w: uri %q", core.ErrMessageMismatch, msg.URI)
	}
	if !s.chainAllowed(msg.ChainID) {
		return fmt.Errorf("%w: chain %d not accepted", core.ErrMessageMismatch, msg.ChainID)
	}
	return msg.ValidAt(s.now())
}

// messageURI is the URI placed in server-built messages
func (s *AuthService) messageURI() string {
	if s.cfg.URI != "" {
		return s.cfg.URI
	}
	return "https://" + s.cfg.Domain
}

func (s *AuthService) chainAllowed(chainID uint64) bool {
	return len(s.cfg.ChainIDs) == 0 || slices.Contains(s.cfg.ChainIDs, chainID)
}

// CompleteLogin binds a verified address to a fresh session and revokes the previous one
func (s *AuthService) CompleteLogin(ctx context.Context, address string, previous *core.Session) (*core.Session, *core.User, error) {
	address = eth.NormalizeAddress(address)
	if address == "" {
		return nil, nil, core.ErrInvalidAddress
	}

	user, created, err := s.users.FindOrCreate(ctx, address)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find or create user: %w", err)
	}

	session, err := s.newSession(user.Address, user.ID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.revoke(ctx, previous); err != nil {
		return nil, nil, err
	}

	if err := s.eventPub.PublishLogin(ctx, user.Address, session.ID); err != nil {
		// The session is already valid; the event is informational
		s.logger.Warn().Err(err).Str("address", user.Address).Msg("failed to publish login event")
	}

	s.logger.Info().
		Str("address", user.Address).
		Int64("user_id", user.ID).
		Bool("created", created).
		Msg("signed in")

	return session, &user, nil
}

// Logout revokes the session and returns a fresh anonymous one
func (s *AuthService) Logout(ctx context.Context, session *core.Session) (*core.Session, error) {
	if err := s.revoke(ctx, session); err != nil {
		return nil, err
	}

	if session.Authenticated() {
		if err := s.eventPub.PublishLogout(ctx, session.Address, session.ID); err != nil {
			s.logger.Warn().Err(err).Str("address", session.Address).Msg("failed to publish logout event")
		}
		s.logger.Info().Str("address", session.Address).Msg("signed out")
	}

	return s.newSession("", 0)
}

// RequireUser returns the user behind an authenticated session
func (s *AuthService) RequireUser(ctx context.Context, session *core.Session) (*core.User, error) {
	if !session.Authenticated() {
		return nil, core.ErrUnauthenticated
	}

	user, err := s.users.GetByAddress(ctx, session.Address)
	if errors.Is(err, core.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: user no longer exists", core.ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if session.UserID != 0 && user.ID != session.UserID {
		return nil, fmt.Errorf("%w: user was recreated", core.ErrUnauthenticated)
	}

	return &user, nil
}

// revoke blocks the session until it would have expired anyway
func (s *AuthService) revoke(ctx context.Context, session *core.Session) error {
	if session == nil || session.ID == "" {
		return nil
	}

	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	if err := s.store.InvalidateSession(ctx, session.ID, ttl); err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	return nil
}

func (s *AuthService) newSession(address string, userID int64) (*core.Session, error) {
	csrf := make([]byte, csrfTokenSize)
	if _, err := io.ReadFull(s.rand, csrf); err != nil {
		return nil, fmt.Errorf("failed to generate csrf token: %w", err)
	}

	now := s.now()
	return &core.Session{
		ID:        uuid.New().String(),
		Address:   address,
		UserID:    userID,
		CSRFToken: hex.EncodeToString(csrf),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
	}, nil
}

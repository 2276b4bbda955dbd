package http

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/layer-3/vaultgate/core"
	"github.com/layer-3/vaultgate/service"
)

const XSRFCookie = "XSRF-TOKEN"

var (
	addressRe   = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	signatureRe = regexp.MustCompile(`^0x[A-Fa-f0-9]{130}$`)
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	cookies     CookieOptions
	logger      zerolog.Logger
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, cookies CookieOptions, logger zerolog.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		cookies:     cookies,
		logger:      logger,
	}
}

func validationError(c *gin.Context, field, message string) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"message": message,
		"errors":  gin.H{field: []string{message}},
	})
}

func serverError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{"message": "Server Error"})
}

// writeSession sets the session cookie and the script-readable XSRF cookie
func (h *AuthHandlers) writeSession(c *gin.Context, session *core.Session) error {
	token, err := h.authService.SessionToken(session)
	if err != nil {
		return err
	}

	maxAge := int(time.Until(session.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookies.Name, token, maxAge, "/", h.cookies.Domain, h.cookies.Secure, true)
	c.SetCookie(XSRFCookie, session.CSRFToken, maxAge, "/", h.cookies.Domain, h.cookies.Secure, false)
	return nil
}

// Health reports liveness
func (h *AuthHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Nonce issues a nonce in the caller's session scope, starting an anonymous session if needed
func (h *AuthHandlers) Nonce(c *gin.Context) {
	ctx := c.Request.Context()

	var req service.NonceRequest
	if address := c.Query("address"); address != "" {
		if !addressRe.MatchString(address) {
			validationError(c, "address", "The address field format is invalid.")
			return
		}
		req.Address = address
	}
	if chainID := c.Query("chain_id"); chainID != "" {
		id, err := strconv.ParseUint(chainID, 10, 64)
		if err != nil || id == 0 {
			validationError(c, "chain_id", "The chain id field must be a positive integer.")
			return
		}
		req.ChainID = id
	}

	session := currentSession(c)
	if session == nil {
		var err error
		session, err = h.authService.StartAnonymousSession(ctx)
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to start session")
			serverError(c)
			return
		}
	}

	challenge, err := h.authService.IssueNonce(ctx, session, req)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidAddress):
			validationError(c, "address", "The address field format is invalid.")
		case errors.Is(err, core.ErrMessageMismatch):
			validationError(c, "chain_id", "The selected chain id is invalid.")
		default:
			h.logger.Error().Err(err).Msg("failed to issue nonce")
			serverError(c)
		}
		return
	}

	if err := h.writeSession(c, session); err != nil {
		h.logger.Error().Err(err).Msg("failed to write session cookie")
		serverError(c)
		return
	}

	resp := gin.H{
		"nonce":      challenge.Nonce.Value,
		"csrf_token": session.CSRFToken,
		"expires_at": challenge.Nonce.ExpiresAt.UTC().Format(time.RFC3339),
		"domain":     challenge.Domain,
		"uri":        challenge.URI,
		"version":    challenge.Version,
		"statement":  challenge.Statement,
		"chain_id":   challenge.ChainID,
		"issued_at":  challenge.IssuedAt.Format(time.RFC3339),
	}
	if challenge.Message != "" {
		resp["message"] = challenge.Message
	}
	c.JSON(http.StatusOK, resp)
}

type loginRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Address   string `json:"address"`
}

func (r *loginRequest) validate() (field, message string) {
	switch {
	case r.Message == "":
		return "message", "The message field is required."
	case r.Signature == "":
		return "signature", "The signature field is required."
	case !signatureRe.MatchString(r.Signature):
		return "signature", "The signature field format is invalid."
	case r.Address == "":
		return "address", "The address field is required."
	case !addressRe.MatchString(r.Address):
		return "address", "The address field format is invalid."
	}
	return "", ""
}

// Login verifies a signed message and rotates the caller into an authenticated session
func (h *AuthHandlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, "message", "The request body must be a JSON object.")
		return
	}
	if field, message := req.validate(); field != "" {
		validationError(c, field, message)
		return
	}

	session, _, err := h.authService.Login(c.Request.Context(), currentSession(c), service.LoginRequest{
		Message:   req.Message,
		Signature: req.Signature,
		Address:   req.Address,
	})
	if err != nil {
		switch {
		case errors.Is(err, core.ErrNonceScopeMissing):
			validationError(c, "signature", "Nonce not found.")
		case errors.Is(err, core.ErrStoreOperationFailed):
			h.logger.Error().Err(err).Msg("login failed")
			serverError(c)
		case isAuthFailure(err):
			h.logger.Info().Err(err).Str("address", req.Address).Msg("login rejected")
			validationError(c, "signature", "Invalid signature.")
		default:
			h.logger.Error().Err(err).Msg("login failed")
			serverError(c)
		}
		return
	}

	if err := h.writeSession(c, session); err != nil {
		h.logger.Error().Err(err).Msg("failed to write session cookie")
		serverError(c)
		return
	}

	c.Status(http.StatusNoContent)
}

func isAuthFailure(err error) bool {
	for _, target := range []error{
		core.ErrMalformedMessage,
		core.ErrMalformedSignature,
		core.ErrRecoveryFailure,
		core.ErrAddressMismatch,
		core.ErrMessageMismatch,
		core.ErrInvalidAddress,
		core.ErrNonceMissingOrExpired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Logout revokes the session and hands back a fresh anonymous one
func (h *AuthHandlers) Logout(c *gin.Context) {
	session, err := h.authService.Logout(c.Request.Context(), currentSession(c))
	if err != nil {
		h.logger.Error().Err(err).Msg("logout failed")
		serverError(c)
		return
	}

	if err := h.writeSession(c, session); err != nil {
		h.logger.Error().Err(err).Msg("failed to write session cookie")
		serverError(c)
		return
	}

	c.Status(http.StatusNoContent)
}

// Me returns the signed-in user
func (h *AuthHandlers) Me(c *gin.Context) {
	// User is set by RequireAuth
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthenticated."})
		return
	}

	var email any
	if user.Email != "" {
		email = user.Email
	}

	c.JSON(http.StatusOK, gin.H{
		"id":             user.ID,
		"address":        user.Address,
		"email":          email,
		"email_verified": user.EmailVerified(),
		"created_at":     user.CreatedAt.UTC().Format(time.RFC3339),
	})
}

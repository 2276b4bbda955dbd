package http

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/layer-3/vaultgate/core"
	"github.com/layer-3/vaultgate/service"
)

const (
	sessionKey = "session"
	userKey    = "user"

	HeaderCSRF = "X-CSRF-Token"
	HeaderXSRF = "X-XSRF-TOKEN"

	// StatusCSRFMismatch is the non-standard "419 Page Expired" status
	StatusCSRFMismatch = 419
)

// SessionMiddleware resumes the session carried by the cookie, if any.
// Invalid, expired or revoked cookies leave the request without a session.
func SessionMiddleware(authService *service.AuthService, cookieName string, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(cookieName)
		if err != nil || token == "" {
			c.Next()
			return
		}

		session, err := authService.ResumeSession(c.Request.Context(), token)
		switch {
		case err == nil:
			c.Set(sessionKey, session)
		case errors.Is(err, core.ErrUnauthenticated):
			logger.Debug().Err(err).Msg("discarding session cookie")
		default:
			logger.Error().Err(err).Msg("failed to resume session")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Server Error"})
			return
		}

		c.Next()
	}
}

// CSRFMiddleware requires the session's CSRF token in a request header
func CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := currentSession(c)

		token := c.GetHeader(HeaderCSRF)
		if token == "" {
			token = c.GetHeader(HeaderXSRF)
		}

		if session == nil || token == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(session.CSRFToken)) != 1 {
			c.AbortWithStatusJSON(StatusCSRFMismatch, gin.H{"message": "CSRF token mismatch."})
			return
		}

		c.Next()
	}
}

// RequireAuth rejects requests without an authenticated session
func RequireAuth(authService *service.AuthService, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := authService.RequireUser(c.Request.Context(), currentSession(c))
		if err != nil {
			if errors.Is(err, core.ErrUnauthenticated) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthenticated."})
				return
			}
			logger.Error().Err(err).Msg("failed to load session user")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Server Error"})
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

// RequestLogger writes one line per request
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Info()
		switch {
		case status >= http.StatusInternalServerError:
			event = logger.Error()
		case status >= http.StatusBadRequest:
			event = logger.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

func currentSession(c *gin.Context) *core.Session {
	if v, ok := c.Get(sessionKey); ok {
		if session, ok := v.(*core.Session); ok {
			return session
		}
	}
	return nil
}

func currentUser(c *gin.Context) *core.User {
	if v, ok := c.Get(userKey); ok {
		if user, ok := v.(*core.User); ok {
			return user
		}
	}
	return nil
}

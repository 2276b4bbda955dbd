package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/layer-3/vaultgate/service"
)

// CookieOptions controls the session and XSRF cookies
type CookieOptions struct {
	Name   string
	Domain string
	Secure bool
}

// SetupRouter sets up the Gin router
func SetupRouter(authService *service.AuthService, cookies CookieOptions, logger zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(RequestLogger(logger), gin.Recovery())

	// Create handlers
	handlers := NewAuthHandlers(authService, cookies, logger)

	router.GET("/healthz", handlers.Health)

	session := SessionMiddleware(authService, cookies.Name, logger)

	// Auth routes
	auth := router.Group("/auth")
	auth.Use(session)
	{
		auth.GET("/nonce", handlers.Nonce)
		auth.POST("/login", CSRFMiddleware(), handlers.Login)
		auth.POST("/logout", CSRFMiddleware(), handlers.Logout)
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(session, RequireAuth(authService, logger))
	{
		api.GET("/me", handlers.Me)
	}

	return router
}
